//go:build windows

package applyinator

import (
	"os"

	"github.com/rancher/permissions/pkg/acl"
	"github.com/sirupsen/logrus"
)

// reconcileFilePermissions maps perm onto the file ACL. Numeric owners do not
// exist on Windows, so uid and gid are ignored.
func reconcileFilePermissions(path string, uid int, gid int, perm os.FileMode) error {
	logrus.Debugf("[Applyinator] Reconciling file permissions for %s to %o", path, perm)
	if (uid != 0 && uid != -1) || (gid != 0 && gid != -1) {
		logrus.Debugf("[Applyinator] Windows file permissions do not support custom uid and gid (%d:%d) for %s", uid, gid, path)
	}
	return acl.Chmod(path, perm)
}

func getPermissions(path string) (os.FileMode, error) {
	logrus.Debugf("[Applyinator] Getting windows file permissions for %s is not implemented", path)
	return 0000, nil
}
