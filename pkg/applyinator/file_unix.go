//go:build !windows

package applyinator

import (
	"os"

	"github.com/sirupsen/logrus"
)

// reconcileFilePermissions sets mode and ownership of path. A uid or gid of -1
// leaves that id unchanged.
func reconcileFilePermissions(path string, uid int, gid int, perm os.FileMode) error {
	logrus.Debugf("[Applyinator] Reconciling file permissions for %s to %d:%d %o", path, uid, gid, perm)
	if err := os.Chmod(path, perm); err != nil {
		return err
	}
	if uid == -1 && gid == -1 {
		return nil
	}
	return os.Chown(path, uid, gid)
}

func getPermissions(path string) (os.FileMode, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return 0000, err
	}
	return fileInfo.Mode(), nil
}
