//go:build !windows

package config

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func pathOwnedByCurrentUser(path string) error {
	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return fmt.Errorf("unable to determine ownership of file %s: %w", path, err)
	}

	uid := uint32(os.Getuid())
	gid := uint32(os.Getgid())
	if stat.Uid != uid || stat.Gid != gid {
		return fmt.Errorf("file %s was not owned by uid=%d gid=%d", path, uid, gid)
	}

	return nil
}

func permissionsCheck(fi os.FileInfo, path string) error {
	if fi.Mode().Perm() != 0600 {
		return fmt.Errorf("file %s had permission %#o which was not expected 0600", path, fi.Mode().Perm())
	}
	return nil
}
