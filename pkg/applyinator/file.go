package applyinator

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
)

const (
	defaultFilePermissions      os.FileMode = 0600
	defaultDirectoryPermissions os.FileMode = 0755

	deleteFileAction = "delete"
)

func reconcileFile(file File) error {
	switch {
	case file.Action == deleteFileAction:
		logrus.Debugf("[Applyinator] Removing %s", file.Path)
		return removeFile(file)
	case file.Action != "":
		return fmt.Errorf("unknown action %q for %s", file.Action, file.Path)
	case file.Directory:
		logrus.Debugf("[Applyinator] Creating directory %s", file.Path)
		return createDirectory(file)
	default:
		logrus.Debugf("[Applyinator] Writing file %s", file.Path)
		return writeBase64ContentToFile(file)
	}
}

func writeBase64ContentToFile(file File) error {
	content, err := base64.StdEncoding.DecodeString(file.Content)
	if err != nil {
		return fmt.Errorf("decoding content of %s: %w", file.Path, err)
	}
	perm, err := filePermissions(file.Permissions, defaultFilePermissions)
	if err != nil {
		return err
	}
	return writeContentToFile(file.Path, file.UID, file.GID, perm, content)
}

// writeContentToFile writes content to path unless it already holds it, then
// reconciles mode and ownership. A zero perm means the default file mode.
func writeContentToFile(path string, uid int, gid int, perm os.FileMode, content []byte) error {
	if path == "" {
		return fmt.Errorf("path was empty")
	}
	if perm == 0 {
		perm = defaultFilePermissions
	}

	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, content) {
		logrus.Debugf("[Applyinator] File %s does not need to be written", path)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return err
		}
		if err := os.WriteFile(path, content, perm); err != nil {
			return err
		}
	}
	return reconcileFilePermissions(path, uid, gid, perm)
}

func createDirectory(file File) error {
	if file.Path == "" {
		return fmt.Errorf("path was empty")
	}
	perm, err := filePermissions(file.Permissions, defaultDirectoryPermissions)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(file.Path, perm); err != nil {
		return err
	}
	return reconcileFilePermissions(file.Path, file.UID, file.GID, perm)
}

// removeFile removes the file or directory tree at file.Path. A missing path is
// not an error.
func removeFile(file File) error {
	if file.Path == "" {
		return fmt.Errorf("path was empty")
	}
	if file.Directory {
		return os.RemoveAll(file.Path)
	}
	if err := os.Remove(file.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func filePermissions(permissions string, def os.FileMode) (os.FileMode, error) {
	if permissions == "" {
		return def, nil
	}
	return parsePerm(permissions)
}

func parsePerm(perm string) (os.FileMode, error) {
	if perm == "" {
		return 0, fmt.Errorf("permissions were empty")
	}
	parsed, err := strconv.ParseUint(perm, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing permissions %q: %w", perm, err)
	}
	return os.FileMode(parsed), nil
}
