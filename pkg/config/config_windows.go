//go:build windows

package config

import (
	"os"
)

// Ownership and mode bits are not checked on Windows.
func pathOwnedByCurrentUser(_ string) error {
	return nil
}

func permissionsCheck(_ os.FileInfo, _ string) error {
	return nil
}
