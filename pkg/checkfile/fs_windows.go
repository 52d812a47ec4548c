//go:build windows

package checkfile

import (
	"errors"
)

var errOwnershipUnsupported = errors.New("file ownership is not supported on windows")

// Windows only exposes the read-only attribute through os.FileMode, so no
// category is reported.
func osAttributeViews() []string {
	return []string{ViewBasic}
}

func ownership(_ string) (string, string, error) {
	return "", "", errOwnershipUnsupported
}
