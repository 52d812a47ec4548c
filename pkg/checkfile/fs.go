package checkfile

import (
	"github.com/spf13/afero"
)

// OsFs is the host filesystem. On top of afero.OsFs it declares the attribute
// views of the host and resolves owner and group names.
type OsFs struct {
	afero.OsFs
}

// NewOsFs returns the host filesystem.
func NewOsFs() *OsFs {
	return &OsFs{}
}

func (*OsFs) Name() string {
	return "CheckFileOsFs"
}

// AttributeViews lists the views offered by the host platform.
func (*OsFs) AttributeViews() []string {
	return osAttributeViews()
}

// Ownership returns the owner and group names of name.
func (*OsFs) Ownership(name string) (string, string, error) {
	return ownership(name)
}
