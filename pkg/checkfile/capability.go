package checkfile

import (
	"fmt"

	"github.com/spf13/afero"
)

// Attribute view names a filesystem can declare through AttributeViewer.
const (
	ViewBasic = "basic"
	ViewOwner = "owner"
	ViewPosix = "posix"
	ViewUnix  = "unix"
)

// Capabilities records which attribute categories a filesystem can report.
type Capabilities struct {
	Permissions bool
	Owner       bool
	Group       bool
}

// Supports reports whether category c can be queried.
func (c Capabilities) Supports(cat Category) bool {
	switch cat {
	case Permissions:
		return c.Permissions
	case Owner:
		return c.Owner
	case Group:
		return c.Group
	default:
		return false
	}
}

// Any reports whether at least one category is supported.
func (c Capabilities) Any() bool {
	return c.Permissions || c.Owner || c.Group
}

func (c Capabilities) String() string {
	return fmt.Sprintf("permissions=%t owner=%t group=%t", c.Permissions, c.Owner, c.Group)
}

// AttributeViewer is implemented by filesystems that declare which attribute
// views they offer.
type AttributeViewer interface {
	AttributeViews() []string
}

// OwnershipReader is implemented by filesystems that can name the owner and
// group of a path.
type OwnershipReader interface {
	Ownership(name string) (owner string, group string, err error)
}

// Probe determines which attribute categories fsys supports. Declared views
// win; otherwise the well known afero filesystems are recognised. Owner and
// group additionally require fsys to implement OwnershipReader.
func Probe(fsys afero.Fs) Capabilities {
	var caps Capabilities
	switch f := fsys.(type) {
	case AttributeViewer:
		caps = capabilitiesFromViews(f.AttributeViews())
	case *afero.OsFs:
		caps = capabilitiesFromViews(osAttributeViews())
	case *afero.MemMapFs:
		caps = Capabilities{Permissions: true}
	}

	if _, ok := fsys.(OwnershipReader); !ok {
		caps.Owner = false
		caps.Group = false
	}
	return caps
}

func capabilitiesFromViews(views []string) Capabilities {
	var caps Capabilities
	for _, view := range views {
		switch view {
		case ViewPosix:
			caps.Permissions = true
			caps.Owner = true
			caps.Group = true
		case ViewOwner:
			caps.Owner = true
		}
	}
	return caps
}
