package checkfile

import (
	"io/fs"
	"strings"
)

// Category is one of the file attribute kinds the guard compares.
type Category int

const (
	Permissions Category = iota
	Owner
	Group
)

// categories is the order changes are reported in for a single path.
var categories = []Category{Permissions, Owner, Group}

func (c Category) String() string {
	switch c {
	case Permissions:
		return "permissions"
	case Owner:
		return "owner"
	case Group:
		return "group"
	default:
		return "unknown"
	}
}

// PermissionSet is a set of the nine read/write/execute flags for owner, group
// and others. The flag values line up with the permission bits of fs.FileMode.
type PermissionSet uint16

const (
	OwnerRead PermissionSet = 1 << (8 - iota)
	OwnerWrite
	OwnerExecute
	GroupRead
	GroupWrite
	GroupExecute
	OthersRead
	OthersWrite
	OthersExecute
)

var permissionFlags = []struct {
	flag PermissionSet
	char byte
}{
	{OwnerRead, 'r'}, {OwnerWrite, 'w'}, {OwnerExecute, 'x'},
	{GroupRead, 'r'}, {GroupWrite, 'w'}, {GroupExecute, 'x'},
	{OthersRead, 'r'}, {OthersWrite, 'w'}, {OthersExecute, 'x'},
}

// NewPermissionSet returns the set holding the given flags.
func NewPermissionSet(flags ...PermissionSet) PermissionSet {
	var p PermissionSet
	for _, f := range flags {
		p |= f
	}
	return p
}

// PermissionSetFromMode extracts the permission flags of mode. Type, setuid,
// setgid and sticky bits are ignored.
func PermissionSetFromMode(mode fs.FileMode) PermissionSet {
	return PermissionSet(mode.Perm())
}

// Has reports whether every flag in flags is set.
func (p PermissionSet) Has(flags PermissionSet) bool {
	return p&flags == flags
}

// Mode converts the set back into permission bits.
func (p PermissionSet) Mode() fs.FileMode {
	return fs.FileMode(p) & fs.ModePerm
}

// String renders the set the way ls does, e.g. rwxr-x---.
func (p PermissionSet) String() string {
	var b strings.Builder
	for _, pf := range permissionFlags {
		if p.Has(pf.flag) {
			b.WriteByte(pf.char)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// Attributes is what was read for a single existing path. A category that is
// not set in Captured is absent and its field holds the zero value.
type Attributes struct {
	Permissions PermissionSet
	Owner       string
	Group       string
	Captured    Capabilities
}

// Has reports whether category c was captured.
func (a Attributes) Has(c Category) bool {
	return a.Captured.Supports(c)
}

// Value returns the captured value of c rendered as a string.
func (a Attributes) Value(c Category) string {
	switch c {
	case Permissions:
		return a.Permissions.String()
	case Owner:
		return a.Owner
	case Group:
		return a.Group
	default:
		return ""
	}
}
