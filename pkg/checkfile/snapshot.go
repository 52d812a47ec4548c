package checkfile

import (
	"errors"
	"io/fs"

	"github.com/spf13/afero"
	"k8s.io/apimachinery/pkg/util/sets"
)

// Snapshot holds the attributes of a path-set at one point in time. Paths that
// did not exist when the snapshot was taken are listed but have no attributes.
type Snapshot struct {
	paths []string
	attrs map[string]Attributes
}

// Capture reads the attributes of every path in order. Repeated paths are only
// captured once.
func Capture(fsys afero.Fs, caps Capabilities, paths []string) Snapshot {
	s := Snapshot{
		attrs: make(map[string]Attributes, len(paths)),
	}
	seen := sets.New[string]()
	for _, path := range paths {
		if seen.Has(path) {
			continue
		}
		seen.Insert(path)
		s.paths = append(s.paths, path)
		if attrs, ok := CaptureAttributes(fsys, caps, path); ok {
			s.attrs[path] = attrs
		}
	}
	return s
}

// CaptureAttributes reads the supported categories of a single path. It
// returns false when the path does not exist. Any other failure leaves the
// affected categories out of the result.
func CaptureAttributes(fsys afero.Fs, caps Capabilities, path string) (Attributes, bool) {
	var attrs Attributes

	info, err := fsys.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return attrs, false
		}
		return attrs, true
	}

	if caps.Permissions {
		attrs.Permissions = PermissionSetFromMode(info.Mode())
		attrs.Captured.Permissions = true
	}

	if !caps.Owner && !caps.Group {
		return attrs, true
	}
	reader, ok := fsys.(OwnershipReader)
	if !ok {
		return attrs, true
	}
	owner, group, err := reader.Ownership(path)
	if err != nil {
		return attrs, true
	}
	if caps.Owner {
		attrs.Owner = owner
		attrs.Captured.Owner = true
	}
	if caps.Group {
		attrs.Group = group
		attrs.Captured.Group = true
	}
	return attrs, true
}

// Paths returns the captured path-set in order.
func (s Snapshot) Paths() []string {
	return append([]string(nil), s.paths...)
}

// Get returns the attributes of path and whether it existed.
func (s Snapshot) Get(path string) (Attributes, bool) {
	attrs, ok := s.attrs[path]
	return attrs, ok
}
