package checkfile

import (
	"fmt"
)

// Change is a difference in one category of one path.
type Change struct {
	Path     string
	Category Category
	Old      string
	New      string
}

// Message renders the warning line for the change. serviceName names the
// account holder in the permissions hint.
func (c Change) Message(serviceName string) string {
	switch c.Category {
	case Permissions:
		return fmt.Sprintf("The file permissions of [%s] have changed from [%s] to [%s]. "+
			"Please ensure that the user account running %s has read access to this file",
			c.Path, c.Old, c.New, serviceName)
	case Owner:
		return fmt.Sprintf("Owner of file [%s] used to be [%s], but now is [%s]", c.Path, c.Old, c.New)
	case Group:
		return fmt.Sprintf("Group of file [%s] used to be [%s], but now is [%s]", c.Path, c.Old, c.New)
	default:
		return fmt.Sprintf("Attribute %s of file [%s] used to be [%s], but now is [%s]", c.Category, c.Path, c.Old, c.New)
	}
}

// Diff compares two snapshots of the same path-set. Paths missing from either
// snapshot and categories not captured on both sides are skipped. Changes
// follow the order of before, then permissions, owner, group.
func Diff(before, after Snapshot) []Change {
	var changes []Change
	for _, path := range before.paths {
		old, ok := before.attrs[path]
		if !ok {
			continue
		}
		cur, ok := after.attrs[path]
		if !ok {
			continue
		}
		for _, c := range categories {
			if !old.Has(c) || !cur.Has(c) {
				continue
			}
			if o, n := old.Value(c), cur.Value(c); o != n {
				changes = append(changes, Change{
					Path:     path,
					Category: c,
					Old:      o,
					New:      n,
				})
			}
		}
	}
	return changes
}
