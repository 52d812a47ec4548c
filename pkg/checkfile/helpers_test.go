package checkfile

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const (
	defaultTestOwner = "root"
	defaultTestGroup = "wheel"
)

var (
	posixViews = []string{ViewBasic, ViewOwner, ViewPosix, ViewUnix}
	basicViews = []string{ViewBasic}
	ownerViews = []string{ViewBasic, ViewOwner}
)

// memFs is an in-memory filesystem that declares a configurable set of
// attribute views and keeps owner and group names per path.
type memFs struct {
	*afero.MemMapFs

	views []string

	mu           sync.Mutex
	owners       map[string]string
	groups       map[string]string
	ownershipErr error
}

func newMemFs(views ...string) *memFs {
	return &memFs{
		MemMapFs: &afero.MemMapFs{},
		views:    views,
		owners:   map[string]string{},
		groups:   map[string]string{},
	}
}

func (m *memFs) AttributeViews() []string {
	return m.views
}

func (m *memFs) Ownership(name string) (string, string, error) {
	if _, err := m.Stat(name); err != nil {
		return "", "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ownershipErr != nil {
		return "", "", m.ownershipErr
	}
	owner, ok := m.owners[filepath.Clean(name)]
	if !ok {
		owner = defaultTestOwner
	}
	group, ok := m.groups[filepath.Clean(name)]
	if !ok {
		group = defaultTestGroup
	}
	return owner, group, nil
}

func (m *memFs) setOwner(name, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[filepath.Clean(name)] = owner
}

func (m *memFs) setGroup(name, group string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[filepath.Clean(name)] = group
}

func (m *memFs) failOwnership(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ownershipErr = err
}

// statErrorFs fails every Stat with err.
type statErrorFs struct {
	*memFs
	err error
}

func (f *statErrorFs) Stat(_ string) (os.FileInfo, error) {
	return nil, f.err
}

type captureTerminal struct {
	lines []string
}

func (c *captureTerminal) Println(line string) {
	c.lines = append(c.lines, line)
}

func writeFiles(t *testing.T, fsys afero.Fs, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := "/" + name
		require.NoError(t, afero.WriteFile(fsys, path, []byte("anything"), 0o644))
		paths = append(paths, path)
	}
	return paths
}

type mode int

const (
	modeChange mode = iota
	modeKeep
	modeDisabled
)

func (m mode) String() string {
	switch m {
	case modeChange:
		return "change"
	case modeKeep:
		return "keep"
	default:
		return "disabled"
	}
}

// mutation rewrites path and then changes or restores one of its attributes,
// depending on the mode. modeDisabled leaves the path alone.
type mutation func(t *testing.T, fsys *memFs, path string, m mode)

func permissionMutation(t *testing.T, fsys *memFs, path string, m mode) {
	if m == modeDisabled {
		return
	}
	require.NoError(t, afero.WriteFile(fsys, path, []byte("rewritten"), 0o644))
	switch m {
	case modeChange:
		require.NoError(t, fsys.Chmod(path, 0o111))
	case modeKeep:
		info, err := fsys.Stat(path)
		require.NoError(t, err)
		require.NoError(t, fsys.Chmod(path, info.Mode().Perm()))
	}
}

func ownerMutation(t *testing.T, fsys *memFs, path string, m mode) {
	if m == modeDisabled {
		return
	}
	require.NoError(t, afero.WriteFile(fsys, path, []byte("rewritten"), 0o644))
	switch m {
	case modeChange:
		fsys.setOwner(path, "nobody")
	case modeKeep:
		owner, _, err := fsys.Ownership(path)
		require.NoError(t, err)
		fsys.setOwner(path, owner)
	}
}

func groupMutation(t *testing.T, fsys *memFs, path string, m mode) {
	if m == modeDisabled {
		return
	}
	require.NoError(t, afero.WriteFile(fsys, path, []byte("rewritten"), 0o644))
	switch m {
	case modeChange:
		fsys.setGroup(path, "nogroup")
	case modeKeep:
		_, group, err := fsys.Ownership(path)
		require.NoError(t, err)
		fsys.setGroup(path, group)
	}
}
