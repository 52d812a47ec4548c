// Package checkfile warns about permission, owner and group changes made to a
// set of files by an operation. It snapshots the files before the operation
// runs, snapshots them again afterwards and writes one line per changed
// attribute. It never alters the outcome of the operation.
package checkfile

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const defaultServiceName = "the service"

// PathsFunc resolves the paths to watch for one run.
type PathsFunc func() ([]string, error)

// Operation is the guarded work. Its status and error are passed through
// untouched.
type Operation func(ctx context.Context) (ExitStatus, error)

// Command runs operations under the attribute guard.
type Command struct {
	fs          afero.Fs
	terminal    Terminal
	serviceName string
}

type Option func(*Command)

// WithServiceName sets the name used in the permissions hint.
func WithServiceName(name string) Option {
	return func(c *Command) {
		if name != "" {
			c.serviceName = name
		}
	}
}

func New(fsys afero.Fs, terminal Terminal, opts ...Option) *Command {
	c := &Command{
		fs:          fsys,
		terminal:    terminal,
		serviceName: defaultServiceName,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run resolves the watched paths, snapshots them, runs op and reports every
// attribute that changed. A failing paths func aborts before op runs. When op
// returns an error it is returned as-is and nothing is compared.
func (c *Command) Run(ctx context.Context, paths PathsFunc, op Operation) (ExitStatus, error) {
	var watched []string
	if paths != nil {
		var err error
		watched, err = paths()
		if err != nil {
			return CodeError, err
		}
	}

	if len(watched) == 0 {
		logrus.Tracef("[CheckFile] No paths to watch, running operation unguarded")
		return op(ctx)
	}

	caps := Probe(c.fs)
	logrus.Debugf("[CheckFile] Watching %d paths on %s (%s)", len(watched), c.fs.Name(), caps)

	before := Capture(c.fs, caps, watched)

	status, err := op(ctx)
	if err != nil {
		return status, err
	}

	after := Capture(c.fs, caps, before.Paths())
	changes := Diff(before, after)
	logrus.Debugf("[CheckFile] Operation finished with status %d, %d attribute changes", status, len(changes))
	for _, change := range changes {
		c.terminal.Println(change.Message(c.serviceName))
	}
	return status, nil
}

// StaticPaths returns a PathsFunc that always yields paths.
func StaticPaths(paths ...string) PathsFunc {
	return func() ([]string, error) {
		return paths, nil
	}
}
