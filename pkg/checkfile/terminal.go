package checkfile

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Terminal receives the guard's warning lines.
type Terminal interface {
	Println(line string)
}

type writerTerminal struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterTerminal writes each line to w followed by a newline.
func NewWriterTerminal(w io.Writer) Terminal {
	return &writerTerminal{w: w}
}

func (t *writerTerminal) Println(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, line)
}

type logTerminal struct {
	log logrus.FieldLogger
}

// NewLogTerminal emits each line as a warning on log.
func NewLogTerminal(log logrus.FieldLogger) Terminal {
	return &logTerminal{log: log}
}

func (t *logTerminal) Println(line string) {
	t.log.Warn(line)
}
