package connect

import (
	"context"
	"io"
	"sync"

	"github.com/Lvzhenqian/console/errors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Session is a live remote shell: output is read, input is written.
// Read returns io.EOF once the shell has gone away.
type Session interface {
	io.Reader
	io.Writer
	Close() error
}

// Resizer is implemented by sessions backed by a terminal.
type Resizer interface {
	Resize(cols, rows int) error
}

// Target is what a Spawner needs to start a session.
type Target struct {
	// Command is the expanded spawn command.
	Command  string
	User     string
	Host     string
	Password string
}

type Spawner interface {
	Spawn(ctx context.Context, target Target) (Session, error)
}

// SpawnFunc adapts a function to Spawner.
type SpawnFunc func(ctx context.Context, target Target) (Session, error)

func (f SpawnFunc) Spawn(ctx context.Context, target Target) (Session, error) {
	return f(ctx, target)
}

// RawTraces hands out one rotating writer per raw trace file. Connections
// tracing to the same file share its writer, so size accounting and rotation
// happen once per file. Closing a Connection leaves the writer open.
type RawTraces struct {
	mu    sync.Mutex
	files map[string]*lumberjack.Logger
}

func NewRawTraces() *RawTraces {
	return &RawTraces{files: make(map[string]*lumberjack.Logger)}
}

// defaultRawTraces serves connections that were not given a RawTraces.
var defaultRawTraces = NewRawTraces()

func (r *RawTraces) Writer(filename string) io.Writer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.files[filename]; ok {
		return w
	}
	w := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    10,
		MaxBackups: 3,
		LocalTime:  true,
	}
	r.files[filename] = w
	return w
}

// Close closes every file handed out so far. A later Writer call opens the
// file again.
func (r *RawTraces) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for name, w := range r.files {
		if err := w.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "close raw trace %s", name)
		}
		delete(r.files, name)
	}
	return first
}

// tracedSession copies both directions of a session to a raw trace writer.
type tracedSession struct {
	Session
	raw io.Writer
}

func (t *tracedSession) Read(p []byte) (int, error) {
	n, err := t.Session.Read(p)
	if n > 0 {
		_, _ = t.raw.Write(p[:n])
	}
	return n, err
}

func (t *tracedSession) Write(p []byte) (int, error) {
	n, err := t.Session.Write(p)
	if n > 0 {
		_, _ = t.raw.Write(p[:n])
	}
	return n, err
}
