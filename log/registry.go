package log

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

type Option func(*Registry)

// Registry is a table of named log channels sharing one set of sinks.
// Channels are created on first request and live as long as the registry.
type Registry struct {
	mux *sync.RWMutex

	loggers map[string]*Logger
	// pending remembers Enable/Disable requests for names not created yet.
	pending map[string]bool

	sinks    []*sink
	console  *sink
	primary  *sink
	files    map[string]*sink
	stopped  int
	defLevel zerolog.Level
	rotate   RotateConfig

	thread string
	notice io.Writer
	exit   func(int)
}

func NewRegistry(option ...Option) *Registry {
	r := &Registry{
		mux:      new(sync.RWMutex),
		loggers:  make(map[string]*Logger),
		pending:  make(map[string]bool),
		files:    make(map[string]*sink),
		defLevel: DisableLevel,
		thread:   "main",
		notice:   os.Stdout,
		exit:     os.Exit,
		rotate: RotateConfig{
			MaxSize:    10,
			MaxAge:     30,
			MaxBackups: 5,
		},
	}
	r.console = consoleSink(os.Stderr, true)
	for _, opt := range option {
		opt(r)
	}
	if r.console != nil {
		r.sinks = append(r.sinks, r.console)
	}
	return r
}

// WithConsole replaces the stderr console sink. A nil writer drops it.
func WithConsole(out io.Writer, color bool) Option {
	return func(r *Registry) {
		if out == nil {
			r.console = nil
			return
		}
		r.console = consoleSink(out, color)
	}
}

// WithNotice sets where enable/disable notices and sink failures are printed.
func WithNotice(w io.Writer) Option {
	return func(r *Registry) {
		r.notice = w
	}
}

// WithExit replaces os.Exit for LogOptions listings.
func WithExit(exit func(int)) Option {
	return func(r *Registry) {
		r.exit = exit
	}
}

func WithThread(name string) Option {
	return func(r *Registry) {
		r.thread = name
	}
}

func WithRotate(conf RotateConfig) Option {
	return func(r *Registry) {
		r.rotate = conf
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process registry used by the command line tools.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// GetLogger returns the channel called name, creating it on first use.
func (r *Registry) GetLogger(name string) *Logger {
	r.mux.RLock()
	l, ok := r.loggers[name]
	r.mux.RUnlock()
	if ok {
		return l
	}

	r.mux.Lock()
	defer r.mux.Unlock()
	if l, ok = r.loggers[name]; ok {
		return l
	}
	level := r.defLevel
	if r.pending[name] {
		level = EnableLevel
	}
	l = newLogger(name, r.thread, fanout{r: r}, r.notice, level)
	r.loggers[name] = l
	return l
}

// Loggers returns the names of all channels, sorted.
func (r *Registry) Loggers() []string {
	r.mux.RLock()
	defer r.mux.RUnlock()
	names := make([]string, 0, len(r.loggers))
	for name := range r.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) EnabledLoggers() map[string]bool {
	r.mux.RLock()
	defer r.mux.RUnlock()
	enabled := make(map[string]bool, len(r.loggers))
	for name, l := range r.loggers {
		enabled[name] = l.IsEnabled()
	}
	return enabled
}

func (r *Registry) IsEnabled(name string) bool {
	r.mux.RLock()
	defer r.mux.RUnlock()
	l, ok := r.loggers[name]
	if !ok {
		return false
	}
	return l.IsEnabled()
}

func (r *Registry) Enable(name string) {
	r.mux.Lock()
	r.pending[name] = true
	l, ok := r.loggers[name]
	r.mux.Unlock()
	if ok {
		l.enable()
	}
}

func (r *Registry) Disable(name string) {
	r.mux.Lock()
	r.pending[name] = false
	l, ok := r.loggers[name]
	level := r.defLevel
	r.mux.Unlock()
	if ok {
		l.disable(level)
	}
}

// DefaultLevel is the level given to channels that are not enabled.
func (r *Registry) DefaultLevel() zerolog.Level {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return r.defLevel
}

// Config opens the primary trace file as a sink of every channel, sets the
// level of channels created afterwards and enables autoEnabled. An empty
// level keeps the current default.
func (r *Registry) Config(filename string, autoEnabled []string, level string) error {
	if level != "" {
		newLevel, err := zerolog.ParseLevel(level)
		if err != nil {
			return err
		}
		r.mux.Lock()
		r.defLevel = newLevel
		r.mux.Unlock()
	}

	primary := primarySink(filename, r.rotate)
	r.mux.Lock()
	old := r.primary
	r.primary = primary
	r.sinks = removeSink(r.sinks, old)
	if r.stopped == 0 {
		r.sinks = append(r.sinks, primary)
	}
	r.mux.Unlock()
	if old != nil {
		_ = old.close()
	}

	for _, name := range autoEnabled {
		r.Enable(name)
	}
	return nil
}

// SetConsoleLevel changes the threshold of the console sink.
func (r *Registry) SetConsoleLevel(level zerolog.Level) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.console != nil {
		r.console.level = level
	}
}

// LogFileOpen adds filename, truncated, as a sink of every channel. With
// stopPrimary the primary file is detached until the file is closed again.
// Failures are printed, never returned.
func (r *Registry) LogFileOpen(filename string, owner *Logger, stopPrimary bool) {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(r.notice, "LogFileOpen() fail - filename:%q - %v\n", filename, err)
		return
	}
	s := fileSink(filename, f)

	r.mux.Lock()
	if prev, ok := r.files[filename]; ok {
		r.sinks = removeSink(r.sinks, prev)
		_ = prev.close()
		if prev.stops {
			r.stopped--
		}
	}
	r.files[filename] = s
	r.sinks = append(r.sinks, s)
	r.mux.Unlock()

	if owner != nil {
		owner.Infof("Log file %q Starting", filename)
	}

	if stopPrimary {
		r.mux.Lock()
		s.stops = true
		r.stopped++
		r.sinks = removeSink(r.sinks, r.primary)
		r.mux.Unlock()
	}
}

// LogFileClose removes a sink added by LogFileOpen and reattaches the primary
// file once no open file holds it detached.
func (r *Registry) LogFileClose(filename string, owner *Logger) {
	r.mux.Lock()
	s, ok := r.files[filename]
	if ok {
		delete(r.files, filename)
		r.sinks = removeSink(r.sinks, s)
		if s.stops {
			r.stopped--
		}
	}
	if r.stopped == 0 && r.primary != nil && !hasSink(r.sinks, r.primary) {
		r.sinks = append(r.sinks, r.primary)
	}
	r.mux.Unlock()

	if !ok {
		fmt.Fprintf(r.notice, "LogFileClose() fail - filename:%q - not open\n", filename)
		return
	}
	if err := s.close(); err != nil {
		fmt.Fprintf(r.notice, "LogFileClose() fail - filename:%q - %v\n", filename, err)
		return
	}
	if owner != nil {
		owner.Infof("Log file %q Closing", filename)
	}
}

// Shutdown closes every file sink. Channels keep writing to the console.
func (r *Registry) Shutdown() error {
	r.mux.Lock()
	defer r.mux.Unlock()
	var firstErr error
	for name, s := range r.files {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.files, name)
	}
	if r.primary != nil {
		if err := r.primary.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.primary = nil
	}
	r.stopped = 0
	r.sinks = r.sinks[:0]
	if r.console != nil {
		r.sinks = append(r.sinks, r.console)
	}
	return firstErr
}

func removeSink(sinks []*sink, s *sink) []*sink {
	if s == nil {
		return sinks
	}
	out := sinks[:0]
	for _, cur := range sinks {
		if cur != s {
			out = append(out, cur)
		}
	}
	return out
}

func hasSink(sinks []*sink, s *sink) bool {
	for _, cur := range sinks {
		if cur == s {
			return true
		}
	}
	return false
}
