package log

import (
	"bufio"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/Lvzhenqian/console/errors"
	"github.com/rs/zerolog"
)

const (
	// EnableLevel is the level of an enabled log channel.
	EnableLevel = zerolog.DebugLevel
	// DisableLevel is the threshold below which a channel counts as enabled.
	DisableLevel = zerolog.InfoLevel

	// ChannelFieldName carries "name[thread]" on every record.
	ChannelFieldName = "channel"
)

var Dict = zerolog.Dict

func init() {
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		return errors.ErrorStack(err)
	}
}

// channelState is shared by every Logger handed out for the same name, so a
// level change through the registry reaches loggers already held by callers.
type channelState struct {
	level atomic.Int32
}

func (s *channelState) get() zerolog.Level {
	return zerolog.Level(s.level.Load())
}

func (s *channelState) set(level zerolog.Level) {
	s.level.Store(int32(level))
}

// Logger is one named log channel of a Registry.
type Logger struct {
	name   string
	thread string
	state  *channelState
	base   zerolog.Logger
	notice io.Writer
}

func newLogger(name, thread string, out zerolog.LevelWriter, notice io.Writer, level zerolog.Level) *Logger {
	l := &Logger{
		name:   name,
		thread: thread,
		state:  new(channelState),
		notice: notice,
	}
	l.state.set(level)
	l.base = zerolog.New(out).With().Timestamp().Str(ChannelFieldName, channel(name, thread)).Logger()
	return l
}

// Discard returns a channel outside any registry that drops every record.
func Discard(name string) *Logger {
	return newLogger(name, "", zerolog.MultiLevelWriter(io.Discard), io.Discard, zerolog.Disabled)
}

func channel(name, thread string) string {
	return fmt.Sprintf("%s[%s]", name, thread)
}

func (l *Logger) Name() string {
	return l.name
}

// WithThread returns a view of the channel that labels its records with another
// thread name. Level changes still apply to both.
func (l *Logger) WithThread(thread string) *Logger {
	cp := *l
	cp.thread = thread
	cp.base = l.base.With().Str(ChannelFieldName, channel(l.name, thread)).Logger()
	return &cp
}

func (l *Logger) Level() zerolog.Level {
	return l.state.get()
}

func (l *Logger) SetLevel(level string) error {
	newLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	l.state.set(newLevel)
	return nil
}

func (l *Logger) IsEnabled() bool {
	return l.state.get() < DisableLevel
}

func (l *Logger) IsEnabledFor(level zerolog.Level) bool {
	return level >= l.state.get()
}

func (l *Logger) enable() {
	fmt.Fprintf(l.notice, "log %-10s -- ENABLED\n", l.name)
	l.state.set(EnableLevel)
}

func (l *Logger) disable(level zerolog.Level) {
	fmt.Fprintf(l.notice, "log %-10s -- DISABLED\n", l.name)
	l.state.set(level)
}

// Zero returns the underlying zerolog logger at the channel's current level.
func (l *Logger) Zero() zerolog.Logger {
	return l.base.Level(l.state.get())
}

func (l *Logger) Error(msg string) {
	z := l.Zero()
	z.Error().Msg(msg)
}
func (l *Logger) Errorf(f string, value ...interface{}) {
	z := l.Zero()
	z.Error().Msgf(f, value...)
}
func (l *Logger) WithError(err error, msg string) {
	z := l.Zero()
	z.Error().Stack().Err(err).Msg(msg)
}
func (l *Logger) WithErrorf(err error, format string, args ...interface{}) {
	z := l.Zero()
	z.Error().Stack().Err(err).Msgf(format, args...)
}
func (l *Logger) Warn(msg string) {
	z := l.Zero()
	z.Warn().Msg(msg)
}
func (l *Logger) Warnf(f string, value ...interface{}) {
	z := l.Zero()
	z.Warn().Msgf(f, value...)
}
func (l *Logger) Info(msg string) {
	z := l.Zero()
	z.Info().Msg(msg)
}
func (l *Logger) Infof(f string, value ...interface{}) {
	z := l.Zero()
	z.Info().Msgf(f, value...)
}
func (l *Logger) Debug(msg string) {
	z := l.Zero()
	z.Debug().Msg(msg)
}
func (l *Logger) Debugf(f string, value ...interface{}) {
	z := l.Zero()
	z.Debug().Msgf(f, value...)
}
func (l *Logger) Trace(msg string) {
	z := l.Zero()
	z.Trace().Msg(msg)
}
func (l *Logger) Tracef(f string, value ...interface{}) {
	z := l.Zero()
	z.Trace().Msgf(f, value...)
}

// WithWrap logs err and returns it wrapped at the caller's location.
func (l *Logger) WithWrap(err error, msg string) error {
	e := errors.Wrapf(err, "%s", msg)
	z := l.Zero()
	z.Error().Err(e).Msg(msg)
	return e
}

func (l *Logger) TimeRecord(t time.Time, f string, value ...interface{}) {
	z := l.Zero()
	z.Info().Str("since", time.Since(t).String()).Msgf(f, value...)
}

// HexDump traces data at info level, one record per dump line.
func (l *Logger) HexDump(data []byte, tag string) {
	if !l.IsEnabledFor(zerolog.InfoLevel) {
		return
	}
	HexDump(data, tag, l.Info)
}

// WithPipe returns a writer whose lines are logged at info. Closing the
// writer stops the scanning goroutine.
func (l *Logger) WithPipe() *io.PipeWriter {
	r, w := io.Pipe()
	go func() {
		scan := bufio.NewScanner(r)
		for scan.Scan() {
			l.Infof("pipe writer: %s", scan.Text())
		}
	}()
	return w
}
