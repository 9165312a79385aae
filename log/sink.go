package log

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type colors int

const (
	Error colors = 31 + iota
	Info
	Panic
	_
	Fatal
	Debug
	Trace
	_
	Weak colors = 2
	Bold colors = 1
	Warn        = Panic
)

// RecordTimeFormat is the timestamp layout of every record.
const RecordTimeFormat = "2006-01-02 15:04:05"

// RotateConfig sizes the primary trace file.
type RotateConfig struct {
	// MaxSize is the size in megabytes before the file rotates.
	MaxSize int
	// MaxAge is the number of days rotated files are kept.
	MaxAge int
	// MaxBackups is the number of rotated files kept.
	MaxBackups int
	// Compress gzips rotated files.
	Compress bool
}

// sink is one active output of the registry. Each sink filters by its own
// minimum level and formats records as "time name[thread] LEVEL message".
type sink struct {
	name   string
	level  zerolog.Level
	out    io.Writer
	closer io.Closer
	// stops is set when opening this sink detached the primary file.
	stops bool
}

func (s *sink) close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func recordWriter(out io.Writer, color bool) zerolog.ConsoleWriter {
	w := zerolog.ConsoleWriter{
		Out:           out,
		NoColor:       !color,
		TimeFormat:    RecordTimeFormat,
		PartsOrder:    []string{zerolog.TimestampFieldName, ChannelFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName},
		FieldsExclude: []string{ChannelFieldName},
		FormatLevel: func(i interface{}) string {
			value, ok := i.(string)
			if !ok {
				return fmt.Sprintf("%-8s", i)
			}
			return fmt.Sprintf("%-8s", strings.ToUpper(value))
		},
	}
	if color {
		w.FormatLevel = func(i interface{}) string {
			value, ok := i.(string)
			if !ok {
				return fmt.Sprintf("%-8s", i)
			}
			return colorLevel(value)
		}
		w.FormatErrFieldName = func(i interface{}) string {
			value, ok := i.(string)
			if !ok {
				return fmt.Sprintf("%4s", i)
			}
			return fmt.Sprintf("\x1b[%d;%dm%s\x1b[0m=", Warn, Weak, value)
		}
	}
	return w
}

func colorLevel(s string) string {
	format := func(color, style colors) string {
		return fmt.Sprintf("\x1b[%d;%dm%-8s\x1b[0m", color, style, strings.ToUpper(s))
	}
	same := func(v string) bool {
		return strings.EqualFold(s, v)
	}
	switch {
	case same("panic"):
		return format(Panic, Bold)
	case same("fatal"):
		return format(Fatal, Bold)
	case same("error"):
		return format(Error, Bold)
	case same("warn"):
		return format(Warn, Weak)
	case same("info"):
		return format(Info, Bold)
	case same("debug"):
		return format(Debug, Bold)
	default:
		return format(Trace, Bold)
	}
}

func consoleSink(out io.Writer, color bool) *sink {
	return &sink{
		name:  "console",
		level: zerolog.ErrorLevel,
		out:   recordWriter(out, color),
	}
}

func primarySink(filename string, conf RotateConfig) *sink {
	fileWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    conf.MaxSize,
		MaxAge:     conf.MaxAge,
		MaxBackups: conf.MaxBackups,
		LocalTime:  true,
		Compress:   conf.Compress,
	}
	return &sink{
		name:   filename,
		level:  zerolog.TraceLevel,
		out:    recordWriter(fileWriter, false),
		closer: fileWriter,
	}
}

func fileSink(filename string, f io.WriteCloser) *sink {
	return &sink{
		name:   filename,
		level:  zerolog.TraceLevel,
		out:    recordWriter(f, false),
		closer: f,
	}
}

// fanout writes each record to every active sink of the registry at the time
// of the write, so loggers created before a sink was added still reach it.
type fanout struct {
	r *Registry
}

func (f fanout) Write(p []byte) (int, error) {
	return f.WriteLevel(zerolog.NoLevel, p)
}

func (f fanout) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	f.r.mux.RLock()
	defer f.r.mux.RUnlock()
	for _, s := range f.r.sinks {
		if level != zerolog.NoLevel && level < s.level {
			continue
		}
		// one broken sink must not starve the others
		_, _ = s.out.Write(p)
	}
	return len(p), nil
}
