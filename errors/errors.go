package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// Error annotates a wrapped error with the place it was created or wrapped.
// Chains of Error print as a call-site stack with %+v.
type Error struct {
	message  string
	previous error
	cause    error
	filename string
	funcName string
	line     int
}

func (e *Error) Error() string {
	err := e.previous
	switch {
	case err == nil:
		return e.message
	case e.message == "":
		return err.Error()
	}
	return fmt.Sprintf("%s: %v", e.message, err)
}

func (e *Error) SetLocation(callDepth int) {
	e.filename, e.funcName, e.line = getLocation(callDepth + 1)
}

// Location reports where the error was created or wrapped.
func (e *Error) Location() (file string, line int) {
	return e.filename, e.line
}

func (e *Error) Message() string {
	return e.message
}

func (e *Error) Previous() error {
	return e.previous
}

func (e *Error) Unwrap() error {
	return e.previous
}

func (e *Error) Cause() error {
	return e.cause
}

func (e *Error) GoString() string {
	return "github.com/Lvzhenqian/console/errors.Error"
}

func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		switch {
		case s.Flag('+'):
			fmt.Fprintf(s, "%s", ErrorStack(e))
			return
		case s.Flag('#'):
			fmt.Fprintf(s, "%#v", (*unformatter)(e))
			return
		}
		fallthrough
	case 's':
		fmt.Fprintf(s, "%s", e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	default:
		fmt.Fprintf(s, "%%!%c(%T=%s)", verb, e, e.Error())
	}
}

type unformatter Error

func (unformatter) Format() {}

func New(message string) error {
	err := &Error{message: message}
	err.SetLocation(1)
	return err
}

func Newf(format string, args ...interface{}) error {
	err := &Error{message: fmt.Sprintf(format, args...)}
	err.SetLocation(1)
	return err
}

func Wrapf(other error, format string, args ...interface{}) error {
	if other == nil {
		return nil
	}
	err := &Error{
		previous: other,
		cause:    Cause(other),
		message:  fmt.Sprintf(format, args...),
	}
	err.SetLocation(1)
	return err
}

func Wrap(other error) error {
	if other == nil {
		return nil
	}
	err := &Error{
		previous: other,
		cause:    Cause(other),
	}
	err.SetLocation(1)
	return err
}

// Cause returns the innermost error recorded when the chain was built.
func Cause(err error) error {
	var diag error
	if err, ok := err.(*Error); ok {
		diag = err.Cause()
	}
	if diag != nil {
		return diag
	}
	return err
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

func getLocation(callDepth int) (string, string, int) {
	rpc := make([]uintptr, 1)
	n := runtime.Callers(callDepth+2, rpc[:])
	if n < 1 {
		return "", "", 0
	}
	frame, _ := runtime.CallersFrames(rpc).Next()

	return frame.File, frame.Function, frame.Line
}

func ErrorStack(err error) string {
	return strings.Join(errorStack(err), "\n")
}

// errorStack walks the chain through Unwrap so foreign wrappers in the middle
// (fmt.Errorf %w, typed errors) do not cut the trace short.
func errorStack(err error) []string {
	var lines []string
	for err != nil {
		if cerr, ok := err.(*Error); ok {
			msg := cerr.message
			if msg == "" {
				msg = "wrapped"
			}
			lines = append(lines, fmt.Sprintf("%s(): %s\n\t%s:%d", cerr.funcName, msg, cerr.filename, cerr.line))
			err = cerr.Previous()
			continue
		}
		next := stderrors.Unwrap(err)
		if next == nil {
			lines = append(lines, err.Error())
			break
		}
		lines = append(lines, err.Error())
		err = next
	}
	return lines
}
