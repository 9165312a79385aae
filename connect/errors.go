package connect

import (
	"fmt"

	"github.com/Lvzhenqian/console/errors"
)

var (
	ErrEOF           = errors.New("end of stream")
	ErrTimeout       = errors.New("timeout exceeded")
	ErrNotConnected  = errors.New("not connected")
	ErrState         = errors.New("invalid connection state")
	ErrLoginRejected = errors.New("password prompt repeated")
)

// ConnectionError reports a failure to reach or match against the session.
// Buffer holds whatever output was pending when the failure happened.
type ConnectionError struct {
	Op     string
	Err    error
	Buffer []byte
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TimeoutError is a ConnectionError caused by an expired wait.
type TimeoutError struct {
	ConnectionError
}

func (e *TimeoutError) Timeout() bool {
	return true
}

// As lets errors.As find the embedded ConnectionError.
func (e *TimeoutError) As(target interface{}) bool {
	if t, ok := target.(**ConnectionError); ok {
		*t = &e.ConnectionError
		return true
	}
	return false
}

// IsConnectionError reports whether err carries a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsTimeout reports whether err carries a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

func connErr(op string, err error, buf []byte) error {
	return &ConnectionError{Op: op, Err: err, Buffer: buf}
}

func timeoutErr(op string, err error, buf []byte) error {
	return &TimeoutError{ConnectionError{Op: op, Err: err, Buffer: buf}}
}
