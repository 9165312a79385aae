package connect

import (
	"bytes"
	"io"
	"strings"
)

// Input shares one reader, usually the user's terminal, between line
// oriented callers and Interact. A single goroutine reads, and only when a
// caller asks for more. Bytes that arrive after Interact has returned stay
// queued for the next caller.
//
// Input is owned by one goroutine at a time, like Connection.
type Input struct {
	r    io.Reader
	want chan struct{}
	got  chan chunk

	busy    bool
	closed  bool
	pending []byte
	err     error
}

func NewInput(r io.Reader) *Input {
	in := &Input{
		r:    r,
		want: make(chan struct{}, 1),
		got:  make(chan chunk, 1),
	}
	go in.pump()
	return in
}

func (in *Input) pump() {
	for range in.want {
		b := make([]byte, 1024)
		n, err := in.r.Read(b)
		in.got <- chunk{data: b[:n], err: err}
		if err != nil {
			return
		}
	}
}

// ask starts a read unless one is already outstanding.
func (in *Input) ask() <-chan chunk {
	if !in.busy && in.err == nil {
		in.busy = true
		in.want <- struct{}{}
	}
	return in.got
}

func (in *Input) received(c chunk) {
	in.busy = false
	in.pending = append(in.pending, c.data...)
	if c.err != nil {
		in.err = c.err
	}
}

func (in *Input) take() []byte {
	data := in.pending
	in.pending = nil
	return data
}

func (in *Input) unread(data []byte) {
	if len(data) == 0 {
		return
	}
	in.pending = append(append([]byte(nil), data...), in.pending...)
}

func (in *Input) Read(p []byte) (int, error) {
	for len(in.pending) == 0 && in.err == nil {
		in.received(<-in.ask())
	}
	if len(in.pending) == 0 {
		return 0, in.err
	}
	n := copy(p, in.pending)
	in.pending = in.pending[n:]
	return n, nil
}

// ReadLine returns the next line without its line ending. A last line
// without one is returned before the read error.
func (in *Input) ReadLine() (string, error) {
	for {
		if i := bytes.IndexByte(in.pending, '\n'); i >= 0 {
			line := string(in.pending[:i])
			in.pending = in.pending[i+1:]
			return strings.TrimSuffix(line, "\r"), nil
		}
		if in.err != nil {
			if len(in.pending) > 0 {
				return string(in.take()), nil
			}
			return "", in.err
		}
		in.received(<-in.ask())
	}
}

// Close stops further reads. The reading goroutine exits as soon as a read
// in progress returns.
func (in *Input) Close() error {
	if in.closed {
		return nil
	}
	in.closed = true
	if in.err == nil {
		in.err = io.ErrClosedPipe
	}
	close(in.want)
	return nil
}
