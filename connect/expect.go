package connect

import (
	"context"
	"io"
	"time"
	"unicode/utf8"

	"github.com/Lvzhenqian/console/errors"
	"github.com/dlclark/regexp2"
)

const readSize = 4096

type chunk struct {
	data []byte
	err  error
}

// expecter accumulates session output and searches it for patterns. A single
// reader goroutine feeds it so that a blocked read never holds up a timeout.
type expecter struct {
	chunks chan chunk
	done   chan struct{}
	buf    []byte
	// err is the terminal read error, io.EOF once the session ended.
	err error
}

func newExpecter(r io.Reader) *expecter {
	e := &expecter{
		chunks: make(chan chunk, 16),
		done:   make(chan struct{}),
	}
	go e.pump(r)
	return e
}

func (e *expecter) pump(r io.Reader) {
	for {
		b := make([]byte, readSize)
		n, err := r.Read(b)
		if n > 0 {
			select {
			case e.chunks <- chunk{data: b[:n]}:
			case <-e.done:
				return
			}
		}
		if err != nil {
			select {
			case e.chunks <- chunk{err: err}:
			case <-e.done:
			}
			return
		}
	}
}

func (e *expecter) stop() {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

type match struct {
	index  int
	before []byte
	after  []byte
}

// search finds the earliest match of any pattern in the buffer. When two
// patterns match at the same position the lower index wins. The matched
// bytes and everything before them are consumed.
func (e *expecter) search(patterns []*regexp2.Regexp) (match, bool, error) {
	runes, offsets := decodeRunes(e.buf)

	best, bestStart, bestLen := -1, 0, 0
	for i, re := range patterns {
		m, err := re.FindRunesMatch(runes)
		if err != nil {
			return match{}, false, err
		}
		if m == nil {
			continue
		}
		if best < 0 || m.Index < bestStart {
			best, bestStart, bestLen = i, m.Index, m.Length
		}
	}
	if best < 0 {
		return match{}, false, nil
	}

	start, end := offsets[bestStart], offsets[bestStart+bestLen]
	m := match{
		index:  best,
		before: append([]byte(nil), e.buf[:start]...),
		after:  append([]byte(nil), e.buf[start:end]...),
	}
	e.buf = append(e.buf[:0], e.buf[end:]...)
	return m, true, nil
}

// decodeRunes converts buf the same way []rune(string(buf)) does and records
// the byte offset of every rune, plus len(buf) as the final entry.
func decodeRunes(buf []byte) ([]rune, []int) {
	runes := make([]rune, 0, len(buf))
	offsets := make([]int, 0, len(buf)+1)
	for i := 0; i < len(buf); {
		r, size := utf8.DecodeRune(buf[i:])
		runes = append(runes, r)
		offsets = append(offsets, i)
		i += size
	}
	offsets = append(offsets, len(buf))
	return runes, offsets
}

// expect blocks until one of patterns matches, the stream ends, timeout
// elapses (timeout <= 0 waits forever) or ctx is done.
func (e *expecter) expect(ctx context.Context, op string, patterns []*regexp2.Regexp, timeout time.Duration) (match, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	for {
		m, ok, err := e.search(patterns)
		if err != nil {
			return match{}, connErr(op, errors.Wrapf(err, "pattern search"), e.pending())
		}
		if ok {
			return m, nil
		}
		if e.err != nil {
			if e.err != io.EOF {
				return match{}, connErr(op, errors.Wrapf(ErrEOF, "read: %v", e.err), e.pending())
			}
			return match{}, connErr(op, errors.Wrap(ErrEOF), e.pending())
		}

		select {
		case c := <-e.chunks:
			if c.err != nil {
				e.err = c.err
				continue
			}
			e.buf = append(e.buf, c.data...)
		case <-timer:
			return match{}, timeoutErr(op, errors.Wrapf(ErrTimeout, "after %s", timeout), e.pending())
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return match{}, timeoutErr(op, errors.Wrapf(ErrTimeout, "%v", ctx.Err()), e.pending())
			}
			return match{}, connErr(op, errors.Wrap(ctx.Err()), e.pending())
		}
	}
}

// drain returns buffered output without waiting and empties the buffer.
func (e *expecter) drain() []byte {
loop:
	for {
		select {
		case c := <-e.chunks:
			if c.err != nil {
				e.err = c.err
				break loop
			}
			e.buf = append(e.buf, c.data...)
		default:
			break loop
		}
	}
	out := e.buf
	e.buf = nil
	return out
}

func (e *expecter) pending() []byte {
	return append([]byte(nil), e.buf...)
}
