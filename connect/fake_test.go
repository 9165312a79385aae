package connect

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Lvzhenqian/console/log"
)

// fakeShell simulates a remote shell: every Write is recorded and answered by
// reply. Answers are written in order by a single goroutine.
type fakeShell struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu     sync.Mutex
	sent   []string
	closed bool

	reply func(input string) (output string, hangup bool)
	queue chan reply
}

type reply struct {
	output string
	hangup bool
}

func newFakeShell(greeting string, answer func(string) (string, bool)) *fakeShell {
	pr, pw := io.Pipe()
	f := &fakeShell{
		pr:    pr,
		pw:    pw,
		reply: answer,
		queue: make(chan reply, 64),
	}
	go f.run()
	if greeting != "" {
		f.queue <- reply{output: greeting}
	}
	return f
}

func (f *fakeShell) run() {
	for r := range f.queue {
		if r.output != "" {
			if _, err := f.pw.Write([]byte(r.output)); err != nil {
				return
			}
		}
		if r.hangup {
			f.pw.Close()
			return
		}
	}
}

func (f *fakeShell) Read(p []byte) (int, error) {
	return f.pr.Read(p)
}

func (f *fakeShell) Write(p []byte) (int, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	f.sent = append(f.sent, string(p))
	f.mu.Unlock()
	if f.reply != nil {
		out, hangup := f.reply(string(p))
		if out != "" || hangup {
			f.queue <- reply{output: out, hangup: hangup}
		}
	}
	return len(p), nil
}

func (f *fakeShell) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.pr.Close()
	}
	return nil
}

func (f *fakeShell) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeShell) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

const rubyPrompt = "\r\nruby@feanor:~$ "

// rubyShell answers like an ssh login for ruby with password frenchie.
func rubyShell() *fakeShell {
	return newFakeShell("ruby@localhost's password: ", func(in string) (string, bool) {
		switch in {
		case "frenchie\n":
			return "Welcome" + rubyPrompt, false
		case "exit\n":
			return "exit\r\nlogout\r\n", true
		case "echo hi\n":
			return "echo hi\r\nhi" + rubyPrompt, false
		}
		return "", false
	})
}

func testParams() Params {
	p := SSHParams()
	p.Password = "frenchie"
	p.RawLog = ""
	p.Timeout = 2 * time.Second
	p.LoginTimeout = 5 * time.Second
	return p
}

func quietRegistry() *log.Registry {
	return log.NewRegistry(log.WithConsole(nil, false), log.WithNotice(io.Discard))
}

func fakeSpawner(s Session, got *Target) Spawner {
	return SpawnFunc(func(ctx context.Context, target Target) (Session, error) {
		if got != nil {
			*got = target
		}
		return s, nil
	})
}

func connected(t *testing.T, shell *fakeShell, p Params) *Connection {
	t.Helper()
	c := New(quietRegistry(), p, WithSpawner(fakeSpawner(shell, nil)))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c
}
