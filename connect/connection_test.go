package connect

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Lvzhenqian/console/errors"
	"github.com/Lvzhenqian/console/log"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_SpawnCommand(t *testing.T) {
	shell := rubyShell()
	var got Target
	c := New(quietRegistry(), testParams(), WithSpawner(fakeSpawner(shell, &got)))
	require.Equal(t, Unconnected, c.State())
	require.NoError(t, c.Connect(context.Background()))

	assert.Equal(t, "ssh ruby@localhost", got.Command)
	assert.Equal(t, "ruby", got.User)
	assert.Equal(t, "localhost", got.Host)
	assert.Equal(t, "frenchie", got.Password)
	assert.Equal(t, LoggedIn, c.State())
}

func TestConnect_PasswordSentOnce(t *testing.T) {
	shell := rubyShell()
	c := connected(t, shell, testParams())
	assert.Equal(t, []string{"frenchie\n"}, shell.Sent())
	assert.Equal(t, LoggedIn, c.State())
}

func TestConnect_PromptWithoutPassword(t *testing.T) {
	shell := newFakeShell("Last login: today"+rubyPrompt, nil)
	c := connected(t, shell, testParams())
	assert.Empty(t, shell.Sent())
	assert.Equal(t, LoggedIn, c.State())
}

func TestConnect_Twice(t *testing.T) {
	c := connected(t, rubyShell(), testParams())
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrState))
	assert.True(t, IsConnectionError(err))
}

func TestConnect_SpawnFailure(t *testing.T) {
	failing := SpawnFunc(func(ctx context.Context, target Target) (Session, error) {
		return nil, errors.New("no such host")
	})
	c := New(quietRegistry(), testParams(), WithSpawner(failing))
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.Contains(t, err.Error(), "no such host")
	assert.Equal(t, Disconnected, c.State())
}

func TestConnect_BadTemplate(t *testing.T) {
	p := testParams()
	p.SpawnCommand = "ssh $login@$host"
	c := New(quietRegistry(), p, WithSpawner(fakeSpawner(rubyShell(), nil)))
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login")
	assert.Equal(t, Unconnected, c.State())
}

func TestLogin_Rejected(t *testing.T) {
	shell := newFakeShell("password: ", func(in string) (string, bool) {
		return "\r\nPermission denied, please try again.\r\npassword: ", false
	})
	p := testParams()
	p.MaxPasswordPrompts = 2
	c := New(quietRegistry(), p, WithSpawner(fakeSpawner(shell, nil)))

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoginRejected))
	assert.Len(t, shell.Sent(), 2)
	assert.True(t, shell.Closed())
	assert.Equal(t, Disconnected, c.State())
}

func TestLogin_Timeout(t *testing.T) {
	shell := newFakeShell("connecting...", nil)
	p := testParams()
	p.LoginTimeout = 50 * time.Millisecond
	c := New(quietRegistry(), p, WithSpawner(fakeSpawner(shell, nil)))

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.True(t, IsConnectionError(err))
	assert.True(t, shell.Closed())
}

func TestSendCommand_ReturnsOutputBeforePrompt(t *testing.T) {
	shell := rubyShell()
	c := connected(t, shell, testParams())

	out, err := c.SendCommand(context.Background(), "echo hi", 0)
	require.NoError(t, err)
	assert.Equal(t, "echo hi\r\nhi\r\n", out)
	assert.Equal(t, "echo hi\n", shell.Sent()[1])
}

func TestSend_NotConnected(t *testing.T) {
	c := New(quietRegistry(), testParams())
	_, err := c.Send("ls")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConnected))

	_, err = c.Expect(context.Background(), "x", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestDisconnect_Idempotent(t *testing.T) {
	shell := rubyShell()
	c := connected(t, shell, testParams())

	require.NoError(t, c.Disconnect(context.Background()))
	require.NoError(t, c.Disconnect(context.Background()))

	exits := 0
	for _, s := range shell.Sent() {
		if s == "exit\n" {
			exits++
		}
	}
	assert.Equal(t, 1, exits)
	assert.True(t, shell.Closed())
	assert.Equal(t, Disconnected, c.State())
}

func TestDisconnect_BaseVariantReportsEOF(t *testing.T) {
	shell := rubyShell()
	p := testParams()
	p.QuietTeardown = false
	c := connected(t, shell, p)

	err := c.Disconnect(context.Background())
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.True(t, errors.Is(err, ErrEOF))

	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, string(ce.Buffer), "logout")

	assert.True(t, shell.Closed())
	assert.Equal(t, Disconnected, c.State())
	require.NoError(t, c.Disconnect(context.Background()))
}

func TestDisconnect_NeverConnected(t *testing.T) {
	c := New(quietRegistry(), testParams())
	require.NoError(t, c.Disconnect(context.Background()))
}

func TestExpect_Timeout(t *testing.T) {
	c := connected(t, rubyShell(), testParams())
	start := time.Now()
	_, err := c.Expect(context.Background(), "never", 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.True(t, IsConnectionError(err))
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestExpect_ContextCanceled(t *testing.T) {
	c := connected(t, rubyShell(), testParams())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.Expect(ctx, "never", -1)
	require.Error(t, err)
	assert.False(t, IsTimeout(err))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestExpect_EOF(t *testing.T) {
	shell := rubyShell()
	c := connected(t, shell, testParams())
	_, err := c.Send("exit\n")
	require.NoError(t, err)

	_, err = c.Expect(context.Background(), "never", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEOF))
	assert.False(t, IsTimeout(err))
	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "expect", ce.Op)
	assert.Equal(t, "exit\r\nlogout\r\n", string(ce.Buffer))
}

func TestExpectList_EarliestMatchWins(t *testing.T) {
	shell := newFakeShell("$ ", func(in string) (string, bool) {
		if in == "go\n" {
			return "aaa PROMPT bbb MARK", false
		}
		return "", false
	})
	p := testParams()
	p.Prompt = `\$ `
	c := connected(t, shell, p)
	_, err := c.Sendline("go")
	require.NoError(t, err)

	patterns := []string{"MARK", "PROMPT"}
	index, before, err := c.ExpectList(context.Background(), patterns, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, index)
	assert.Equal(t, "aaa ", before)

	index, before, err = c.ExpectList(context.Background(), patterns, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, index)
	assert.Equal(t, " bbb ", before)
}

func TestExpectList_TieGoesToLowerIndex(t *testing.T) {
	shell := newFakeShell("$ ", func(in string) (string, bool) {
		return "xyab", false
	})
	p := testParams()
	p.Prompt = `\$ `
	c := connected(t, shell, p)
	_, err := c.Send("?")
	require.NoError(t, err)

	index, before, err := c.ExpectList(context.Background(), []string{"ab", "a"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, index)
	assert.Equal(t, "xy", before)
}

func TestExpectList_BadPattern(t *testing.T) {
	c := connected(t, rubyShell(), testParams())
	_, _, err := c.ExpectList(context.Background(), []string{"("}, 0)
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
}

func TestExpect_MultibyteOutput(t *testing.T) {
	shell := newFakeShell("$ ", func(in string) (string, bool) {
		return "héllo wörld DONE", false
	})
	p := testParams()
	p.Prompt = `\$ `
	c := connected(t, shell, p)
	_, err := c.Send("?")
	require.NoError(t, err)

	before, err := c.Expect(context.Background(), "w.rld", 0)
	require.NoError(t, err)
	assert.Equal(t, "héllo ", before)
	before, err = c.Expect(context.Background(), "DONE", 0)
	require.NoError(t, err)
	assert.Equal(t, " ", before)
}

func TestConnection_TracesHexDumps(t *testing.T) {
	out := new(bytes.Buffer)
	r := log.NewRegistry(log.WithConsole(out, false), log.WithNotice(new(bytes.Buffer)))
	r.SetConsoleLevel(zerolog.InfoLevel)

	c := New(r, testParams(), WithSpawner(fakeSpawner(rubyShell(), nil)))
	require.NoError(t, c.Connect(context.Background()))
	_, err := c.SendCommand(context.Background(), "echo hi", 0)
	require.NoError(t, err)

	trace := out.String()
	assert.Contains(t, trace, "SND -   0 : 2A 2A 2A 2A 2A 2A 2A 2A 0A")
	assert.NotContains(t, trace, "frenchie")
	assert.Contains(t, trace, "SND -   0 : 65 63 68 6F 20 68 69 0A")
	assert.Contains(t, trace, "RCB -   0 : ")
	assert.Contains(t, trace, "RCA -   0 : ")
}

func TestConnection_RawLog(t *testing.T) {
	p := testParams()
	p.RawLog = filepath.Join(t.TempDir(), "raw.log")
	c := connected(t, rubyShell(), p)
	require.NoError(t, c.Disconnect(context.Background()))

	raw, err := os.ReadFile(p.RawLog)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ruby@localhost's password: ")
	assert.Contains(t, string(raw), "exit\n")
	assert.Contains(t, string(raw), "logout")
}

func TestConnection_RawLogSharedPerFile(t *testing.T) {
	traces := NewRawTraces()
	defer traces.Close()

	p := testParams()
	p.RawLog = filepath.Join(t.TempDir(), "raw.log")
	open := func() *Connection {
		c := New(quietRegistry(), p, WithSpawner(fakeSpawner(rubyShell(), nil)), WithRawTraces(traces))
		require.NoError(t, c.Connect(context.Background()))
		return c
	}
	first, second := open(), open()
	assert.Same(t, first.rw.(*tracedSession).raw, second.rw.(*tracedSession).raw)

	require.NoError(t, first.Disconnect(context.Background()))
	out, err := second.SendCommand(context.Background(), "echo hi", 0)
	require.NoError(t, err)
	assert.Equal(t, "echo hi\r\nhi\r\n", out)
	require.NoError(t, second.Disconnect(context.Background()))

	raw, err := os.ReadFile(p.RawLog)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(raw), "ruby@localhost's password: "))
	assert.Equal(t, 2, strings.Count(string(raw), "logout"))
	assert.Contains(t, string(raw), "echo hi\n")
}

func TestConnection_RawLogDefaultTable(t *testing.T) {
	p := testParams()
	p.RawLog = filepath.Join(t.TempDir(), "raw.log")
	first := connected(t, rubyShell(), p)
	second := connected(t, rubyShell(), p)
	assert.Same(t, first.rw.(*tracedSession).raw, second.rw.(*tracedSession).raw)
	assert.Same(t, defaultRawTraces.Writer(p.RawLog), first.rw.(*tracedSession).raw)
	require.NoError(t, first.Disconnect(context.Background()))
	require.NoError(t, second.Disconnect(context.Background()))
}

func TestInteract_EscapeReturns(t *testing.T) {
	shell := rubyShell()
	c := connected(t, shell, testParams())

	out := new(bytes.Buffer)
	in := NewInput(strings.NewReader("ls\n\x1dpwd\n"))
	require.NoError(t, c.Interact(context.Background(), in, out))
	assert.Contains(t, shell.Sent(), "ls\n")
	assert.NotContains(t, shell.Sent(), "pwd")

	line, err := in.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "pwd", line)
}

func TestInteract_InputAfterEscapeReachesNextReader(t *testing.T) {
	c := connected(t, rubyShell(), testParams())

	pr, pw := io.Pipe()
	defer pw.Close()
	in := NewInput(pr)

	done := make(chan error, 1)
	go func() {
		done <- c.Interact(context.Background(), in, io.Discard)
	}()
	_, err := pw.Write([]byte{EscapeByte})
	require.NoError(t, err)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Interact did not return after the escape byte")
	}

	go func() {
		_, _ = pw.Write([]byte("next command\n"))
	}()
	line, err := in.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "next command", line)
}

func TestInteract_OutstandingReadKeptAfterCancel(t *testing.T) {
	c := connected(t, rubyShell(), testParams())

	pr, pw := io.Pipe()
	defer pw.Close()
	in := NewInput(pr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Interact(ctx, in, io.Discard)
	}()
	// Interact is waiting on a read when it is canceled.
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	go func() {
		_, _ = pw.Write([]byte("after\n"))
	}()
	line, err := in.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "after", line)
}

func TestInteract_NotConnected(t *testing.T) {
	c := New(quietRegistry(), testParams())
	err := c.Interact(context.Background(), NewInput(strings.NewReader("")), new(bytes.Buffer))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unconnected", Unconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "logged-in", LoggedIn.String())
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "unknown", State(9).String())
}
