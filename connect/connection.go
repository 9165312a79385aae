package connect

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/Lvzhenqian/console/errors"
	"github.com/Lvzhenqian/console/log"
	"github.com/dlclark/regexp2"
)

// LogName is the channel Connection traces to.
const LogName = "connect"

type State int

const (
	Unconnected State = iota
	Connecting
	LoggedIn
	Disconnected
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case Connecting:
		return "connecting"
	case LoggedIn:
		return "logged-in"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

type Option func(*Connection)

// WithSpawner replaces the local PTY spawner.
func WithSpawner(s Spawner) Option {
	return func(c *Connection) {
		c.spawner = s
	}
}

// WithLogger traces to l instead of the registry's "connect" channel.
func WithLogger(l *log.Logger) Option {
	return func(c *Connection) {
		c.log = l
	}
}

// WithRawTraces takes raw trace writers from r instead of the package wide
// table.
func WithRawTraces(r *RawTraces) Option {
	return func(c *Connection) {
		c.raws = r
	}
}

// Connection drives one remote shell session. It is not safe for concurrent
// use; open one Connection per logical session.
type Connection struct {
	params  Params
	spawner Spawner
	log     *log.Logger
	raws    *RawTraces

	state   State
	session Session
	rw      Session
	exp     *expecter

	patterns map[string]*regexp2.Regexp
}

func New(registry *log.Registry, params Params, option ...Option) *Connection {
	c := &Connection{
		params:   params,
		spawner:  PtySpawner{},
		raws:     defaultRawTraces,
		patterns: make(map[string]*regexp2.Regexp),
	}
	for _, opt := range option {
		opt(c)
	}
	if c.log == nil {
		c.log = registry.GetLogger(LogName)
	}
	return c
}

func (c *Connection) Params() Params {
	return c.params
}

func (c *Connection) State() State {
	return c.state
}

// Connect starts the session with the expanded spawn command and logs in.
func (c *Connection) Connect(ctx context.Context) error {
	if c.state != Unconnected {
		return connErr("connect", errors.Wrapf(ErrState, "connection is %s", c.state), nil)
	}
	command, err := c.params.Command()
	if err != nil {
		return connErr("connect", err, nil)
	}

	c.state = Connecting
	logger := c.log.WithCtx(ctx)
	logger.Infof("Connect() - spawn %q", command)
	session, err := c.spawner.Spawn(ctx, Target{
		Command:  command,
		User:     c.params.User,
		Host:     c.params.Host,
		Password: c.params.Password,
	})
	if err != nil {
		c.state = Disconnected
		return connErr("spawn", errors.Wrapf(err, "spawn %q", command), nil)
	}

	c.session = session
	c.rw = session
	if c.params.RawLog != "" {
		c.rw = &tracedSession{Session: session, raw: c.raws.Writer(c.params.RawLog)}
	}
	c.exp = newExpecter(c.rw)

	if err := c.Login(ctx); err != nil {
		logger.WithError(err, "Connect() - login failed")
		c.close()
		c.state = Disconnected
		return err
	}
	c.state = LoggedIn
	return nil
}

type loginState int

const (
	awaitPasswordOrPrompt loginState = iota
	atPrompt
)

// Login answers password prompts until the shell prompt shows up.
func (c *Connection) Login(ctx context.Context) error {
	logger := c.log.WithCtx(ctx)
	logger.Info("Login() - start")
	start := time.Now()

	if c.params.LoginTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.params.LoginTimeout)
		defer cancel()
	}

	passwordPrompt := c.params.PasswordPrompt
	if passwordPrompt == "" {
		passwordPrompt = PasswordPattern
	}
	patterns := []string{passwordPrompt, c.params.Prompt}
	prompts := 0
	for state := awaitPasswordOrPrompt; state != atPrompt; {
		index, _, err := c.ExpectList(ctx, patterns, 0)
		if err != nil {
			return err
		}
		switch index {
		case 0:
			prompts++
			if c.params.MaxPasswordPrompts > 0 && prompts > c.params.MaxPasswordPrompts {
				return connErr("login", errors.Wrapf(ErrLoginRejected, "%d password prompts", prompts), nil)
			}
			if err := c.sendSecret(c.params.Password + LineSeparator); err != nil {
				return err
			}
		case 1:
			state = atPrompt
		}
	}
	logger.TimeRecord(start, "Login() - done after %d password prompts", prompts)
	return nil
}

// Disconnect says "exit" to the shell and closes the session. It does nothing
// when no session is live.
func (c *Connection) Disconnect(ctx context.Context) error {
	if c.session == nil {
		return nil
	}
	_, err := c.SendCommand(ctx, "exit", 0)
	if err != nil && c.params.QuietTeardown && IsConnectionError(err) {
		c.log.Debugf("Disconnect() - ignored %v", err)
		err = nil
	}
	closeErr := c.close()
	c.state = Disconnected
	if err != nil {
		return err
	}
	return closeErr
}

func (c *Connection) close() error {
	if c.exp != nil {
		c.exp.stop()
	}
	var err error
	if c.rw != nil {
		err = c.rw.Close()
	}
	c.session, c.rw, c.exp = nil, nil, nil
	return err
}

// Expect waits for pattern and returns the output that preceded it. A zero
// timeout uses Params.Timeout, a negative one waits forever.
func (c *Connection) Expect(ctx context.Context, pattern string, timeout time.Duration) (string, error) {
	_, before, err := c.expect(ctx, "expect", []string{pattern}, timeout)
	return before, err
}

// ExpectList waits for the first of patterns to match and returns its index
// and the output that preceded it.
func (c *Connection) ExpectList(ctx context.Context, patterns []string, timeout time.Duration) (int, string, error) {
	return c.expect(ctx, "expect_list", patterns, timeout)
}

func (c *Connection) expect(ctx context.Context, op string, patterns []string, timeout time.Duration) (int, string, error) {
	if c.exp == nil {
		return -1, "", connErr(op, errors.Wrap(ErrNotConnected), nil)
	}
	res, err := c.compile(patterns)
	if err != nil {
		return -1, "", connErr(op, err, nil)
	}
	if timeout == 0 {
		timeout = c.params.Timeout
	}
	m, err := c.exp.expect(ctx, op, res, timeout)
	if err != nil {
		return -1, "", err
	}
	logger := c.log.WithCtx(ctx)
	logger.HexDump(m.before, "RCB")
	logger.HexDump(m.after, "RCA")
	return m.index, string(m.before), nil
}

func (c *Connection) compile(patterns []string) ([]*regexp2.Regexp, error) {
	res := make([]*regexp2.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, ok := c.patterns[p]
		if !ok {
			var err error
			re, err = regexp2.Compile(p, regexp2.None)
			if err != nil {
				return nil, errors.Wrapf(err, "compile pattern %q", p)
			}
			c.patterns[p] = re
		}
		res = append(res, re)
	}
	return res, nil
}

// Send writes text to the session without waiting for a response.
func (c *Connection) Send(text string) (int, error) {
	c.log.HexDump([]byte(text), "SND")
	return c.write([]byte(text))
}

// Sendline is Send with the line separator appended.
func (c *Connection) Sendline(text string) (int, error) {
	return c.Send(text + LineSeparator)
}

// sendSecret traces a masked copy of text.
func (c *Connection) sendSecret(text string) error {
	masked := bytes.Repeat([]byte{'*'}, len(text)-len(LineSeparator))
	c.log.HexDump(append(masked, LineSeparator...), "SND")
	_, err := c.write([]byte(text))
	return err
}

func (c *Connection) write(p []byte) (int, error) {
	if c.rw == nil {
		return 0, connErr("send", errors.Wrap(ErrNotConnected), nil)
	}
	n, err := c.rw.Write(p)
	if err != nil {
		return n, connErr("send", errors.Wrap(err), nil)
	}
	return n, nil
}

// SendCommand sends command and returns its output up to the next prompt.
func (c *Connection) SendCommand(ctx context.Context, command string, timeout time.Duration) (string, error) {
	if _, err := c.Sendline(command); err != nil {
		return "", err
	}
	return c.Expect(ctx, c.params.Prompt, timeout)
}

// Resize changes the terminal size of sessions that have one.
func (c *Connection) Resize(cols, rows int) error {
	r, ok := c.session.(Resizer)
	if !ok {
		return nil
	}
	return r.Resize(cols, rows)
}

// EscapeByte ends Interact (Ctrl-]).
const EscapeByte = 0x1d

// Interact hands the session to a user: in is copied to the session and
// session output to out, until EscapeByte is read from in, the session
// ends or ctx is done. Output buffered by earlier waits is written first.
// Input typed after the escape byte is left in in for its next reader.
func (c *Connection) Interact(ctx context.Context, in *Input, out io.Writer) error {
	if c.exp == nil {
		return connErr("interact", errors.Wrap(ErrNotConnected), nil)
	}
	if pending := c.exp.drain(); len(pending) > 0 {
		if _, err := out.Write(pending); err != nil {
			return err
		}
	}
	if c.exp.err != nil {
		return nil
	}

	for {
		if data := in.take(); len(data) > 0 {
			escaped, err := c.typed(in, data)
			if escaped || err != nil {
				return err
			}
			continue
		}
		if in.err != nil {
			if in.err == io.EOF || in.closed {
				return nil
			}
			return in.err
		}

		select {
		case got := <-c.exp.chunks:
			if got.err != nil {
				c.exp.err = got.err
				return nil
			}
			if _, err := out.Write(got.data); err != nil {
				return err
			}
		case key := <-in.ask():
			in.received(key)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// typed forwards keys up to the escape byte and puts the rest back.
func (c *Connection) typed(in *Input, data []byte) (bool, error) {
	i := bytes.IndexByte(data, EscapeByte)
	if i < 0 {
		_, err := c.write(data)
		return false, err
	}
	if i > 0 {
		if _, err := c.write(data[:i]); err != nil {
			return true, err
		}
	}
	in.unread(data[i+1:])
	return true, nil
}
