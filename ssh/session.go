package ssh

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/Lvzhenqian/console/connect"
	"github.com/Lvzhenqian/console/errors"
	"golang.org/x/crypto/ssh"
)

// Spawner opens connect sessions as native ssh shells instead of running the
// spawn command locally. Target user, host and password fill in whatever Auth
// leaves empty.
type Spawner struct {
	Auth AuthConfig
	// Port is used with the target host when Auth has no address.
	Port    string
	Term    string
	Cols    int
	Rows    int
	Options []Option
}

func (s *Spawner) Spawn(ctx context.Context, target connect.Target) (connect.Session, error) {
	conf := s.Auth
	if conf.Username == "" {
		conf.Username = target.User
	}
	if conf.Password == "" {
		conf.Password = target.Password
	}
	if conf.Address == "" {
		port := s.Port
		if port == "" {
			port = DefaultPort
		}
		conf.Address = net.JoinHostPort(target.Host, port)
	}

	cli, err := Dial(ctx, &conf, s.Options...)
	if err != nil {
		return nil, err
	}
	session, err := cli.Shell(s.Term, s.Cols, s.Rows)
	if err != nil {
		cli.Close()
		return nil, err
	}
	session.owner = cli
	return session, nil
}

// Session is an interactive shell channel with a terminal. Stdout and stderr
// are merged into Read, which returns io.EOF once the shell exits.
type Session struct {
	session *ssh.Session
	stdin   io.WriteCloser
	out     *io.PipeReader
	owner   *Client
	once    sync.Once
	err     error
}

// Shell requests a terminal and starts the login shell on a new channel.
func (c *Client) Shell(term string, cols, rows int) (*Session, error) {
	if term == "" {
		term = DefaultTerm
	}
	if cols <= 0 || rows <= 0 {
		cols, rows = 80, 24
	}

	session, err := c.client.NewSession()
	if err != nil {
		return nil, errors.Wrapf(err, "new session")
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(term, rows, cols, modes); err != nil {
		session.Close()
		return nil, errors.Wrapf(err, "request pty")
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	pr, pw := io.Pipe()
	session.Stdout = pw
	session.Stderr = pw
	if err := session.Shell(); err != nil {
		session.Close()
		return nil, errors.Wrapf(err, "start shell")
	}
	go func() {
		err := session.Wait()
		c.log.Debugf("Shell() - exited: %v", err)
		pw.Close()
	}()

	return &Session{session: session, stdin: stdin, out: pr}, nil
}

func (s *Session) Read(p []byte) (int, error) {
	return s.out.Read(p)
}

func (s *Session) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *Session) Resize(cols, rows int) error {
	return s.session.WindowChange(rows, cols)
}

// Close ends the channel, and the connection too when the session was
// opened by a Spawner.
func (s *Session) Close() error {
	s.once.Do(func() {
		err := s.session.Close()
		if err == io.EOF {
			err = nil
		}
		s.out.Close()
		if s.owner != nil {
			if cerr := s.owner.Close(); err == nil && cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = cerr
			}
		}
		s.err = err
	})
	return s.err
}
