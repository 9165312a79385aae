package ssh

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lvzhenqian/console/errors"
	"github.com/Lvzhenqian/console/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

type Option func(*Client)

// Client is an authenticated ssh connection. Shells, commands, transfers and
// tunnels each open their own channel on it.
type Client struct {
	client *ssh.Client
	jump   *Client
	agent  net.Conn
	pb     bool
	pbOut  io.Writer
	log    *log.Logger
}

func WithProgressBar(show bool) Option {
	return func(c *Client) {
		c.pb = show
	}
}

// WithProgressOutput sends progress bars to w instead of stdout.
func WithProgressOutput(w io.Writer) Option {
	return func(c *Client) {
		c.pbOut = w
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// Dial connects and authenticates to conf, going through conf.Jump when set.
func Dial(ctx context.Context, conf *AuthConfig, option ...Option) (*Client, error) {
	c := &Client{}
	for _, opt := range option {
		opt(c)
	}
	if c.log == nil {
		c.log = log.Discard("ssh")
	}

	clientCfg, err := c.authConfig(conf)
	if err != nil {
		c.release()
		return nil, err
	}
	network := conf.Network
	if network == "" {
		network = "tcp"
	}

	var conn net.Conn
	if conf.Jump != nil {
		c.jump, err = Dial(ctx, conf.Jump, option...)
		if err != nil {
			c.release()
			return nil, errors.Wrapf(err, "jump %s", conf.Jump.Address)
		}
		conn, err = c.jump.client.Dial(network, conf.Address)
	} else {
		d := net.Dialer{Timeout: conf.timeout()}
		conn, err = d.DialContext(ctx, network, conf.Address)
	}
	if err != nil {
		c.release()
		return nil, errors.Wrapf(err, "connect %s", conf.Address)
	}

	_ = conn.SetDeadline(time.Now().Add(conf.timeout()))
	ncc, chans, reqs, err := ssh.NewClientConn(conn, conf.Address, clientCfg)
	if err != nil {
		conn.Close()
		c.release()
		return nil, errors.Wrapf(err, "handshake %s", conf.Address)
	}
	_ = conn.SetDeadline(time.Time{})

	c.client = ssh.NewClient(ncc, chans, reqs)
	c.log.Debugf("Dial() - %s@%s connected", conf.Username, conf.Address)
	return c, nil
}

// authConfig builds the client config. An agent connection it opens is kept
// on c until Close.
func (c *Client) authConfig(conf *AuthConfig) (*ssh.ClientConfig, error) {
	auth := make([]ssh.AuthMethod, 0, 4)

	keyPath := conf.PrivateKey
	if keyPath == "" && conf.Password == "" {
		keyPath = "~/.ssh/id_rsa"
	}
	if keyPath != "" {
		signer, err := loadSigner(keyPath, conf.Passphrase)
		switch {
		case err == nil:
			auth = append(auth, ssh.PublicKeys(signer))
		case conf.PrivateKey != "":
			return nil, err
		}
	}

	if conf.Password != "" {
		auth = append(auth, ssh.Password(conf.Password))
		auth = append(auth, ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = conf.Password
			}
			return answers, nil
		}))
	}

	if conf.Agent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			if conn, err := net.Dial("unix", sock); err == nil {
				c.agent = conn
				auth = append(auth, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			}
		}
	}
	if len(auth) == 0 {
		return nil, errors.Newf("no auth method for %s@%s", conf.Username, conf.Address)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if conf.KnownHosts != "" {
		cb, err := knownhosts.New(localRealPath(conf.KnownHosts))
		if err != nil {
			return nil, errors.Wrapf(err, "known_hosts %s", conf.KnownHosts)
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            conf.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         conf.timeout(),
	}, nil
}

// loadSigner reads key as a file when it exists, otherwise as PEM content.
func loadSigner(key, passphrase string) (ssh.Signer, error) {
	content := []byte(key)
	if !strings.Contains(key, "PRIVATE KEY") {
		var err error
		content, err = os.ReadFile(localRealPath(key))
		if err != nil {
			return nil, errors.Wrapf(err, "open private key %s", key)
		}
	}
	var (
		signer ssh.Signer
		err    error
	)
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(content, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(content)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse private key")
	}
	return signer, nil
}

// Run executes cmd on its own channel without a terminal.
func (c *Client) Run(cmd string, stdout, stderr io.Writer) error {
	session, err := c.client.NewSession()
	if err != nil {
		return errors.Wrapf(err, "new session")
	}
	defer session.Close()
	session.Stdout = stdout
	session.Stderr = stderr
	return session.Run(cmd)
}

// Forward accepts connections on local and relays each one to remote through
// the ssh connection, until ctx is done.
func (c *Client) Forward(ctx context.Context, local, remote NetworkConfig) error {
	listener, err := net.Listen(local.Network, local.Address)
	if err != nil {
		return err
	}
	return c.serveForward(ctx, listener, remote)
}

func (c *Client) serveForward(ctx context.Context, listener net.Listener, remote NetworkConfig) error {
	defer listener.Close()
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go c.forward(conn, remote)
	}
}

func (c *Client) forward(localConn net.Conn, remote NetworkConfig) {
	remoteConn, err := c.client.Dial(remote.Network, remote.Address)
	if err != nil {
		c.log.Warnf("forward() - dial %s: %v", remote.Address, err)
		localConn.Close()
		return
	}

	copyConn := func(writer, reader net.Conn) {
		defer writer.Close()
		defer reader.Close()
		_, _ = io.Copy(writer, reader)
	}
	go copyConn(localConn, remoteConn)
	go copyConn(remoteConn, localConn)
}

func (c *Client) Close() error {
	err := c.client.Close()
	c.release()
	return err
}

// release closes the jump connection and the agent socket.
func (c *Client) release() {
	if c.jump != nil {
		c.jump.Close()
		c.jump = nil
	}
	if c.agent != nil {
		c.agent.Close()
		c.agent = nil
	}
}

func localRealPath(ph string) string {
	if ph == "~" || strings.HasPrefix(ph, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(ph, "~"))
		}
	}
	return ph
}
