package ssh

import (
	"time"
)

// same as net.Dial
type NetworkConfig struct {
	Network string
	// for unix, Address is the socket path
	// for tcp, Address is ip:port
	Address        string
	ConnectTimeout int
}

func (n NetworkConfig) timeout() time.Duration {
	if n.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return time.Duration(n.ConnectTimeout) * time.Second
}

type AuthConfig struct {
	Username string
	Password string
	// PrivateKey is a key file path or the PEM content itself.
	PrivateKey string
	Passphrase string
	// KnownHosts enables host key checking against a known_hosts file.
	KnownHosts string
	// Agent adds the keys of the agent at $SSH_AUTH_SOCK.
	Agent bool
	NetworkConfig
	// Jump is dialed first and the target is reached through it.
	Jump *AuthConfig
}

const (
	DefaultPort           = "22"
	DefaultConnectTimeout = 10 * time.Second
	DefaultTerm           = "vt100"
)
