package connect

import (
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/Lvzhenqian/console/errors"
)

const (
	DefaultSpawnCommand = "ssh $user@$host"
	DefaultHost         = "localhost"
	DefaultPrompt       = `\$`
	PasswordPattern     = "password:"
	DefaultTimeout      = 30 * time.Second
	DefaultLoginTimeout = 2 * time.Minute
	DefaultRawLog       = "connect.log"
)

// LineSeparator terminates every Sendline.
var LineSeparator = "\n"

func init() {
	if runtime.GOOS == "windows" {
		LineSeparator = "\r\n"
	}
}

// Params describes the remote shell a Connection drives.
type Params struct {
	// SpawnCommand is expanded with $user and $host before the session starts.
	SpawnCommand string
	User         string
	Host         string
	Password     string
	// Prompt is the pattern of the shell's ready-for-input state.
	Prompt         string
	PasswordPrompt string

	// Timeout bounds a single wait when the caller passes 0.
	Timeout time.Duration
	// LoginTimeout bounds the whole login exchange. Zero disables it.
	LoginTimeout time.Duration
	// MaxPasswordPrompts stops a login that keeps asking for the password.
	// Zero disables the check.
	MaxPasswordPrompts int

	// RawLog receives every byte read from and written to the session.
	// Empty disables it.
	RawLog string
	// QuietTeardown makes Disconnect ignore a failed farewell "exit".
	QuietTeardown bool
}

func DefaultParams() Params {
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	return Params{
		SpawnCommand:       DefaultSpawnCommand,
		User:               user,
		Host:               DefaultHost,
		Prompt:             DefaultPrompt,
		PasswordPrompt:     PasswordPattern,
		Timeout:            DefaultTimeout,
		LoginTimeout:       DefaultLoginTimeout,
		MaxPasswordPrompts: 3,
		RawLog:             DefaultRawLog,
	}
}

// SSHParams is the parameter set of an ssh login as user ruby. Teardown
// tolerates a session that already went away.
func SSHParams() Params {
	p := DefaultParams()
	p.SpawnCommand = "ssh $user@$host"
	p.User = "ruby"
	p.Host = DefaultHost
	p.Prompt = `ruby@.*\$ `
	p.QuietTeardown = true
	return p
}

// Command returns the spawn command with user and host substituted.
func (p Params) Command() (string, error) {
	return Expand(p.SpawnCommand, map[string]string{
		"user": p.User,
		"host": p.Host,
	})
}

// Expand substitutes $name and ${name} placeholders. "$$" is a literal
// dollar. A placeholder without a value is an error.
func Expand(template string, values map[string]string) (string, error) {
	missing := make(map[string]struct{})
	out := os.Expand(template, func(name string) string {
		if name == "$" {
			return "$"
		}
		v, ok := values[name]
		if !ok {
			missing[name] = struct{}{}
		}
		return v
	})
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return "", errors.Newf("template %q: no value for %s", template, strings.Join(names, ", "))
	}
	return out, nil
}
