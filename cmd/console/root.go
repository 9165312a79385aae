package main

import (
	"context"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/Lvzhenqian/console/configs"
	"github.com/Lvzhenqian/console/connect"
	"github.com/Lvzhenqian/console/errors"
	"github.com/Lvzhenqian/console/log"
	"github.com/Lvzhenqian/console/ssh"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

const logName = "console"

// app carries what every subcommand shares. Tests replace the streams, the
// exit function and the spawner.
type app struct {
	v *viper.Viper

	stdin          io.Reader
	stdout, stderr io.Writer
	exit           func(int)
	spawner        connect.Spawner

	registry *log.Registry
	log      *log.Logger
	watcher  *configs.FileManager[configs.LogConfig]
	logFile  string
	raws     *connect.RawTraces
	input    *connect.Input
}

func newApp() *app {
	return &app{
		v:      viper.New(),
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		exit:   os.Exit,
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "console",
		Short:         "Drive remote shells through prompt/response automation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringSliceP("host", "H", []string{connect.DefaultHost}, "remote host, repeat for several")
	flags.StringP("user", "u", "", "login user (default $USER)")
	flags.StringP("password", "p", "", "login password (or CONSOLE_PASSWORD)")
	flags.String("prompt", connect.DefaultPrompt, "shell prompt pattern")
	flags.String("spawn", connect.DefaultSpawnCommand, "spawn command template, $user and $host are substituted")
	flags.String("backend", "pty", "session backend: pty runs the spawn command, ssh dials natively")
	flags.String("port", ssh.DefaultPort, "ssh port for the ssh backend")
	flags.String("key", "", "private key file for the ssh backend")
	flags.String("known-hosts", "", "known_hosts file, empty skips host key checks")
	flags.String("jump", "", "jump host as user@host:port for the ssh backend")
	flags.Duration("timeout", connect.DefaultTimeout, "wait for each prompt")
	flags.Duration("login-timeout", connect.DefaultLoginTimeout, "bound on the whole login")
	flags.String("raw-log", connect.DefaultRawLog, "raw session trace file, empty disables it")

	flags.String("log", "", `channels to enable, comma separated, "*" for all`)
	flags.Bool("show-logs", false, "list log channels and exit")
	flags.String("log-file", "", "extra trace file receiving every channel")
	flags.String("trace-file", "", "primary trace file")
	flags.String("log-level", "", "level of channels created later (trace, debug, info, ...)")
	flags.String("log-config", "", "YAML channel selection, reloaded when it changes")
	flags.String("config", "", "config file with flag defaults")

	a.bind(flags)

	root.AddCommand(a.shellCmd(), a.runCmd(), a.putCmd(), a.getCmd(), a.tunnelCmd())
	return root
}

func (a *app) bind(flags *pflag.FlagSet) {
	_ = a.v.BindPFlags(flags)
	a.v.SetEnvPrefix("CONSOLE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
}

// setup reads the config file and brings up logging before any subcommand.
func (a *app) setup() error {
	if file := a.v.GetString("config"); file != "" {
		a.v.SetConfigFile(file)
		if err := a.v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "read config %s", file)
		}
	}

	color := false
	if f, ok := a.stderr.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	a.registry = log.NewRegistry(
		log.WithConsole(a.stderr, color),
		log.WithNotice(a.stdout),
		log.WithExit(a.exit),
	)
	a.raws = connect.NewRawTraces()
	a.log = a.registry.GetLogger(logName)
	a.registry.GetLogger(connect.LogName)
	a.registry.GetLogger("ssh")

	if file := a.v.GetString("trace-file"); file != "" {
		if err := a.registry.Config(file, nil, a.v.GetString("log-level")); err != nil {
			return err
		}
	}

	channels, showLogs := a.v.GetString("log"), a.v.GetBool("show-logs")
	if channels != "" || showLogs {
		a.registry.LogOptions(channels, showLogs, a.log)
	}

	if file := a.v.GetString("log-config"); file != "" {
		if err := a.watchLogConfig(file); err != nil {
			return err
		}
	}

	if file := a.v.GetString("log-file"); file != "" {
		a.logFile = file
		a.registry.LogFileOpen(file, a.log, false)
	}
	return nil
}

func (a *app) watchLogConfig(file string) error {
	module := &configs.LogModule{Registry: a.registry, Owner: a.log}
	conf, err := configs.LogFile(file).ReadConfig()
	if err != nil {
		return err
	}
	if err := module.Apply(conf); err != nil {
		return err
	}

	a.watcher, err = configs.NewFileManger[configs.LogConfig](configs.LogFile(file), func(err error) {
		a.log.Warnf("log config %s: %v", file, err)
	})
	if err != nil {
		return errors.Wrapf(err, "watch %s", file)
	}
	a.watcher.AddModule(module)
	return nil
}

func (a *app) teardown() error {
	if a.registry == nil {
		return nil
	}
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if a.logFile != "" {
		a.registry.LogFileClose(a.logFile, a.log)
	}
	if a.input != nil {
		_ = a.input.Close()
	}
	if err := a.raws.Close(); err != nil {
		a.log.WithError(err, "raw trace")
	}
	return a.registry.Shutdown()
}

// params builds the connection parameters of one host from the flags.
func (a *app) params(host string) connect.Params {
	p := connect.DefaultParams()
	p.SpawnCommand = a.v.GetString("spawn")
	if user := a.v.GetString("user"); user != "" {
		p.User = user
	}
	p.Host = host
	p.Password = a.v.GetString("password")
	p.Prompt = a.v.GetString("prompt")
	p.Timeout = a.v.GetDuration("timeout")
	p.LoginTimeout = a.v.GetDuration("login-timeout")
	p.RawLog = a.v.GetString("raw-log")
	// the farewell exit ends the session on every backend
	p.QuietTeardown = true
	return p
}

func (a *app) sshOptions() []ssh.Option {
	return []ssh.Option{
		ssh.WithLogger(a.registry.GetLogger("ssh")),
		ssh.WithProgressBar(true),
		ssh.WithProgressOutput(a.stderr),
	}
}

// authConfig is the native ssh configuration for host.
func (a *app) authConfig(host string) (*ssh.AuthConfig, error) {
	user := a.v.GetString("user")
	if user == "" {
		user = connect.DefaultParams().User
	}
	conf := &ssh.AuthConfig{
		Username:   user,
		Password:   a.v.GetString("password"),
		PrivateKey: a.v.GetString("key"),
		KnownHosts: a.v.GetString("known-hosts"),
		Agent:      true,
		NetworkConfig: ssh.NetworkConfig{
			Network:        "tcp",
			Address:        net.JoinHostPort(host, a.v.GetString("port")),
			ConnectTimeout: int(a.v.GetDuration("login-timeout") / time.Second),
		},
	}
	if jump := a.v.GetString("jump"); jump != "" {
		j, err := parseJump(jump, conf)
		if err != nil {
			return nil, err
		}
		conf.Jump = j
	}
	return conf, nil
}

// parseJump reads user@host[:port]; missing parts come from target.
func parseJump(jump string, target *ssh.AuthConfig) (*ssh.AuthConfig, error) {
	user, host := target.Username, jump
	if i := strings.LastIndex(jump, "@"); i >= 0 {
		user, host = jump[:i], jump[i+1:]
	}
	if host == "" {
		return nil, errors.Newf("jump host missing in %q", jump)
	}
	address := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		address = net.JoinHostPort(host, ssh.DefaultPort)
	}
	return &ssh.AuthConfig{
		Username:   user,
		Password:   target.Password,
		PrivateKey: target.PrivateKey,
		KnownHosts: target.KnownHosts,
		Agent:      target.Agent,
		NetworkConfig: ssh.NetworkConfig{
			Network:        "tcp",
			Address:        address,
			ConnectTimeout: target.ConnectTimeout,
		},
	}, nil
}

// sessionSpawner picks the backend for host.
func (a *app) sessionSpawner(host string) (connect.Spawner, error) {
	if a.spawner != nil {
		return a.spawner, nil
	}
	switch backend := a.v.GetString("backend"); backend {
	case "pty", "":
		return connect.PtySpawner{}, nil
	case "ssh":
		conf, err := a.authConfig(host)
		if err != nil {
			return nil, err
		}
		return &ssh.Spawner{Auth: *conf, Options: a.sshOptions()}, nil
	default:
		return nil, errors.Newf("unknown backend %q", backend)
	}
}

// connect opens a logged in connection to host.
func (a *app) connect(ctx context.Context, host string) (*connect.Connection, error) {
	spawner, err := a.sessionSpawner(host)
	if err != nil {
		return nil, err
	}
	logger := a.registry.GetLogger(connect.LogName).WithThread(host)
	conn := connect.New(a.registry, a.params(host), connect.WithSpawner(spawner),
		connect.WithLogger(logger), connect.WithRawTraces(a.raws))
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

func (a *app) hosts() []string {
	hosts := a.v.GetStringSlice("host")
	if len(hosts) == 0 {
		return []string{connect.DefaultHost}
	}
	return hosts
}
