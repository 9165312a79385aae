package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Lvzhenqian/console/connect"
	"github.com/Lvzhenqian/console/ssh"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	commandPrompt = "Enter command: "
	exitCommand   = "x"
	interactCmd   = "!interact"
)

func (a *app) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell [host]",
		Short: "Send commands one by one and print each response, x exits",
		Long: "Connects to the host and reads commands from the terminal. Every command is sent " +
			"and the output up to the next prompt is printed. " + interactCmd + " hands the session " +
			"over to the terminal until Ctrl-] is pressed.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host := a.hosts()[0]
			if len(args) == 1 {
				host = args[0]
			}
			return a.shell(cmd.Context(), host)
		},
	}
}

func (a *app) shell(ctx context.Context, host string) error {
	a.log.Infof("shell %s start", host)
	defer a.log.Infof("shell %s exit", host)

	conn, err := a.connect(ctx, host)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Disconnect(ctx); err != nil {
			a.log.WithError(err, "disconnect")
		}
	}()

	rl, err := a.lineReader(commandPrompt)
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		switch {
		case err == readline.ErrInterrupt:
			continue
		case err == io.EOF:
			return nil
		case err != nil:
			return err
		}

		switch line = strings.TrimSpace(line); line {
		case "":
			continue
		case exitCommand:
			return nil
		case interactCmd:
			if err := a.interact(ctx, conn); err != nil {
				return err
			}
			if conn.State() != connect.LoggedIn {
				return nil
			}
			continue
		}

		resp, err := conn.SendCommand(ctx, line, 0)
		if err != nil {
			if connect.IsTimeout(err) {
				fmt.Fprintf(a.stdout, "%v\n", err)
				continue
			}
			return err
		}
		fmt.Fprintln(a.stdout, resp)
	}
}

func (a *app) interact(ctx context.Context, conn *connect.Connection) error {
	t := &ssh.Terminal{In: a.keys(), Out: a.stdout, Log: a.registry.GetLogger("ssh")}
	if f, ok := a.stdin.(*os.File); ok {
		t.TTY = f
	}
	return t.Interact(ctx, conn)
}

// keys is stdin shared by the command reader and interactive sessions, so
// input typed after leaving a session reaches the next prompt.
func (a *app) keys() *connect.Input {
	if a.input == nil {
		a.input = connect.NewInput(a.stdin)
	}
	return a.input
}

type lineReader interface {
	Readline() (string, error)
	Close() error
}

// lineReader edits lines with readline on a terminal and reads plain lines
// otherwise.
func (a *app) lineReader(prompt string) (lineReader, error) {
	if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return readline.NewEx(&readline.Config{
			Prompt:          prompt,
			InterruptPrompt: "^C",
			EOFPrompt:       exitCommand,
			Stdin:           io.NopCloser(a.keys()),
		})
	}
	return &plainReader{in: a.keys(), out: a.stdout, prompt: prompt}, nil
}

type plainReader struct {
	in     *connect.Input
	out    io.Writer
	prompt string
}

func (r *plainReader) Readline() (string, error) {
	fmt.Fprint(r.out, r.prompt)
	return r.in.ReadLine()
}

func (r *plainReader) Close() error {
	return nil
}
