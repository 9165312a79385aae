package ssh

import (
	"context"
	"io"
	"os"

	"github.com/Lvzhenqian/console/connect"
	"github.com/Lvzhenqian/console/errors"
	"github.com/Lvzhenqian/console/log"
	terminal "golang.org/x/term"
)

// Terminal is the user's side of an interactive session. Keys are read
// through In; TTY, when it is a terminal, is switched to raw mode and
// watched for size changes.
type Terminal struct {
	TTY *os.File
	In  *connect.Input
	Out io.Writer
	Log *log.Logger
}

// Interact hands conn to the terminal until the escape key (Ctrl-]) is
// pressed or the shell exits. Terminal resizes are forwarded to the session.
func (t *Terminal) Interact(ctx context.Context, conn *connect.Connection) error {
	if t.TTY == nil || !terminal.IsTerminal(int(t.TTY.Fd())) {
		return conn.Interact(ctx, t.In, t.Out)
	}
	fd := int(t.TTY.Fd())

	state, err := terminal.MakeRaw(fd)
	if err != nil {
		return errors.Wrapf(err, "terminal.MakeRaw")
	}
	defer terminal.Restore(fd, state)

	termWidth, termHeight, err := terminal.GetSize(fd)
	if err != nil {
		return errors.Wrapf(err, "terminal.GetSize")
	}
	if err := conn.Resize(termWidth, termHeight); err != nil {
		return errors.Wrapf(err, "resize")
	}

	logger := t.Log
	if logger == nil {
		logger = log.Discard("ssh")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	changeSizeErr := make(chan error)
	go func() {
		for changeErr := range changeSizeErr {
			logger.Warnf("updateTerminalSize err: %v", changeErr)
		}
	}()
	go func() {
		defer close(changeSizeErr)
		updateTerminalSize(ctx, fd, termWidth, termHeight, conn.Resize, changeSizeErr)
	}()

	return conn.Interact(ctx, t.In, t.Out)
}
