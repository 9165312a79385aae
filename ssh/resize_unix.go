//go:build !windows

package ssh

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	terminal "golang.org/x/term"
)

// updateTerminalSize calls resize whenever SIGWINCH reports a new size of fd.
func updateTerminalSize(ctx context.Context, fd, termWidth, termHeight int, resize func(cols, rows int) error, failed chan<- error) {
	sigwinchCh := make(chan os.Signal, 1)
	signal.Notify(sigwinchCh, syscall.SIGWINCH)
	defer signal.Stop(sigwinchCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigwinchCh:
		}
		currTermWidth, currTermHeight, getSizeErr := terminal.GetSize(fd)
		if getSizeErr != nil {
			failed <- getSizeErr
			continue
		}
		if currTermHeight == termHeight && currTermWidth == termWidth {
			continue
		}
		if changeErr := resize(currTermWidth, currTermHeight); changeErr != nil {
			failed <- changeErr
			continue
		}
		termWidth, termHeight = currTermWidth, currTermHeight
	}
}
