//go:build windows

package ssh

import (
	"context"
	"time"

	terminal "golang.org/x/term"
)

// windows has no SIGWINCH, poll the size instead
func updateTerminalSize(ctx context.Context, fd, termWidth, termHeight int, resize func(cols, rows int) error, failed chan<- error) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
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
