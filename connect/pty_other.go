//go:build !linux

package connect

import (
	"context"
	"runtime"
	"time"

	"github.com/Lvzhenqian/console/errors"
)

// PtySpawner runs the spawn command locally on a pseudo-terminal. Only Linux
// is supported; use the ssh package's Spawner elsewhere.
type PtySpawner struct {
	Shell string
	Cols  uint16
	Rows  uint16
	Term  string
	// CloseWait is how long Close waits for the child after SIGHUP.
	CloseWait time.Duration
}

func (p PtySpawner) Spawn(ctx context.Context, target Target) (Session, error) {
	return nil, errors.Newf("local pty spawning is not supported on %s", runtime.GOOS)
}
