//go:build linux

package connect

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/Lvzhenqian/console/errors"
	"golang.org/x/sys/unix"
)

// PtySpawner runs the spawn command locally through a shell, attached to a
// fresh pseudo-terminal.
type PtySpawner struct {
	// Shell runs the command with -c. Defaults to /bin/sh.
	Shell string
	Cols  uint16
	Rows  uint16
	// Term is exported as TERM to the child. Defaults to vt100.
	Term string
	// CloseWait is how long Close waits for the child after SIGHUP.
	CloseWait time.Duration
}

func (p PtySpawner) Spawn(ctx context.Context, target Target) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shell := p.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cols, rows := p.Cols, p.Rows
	if cols == 0 || rows == 0 {
		cols, rows = 80, 24
	}
	term := p.Term
	if term == "" {
		term = "vt100"
	}

	master, slavePath, err := openPTY()
	if err != nil {
		return nil, err
	}
	if err := setWindowSize(master, cols, rows); err != nil {
		master.Close()
		return nil, err
	}
	slave, err := os.OpenFile(slavePath, os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		master.Close()
		return nil, errors.Wrapf(err, "open %s", slavePath)
	}
	defer slave.Close()

	cmd := exec.Command(shell, "-c", "exec "+target.Command)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = slave, slave, slave
	cmd.Env = append(os.Environ(), "TERM="+term)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}
	if err := cmd.Start(); err != nil {
		master.Close()
		return nil, errors.Wrapf(err, "start %q", target.Command)
	}

	s := &ptySession{
		master:    master,
		cmd:       cmd,
		exited:    make(chan struct{}),
		closeWait: p.CloseWait,
	}
	if s.closeWait <= 0 {
		s.closeWait = time.Second
	}
	go func() {
		s.waitErr = cmd.Wait()
		close(s.exited)
	}()
	return s, nil
}

// openPTY allocates a PTY master/slave pair through /dev/ptmx.
func openPTY() (master *os.File, slavePath string, err error) {
	master, err = os.OpenFile("/dev/ptmx", os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, "", errors.Wrapf(err, "open /dev/ptmx")
	}

	// SyscallConn keeps the master in non-blocking mode so Close unblocks Read.
	raw, err := master.SyscallConn()
	if err != nil {
		master.Close()
		return nil, "", err
	}
	var ptyNumber int
	var ctlErr error
	err = raw.Control(func(fd uintptr) {
		ptyNumber, ctlErr = unix.IoctlGetInt(int(fd), unix.TIOCGPTN)
		if ctlErr != nil {
			ctlErr = errors.Wrapf(ctlErr, "get PTY number (TIOCGPTN)")
			return
		}
		if ctlErr = unix.IoctlSetPointerInt(int(fd), unix.TIOCSPTLCK, 0); ctlErr != nil {
			ctlErr = errors.Wrapf(ctlErr, "unlock PTY slave (TIOCSPTLCK)")
		}
	})
	if err == nil {
		err = ctlErr
	}
	if err != nil {
		master.Close()
		return nil, "", err
	}
	return master, fmt.Sprintf("/dev/pts/%d", ptyNumber), nil
}

func setWindowSize(master *os.File, cols, rows uint16) error {
	raw, err := master.SyscallConn()
	if err != nil {
		return err
	}
	var ctlErr error
	err = raw.Control(func(fd uintptr) {
		ctlErr = unix.IoctlSetWinsize(int(fd), unix.TIOCSWINSZ, &unix.Winsize{Col: cols, Row: rows})
	})
	if err != nil {
		return err
	}
	return ctlErr
}

type ptySession struct {
	master    *os.File
	cmd       *exec.Cmd
	exited    chan struct{}
	waitErr   error
	closeWait time.Duration
}

// Read maps the EIO a master returns after the child hung up to io.EOF.
func (s *ptySession) Read(p []byte) (int, error) {
	n, err := s.master.Read(p)
	if err != nil && (errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)) {
		err = io.EOF
	}
	return n, err
}

func (s *ptySession) Write(p []byte) (int, error) {
	return s.master.Write(p)
}

func (s *ptySession) Resize(cols, rows int) error {
	return setWindowSize(s.master, uint16(cols), uint16(rows))
}

// Close hangs up the terminal and reaps the child, killing it if it ignores
// SIGHUP.
func (s *ptySession) Close() error {
	err := s.master.Close()
	select {
	case <-s.exited:
		return err
	default:
	}
	_ = s.cmd.Process.Signal(syscall.SIGHUP)
	select {
	case <-s.exited:
	case <-time.After(s.closeWait):
		_ = s.cmd.Process.Kill()
		<-s.exited
	}
	return err
}
