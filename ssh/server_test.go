package ssh

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const testPrompt = "ruby@test:~$ "

// testServer is an in-process ssh server with a line-oriented fake shell,
// exec, sftp and direct-tcpip support. Only ruby/frenchie may log in.
type testServer struct {
	addr    string
	hostKey ssh.PublicKey

	mu      sync.Mutex
	resizes [][2]uint32
	logins  int
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	s := &testServer{hostKey: signer.PublicKey()}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "ruby" && string(pass) == "frenchie" {
				s.mu.Lock()
				s.logins++
				s.mu.Unlock()
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %s", c.User())
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	s.addr = ln.Addr().String()

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serveConn(nc, cfg)
		}
	}()
	return s
}

func (s *testServer) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

func (s *testServer) Resizes() [][2]uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]uint32(nil), s.resizes...)
}

func (s *testServer) serveConn(nc net.Conn, cfg *ssh.ServerConfig) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		switch nch.ChannelType() {
		case "session":
			ch, requests, err := nch.Accept()
			if err != nil {
				continue
			}
			go s.serveSession(ch, requests)
		case "direct-tcpip":
			go serveDirect(nch)
		default:
			_ = nch.Reject(ssh.UnknownChannelType, nch.ChannelType())
		}
	}
}

func (s *testServer) serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		switch req.Type {
		case "pty-req", "env":
			_ = req.Reply(true, nil)
		case "window-change":
			var size struct {
				Cols, Rows, Width, Height uint32
			}
			if ssh.Unmarshal(req.Payload, &size) == nil {
				s.mu.Lock()
				s.resizes = append(s.resizes, [2]uint32{size.Cols, size.Rows})
				s.mu.Unlock()
			}
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			go fakeShell(ch)
		case "exec":
			var payload struct{ Command string }
			_ = ssh.Unmarshal(req.Payload, &payload)
			_ = req.Reply(true, nil)
			go func() {
				fmt.Fprintf(ch, "ran: %s\n", payload.Command)
				fmt.Fprintf(ch.Stderr(), "warn: %s\n", payload.Command)
				exit(ch, 0)
			}()
		case "subsystem":
			var payload struct{ Name string }
			_ = ssh.Unmarshal(req.Payload, &payload)
			if payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go func() {
				server, err := sftp.NewServer(ch)
				if err != nil {
					ch.Close()
					return
				}
				_ = server.Serve()
				ch.Close()
			}()
		default:
			_ = req.Reply(false, nil)
		}
	}
}

// fakeShell echoes each line like a terminal and answers "out:<line>".
func fakeShell(ch ssh.Channel) {
	fmt.Fprint(ch, "Welcome to test\r\n"+testPrompt)
	scan := bufio.NewScanner(ch)
	for scan.Scan() {
		line := strings.TrimRight(scan.Text(), "\r")
		if line == "exit" {
			fmt.Fprint(ch, "exit\r\nlogout\r\n")
			exit(ch, 0)
			return
		}
		fmt.Fprintf(ch, "%s\r\nout:%s\r\n%s", line, line, testPrompt)
	}
	exit(ch, 1)
}

func exit(ch ssh.Channel, status uint32) {
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
	ch.Close()
}

func serveDirect(nch ssh.NewChannel) {
	var target struct {
		Host     string
		Port     uint32
		OrigHost string
		OrigPort uint32
	}
	if err := ssh.Unmarshal(nch.ExtraData(), &target); err != nil {
		_ = nch.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	conn, err := net.Dial("tcp", net.JoinHostPort(target.Host, strconv.Itoa(int(target.Port))))
	if err != nil {
		_ = nch.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	ch, reqs, err := nch.Accept()
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	go func() {
		_, _ = io.Copy(ch, conn)
		ch.CloseWrite()
	}()
	_, _ = io.Copy(conn, ch)
	conn.Close()
	ch.Close()
}
