package sshconn

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/danmuck/nccomm/internal/netconf"
	"github.com/danmuck/nccomm/internal/protocol/frame"
	"github.com/danmuck/nccomm/internal/protocol/session"
	"github.com/danmuck/nccomm/internal/testutil/testlog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const testHello = `<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"><capabilities><capability>urn:ietf:params:netconf:base:1.0</capability></capabilities><session-id>1</session-id></hello>`

type testServer struct {
	addr    string
	hostKey ssh.PublicKey
}

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer
}

// newTestServerOrSkip serves one netconf subsystem session that sends a
// hello and then discards input.
func newTestServerOrSkip(t *testing.T) testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skip("skipping ssh listener test in restricted environment")
	}
	t.Cleanup(func() { _ = ln.Close() })

	signer := newSigner(t)
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if meta.User() == "admin" && string(password) == "admin" {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
	}
	cfg.AddHostKey(signer)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg)
		}
	}()
	return testServer{addr: ln.Addr().String(), hostKey: signer.PublicKey()}
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig) {
	defer conn.Close()
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			return
		}
		go func() {
			for req := range requests {
				var sub struct{ Name string }
				ok := req.Type == "subsystem" && ssh.Unmarshal(req.Payload, &sub) == nil && sub.Name == Subsystem
				_ = req.Reply(ok, nil)
				if ok {
					_, _ = ch.Write(frame.EncodeEndOfMessage([]byte(testHello)))
					go func() { _, _ = io.Copy(io.Discard, ch) }()
				}
			}
		}()
	}
}

func deviceFor(t *testing.T, addr string) netconf.DeviceInfo {
	t.Helper()
	host, portRaw, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portRaw)
	return netconf.DeviceInfo{Username: "admin", Password: "admin", Address: host, Port: port}
}

func testConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.ConnectTimeout = 2 * time.Second
	cfg.HelloTimeout = 2 * time.Second
	cfg.MaxConnectAttempts = 1
	return cfg
}

func TestDialOpensSubsystemAndExchangesHello(t *testing.T) {
	testlog.Start(t)
	srv := newTestServerOrSkip(t)

	knownHostsPath := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, srv.hostKey)
	if err := os.WriteFile(knownHostsPath, []byte(line+"\n"), 0o600); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}
	cfg := testConfig()
	cfg.KnownHostsFile = knownHostsPath

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, deviceFor(t, srv.addr), cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	client := netconf.NewClient(conn.Stdout, conn.Stdin, deviceFor(t, srv.addr), cfg, nil)
	hello, err := client.Hello(ctx)
	if err != nil {
		t.Fatalf("hello: %v", err)
	}
	if hello.SessionID != "1" {
		t.Fatalf("unexpected session id %q", hello.SessionID)
	}
}

func TestDialRejectsUnknownHostKey(t *testing.T) {
	testlog.Start(t)
	srv := newTestServerOrSkip(t)

	knownHostsPath := filepath.Join(t.TempDir(), "known_hosts")
	other := newSigner(t).PublicKey()
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, other)
	if err := os.WriteFile(knownHostsPath, []byte(line+"\n"), 0o600); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}
	cfg := testConfig()
	cfg.KnownHostsFile = knownHostsPath

	_, err := Dial(context.Background(), deviceFor(t, srv.addr), cfg)
	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) {
		t.Fatalf("expected knownhosts.KeyError, got %v", err)
	}
}

func TestDialWrongPasswordFails(t *testing.T) {
	testlog.Start(t)
	srv := newTestServerOrSkip(t)
	cfg := testConfig()
	cfg.InsecureIgnoreHostKey = true
	device := deviceFor(t, srv.addr)
	device.Password = "nope"
	if _, err := Dial(context.Background(), device, cfg); err == nil {
		t.Fatalf("expected auth failure")
	}
}

func TestDialRequiresHostKeyPolicyAndAuth(t *testing.T) {
	testlog.Start(t)
	device := netconf.DeviceInfo{Username: "admin", Password: "admin", Address: "192.0.2.1"}
	if _, err := Dial(context.Background(), device, session.DefaultConfig()); !errors.Is(err, session.ErrHostKeyPolicyRequired) {
		t.Fatalf("expected ErrHostKeyPolicyRequired, got %v", err)
	}

	cfg := session.DefaultConfig()
	cfg.InsecureIgnoreHostKey = true
	device.Password = ""
	if _, err := Dial(context.Background(), device, cfg); !errors.Is(err, ErrNoAuthMethod) {
		t.Fatalf("expected ErrNoAuthMethod, got %v", err)
	}
	device.Username = ""
	if _, err := Dial(context.Background(), device, cfg); !errors.Is(err, ErrNoUsername) {
		t.Fatalf("expected ErrNoUsername, got %v", err)
	}
}

func TestDialHonorsContextBetweenAttempts(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skip("skipping listener test in restricted environment")
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := testConfig()
	cfg.InsecureIgnoreHostKey = true
	cfg.MaxConnectAttempts = 0
	cfg.Backoff = session.BackoffConfig{InitialDelay: time.Second, Multiplier: 1, MaxDelay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := Dial(ctx, deviceFor(t, addr), cfg); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}

func TestExpandHome(t *testing.T) {
	testlog.Start(t)
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandHome("~/.ssh/known_hosts"); got != filepath.Join(home, ".ssh", "known_hosts") {
		t.Fatalf("unexpected expansion %q", got)
	}
	if got := expandHome("/etc/ssh/known_hosts"); got != "/etc/ssh/known_hosts" {
		t.Fatalf("absolute path changed: %q", got)
	}
}
