package sshconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/nccomm/internal/netconf"
	"github.com/danmuck/nccomm/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Subsystem is the SSH subsystem name for NETCONF.
const Subsystem = "netconf"

var (
	ErrNoAuthMethod = errors.New("sshconn: password or key file required")
	ErrNoUsername   = errors.New("sshconn: username required")
)

// Conn is an open netconf subsystem channel. The communicator reads Stdout
// and writes Stdin; only the transport owner calls Close.
type Conn struct {
	Stdin  io.WriteCloser
	Stdout io.Reader

	client  *ssh.Client
	session *ssh.Session
}

func (c *Conn) Close() error {
	var errs []error
	if c.session != nil {
		if err := c.session.Close(); err != nil && !errors.Is(err, io.EOF) {
			errs = append(errs, err)
		}
	}
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dial connects to device and opens the netconf subsystem, retrying with
// backoff up to cfg.MaxConnectAttempts. Zero attempts retries until ctx
// ends.
func Dial(ctx context.Context, device netconf.DeviceInfo, cfg session.Config) (*Conn, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	clientCfg, err := clientConfig(device, cfg)
	if err != nil {
		return nil, err
	}

	address := device.HostPort()
	logger := log.With().Str("device", address).Logger()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0
	for {
		attempt++
		conn, err := dialOnce(ctx, address, clientCfg, cfg.ConnectTimeout)
		if err == nil {
			logger.Info().Int("attempt", attempt).Msg("netconf subsystem open")
			return conn, nil
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("connect failed")
		if cfg.MaxConnectAttempts > 0 && attempt >= cfg.MaxConnectAttempts {
			return nil, fmt.Errorf("sshconn: connect %s after %d attempts: %w", address, attempt, err)
		}
		delay := cfg.Backoff.Delay(attempt, rng)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func dialOnce(ctx context.Context, address string, clientCfg *ssh.ClientConfig, timeout time.Duration) (*Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	_ = rawConn.SetDeadline(time.Now().Add(timeout))
	clientConn, chans, reqs, err := ssh.NewClientConn(rawConn, address, clientCfg)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	_ = rawConn.SetDeadline(time.Time{})
	client := ssh.NewClient(clientConn, chans, reqs)

	sess, err := client.NewSession()
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		_ = client.Close()
		return nil, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		_ = client.Close()
		return nil, err
	}
	if err := sess.RequestSubsystem(Subsystem); err != nil {
		_ = sess.Close()
		_ = client.Close()
		return nil, fmt.Errorf("sshconn: request %s subsystem: %w", Subsystem, err)
	}
	return &Conn{Stdin: stdin, Stdout: stdout, client: client, session: sess}, nil
}

func clientConfig(device netconf.DeviceInfo, cfg session.Config) (*ssh.ClientConfig, error) {
	user := strings.TrimSpace(device.Username)
	if user == "" {
		return nil, ErrNoUsername
	}
	auth, err := authMethods(device)
	if err != nil {
		return nil, err
	}
	hostKeyCallback, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.ConnectTimeout,
	}, nil
}

func authMethods(device netconf.DeviceInfo) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if keyPath := strings.TrimSpace(device.KeyFile); keyPath != "" {
		signer, err := loadSigner(keyPath)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if device.Password != "" {
		password := device.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}
	if len(methods) == 0 {
		return nil, ErrNoAuthMethod
	}
	return methods, nil
}

func loadSigner(path string) (ssh.Signer, error) {
	privateKey, err := os.ReadFile(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("sshconn: read key file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("sshconn: parse key file: %w", err)
	}
	return signer, nil
}

func hostKeyCallback(cfg session.Config) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		log.Warn().Msg("host key verification disabled")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := expandHome(strings.TrimSpace(cfg.KnownHostsFile))
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("sshconn: load known_hosts %s: %w", path, err)
	}
	return callback, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
