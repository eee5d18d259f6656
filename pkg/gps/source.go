// Package gps collects position fixes from the router's GNSS receiver, a
// Starlink dish and the cellular modem.
package gps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/logx"
	"github.com/anchorwatch/anchorwatch/pkg/retry"
	"github.com/anchorwatch/anchorwatch/pkg/uci"
)

// ErrNoFix is returned when a source answers but has no position
var ErrNoFix = errors.New("no position fix")

// Source provides position fixes
type Source interface {
	Name() string
	Priority() int
	Available(ctx context.Context) bool
	Collect(ctx context.Context) (*pkg.Geopoint, error)
}

// Executor runs a command and returns its stdout. It runs either on this
// host or on a remote router over SSH.
type Executor interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewLocalExecutor runs commands on this host through the retry runner
func NewLocalExecutor(config retry.Config) Executor {
	return retry.NewRunner(config)
}

// SSHConfig describes a remote router reachable over SSH
type SSHConfig struct {
	Host           string
	Port           int
	User           string
	KeyPath        string
	KnownHostsPath string
	Timeout        time.Duration
}

// SSHExecutor runs commands on a remote router. The connection is opened
// lazily and re-established after a failure.
type SSHExecutor struct {
	addr   string
	config *ssh.ClientConfig
	logger *logx.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHExecutor loads the private key and prepares the client configuration
func NewSSHExecutor(cfg SSHConfig, logger *logx.Logger) (*SSHExecutor, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
	} else {
		logger.Warn("SSH host key verification disabled", "host", cfg.Host)
	}

	return &SSHExecutor{
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		logger: logger,
		config: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.Timeout,
		},
	}, nil
}

func (e *SSHExecutor) connect() (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}
	client, err := ssh.Dial("tcp", e.addr, e.config)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", e.addr, err)
	}
	e.logger.Debug("SSH connection established", "addr", e.addr)
	e.client = client
	return client, nil
}

func (e *SSHExecutor) drop(client *ssh.Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == client {
		e.client.Close()
		e.client = nil
	}
}

// Output runs the command in a new session on the remote host
func (e *SSHExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	client, err := e.connect()
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		e.drop(client)
		return nil, fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.Output(shellJoin(name, args))
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			var exitErr *ssh.ExitError
			if !errors.As(r.err, &exitErr) {
				e.drop(client)
			}
			return nil, fmt.Errorf("%s: %w", name, r.err)
		}
		return r.out, nil
	}
}

// Close closes the SSH connection if open
func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

func closeExecutor(exec Executor) error {
	if c, ok := exec.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// shellJoin quotes each word for a POSIX shell
func shellJoin(name string, args []string) string {
	words := make([]string, 0, len(args)+1)
	words = append(words, name)
	for _, a := range args {
		words = append(words, "'"+strings.ReplaceAll(a, "'", `'\''`)+"'")
	}
	return strings.Join(words, " ")
}

// SourcesFromUCI builds the enabled sources of the configuration in priority order
func SourcesFromUCI(cfg *uci.Config, logger *logx.Logger) ([]Source, error) {
	local := NewLocalExecutor(retry.DefaultConfig())
	var sources []Source

	for _, name := range cfg.EnabledSources() {
		sc := cfg.Sources[name]
		timeout := time.Duration(sc.TimeoutS) * time.Second

		exec := local
		if sc.SSHHost != "" {
			remote, err := NewSSHExecutor(SSHConfig{
				Host:    sc.SSHHost,
				Port:    sc.SSHPort,
				User:    sc.SSHUser,
				KeyPath: sc.SSHKeyPath,
				Timeout: timeout,
			}, logger)
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", name, err)
			}
			exec = remote
		}

		switch name {
		case pkg.SourceRutOS:
			sources = append(sources, NewRutOSSource(exec, sc.Priority, logger))
		case pkg.SourceStarlink:
			host := sc.Host
			if host == "" {
				host = uci.DefaultStarlinkHost
			}
			sources = append(sources, NewStarlinkSource(host, NewReflectionCaller(host, timeout), sc.Priority, logger))
		case pkg.SourceCellular:
			if sc.APIKey == "" {
				logger.Warn("Cellular source enabled without a Google API key, skipping")
				continue
			}
			geo, err := NewGoogleGeolocator(sc.APIKey)
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", name, err)
			}
			sources = append(sources, NewCellularSource(exec, geo, sc.Priority, logger))
		default:
			logger.Warn("Unknown GPS source in configuration", "source", name)
		}
	}
	return sources, nil
}
