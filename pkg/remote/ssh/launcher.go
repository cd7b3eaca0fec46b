package ssh

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"crawlfleet/pkg/config"
	"crawlfleet/pkg/interfaces"
	"crawlfleet/pkg/logger"

	"github.com/jpillora/backoff"
	"github.com/kballard/go-shellquote"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// KeySource resolves a credential reference into private key bytes
type KeySource interface {
	Resolve(ctx context.Context, ref string) ([]byte, error)
}

// commandTimeout bounds the remote tmux invocation, which returns as soon as tmux detaches
const commandTimeout = 30 * time.Second

// Session is one established remote connection able to run a command
type Session interface {
	Run(ctx context.Context, command string) error
	Close() error
}

// DialFunc opens a connection to addr
type DialFunc func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (Session, error)

// Launcher SSH implementation of interfaces.RemoteLauncher.
// The worker program is started inside a detached tmux session so it keeps
// running after the connection closes and an operator can attach to it.
type Launcher struct {
	cfg      config.RemoteConfig
	keys     KeySource
	dial     DialFunc
	hostKeys ssh.HostKeyCallback
	backoff  backoff.Backoff
}

var _ interfaces.RemoteLauncher = (*Launcher)(nil)

// NewLauncher creates an SSH launcher
func NewLauncher(cfg config.RemoteConfig, keys KeySource) (*Launcher, error) {
	hostKeys := ssh.InsecureIgnoreHostKey() //nolint:gosec // fresh instances have unknown host keys
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", cfg.KnownHosts, err)
		}
		hostKeys = cb
	}

	return &Launcher{
		cfg:      cfg,
		keys:     keys,
		dial:     dialTCP,
		hostKeys: hostKeys,
		backoff: backoff.Backoff{
			Min:    time.Second,
			Max:    15 * time.Second,
			Factor: 2,
			Jitter: true,
		},
	}, nil
}

// Launch starts command on the node at address in a detached tmux session
func (l *Launcher) Launch(ctx context.Context, address, credential, command string) error {
	key, err := l.keys.Resolve(ctx, credential)
	if err != nil {
		return fmt.Errorf("resolve credential for %s: %w: %w", address, interfaces.ErrLaunchFailed, err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return fmt.Errorf("parse private key for %s: %w: %w", address, interfaces.ErrLaunchFailed, err)
	}

	clientCfg := &ssh.ClientConfig{
		User:            l.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: l.hostKeys,
		Timeout:         l.cfg.ConnectTimeoutDuration(),
	}
	addr := net.JoinHostPort(address, strconv.Itoa(l.cfg.Port))

	session, err := l.connect(ctx, addr, clientCfg)
	if err != nil {
		return fmt.Errorf("connect to %s: %w: %w", addr, interfaces.ErrLaunchFailed, err)
	}
	defer session.Close()

	runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	script := TmuxScript(l.cfg.SessionName, command)
	if err := session.Run(runCtx, script); err != nil {
		return fmt.Errorf("run on %s: %w: %w", addr, interfaces.ErrLaunchFailed, err)
	}

	logger.InfoCtx(ctx, "launched %q on %s in tmux session %s", command, addr, l.cfg.SessionName)
	return nil
}

// connect dials with backoff. sshd usually comes up a little after the instance reports running.
func (l *Launcher) connect(ctx context.Context, addr string, cfg *ssh.ClientConfig) (Session, error) {
	attempts := l.cfg.DialAttempts
	if attempts <= 0 {
		attempts = 1
	}

	b := l.backoff
	var lastErr error
	for i := 1; i <= attempts; i++ {
		session, err := l.dial(ctx, addr, cfg)
		if err == nil {
			return session, nil
		}
		lastErr = err
		if i == attempts {
			break
		}

		wait := b.Duration()
		logger.WarnCtx(ctx, "ssh dial %s failed (attempt %d/%d), retrying in %v: %v", addr, i, attempts, wait, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// TmuxScript builds the remote shell line that replaces any previous session
// of the same name and starts command detached.
func TmuxScript(sessionName, command string) string {
	kill := shellquote.Join("tmux", "kill-session", "-t", sessionName)
	start := shellquote.Join("tmux", "new-session", "-d", "-s", sessionName, command)
	return kill + " 2>/dev/null; " + start
}

type clientSession struct {
	client *ssh.Client
}

func (s *clientSession) Run(ctx context.Context, command string) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	// closing the client unblocks a command that never returns
	stop := context.AfterFunc(ctx, func() { s.client.Close() })
	defer stop()

	out, err := sess.CombinedOutput(command)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("remote command interrupted: %w", ctx.Err())
	}
	return fmt.Errorf("%w: %s", err, out)
}

func (s *clientSession) Close() error {
	return s.client.Close()
}

func dialTCP(ctx context.Context, addr string, cfg *ssh.ClientConfig) (Session, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// the handshake has no deadline of its own
	if cfg.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(cfg.Timeout)); err != nil {
			conn.Close()
			return nil, err
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if !stop() {
		// ctx ended mid-handshake and the connection is already closed
		if err == nil {
			c.Close()
		}
		return nil, ctx.Err()
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		c.Close()
		return nil, err
	}
	return &clientSession{client: ssh.NewClient(c, chans, reqs)}, nil
}
