package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"crawlfleet/pkg/config"
	"crawlfleet/pkg/interfaces"

	"github.com/jpillora/backoff"
	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type staticKeys map[string][]byte

func (k staticKeys) Resolve(ctx context.Context, ref string) ([]byte, error) {
	key, ok := k[ref]
	if !ok {
		return nil, errors.New("no such credential")
	}
	return key, nil
}

type fakeSession struct {
	commands []string
	runErr   error
	closed   bool
}

func (s *fakeSession) Run(ctx context.Context, command string) error {
	s.commands = append(s.commands, command)
	return s.runErr
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func testKey(t *testing.T) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "worker")
	require.NoError(t, err)
	return pem.EncodeToMemory(block)
}

func newTestLauncher(t *testing.T, dial DialFunc) *Launcher {
	t.Helper()
	l, err := NewLauncher(config.RemoteConfig{
		User:           "ubuntu",
		Port:           22,
		SessionName:    "crawler",
		ConnectTimeout: 1,
		DialAttempts:   3,
	}, staticKeys{"worker.pem": testKey(t)})
	require.NoError(t, err)
	l.dial = dial
	l.backoff = backoff.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond}
	return l
}

func TestLauncher_Launch(t *testing.T) {
	session := &fakeSession{}
	var dialedAddr, dialedUser string
	l := newTestLauncher(t, func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (Session, error) {
		dialedAddr, dialedUser = addr, cfg.User
		return session, nil
	})

	err := l.Launch(context.Background(), "54.1.2.3", "worker.pem", "python3 crawler_node.py")
	require.NoError(t, err)

	assert.Equal(t, "54.1.2.3:22", dialedAddr)
	assert.Equal(t, "ubuntu", dialedUser)
	require.Len(t, session.commands, 1)
	assert.Equal(t, TmuxScript("crawler", "python3 crawler_node.py"), session.commands[0])
	assert.True(t, session.closed)
}

func TestLauncher_RetriesDial(t *testing.T) {
	calls := 0
	l := newTestLauncher(t, func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (Session, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection refused")
		}
		return &fakeSession{}, nil
	})

	require.NoError(t, l.Launch(context.Background(), "54.1.2.3", "worker.pem", "python3 crawler_node.py"))
	assert.Equal(t, 3, calls)
}

func TestLauncher_Failures(t *testing.T) {
	refused := func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (Session, error) {
		return nil, errors.New("connection refused")
	}
	ok := func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (Session, error) {
		return &fakeSession{}, nil
	}
	exitErr := func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (Session, error) {
		return &fakeSession{runErr: errors.New("tmux: command not found")}, nil
	}

	tests := []struct {
		name       string
		dial       DialFunc
		credential string
		keys       staticKeys
	}{
		{name: "dial exhausted", dial: refused, credential: "worker.pem"},
		{name: "unknown credential", dial: ok, credential: "other.pem"},
		{name: "malformed key", dial: ok, credential: "bad.pem", keys: staticKeys{"bad.pem": []byte("not a key")}},
		{name: "remote command fails", dial: exitErr, credential: "worker.pem"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLauncher(t, tt.dial)
			if tt.keys != nil {
				l.keys = tt.keys
			}

			err := l.Launch(context.Background(), "54.1.2.3", tt.credential, "python3 crawler_node.py")
			require.Error(t, err)
			assert.ErrorIs(t, err, interfaces.ErrLaunchFailed)
		})
	}
}

func TestLauncher_DialHonoursCancellation(t *testing.T) {
	l := newTestLauncher(t, func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (Session, error) {
		return nil, errors.New("connection refused")
	})
	l.backoff = backoff.Backoff{Min: time.Hour, Max: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Launch(ctx, "54.1.2.3", "worker.pem", "python3 crawler_node.py")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// silentListener accepts TCP connections and never speaks SSH
func silentListener(t *testing.T) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var conns []net.Conn
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns = append(conns, conn)
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		<-done
		for _, c := range conns {
			c.Close()
		}
	})

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func launchAsync(l *Launcher, ctx context.Context, host string) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.Launch(ctx, host, "worker.pem", "python3 crawler_node.py")
	}()
	return errCh
}

func TestLauncher_HandshakeTimesOut(t *testing.T) {
	host, port := silentListener(t)
	l := newTestLauncher(t, dialTCP)
	l.cfg.Port = port
	l.cfg.DialAttempts = 1

	select {
	case err := <-launchAsync(l, context.Background(), host):
		require.Error(t, err)
		assert.ErrorIs(t, err, interfaces.ErrLaunchFailed)
	case <-time.After(5 * time.Second):
		t.Fatal("launch blocked past the connect timeout")
	}
}

func TestLauncher_HandshakeHonoursCancellation(t *testing.T) {
	host, port := silentListener(t)
	l := newTestLauncher(t, dialTCP)
	l.cfg.Port = port
	l.cfg.DialAttempts = 1
	l.cfg.ConnectTimeout = 60

	ctx, cancel := context.WithCancel(context.Background())
	errCh := launchAsync(l, ctx, host)
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("launch ignored cancellation during the handshake")
	}
}

func TestNewLauncher_MissingKnownHosts(t *testing.T) {
	_, err := NewLauncher(config.RemoteConfig{KnownHosts: filepath.Join(t.TempDir(), "known_hosts")}, staticKeys{})
	assert.Error(t, err)
}

func TestTmuxScript(t *testing.T) {
	script := TmuxScript("crawler", "python3 crawler_node.py --seed 'a b'")

	assert.Contains(t, script, "tmux kill-session -t crawler 2>/dev/null; ")

	start := script[len("tmux kill-session -t crawler 2>/dev/null; "):]
	args, err := shellquote.Split(start)
	require.NoError(t, err)
	assert.Equal(t, []string{"tmux", "new-session", "-d", "-s", "crawler", "python3 crawler_node.py --seed 'a b'"}, args)
}
