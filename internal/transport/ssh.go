package transport

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig names an SSH-exec endpoint (spec.md §3.1 InstrumentConfig
// SSH{host, port, user, secret, timeout}).
type SSHConfig struct {
	Host    string
	Port    int
	User    string
	Secret  string // password; swap in a key-based ssh.AuthMethod if the fleet needs it
	Timeout time.Duration
}

// SSHTransport runs commands over SSH, backing the Console/SSH generic
// command channel driver family (spec.md §4.B). Each command runs in a
// fresh session to completion; there is no persistent shell to frame
// against, so it always uses LineCodec and exposes Execute directly.
type SSHTransport struct {
	baseTransport

	cfg    SSHConfig
	client *ssh.Client

	pending string // command queued by Send, consumed by Recv
}

// NewSSHTransport constructs an SSHTransport.
func NewSSHTransport(cfg SSHConfig) *SSHTransport {
	return &SSHTransport{baseTransport: newBaseTransport(LineCodec), cfg: cfg}
}

func (t *SSHTransport) Open(ctx context.Context) error {
	clientCfg := &ssh.ClientConfig{
		User:            t.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(t.cfg.Secret)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // bench instruments rarely publish known_hosts
		Timeout:         t.cfg.Timeout,
	}

	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)

	type result struct {
		client *ssh.Client
		err    error
	}

	done := make(chan result, 1)

	go func() {
		client, err := ssh.Dial("tcp", addr, clientCfg)
		done <- result{client, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("%w: dial %s: %w", ErrConnectFailed, addr, r.err)
		}

		t.client = r.client

		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrConnectFailed, ctx.Err())
	}
}

func (t *SSHTransport) Close() error {
	if !t.markClosed() || t.client == nil {
		return nil
	}

	return t.client.Close()
}

// Send queues the command carried in frame.Body; Recv runs it and returns
// the response. This split exists only so SSHTransport satisfies Transport
// for pool-level code that treats every transport uniformly — drivers that
// know they're talking to an exec channel should call Execute directly.
func (t *SSHTransport) Send(_ context.Context, frame Frame) error {
	if t.isClosed() {
		return ErrNotOpen
	}

	t.pending = string(frame.Body)

	return nil
}

func (t *SSHTransport) Recv(ctx context.Context, timeout time.Duration) (Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := t.Execute(ctx, t.pending)
	if err != nil {
		return Frame{}, err
	}

	return Frame{Body: []byte(resp)}, nil
}

// Execute runs cmd in a fresh SSH session and returns its combined output,
// with all trailing CR/LF characters trimmed, honoring ctx's deadline.
func (t *SSHTransport) Execute(ctx context.Context, cmd string) (string, error) {
	if t.isClosed() || t.client == nil {
		return "", ErrNotOpen
	}

	session, err := t.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh new session: %w", err)
	}
	defer session.Close()

	var out bytes.Buffer

	session.Stdout = &out
	session.Stderr = &out

	done := make(chan error, 1)

	go func() { done <- session.Run(cmd) }()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("ssh exec %q: %w", cmd, err)
		}

		return strings.TrimRight(out.String(), "\r\n"), nil
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return "", fmt.Errorf("%w: ssh exec %q", ErrTransportTimeout, cmd)
	}
}
