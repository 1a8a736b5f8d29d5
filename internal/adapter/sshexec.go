package adapter

import (
	"context"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"routerctl/internal/domain"
)

// dialSSH opens an SSH connection with password authentication. Router
// host keys are not pinned.
func dialSSH(ctx context.Context, address string, creds domain.Credentials, opts Options) (*ssh.Client, error) {
	host := address
	if h, _, err := net.SplitHostPort(address); err == nil {
		host = h
	}
	addr := net.JoinHostPort(host, strconv.Itoa(opts.SSHPort))

	config := &ssh.ClientConfig{
		User: creds.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(creds.Password),
		},
		//nolint:gosec // Router host keys are unknown ahead of time.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         opts.Timeout,
	}

	dialer := &net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, domain.WrapError(domain.KindUnreachable, err, "cannot reach SSH on %s", addr)
	}

	// The handshake is bounded by opts.Timeout and by ctx.
	if opts.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(opts.Timeout))
	}
	stop := make(chan struct{})
	interrupted := make(chan bool, 1)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
			interrupted <- true
		case <-stop:
			interrupted <- false
		}
	}()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	close(stop)
	if <-interrupted {
		if err == nil {
			sshConn.Close()
		}
		return nil, domain.WrapError(domain.KindUnreachable, ctx.Err(), "SSH handshake with %s interrupted", addr)
	}
	if err != nil {
		conn.Close()
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, domain.WrapError(domain.KindUnreachable, err, "SSH handshake with %s timed out", addr)
		}
		return nil, domain.WrapError(domain.KindAuthenticationFailed, err, "SSH handshake with %s failed", addr)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// runSSH runs cmd and streams its stdout into sink. The session is killed
// when ctx ends before the command does.
func runSSH(ctx context.Context, client *ssh.Client, cmd string, sink func(io.Reader) error) error {
	sess, err := client.NewSession()
	if err != nil {
		return errors.Wrap(err, "cannot open SSH session")
	}
	defer sess.Close()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "cannot attach to command output")
	}
	if err := sess.Start(cmd); err != nil {
		return errors.Wrapf(err, "cannot start %q", cmd)
	}

	done := make(chan error, 1)
	go func() {
		sinkErr := sink(stdout)
		// drain so Wait can return if the sink stopped early
		_, _ = io.Copy(io.Discard, stdout)
		waitErr := sess.Wait()
		if sinkErr != nil {
			done <- sinkErr
			return
		}
		done <- waitErr
	}()

	select {
	case err := <-done:
		if err != nil {
			return domain.WrapError(domain.KindRemote, err, "command %q failed", cmd)
		}
		return nil
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		sess.Close()
		<-done
		return errors.Wrapf(ctx.Err(), "command %q interrupted", cmd)
	}
}
