package sshpool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ehrlich-b/termgate/internal/gatewayerr"
)

type execResult struct {
	out string
	err error
}

// ExecWithTimeout opens a channel on the leased session, runs cmd, reads its
// standard output to completion — matching spec.md §4.2 and the reference
// pool's stdout-only read, not a combined stdout+stderr capture — and
// classifies the outcome: a non-zero exit becomes a
// *gatewayerr.NonZeroExitError, and the whole operation is bounded by
// timeout. On timeout the lease is still the caller's to Release, but the
// underlying entry is marked invalid so it is evicted rather than reused —
// spec.md §9's "remote session validity after timeout" policy.
func (l *Lease) ExecWithTimeout(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan execResult, 1)
	go func() {
		resultCh <- l.exec(cmd)
	}()

	select {
	case <-ctx.Done():
		l.pool.markInvalid(l.entry)
		return "", gatewayerr.ErrRemoteTimeout
	case r := <-resultCh:
		return r.out, r.err
	}
}

func (l *Lease) exec(cmd string) execResult {
	session, err := l.entry.client.NewSession()
	if err != nil {
		return execResult{"", fmt.Errorf("%w: new session: %v", gatewayerr.ErrRemoteTransport, err)}
	}
	defer session.Close()

	out, err := session.Output(cmd)
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return execResult{string(out), &gatewayerr.NonZeroExitError{Code: exitErr.ExitStatus()}}
		}
		return execResult{"", fmt.Errorf("%w: %v", gatewayerr.ErrRemoteTransport, err)}
	}
	return execResult{string(out), nil}
}
