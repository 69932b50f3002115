package sshpool

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ehrlich-b/termgate/internal/gatewayerr"
)

// sshClient and sshSession narrow golang.org/x/crypto/ssh's *Client/*Session
// down to what the pool needs, so tests can substitute fakes that never
// touch the network. *ssh.Session already satisfies sshSession directly.
type sshClient interface {
	NewSession() (sshSession, error)
	Close() error
}

type sshSession interface {
	Output(cmd string) ([]byte, error)
	Close() error
}

// realClient adapts *ssh.Client to sshClient (NewSession's concrete return
// type needs an adapter to satisfy the interface's return type).
type realClient struct {
	*ssh.Client
}

func (c *realClient) NewSession() (sshSession, error) {
	return c.Client.NewSession()
}

// realDial opens a TCP connection bounded by timeout, completes the SSH
// handshake, and authenticates with the private key at keyPath using the
// host key's user — grounded on rebe-core/src/ssh/pool.rs's
// create_connection (TCP connect with timeout, ssh2 handshake,
// userauth_pubkey_file), reexpressed against golang.org/x/crypto/ssh.
//
// Host key verification is deliberately not performed: spec.md scopes
// channel/endpoint security out of this subsystem (it names channel
// encryption as an explicit Non-goal), and the reference implementation
// performs no host key checking either.
func realDial(ctx context.Context, key HostKey, keyPath string, timeout time.Duration) (sshClient, error) {
	addr := net.JoinHostPort(key.Host, strconv.Itoa(key.Port))

	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read key %s: %v", gatewayerr.ErrConfig, keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("%w: parse key %s: %v", gatewayerr.ErrConfig, keyPath, err)
	}

	clientConfig := &ssh.ClientConfig{
		User:            key.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", gatewayerr.ErrRemoteTransport, addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake/auth %s: %v", gatewayerr.ErrRemoteTransport, addr, err)
	}

	return &realClient{ssh.NewClient(sshConn, chans, reqs)}, nil
}
