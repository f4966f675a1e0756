// Package sshcheck verifies that a job's remote endpoint accepts an SSH
// login before any data is moved.
package sshcheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"rsynco/internal/model"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

var defaultKeyNames = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

type Checker struct {
	// KnownHostsPath is consulted for host keys. Hosts missing from it are
	// accepted, mismatching keys are not.
	KnownHostsPath string
	// KeyDir holds the default identities used when a job names no key.
	KeyDir string
	// UseAgent adds keys from $SSH_AUTH_SOCK when a job names no key.
	UseAgent bool
}

func New() *Checker {
	c := &Checker{UseAgent: true}
	if home, err := os.UserHomeDir(); err == nil {
		c.KnownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
		c.KeyDir = filepath.Join(home, ".ssh")
	}

	return c
}

// Check dials the job's host, completes the SSH handshake and public key
// authentication, then disconnects. Errors are *model.RunError values with
// kind UNREACHABLE, TIMEOUT, AUTH_FAILED or CANCELLED.
func (c *Checker) Check(ctx context.Context, job model.Job) error {
	timeout := job.SSHTimeoutDuration()
	addr := net.JoinHostPort(job.Host, strconv.Itoa(job.SSHPort))

	auth, closeAuth, err := c.authMethods(job)
	if err != nil {
		return fail(model.FailureAuth, err.Error(), err)
	}
	defer closeAuth()

	hostKeys, err := c.hostKeyCallback()
	if err != nil {
		return fail(model.FailureFatal, "failed to load known hosts", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return classify(ctx, dialCtx, fmt.Sprintf("cannot reach %s", addr), err)
	}

	defer func(conn net.Conn) {
		_ = conn.Close()
	}(conn)

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(dialCtx, func() {
		_ = conn.Close()
	})
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            job.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	})
	if err != nil {
		if keyErr, ok := errors.AsType[*knownhosts.KeyError](err); ok && len(keyErr.Want) > 0 {
			return fail(model.FailureAuth, fmt.Sprintf("host key mismatch for %s", addr), err)
		}
		if strings.Contains(err.Error(), "unable to authenticate") {
			return fail(model.FailureAuth, fmt.Sprintf("authentication failed for %s@%s", job.User, job.Host), err)
		}

		return classify(ctx, dialCtx, fmt.Sprintf("ssh handshake with %s failed", addr), err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	_ = client.Close()

	return nil
}

func (c *Checker) authMethods(job model.Job) ([]ssh.AuthMethod, func(), error) {
	noop := func() {}

	if job.SSHKeyPath != "" {
		signer, err := loadSigner(job.SSHKeyPath)
		if err != nil {
			return nil, noop, err
		}

		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, noop, nil
	}

	var methods []ssh.AuthMethod
	var signers []ssh.Signer
	for _, name := range defaultKeyNames {
		if c.KeyDir == "" {
			break
		}
		if signer, err := loadSigner(filepath.Join(c.KeyDir, name)); err == nil {
			signers = append(signers, signer)
		}
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	closeAuth := noop
	if sock := os.Getenv("SSH_AUTH_SOCK"); c.UseAgent && sock != "" {
		if agentConn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers))
			closeAuth = func() {
				_ = agentConn.Close()
			}
		}
	}

	if len(methods) == 0 {
		return nil, noop, errors.New("no usable private key found")
	}

	return methods, closeAuth, nil
}

func loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key %s: %w", path, err)
	}

	return signer, nil
}

func (c *Checker) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	known, err := knownhosts.New(c.KnownHostsPath)
	if errors.Is(err, os.ErrNotExist) {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := known(hostname, remote, key)
		if keyErr, ok := errors.AsType[*knownhosts.KeyError](err); ok && len(keyErr.Want) == 0 {
			return nil
		}

		return err
	}, nil
}

func classify(parent, bounded context.Context, detail string, err error) error {
	if parent.Err() != nil {
		return fail(model.FailureCancelled, "interrupted", parent.Err())
	}

	if errors.Is(bounded.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return fail(model.FailureTimeout, detail+": timed out", err)
	}

	return fail(model.FailureUnreachable, detail, err)
}

func isTimeout(err error) bool {
	if netErr, ok := errors.AsType[net.Error](err); ok && netErr.Timeout() {
		return true
	}

	return errors.Is(err, os.ErrDeadlineExceeded) || strings.Contains(err.Error(), "i/o timeout")
}

func fail(kind model.FailureKind, detail string, err error) error {
	return model.NewRunError(model.StagePrecheck, kind, detail, err)
}
