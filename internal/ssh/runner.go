// Package ssh runs harness commands on a remote test machine.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/escape-velocity-ventures/disk-harness/internal/executor"
)

// Runner implements executor.Executor over SSH.
// It reuses a single SSH connection and serialises sessions on it.
type Runner struct {
	client *ssh.Client
	mu     sync.Mutex
}

// Target represents an SSH target parsed from user@host[:port] format.
type Target struct {
	User string
	Host string
	Port string
}

// ParseTarget parses a string like "user@host" or "user@host:2222".
func ParseTarget(s string) (Target, error) {
	t := Target{Port: "22"}

	parts := strings.SplitN(s, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return t, fmt.Errorf("invalid SSH target %q (expected user@host[:port])", s)
	}

	t.User = parts[0]
	hostPort := parts[1]

	if h, p, err := net.SplitHostPort(hostPort); err == nil {
		t.Host = h
		t.Port = p
	} else {
		t.Host = hostPort
	}

	return t, nil
}

// Addr returns the host:port for dialing.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, t.Port)
}

func (t Target) String() string {
	if t.Port == "22" {
		return t.User + "@" + t.Host
	}
	return fmt.Sprintf("%s@%s:%s", t.User, t.Host, t.Port)
}

// NewRunner establishes an SSH connection and returns a Runner.
// identityFile, when set, is tried before the default key files.
func NewRunner(target Target, identityFile string) (*Runner, error) {
	config, err := buildSSHConfig(target.User, identityFile)
	if err != nil {
		return nil, fmt.Errorf("ssh config: %w", err)
	}

	client, err := ssh.Dial("tcp", target.Addr(), config)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", target.Addr(), err)
	}

	return &Runner{client: client}, nil
}

// Run executes a command on the remote host.
func (r *Runner) Run(ctx context.Context, cmd string) (executor.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.client.NewSession()
	if err != nil {
		return executor.Output{}, fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	// Support context cancellation
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			session.Signal(ssh.SIGTERM)
			session.Close()
		case <-done:
		}
	}()

	err = session.Run(cmd)
	close(done)

	out := executor.Output{
		Stdout: strings.TrimRight(stdout.String(), " \t\r\n"),
		Stderr: strings.TrimRight(stderr.String(), " \t\r\n"),
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitStatus()
			return out, nil
		}
		return out, fmt.Errorf("command %q failed: %w", cmd, err)
	}
	return out, nil
}

// Close closes the SSH connection.
func (r *Runner) Close() error {
	return r.client.Close()
}

// buildSSHConfig creates an SSH client config with key auth.
func buildSSHConfig(user, identityFile string) (*ssh.ClientConfig, error) {
	var signers []ssh.Signer

	// Try SSH agent first
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err == nil {
			agentClient := agent.NewClient(conn)
			agentSigners, err := agentClient.Signers()
			if err == nil {
				signers = append(signers, agentSigners...)
			}
		}
	}

	home, _ := os.UserHomeDir()
	var keyFiles []string
	if identityFile != "" {
		keyFiles = append(keyFiles, identityFile)
	}
	keyFiles = append(keyFiles,
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_rsa"),
		filepath.Join(home, ".ssh", "id_ecdsa"),
	)

	for _, keyFile := range keyFiles {
		data, err := os.ReadFile(keyFile)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}

	if len(signers) == 0 {
		return nil, fmt.Errorf("no SSH keys available (no agent and no key files found)")
	}

	// Test machines are frequently reimaged; fall back to insecure when
	// known_hosts can't be loaded.
	var hostKeyCallback ssh.HostKeyCallback
	knownHostsFile := filepath.Join(home, ".ssh", "known_hosts")
	if cb, err := knownhosts.New(knownHostsFile); err == nil {
		hostKeyCallback = cb
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signers...)},
		HostKeyCallback: hostKeyCallback,
	}, nil
}
