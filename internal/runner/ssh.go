package runner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// shells exit with 127 when the command does not exist
const exitCommandNotFound = 127

// only the read-only tools the dashboard polls may run remotely
var allowedCommands = []string{
	"rocm-smi",
	"nvidia-smi",
	"which",
	"lscpu",
	"free",
	"top",
}

type SSHClient struct {
	client  *ssh.Client
	host    SSHHost
	timeout time.Duration
}

// DialSSH connects to host, trying the configured identity file first, then
// the SSH agent, then the default key files. Host keys are verified against
// ~/.ssh/known_hosts.
func DialSSH(host SSHHost, timeout time.Duration) (*SSHClient, error) {
	if host.Hostname == "" {
		host.Hostname = host.Name
	}
	if host.User == "" {
		host.User = validatedUsername()
	}
	if host.Port == "" {
		host.Port = "22"
	}

	authMethods := authMethodsFor(host)
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication methods available")
	}

	hostKeyCallback, err := hostKeyCallback()
	if err != nil {
		return nil, fmt.Errorf("failed to setup host key verification: %w", err)
	}

	config := &ssh.ClientConfig{
		User:            host.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(host.Hostname, host.Port)
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	return &SSHClient{client: client, host: host, timeout: timeout}, nil
}

func (c *SSHClient) Host() SSHHost {
	return c.host
}

// Run executes one allowed command in a new session and returns its standard
// output. It satisfies base.RunCmdFunc.
func (c *SSHClient) Run(ctx context.Context, name string, args ...string) (string, error) {
	if !isAllowedCommand(name) {
		return "", fmt.Errorf("command not in allowed list: %s", name)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	session, err := c.client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	type result struct {
		output []byte
		err    error
	}
	done := make(chan result, 1)
	line := commandLine(name, args)
	go func() {
		output, err := session.Output(line)
		done <- result{output, err}
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return "", ctx.Err()
	case res := <-done:
		text := strings.ToValidUTF8(string(res.output), "�")
		if res.err != nil {
			return text, remoteError(name, res.err)
		}
		return text, nil
	}
}

func (c *SSHClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func remoteError(name string, err error) error {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitStatus() == exitCommandNotFound {
		return fmt.Errorf("%s: %w", name, base.ErrToolMissing)
	}
	return fmt.Errorf("remote %s: %w", name, err)
}

func isAllowedCommand(name string) bool {
	name = strings.TrimSpace(name)
	for _, allowed := range allowedCommands {
		if name == allowed {
			return true
		}
	}
	return false
}

func authMethodsFor(host SSHHost) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if host.IdentityFile != "" {
		if keyAuth, err := publicKeyAuth(host.IdentityFile); err == nil {
			methods = append(methods, keyAuth)
		}
	}

	if agentAuth, err := sshAgentAuth(); err == nil {
		methods = append(methods, agentAuth)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return methods
	}
	for _, name := range []string{"id_rsa", "id_ed25519", "id_ecdsa"} {
		keyPath := filepath.Join(home, ".ssh", name)
		if keyPath == host.IdentityFile {
			continue
		}
		if keyAuth, err := publicKeyAuth(keyPath); err == nil {
			methods = append(methods, keyAuth)
		}
	}
	return methods
}

func hostKeyCallback() (ssh.HostKeyCallback, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("unable to get user home directory: %w", err)
	}

	knownHostsPath := filepath.Join(home, ".ssh", "known_hosts")
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(knownHostsPath), 0700); err != nil {
			return nil, fmt.Errorf("unable to create .ssh directory: %w", err)
		}
		f, err := os.Create(knownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("unable to create known_hosts file: %w", err)
		}
		f.Close()
	}

	verify, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to load known_hosts: %w", err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := verify(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) {
			if len(keyErr.Want) > 0 {
				return fmt.Errorf("host key verification failed: host key has changed for %s. Remove the old key from %s if you trust this connection", hostname, knownHostsPath)
			}
			return fmt.Errorf("host key verification failed: %s is not in known_hosts. Add the host key to %s or run 'ssh %s' first to accept the host key", hostname, knownHostsPath, hostname)
		}
		return fmt.Errorf("host key verification failed: %w", err)
	}, nil
}

func validatedUsername() string {
	user := os.Getenv("USER")
	if user == "" || len(user) > 32 {
		return ""
	}
	for _, char := range user {
		if !(char >= 'a' && char <= 'z' || char >= 'A' && char <= 'Z' ||
			char >= '0' && char <= '9' || char == '_' || char == '-' || char == '.') {
			return ""
		}
	}
	return user
}

func validatedAuthSock() string {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" || !filepath.IsAbs(socket) {
		return ""
	}
	clean := filepath.Clean(socket)
	if strings.Contains(clean, "..") {
		return ""
	}

	prefixes := []string{"/tmp/", "/var/run/", "/run/"}
	if tmpDir := os.Getenv("TMPDIR"); tmpDir != "" {
		prefixes = append(prefixes, tmpDir)
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(clean, prefix) {
			return socket
		}
	}

	if info, err := os.Stat(socket); err == nil && info.Mode()&os.ModeSocket != 0 {
		return socket
	}
	return ""
}

func publicKeyAuth(keyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	// encrypted keys fail here; the agent is expected to hold those
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, err
	}
	return ssh.PublicKeys(signer), nil
}

func sshAgentAuth() (ssh.AuthMethod, error) {
	socket := validatedAuthSock()
	if socket == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK not set or invalid")
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH agent: %w", err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}
