package queryconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultSSHPort is the SSH ServerQuery port.
const DefaultSSHPort = "10022"

// SSHDialer runs the query protocol over an SSH shell channel, as offered by
// ServerQuery on port 10022.
type SSHDialer struct {
	User     string
	Password string

	// KeyPath optionally adds public key authentication.
	KeyPath    string
	Passphrase []byte

	// KnownHostsPath defaults to ~/.ssh/known_hosts.
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
}

// DefaultPort returns DefaultSSHPort.
func (d *SSHDialer) DefaultPort() string {
	return DefaultSSHPort
}

func (d *SSHDialer) Dial(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	config, err := d.clientConfig()
	if err != nil {
		return nil, err
	}

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	client := ssh.NewClient(clientConn, chans, reqs)

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, err
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		client.Close()
		return nil, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		client.Close()
		return nil, err
	}
	if err := sess.Shell(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ssh shell: %w", err)
	}

	return &sshStream{Reader: stdout, stdin: stdin, session: sess, client: client}, nil
}

func (d *SSHDialer) clientConfig() (*ssh.ClientConfig, error) {
	if d.User == "" {
		return nil, errors.New("ssh user is required")
	}

	var auth []ssh.AuthMethod
	if d.Password != "" {
		auth = append(auth, ssh.Password(d.Password))
	}
	if d.KeyPath != "" {
		signer, err := d.signer()
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh password or key path is required")
	}

	var hostKeyCallback ssh.HostKeyCallback
	if d.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := d.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            d.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
	}, nil
}

func (d *SSHDialer) signer() (ssh.Signer, error) {
	privateKey, err := os.ReadFile(d.KeyPath)
	if err != nil {
		return nil, err
	}
	if len(d.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, d.Passphrase)
	}
	return ssh.ParsePrivateKey(privateKey)
}

func (d *SSHDialer) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(d.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}

// sshStream joins the shell's pipes into one stream.
type sshStream struct {
	io.Reader
	stdin   io.WriteCloser
	session *ssh.Session
	client  *ssh.Client
}

func (s *sshStream) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *sshStream) Close() error {
	s.stdin.Close()
	s.session.Close()
	return s.client.Close()
}
