package store

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"golang.org/x/crypto/ssh"
)

// TunnelConfig describes how to reach a switch whose Redis only listens on
// loopback.
type TunnelConfig struct {
	Host     string // SSH host, port 22 unless Port is set
	Port     int
	User     string
	Password string
	KeyFile  string // private key, tried before the password
	Remote   string // Redis address as seen from the SSH host; default 127.0.0.1:6379
}

// SSHTunnel forwards a local TCP port to the switch's Redis through an SSH
// connection.
type SSHTunnel struct {
	localAddr  string
	remoteAddr string
	sshClient  *ssh.Client
	listener   net.Listener
	done       chan struct{}
	wg         sync.WaitGroup
}

// NewSSHTunnel dials SSH and opens a local listener on a random port.
// Connections to the local port are forwarded to cfg.Remote on the SSH host.
func NewSSHTunnel(cfg TunnelConfig) (*SSHTunnel, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		pem, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading SSH key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parsing SSH key %s: %w", cfg.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}

	config := &ssh.ClientConfig{
		User: cfg.User,
		Auth: auth,
		// Lab switches are reprovisioned often; host keys are not pinned.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	remote := cfg.Remote
	if remote == "" {
		remote = "127.0.0.1:6379"
	}

	sshClient, err := ssh.Dial("tcp", net.JoinHostPort(cfg.Host, fmt.Sprint(port)), config)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", cfg.Host, err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("local listen: %w", err)
	}

	t := &SSHTunnel{
		localAddr:  listener.Addr().String(),
		remoteAddr: remote,
		sshClient:  sshClient,
		listener:   listener,
		done:       make(chan struct{}),
	}

	t.wg.Add(1)
	go t.acceptLoop()

	return t, nil
}

// LocalAddr returns the local address (e.g. "127.0.0.1:54321") that forwards
// to Redis inside the SSH host.
func (t *SSHTunnel) LocalAddr() string {
	return t.localAddr
}

// Close stops the listener, closes the SSH connection, and waits for
// all forwarding goroutines to finish.
func (t *SSHTunnel) Close() error {
	close(t.done)
	t.listener.Close()
	t.wg.Wait()
	return t.sshClient.Close()
}

func (t *SSHTunnel) acceptLoop() {
	defer t.wg.Done()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				continue
			}
		}
		t.wg.Add(1)
		go t.forward(local)
	}
}

func (t *SSHTunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	remote, err := t.sshClient.Dial("tcp", t.remoteAddr)
	if err != nil {
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
}

// TunneledRedis is a Redis store reached through an SSH tunnel. Closing it
// closes the tunnel too.
type TunneledRedis struct {
	*Redis
	tunnel *SSHTunnel
}

// DialRedis opens a Redis store, through an SSH tunnel when cfg is non-nil.
func DialRedis(addr, password string, cfg *TunnelConfig) (Store, error) {
	if cfg == nil {
		return NewRedis(addr, password), nil
	}
	if cfg.Remote == "" {
		cfg.Remote = addr
	}
	t, err := NewSSHTunnel(*cfg)
	if err != nil {
		return nil, err
	}
	return &TunneledRedis{Redis: NewRedis(t.LocalAddr(), password), tunnel: t}, nil
}

// Close closes the Redis connections and the tunnel.
func (tr *TunneledRedis) Close() error {
	err := tr.Redis.Close()
	if terr := tr.tunnel.Close(); err == nil {
		err = terr
	}
	return err
}
