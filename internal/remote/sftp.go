package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const sftpDialTimeout = 30 * time.Second

// SFTPOptions configures an SFTPStore.
type SFTPOptions struct {
	Host       string
	Port       int
	User       string
	Password   string
	KeyPath    string
	KnownHosts string // empty disables host key checking
	RemotePath string
	Logger     *slog.Logger
}

// SFTPStore writes recordings to a directory on an SFTP server. The
// connection is opened on first use and re-opened after a failure, since
// the radio drops it whenever the host joins the camera network.
type SFTPStore struct {
	opts SFTPOptions
	log  *slog.Logger
	dial func(ctx context.Context) (*sftp.Client, func() error, error)

	mu      sync.Mutex
	client  *sftp.Client
	closeFn func() error
}

// NewSFTPStore validates opts and returns a store that connects lazily.
func NewSFTPStore(opts SFTPOptions) (*SFTPStore, error) {
	if opts.Host == "" || opts.User == "" {
		return nil, errors.New("sftp host and user are required")
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := sshClientConfig(opts, logger)
	if err != nil {
		return nil, err
	}

	s := &SFTPStore{opts: opts, log: logger}
	s.dial = func(ctx context.Context) (*sftp.Client, func() error, error) {
		return dialSFTP(ctx, net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)), cfg)
	}
	return s, nil
}

// newSFTPStoreWithClient wraps an already connected client (for testing).
func newSFTPStoreWithClient(client *sftp.Client, remotePath string) *SFTPStore {
	return &SFTPStore{
		opts:    SFTPOptions{RemotePath: remotePath},
		log:     slog.Default(),
		client:  client,
		closeFn: client.Close,
		dial: func(context.Context) (*sftp.Client, func() error, error) {
			return nil, nil, errors.New("sftp: no dialer")
		},
	}
}

func sshClientConfig(opts SFTPOptions, logger *slog.Logger) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if opts.KeyPath != "" {
		key, err := os.ReadFile(opts.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if opts.Password != "" {
		auth = append(auth, ssh.Password(opts.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("sftp requires a password or a private key")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if opts.KnownHosts != "" {
		cb, err := knownhosts.New(opts.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		hostKeyCallback = cb
	} else {
		logger.Warn("sftp host key checking disabled; set CAMRELAY_SFTP_KNOWN_HOSTS", "host", opts.Host)
	}

	return &ssh.ClientConfig{
		User:            opts.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         sftpDialTimeout,
	}, nil
}

func dialSFTP(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*sftp.Client, func() error, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, nil, fmt.Errorf("failed to start sftp session: %w", err)
	}
	return client, func() error {
		client.Close()
		return sshClient.Close()
	}, nil
}

// connect returns the live client, dialing if needed.
func (s *SFTPStore) connect(ctx context.Context) (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	client, closeFn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	if s.opts.RemotePath != "" {
		if err := client.MkdirAll(s.opts.RemotePath); err != nil {
			closeFn()
			return nil, fmt.Errorf("failed to create remote directory %s: %w", s.opts.RemotePath, err)
		}
	}
	s.client, s.closeFn = client, closeFn
	s.log.Debug("sftp connected", "host", s.opts.Host)
	return client, nil
}

// reset drops a connection that failed so the next upload redials.
func (s *SFTPStore) reset(client *sftp.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != client {
		return
	}
	if s.closeFn != nil {
		_ = s.closeFn()
	}
	s.client, s.closeFn = nil, nil
}

// Upload writes obj as RemotePath/Name unless that file already exists.
// The data goes to a hidden .part file first and is renamed into place.
func (s *SFTPStore) Upload(ctx context.Context, obj Object) (Result, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return Result{}, err
	}

	target := path.Join(s.opts.RemotePath, obj.Name)
	location := fmt.Sprintf("sftp://%s%s", s.opts.Host, target)

	if _, err := client.Stat(target); err == nil {
		return Result{Skipped: true, Location: location}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		s.reset(client)
		return Result{}, fmt.Errorf("failed to stat %s: %w", target, err)
	}

	if err := s.put(ctx, client, obj, target); err != nil {
		if ctx.Err() == nil {
			s.reset(client)
		}
		return Result{}, err
	}
	return Result{Location: location}, nil
}

func (s *SFTPStore) put(ctx context.Context, client *sftp.Client, obj Object, target string) error {
	local, err := os.Open(obj.Path)
	if err != nil {
		return fmt.Errorf("failed to open staged recording: %w", err)
	}
	defer local.Close()

	part := path.Join(path.Dir(target), "."+obj.Name+".part")
	remote, err := client.Create(part)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", part, err)
	}
	if _, err := remote.ReadFrom(readerWithContext(ctx, local)); err != nil {
		remote.Close()
		_ = client.Remove(part)
		return fmt.Errorf("failed to write %s: %w", part, err)
	}
	if err := remote.Close(); err != nil {
		_ = client.Remove(part)
		return fmt.Errorf("failed to close %s: %w", part, err)
	}
	if err := client.Rename(part, target); err != nil {
		_ = client.Remove(part)
		return fmt.Errorf("failed to rename %s: %w", part, err)
	}
	return nil
}

// Close closes the connection, if one is open.
func (s *SFTPStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeFn == nil {
		return nil
	}
	err := s.closeFn()
	s.client, s.closeFn = nil, nil
	return err
}
