package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultSSHPort = "22"

// SSHFetcher runs the dump command on the scheduler frontend and copies the
// resulting file back over SFTP.
type SSHFetcher struct {
	Addr       string
	User       string
	KeyPath    string
	KnownHosts string // empty disables host key checking
	Command    string
	RemotePath string
	CachePath  string
	Timeout    time.Duration // dial and handshake
	Location   *time.Location
}

func (f *SSHFetcher) clientConfig() (*ssh.ClientConfig, error) {
	pemBytes, err := os.ReadFile(f.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if f.KnownHosts != "" {
		hostKey, err = knownhosts.New(f.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            f.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKey,
		Timeout:         f.Timeout,
	}, nil
}

func (f *SSHFetcher) address() string {
	if _, _, err := net.SplitHostPort(f.Addr); err == nil {
		return f.Addr
	}
	return net.JoinHostPort(f.Addr, defaultSSHPort)
}

func (f *SSHFetcher) dial(ctx context.Context, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	addr := f.address()
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	if cfg.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func (f *SSHFetcher) Fetch(ctx context.Context, start, end time.Time) error {
	if f.Command == "" || f.RemotePath == "" {
		return errors.New("remote command and remote path are required")
	}
	cfg, err := f.clientConfig()
	if err != nil {
		return err
	}
	unlock, err := lockCache(f.CachePath)
	if err != nil {
		return err
	}
	defer unlock()

	client, err := f.dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	// closing the client unblocks a session or transfer stuck on the network
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	if err := f.run(client, Expand(f.Command, start, end, f.RemotePath, f.Location)); err != nil {
		return wrapCtx(ctx, err)
	}
	if err := f.download(client); err != nil {
		return wrapCtx(ctx, err)
	}
	return nil
}

func (f *SSHFetcher) run(client *ssh.Client, command string) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("creating ssh session: %w", err)
	}
	defer session.Close()

	out := &limitWriter{limit: MaxOutput}
	session.Stdout = out
	session.Stderr = out

	log.Debug().Str("addr", f.Addr).Str("cmd", command).Msg("running remote command")
	if err := session.Run(command); err != nil {
		return commandError("running remote command", err, out)
	}
	return nil
}

func (f *SSHFetcher) download(client *ssh.Client) error {
	sc, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("starting sftp: %w", err)
	}
	defer sc.Close()

	remote, err := sc.Open(f.RemotePath)
	if err != nil {
		return fmt.Errorf("opening remote file: %w", err)
	}
	defer remote.Close()

	return writeAtomic(f.CachePath, remote)
}

func wrapCtx(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return err
}
