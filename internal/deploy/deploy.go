// Package deploy pushes the fetched siblings file to remote hosts over SFTP
// with integrity verification.
package deploy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	xssh "golang.org/x/crypto/ssh"
)

// HostPath is one deploy destination, parsed from a "host[:port]:/remote/path"
// spec. The remote path must be absolute so the spec stays unambiguous.
type HostPath struct {
	Addr       string
	RemotePath string
}

// ParseSpec splits a deploy spec into address and absolute remote path.
// Specs without a port get the default SSH port.
func ParseSpec(spec string) (HostPath, error) {
	i := strings.Index(spec, ":/")
	if i <= 0 {
		return HostPath{}, fmt.Errorf("invalid deploy spec %q: want host[:port]:/remote/path", spec)
	}
	addr, remote := spec[:i], spec[i+1:]
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}
	return HostPath{Addr: addr, RemotePath: remote}, nil
}

// Deployer pushes one local file to remote hosts.
type Deployer struct {
	User       string
	KeyPath    string
	KnownHosts string
	Timeout    time.Duration
	Retries    int
}

// Deploy uploads localPath to every target sequentially, verifying the
// remote checksum after each push. The first failure aborts the rest.
func (d *Deployer) Deploy(ctx context.Context, localPath string, targets []HostPath) error {
	sum, err := localChecksum(localPath)
	if err != nil {
		return fmt.Errorf("calculate local checksum: %w", err)
	}
	signer, err := LoadPrivateKeySigner(d.KeyPath)
	if err != nil {
		return fmt.Errorf("load SSH key: %w", err)
	}
	kh, err := LoadKnownHostsCallback(d.KnownHosts)
	if err != nil {
		return fmt.Errorf("load known hosts: %w", err)
	}
	for _, target := range targets {
		if err := d.deployOne(ctx, signer, kh, localPath, sum, target); err != nil {
			return fmt.Errorf("deploy to %s: %w", target.Addr, err)
		}
		log.Info().Str("host", target.Addr).Str("remote", target.RemotePath).Msg("siblings file deployed")
	}
	return nil
}

func (d *Deployer) deployOne(ctx context.Context, signer xssh.Signer, kh xssh.HostKeyCallback, localPath, sum string, target HostPath) error {
	c := &Client{
		Addr:       target.Addr,
		User:       d.User,
		Signer:     signer,
		KnownHosts: kh,
		Timeout:    d.Timeout,
		Retries:    d.Retries,
		Backoff:    500 * time.Millisecond,
	}
	cli, err := c.Dial(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	if err := push(cli, localPath, target.RemotePath); err != nil {
		return err
	}
	if err := verifyRemoteChecksum(cli, target.RemotePath, sum); err != nil {
		// Do not leave a corrupt file on the host.
		removeRemote(cli, target.RemotePath)
		return fmt.Errorf("checksum verification: %w", err)
	}
	return nil
}

func push(cli *xssh.Client, localPath, remotePath string) error {
	sf, err := sftp.NewClient(cli)
	if err != nil {
		return fmt.Errorf("sftp client: %w", err)
	}
	defer sf.Close()
	if err := sf.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("mkdir remote: %w", err)
	}
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local: %w", err)
	}
	defer src.Close()
	dst, err := sf.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}

func verifyRemoteChecksum(cli *xssh.Client, remotePath, expected string) error {
	session, err := cli.NewSession()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer session.Close()

	out, err := session.Output(fmt.Sprintf("sha256sum %s | cut -d' ' -f1", remotePath))
	if err != nil {
		return fmt.Errorf("calculate remote checksum: %w", err)
	}
	got := strings.TrimSpace(string(out))
	if got != expected {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expected, got)
	}
	return nil
}

func removeRemote(cli *xssh.Client, remotePath string) {
	sf, err := sftp.NewClient(cli)
	if err != nil {
		return
	}
	defer sf.Close()
	_ = sf.Remove(remotePath)
}

func localChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
