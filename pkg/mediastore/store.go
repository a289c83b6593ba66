// Package mediastore uploads entity photos to the public media host over FTP.
package mediastore

import (
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Store persists media objects and returns their public URL.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error)
}

// FTPConfig configures an FTPStore.
type FTPConfig struct {
	Addr      string // host[:port], default port 21
	User      string
	Password  string
	BaseDir   string // remote root, e.g. /public_html/media
	PublicURL string // URL prefix that serves BaseDir
	Timeout   time.Duration
}

// serverConn is the subset of *ftp.ServerConn used for uploads.
type serverConn interface {
	Login(user, password string) error
	MakeDir(path string) error
	Stor(path string, r io.Reader) error
	Quit() error
}

// FTPStore uploads over a fresh FTP connection per object.
type FTPStore struct {
	cfg  FTPConfig
	dial func(ctx context.Context) (serverConn, error)
}

// NewFTPStore creates an FTPStore. Addr and PublicURL are required.
func NewFTPStore(cfg FTPConfig) (*FTPStore, error) {
	if cfg.Addr == "" {
		return nil, eris.New("mediastore: ftp addr is required")
	}
	if cfg.PublicURL == "" {
		return nil, eris.New("mediastore: public url is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		cfg.Addr = net.JoinHostPort(cfg.Addr, "21")
	}
	if cfg.User == "" {
		cfg.User = "anonymous"
		cfg.Password = "anonymous@"
	}

	s := &FTPStore{cfg: cfg}
	s.dial = func(ctx context.Context) (serverConn, error) {
		return ftp.Dial(cfg.Addr, ftp.DialWithTimeout(cfg.Timeout), ftp.DialWithContext(ctx))
	}
	return s, nil
}

// Put uploads r to BaseDir/key, creating intermediate directories.
func (s *FTPStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if key == "" || key == "." {
		return "", eris.New("mediastore: empty key")
	}
	remote := path.Join("/", s.cfg.BaseDir, key)

	zap.L().Debug("mediastore: uploading", zap.String("addr", s.cfg.Addr), zap.String("path", remote))

	conn, err := s.dial(ctx)
	if err != nil {
		return "", eris.Wrap(err, "mediastore: ftp dial")
	}
	defer conn.Quit() //nolint:errcheck

	if err := conn.Login(s.cfg.User, s.cfg.Password); err != nil {
		return "", eris.Wrap(err, "mediastore: ftp login")
	}

	// MakeDir fails on existing directories; only the final Stor decides.
	dir := path.Dir(remote)
	for _, d := range parents(dir) {
		_ = conn.MakeDir(d)
	}

	if err := conn.Stor(remote, r); err != nil {
		return "", eris.Wrapf(err, "mediastore: ftp store %s", remote)
	}

	return strings.TrimRight(s.cfg.PublicURL, "/") + "/" + key, nil
}

// parents returns every ancestor of dir from the root down, dir included.
func parents(dir string) []string {
	var out []string
	cur := ""
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		cur += "/" + part
		out = append(out, cur)
	}
	return out
}

// PhotoKey returns the storage key for the idx-th photo of an entity.
func PhotoKey(entityID string, idx int) string {
	return fmt.Sprintf("entities/%s/photo-%02d.jpg", entityID, idx)
}
