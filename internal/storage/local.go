package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// LocalStore writes images to a directory on local disk. References have the
// form "<refPrefix>/<name>" so they double as URL paths when the directory is
// served statically.
type LocalStore struct {
	dir       string
	refPrefix string
	maxBytes  int64
	log       *zap.Logger
}

func NewLocalStore(dir string, maxBytes int64, log *zap.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &LocalStore{
		dir:       dir,
		refPrefix: "/uploads",
		maxBytes:  maxBytes,
		log:       log,
	}, nil
}

func (l *LocalStore) Store(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	if err := checkContentType(contentType); err != nil {
		return "", err
	}

	name := objectName(filename)
	dst := filepath.Join(l.dir, name)

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating image file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(r, l.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > l.maxBytes {
		err = ErrFileTooLarge
	}
	if err != nil {
		_ = os.Remove(dst)
		return "", err
	}

	ref := path.Join(l.refPrefix, name)
	l.log.Debug("image stored locally", zap.String("ref", ref), zap.Int64("bytes", n))
	return ref, nil
}

func (l *LocalStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	p, err := l.diskPath(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, ErrImageNotFound
	}
	return f, err
}

func (l *LocalStore) Delete(ctx context.Context, ref string) error {
	p, err := l.diskPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); os.IsNotExist(err) {
		return ErrImageNotFound
	} else if err != nil {
		return err
	}
	return nil
}

// diskPath maps a reference back to a file under the upload directory,
// rejecting anything that would escape it.
func (l *LocalStore) diskPath(ref string) (string, error) {
	name := strings.TrimPrefix(ref, l.refPrefix+"/")
	if name == "" || name != filepath.Base(name) {
		return "", ErrImageNotFound
	}
	return filepath.Join(l.dir, name), nil
}
