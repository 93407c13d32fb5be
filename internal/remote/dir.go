package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/datallboy/serenity/internal/integrity"
)

// DirStore serves objects from a local mirror laid out as <root>/<bucket>/<name>.
// It is used for offline development and for staging a bucket before upload.
type DirStore struct {
	Root string
}

func NewDirStore(root string) (*DirStore, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("mirror root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("mirror root %s is not a directory", root)
	}
	return &DirStore{Root: root}, nil
}

func (s *DirStore) path(key Key) string {
	return filepath.Join(s.Root, key.Bucket, filepath.FromSlash(key.Name))
}

func (s *DirStore) Attrs(ctx context.Context, key Key) (ObjectAttrs, error) {
	if err := ctx.Err(); err != nil {
		return ObjectAttrs{}, err
	}

	p := s.path(key)
	info, err := os.Stat(p)
	if err != nil {
		return ObjectAttrs{}, wrapDirError(key, err)
	}

	sum, err := integrity.Checksum(p)
	if err != nil {
		return ObjectAttrs{}, wrapDirError(key, err)
	}

	return ObjectAttrs{Key: key, Size: info.Size(), MD5: sum}, nil
}

func (s *DirStore) NewRangeReader(ctx context.Context, key Key, offset int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path(key))
	if err != nil {
		return nil, wrapDirError(key, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if offset < 0 || (offset > 0 && offset >= info.Size()) {
		f.Close()
		return nil, &StatusError{Code: http.StatusRequestedRangeNotSatisfiable, Key: key}
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (s *DirStore) Close() error { return nil }

func wrapDirError(key Key, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &StatusError{Code: http.StatusNotFound, Key: key, Err: err}
	}
	if errors.Is(err, fs.ErrPermission) {
		return &StatusError{Code: http.StatusForbidden, Key: key, Err: err}
	}
	return err
}
