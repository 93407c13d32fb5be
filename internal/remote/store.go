package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/datallboy/serenity/internal/infra/config"
)

// ObjectAttrs is the metadata the downloader needs before transferring.
// MD5 is base64 encoded, exactly as published by the store.
type ObjectAttrs struct {
	Key  Key
	Size int64
	MD5  string
}

// Store is the contract for a remote object store backend.
type Store interface {
	Attrs(ctx context.Context, key Key) (ObjectAttrs, error)
	// NewRangeReader streams the object from offset to its end.
	NewRangeReader(ctx context.Context, key Key, offset int64) (io.ReadCloser, error)
	Close() error
}

// StatusError carries the status code reported by the remote service.
type StatusError struct {
	Code int
	Key  Key
	Err  error
}

func (e *StatusError) Error() string {
	msg := http.StatusText(e.Code)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("remote %s: status %d: %s", e.Key, e.Code, msg)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Open builds the backend selected by remote.backend.
func Open(ctx context.Context, cfg config.RemoteConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendDir:
		return NewDirStore(cfg.DirRoot)
	case config.BackendGCS:
		return NewGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.Backend)
	}
}
