package remote

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/datallboy/serenity/internal/infra/config"
)

// GCSStore reads sound objects from Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
}

func NewGCSStore(ctx context.Context, cfg config.RemoteConfig) (*GCSStore, error) {
	opts := []option.ClientOption{
		option.WithScopes(storage.ScopeReadOnly),
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.ProjectID != "" {
		opts = append(opts, option.WithQuotaProject(cfg.ProjectID))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

func (s *GCSStore) Attrs(ctx context.Context, key Key) (ObjectAttrs, error) {
	attrs, err := s.client.Bucket(key.Bucket).Object(key.Name).Attrs(ctx)
	if err != nil {
		return ObjectAttrs{}, wrapGCSError(key, err)
	}

	return ObjectAttrs{
		Key:  key,
		Size: attrs.Size,
		MD5:  base64.StdEncoding.EncodeToString(attrs.MD5),
	}, nil
}

func (s *GCSStore) NewRangeReader(ctx context.Context, key Key, offset int64) (io.ReadCloser, error) {
	// length -1 reads to the end of the object
	r, err := s.client.Bucket(key.Bucket).Object(key.Name).NewRangeReader(ctx, offset, -1)
	if err != nil {
		return nil, wrapGCSError(key, err)
	}
	return r, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

// wrapGCSError normalizes client errors into StatusError so retry
// classification never depends on the SDK.
func wrapGCSError(key Key, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return &StatusError{Code: http.StatusNotFound, Key: key, Err: err}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &StatusError{Code: apiErr.Code, Key: key, Err: err}
	}

	return err
}
