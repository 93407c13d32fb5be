// Package remotetest provides an in-memory remote.Store with fault injection.
package remotetest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/datallboy/serenity/internal/integrity"
	"github.com/datallboy/serenity/internal/remote"
)

// ErrInjected is returned by readers cut short by FailAfter.
var ErrInjected = errors.New("injected stream fault")

type object struct {
	data []byte
	md5  string
}

type MemStore struct {
	mu      sync.Mutex
	objects map[remote.Key]object

	// AttrsErr, when set, is returned by every Attrs call.
	AttrsErr error
	// FailAfter cuts range readers after n bytes when > 0.
	FailAfter int64

	offsets map[remote.Key][]int64
}

func New() *MemStore {
	return &MemStore{
		objects: make(map[remote.Key]object),
		offsets: make(map[remote.Key][]int64),
	}
}

// Put stores data under key with its true checksum.
func (s *MemStore) Put(key remote.Key, data []byte) {
	s.PutWithMD5(key, data, integrity.Sum(data))
}

// PutWithMD5 stores data with an arbitrary published checksum.
func (s *MemStore) PutWithMD5(key remote.Key, data []byte, md5 string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{data: bytes.Clone(data), md5: md5}
}

// Offsets lists the start offsets of every range reader opened for key.
func (s *MemStore) Offsets(key remote.Key) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.offsets[key]...)
}

func (s *MemStore) Attrs(ctx context.Context, key remote.Key) (remote.ObjectAttrs, error) {
	if err := ctx.Err(); err != nil {
		return remote.ObjectAttrs{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.AttrsErr != nil {
		return remote.ObjectAttrs{}, s.AttrsErr
	}
	obj, ok := s.objects[key]
	if !ok {
		return remote.ObjectAttrs{}, &remote.StatusError{Code: http.StatusNotFound, Key: key}
	}
	return remote.ObjectAttrs{Key: key, Size: int64(len(obj.data)), MD5: obj.md5}, nil
}

func (s *MemStore) NewRangeReader(ctx context.Context, key remote.Key, offset int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, &remote.StatusError{Code: http.StatusNotFound, Key: key}
	}
	size := int64(len(obj.data))
	if offset < 0 || (offset > 0 && offset >= size) {
		return nil, &remote.StatusError{Code: http.StatusRequestedRangeNotSatisfiable, Key: key}
	}
	s.offsets[key] = append(s.offsets[key], offset)

	var r io.Reader = bytes.NewReader(obj.data[offset:])
	if s.FailAfter > 0 {
		r = io.MultiReader(io.LimitReader(r, s.FailAfter), errReader{})
	}
	return io.NopCloser(r), nil
}

func (s *MemStore) Close() error { return nil }

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, ErrInjected }
