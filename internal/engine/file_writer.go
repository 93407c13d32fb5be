package engine

import (
	"fmt"
	"os"
	"sync"
)

type fileHandle struct {
	mu   sync.Mutex
	file *os.File
}

// FileWriter owns the open handles of in-flight downloads, keyed by path.
// Concurrent downloads write to different paths and never share a handle.
type FileWriter struct {
	mu      sync.RWMutex
	handles map[string]*fileHandle
}

func NewFileWriter() *FileWriter {
	return &FileWriter{
		handles: make(map[string]*fileHandle),
	}
}

// Open opens (or creates) path for read+write and returns its current size.
func (fw *FileWriter) Open(path string) (int64, error) {
	h, err := fw.getOrCreateFile(path)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	info, err := h.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Size(), nil
}

// WriteAt finds the handle and performs a thread-safe write
func (fw *FileWriter) WriteAt(path string, data []byte, offset int64) error {
	h, err := fw.getOrCreateFile(path)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err = h.file.WriteAt(data, offset)
	return err
}

// Truncate discards everything past size.
func (fw *FileWriter) Truncate(path string, size int64) error {
	h, err := fw.getOrCreateFile(path)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.file.Truncate(size)
}

func (fw *FileWriter) getOrCreateFile(path string) (*fileHandle, error) {
	// Read-Lock: Check if handle exists
	fw.mu.RLock()
	h, ok := fw.handles[path]
	fw.mu.RUnlock()
	if ok {
		return h, nil
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	h, ok = fw.handles[path]
	if ok {
		return h, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("could not open sound file: %w", err)
	}

	h = &fileHandle{file: f}
	fw.handles[path] = h

	return h, nil
}

func (fw *FileWriter) CloseAll() {
	fw.mu.RLock()
	// We iterate over keys because CloseFile will be modifying the map
	paths := make([]string, 0, len(fw.handles))
	for path := range fw.handles {
		paths = append(paths, path)
	}
	fw.mu.RUnlock()

	for _, path := range paths {
		_ = fw.CloseFile(path) // Ignore error on global cleanup
	}
}

// CloseFile flushes and closes path. Closing an unknown path is a no-op.
func (fw *FileWriter) CloseFile(path string) error {
	fw.mu.Lock()
	h, ok := fw.handles[path]
	if !ok {
		fw.mu.Unlock()
		return nil
	}
	// Remove from our map so we don't try to use a closed handle later
	delete(fw.handles, path)
	fw.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.file.Sync(); err != nil {
		h.file.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return h.file.Close()
}
