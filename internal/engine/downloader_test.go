package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/datallboy/serenity/internal/domain"
	"github.com/datallboy/serenity/internal/infra/logger"
	"github.com/datallboy/serenity/internal/integrity"
	"github.com/datallboy/serenity/internal/progress"
	"github.com/datallboy/serenity/internal/remote"
	"github.com/datallboy/serenity/internal/remote/remotetest"
	"github.com/datallboy/serenity/internal/retry"
)

var testLocator = remote.NewLocator("serenity-sounds", false)

type recordingSink struct {
	mu     sync.Mutex
	events map[string][]float64
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(map[string][]float64)}
}

func (s *recordingSink) Report(filename string, fraction float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[filename] = append(s.events[filename], fraction)
}

func (s *recordingSink) For(filename string) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.events[filename]...)
}

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*31 + i/7)
	}
	return data
}

func newTestDownloader(store remote.Store, opts Options) *Downloader {
	return NewDownloader(store, testLocator, NewFileWriter(), logger.Discard(), opts)
}

func assertMonotonic(t *testing.T, events []float64) {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no progress was reported")
	}
	for i, f := range events {
		if f < 0 || f > 1 {
			t.Errorf("event %d out of range: %v", i, f)
		}
		if i > 0 && f < events[i-1] {
			t.Errorf("progress went backwards at %d: %v -> %v", i, events[i-1], f)
		}
	}
	if last := events[len(events)-1]; last != 1 {
		t.Errorf("final progress = %v, want 1", last)
	}
}

func assertFile(t *testing.T, path string, want []byte) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("%s has %d bytes that do not match the %d byte object", path, len(got), len(want))
	}
}

func TestDownloadFresh(t *testing.T) {
	data := payload(10 * 1024)
	store := remotetest.New()
	store.Put(testLocator.Locate("rain.wav"), data)

	dir := t.TempDir()
	sink := newRecordingSink()
	d := newTestDownloader(store, Options{DebugChunks: true})

	task, err := d.Download(context.Background(), dir, "rain.wav", sink)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	assertFile(t, filepath.Join(dir, "rain.wav"), data)
	if got := task.BytesTransferred.Load(); got != int64(len(data)) {
		t.Errorf("BytesTransferred = %d, want %d", got, len(data))
	}

	events := sink.For("rain.wav")
	assertMonotonic(t, events)
	// start + one per chunk except the last + verified 1.0
	if len(events) != 11 {
		t.Errorf("got %d progress events, want 11: %v", len(events), events)
	}
	if events[0] != 0 {
		t.Errorf("first event = %v, want 0", events[0])
	}
	if n := countOnes(events); n != 1 {
		t.Errorf("1.0 reported %d times, want once after verify", n)
	}
}

func countOnes(events []float64) int {
	n := 0
	for _, f := range events {
		if f == 1 {
			n++
		}
	}
	return n
}

func TestDownloadResumesPartialFile(t *testing.T) {
	data := payload(10 * 1024)
	key := testLocator.Locate("rain.wav")
	store := remotetest.New()
	store.Put(key, data)

	dir := t.TempDir()
	const have = 4000
	if err := os.WriteFile(filepath.Join(dir, "rain.wav"), data[:have], 0644); err != nil {
		t.Fatal(err)
	}

	sink := newRecordingSink()
	task, err := newTestDownloader(store, Options{DebugChunks: true}).Download(context.Background(), dir, "rain.wav", sink)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if offs := store.Offsets(key); len(offs) != 1 || offs[0] != have {
		t.Errorf("range reads started at %v, want [%d]", offs, have)
	}
	if task.ResumeOffset != have {
		t.Errorf("ResumeOffset = %d, want %d", task.ResumeOffset, have)
	}
	if got := task.BytesTransferred.Load(); got != int64(len(data)-have) {
		t.Errorf("BytesTransferred = %d, want %d", got, len(data)-have)
	}
	assertFile(t, filepath.Join(dir, "rain.wav"), data)

	events := sink.For("rain.wav")
	assertMonotonic(t, events)
	if want := float64(have) / float64(len(data)); events[0] != want {
		t.Errorf("first event = %v, want resume fraction %v", events[0], want)
	}
}

func TestDownloadRestartsStaleFile(t *testing.T) {
	data := payload(4096)

	cases := map[string][]byte{
		"oversized":           append(payload(4096), payload(100)...),
		"corrupt full length": bytes.Repeat([]byte{0xAB}, 4096),
	}

	for name, local := range cases {
		t.Run(name, func(t *testing.T) {
			key := testLocator.Locate("wind.wav")
			store := remotetest.New()
			store.Put(key, data)

			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "wind.wav"), local, 0644); err != nil {
				t.Fatal(err)
			}

			task, err := newTestDownloader(store, Options{}).Download(context.Background(), dir, "wind.wav", nil)
			if err != nil {
				t.Fatalf("Download: %v", err)
			}
			if offs := store.Offsets(key); len(offs) != 1 || offs[0] != 0 {
				t.Errorf("stale file should restart at 0, reads started at %v", offs)
			}
			if task.ResumeOffset != 0 {
				t.Errorf("ResumeOffset = %d, want 0", task.ResumeOffset)
			}
			assertFile(t, filepath.Join(dir, "wind.wav"), data)
		})
	}
}

func TestDownloadEmptyObject(t *testing.T) {
	key := testLocator.Locate("silence.wav")
	store := remotetest.New()
	store.Put(key, nil)

	dir := t.TempDir()
	sink := newRecordingSink()
	task, err := newTestDownloader(store, Options{}).Download(context.Background(), dir, "silence.wav", sink)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if offs := store.Offsets(key); len(offs) != 0 {
		t.Errorf("no range read expected for an empty object, got %v", offs)
	}
	if task.BytesTransferred.Load() != 0 {
		t.Error("nothing should have been transferred")
	}
	info, err := os.Stat(filepath.Join(dir, "silence.wav"))
	if err != nil || info.Size() != 0 {
		t.Errorf("expected an empty local file, got %v %v", info, err)
	}
	assertMonotonic(t, sink.For("silence.wav"))
}

func TestDownloadSkipsMatchingFile(t *testing.T) {
	data := payload(2048)
	key := testLocator.Locate("rain.wav")
	store := remotetest.New()
	store.Put(key, data)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "rain.wav"), data, 0644); err != nil {
		t.Fatal(err)
	}

	sink := newRecordingSink()
	task, err := newTestDownloader(store, Options{}).Download(context.Background(), dir, "rain.wav", sink)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if !task.Skipped || task.BytesTransferred.Load() != 0 {
		t.Errorf("expected a skipped task with no transfer, got skipped=%v bytes=%d", task.Skipped, task.BytesTransferred.Load())
	}
	if offs := store.Offsets(key); len(offs) != 0 {
		t.Errorf("matching file should not be read remotely, got %v", offs)
	}
	if events := sink.For("rain.wav"); len(events) != 1 || events[0] != 1 {
		t.Errorf("expected a single 1.0 event, got %v", events)
	}
}

func TestDownloadChecksumMismatch(t *testing.T) {
	data := payload(2048)
	store := remotetest.New()
	store.PutWithMD5(testLocator.Locate("rain.wav"), data, integrity.Sum([]byte("something else")))

	dir := t.TempDir()
	sink := newRecordingSink()
	_, err := newTestDownloader(store, Options{}).Download(context.Background(), dir, "rain.wav", sink)

	if !errors.Is(err, domain.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
	if retry.Classify(err) != retry.Retry {
		t.Error("checksum mismatch must be retryable")
	}
	for _, f := range sink.For("rain.wav") {
		if f == 1 {
			t.Error("1.0 must not be reported for an unverified file")
		}
	}
}

func TestDownloadStreamFaultKeepsPartial(t *testing.T) {
	data := payload(10 * 1024)
	key := testLocator.Locate("rain.wav")
	store := remotetest.New()
	store.Put(key, data)
	store.FailAfter = 3000

	dir := t.TempDir()
	path := filepath.Join(dir, "rain.wav")
	d := newTestDownloader(store, Options{DebugChunks: true})

	_, err := d.Download(context.Background(), dir, "rain.wav", nil)
	if !errors.Is(err, domain.ErrTransferIO) {
		t.Fatalf("expected ErrTransferIO, got %v", err)
	}
	if retry.Classify(err) != retry.Retry {
		t.Error("mid-transfer fault must be retryable")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("partial file should be kept: %v", err)
	}
	if info.Size() != 3000 {
		t.Errorf("partial size = %d, want 3000", info.Size())
	}

	store.FailAfter = 0
	task, err := d.Download(context.Background(), dir, "rain.wav", nil)
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if offs := store.Offsets(key); len(offs) != 2 || offs[1] != 3000 {
		t.Errorf("second attempt should resume at 3000, reads started at %v", offs)
	}
	if got := task.BytesTransferred.Load(); got != int64(len(data)-3000) {
		t.Errorf("second attempt transferred %d, want %d", got, len(data)-3000)
	}
	assertFile(t, path, data)
}

// cancelStore cancels the download context once a range reader has
// handed out after bytes.
type cancelStore struct {
	remote.Store
	after  int64
	cancel context.CancelFunc
}

func (s *cancelStore) NewRangeReader(ctx context.Context, key remote.Key, offset int64) (io.ReadCloser, error) {
	r, err := s.Store.NewRangeReader(ctx, key, offset)
	if err != nil {
		return nil, err
	}
	return &cancelReader{ReadCloser: r, ctx: ctx, left: s.after, cancel: s.cancel}, nil
}

type cancelReader struct {
	io.ReadCloser
	ctx    context.Context
	left   int64
	cancel context.CancelFunc
}

func (r *cancelReader) Read(p []byte) (int, error) {
	if r.left <= 0 {
		r.cancel()
		return 0, r.ctx.Err()
	}
	if int64(len(p)) > r.left {
		p = p[:r.left]
	}
	n, err := r.ReadCloser.Read(p)
	r.left -= int64(n)
	return n, err
}

func TestDownloadCancelledMidTransfer(t *testing.T) {
	data := payload(10 * 1024)
	key := testLocator.Locate("rain.wav")

	cases := []struct {
		name    string
		store   func(ms *remotetest.MemStore, cancel context.CancelFunc) remote.Store
		sink    func(cancel context.CancelFunc) progress.Sink
		partial int64
	}{
		{
			name: "between chunks",
			store: func(ms *remotetest.MemStore, _ context.CancelFunc) remote.Store {
				return ms
			},
			sink: func(cancel context.CancelFunc) progress.Sink {
				return progress.SinkFunc(func(_ string, f float64) {
					if f >= 0.3 {
						cancel()
					}
				})
			},
			partial: 3 * 1024,
		},
		{
			name: "inside a read",
			store: func(ms *remotetest.MemStore, cancel context.CancelFunc) remote.Store {
				return &cancelStore{Store: ms, after: 2500, cancel: cancel}
			},
			sink:    func(context.CancelFunc) progress.Sink { return nil },
			partial: 2500,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ms := remotetest.New()
			ms.Put(key, data)
			dir := t.TempDir()
			path := filepath.Join(dir, "rain.wav")

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			d := newTestDownloader(tc.store(ms, cancel), Options{DebugChunks: true})
			_, err := d.Download(ctx, dir, "rain.wav", tc.sink(cancel))
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("expected context.Canceled, got %v", err)
			}
			if retry.Classify(err) != retry.Retry {
				t.Error("cancelled transfer must be retryable")
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("partial file should be kept: %v", err)
			}
			if info.Size() != tc.partial {
				t.Fatalf("partial size = %d, want %d", info.Size(), tc.partial)
			}

			sink := newRecordingSink()
			task, err := newTestDownloader(ms, Options{DebugChunks: true}).Download(context.Background(), dir, "rain.wav", sink)
			if err != nil {
				t.Fatalf("resume: %v", err)
			}
			if offs := ms.Offsets(key); len(offs) != 2 || offs[1] != tc.partial {
				t.Errorf("resume should start at %d, reads started at %v", tc.partial, offs)
			}
			if task.ResumeOffset != tc.partial {
				t.Errorf("ResumeOffset = %d, want %d", task.ResumeOffset, tc.partial)
			}
			if got := task.BytesTransferred.Load(); got != int64(len(data))-tc.partial {
				t.Errorf("transferred %d, want %d", got, int64(len(data))-tc.partial)
			}
			assertMonotonic(t, sink.For("rain.wav"))
			assertFile(t, path, data)
		})
	}
}

func TestDownloadRemoteNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := newTestDownloader(remotetest.New(), Options{}).Download(context.Background(), dir, "missing.wav", nil)

	var se *remote.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	if retry.Classify(err) != retry.Permanent {
		t.Error("404 must be permanent")
	}
	if _, err := os.Stat(filepath.Join(dir, "missing.wav")); !os.IsNotExist(err) {
		t.Error("no local file should be created for a missing object")
	}
}

func TestDownloadRejectsUnsafeFilename(t *testing.T) {
	dir := t.TempDir()
	task, err := newTestDownloader(remotetest.New(), Options{}).Download(context.Background(), dir, "../escape.wav", nil)
	if !errors.Is(err, domain.ErrUnsafeFilename) {
		t.Fatalf("expected ErrUnsafeFilename, got %v", err)
	}
	if task != nil {
		t.Error("no task should be created for an unsafe filename")
	}
}

func TestConcurrentDownloadsAreIndependent(t *testing.T) {
	files := map[string][]byte{
		"rain.wav":  payload(8 * 1024),
		"waves.wav": bytes.Repeat([]byte("surf"), 3*1024),
	}
	store := remotetest.New()
	for name, data := range files {
		store.Put(testLocator.Locate(name), data)
	}

	dir := t.TempDir()
	tracker := progress.NewTracker()
	sink := newRecordingSink()
	both := progress.SinkFunc(func(name string, f float64) {
		tracker.Report(name, f)
		sink.Report(name, f)
	})

	// Shared writer, as in the runner
	d := newTestDownloader(store, Options{DebugChunks: true})

	var wg sync.WaitGroup
	errs := make(chan error, len(files))
	for name := range files {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Download(context.Background(), dir, name, both)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Download: %v", err)
		}
	}
	for name, data := range files {
		assertFile(t, filepath.Join(dir, name), data)
		assertMonotonic(t, sink.For(name))
		if f, _ := tracker.Get(name); f != 1 {
			t.Errorf("%s progress = %v, want 1", name, f)
		}
	}
}

func TestReady(t *testing.T) {
	data := payload(1024)
	store := remotetest.New()
	store.Put(testLocator.Locate("rain.wav"), data)

	dir := t.TempDir()
	d := newTestDownloader(store, Options{})
	ctx := context.Background()

	if ok, err := d.Ready(ctx, dir, "rain.wav"); err != nil || ok {
		t.Fatalf("missing file should not be ready: %v %v", ok, err)
	}

	// A partial file is never ready
	if err := os.WriteFile(filepath.Join(dir, "rain.wav"), data[:512], 0644); err != nil {
		t.Fatal(err)
	}
	if ok, _ := d.Ready(ctx, dir, "rain.wav"); ok {
		t.Fatal("partial file reported ready")
	}

	if _, err := d.Download(ctx, dir, "rain.wav", nil); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if ok, err := d.Ready(ctx, dir, "rain.wav"); err != nil || !ok {
		t.Fatalf("downloaded file should be ready: %v %v", ok, err)
	}
}

func TestChunkSize(t *testing.T) {
	tests := []struct {
		total, limit, want int64
	}{
		{0, 0, MinChunk},
		{50 * 1024, 0, MinChunk},
		{5_120_000, 0, 51_200},
		{1 << 30, 0, DefaultChunkMax},
		{1 << 30, 4096, 4096},
	}
	for _, tt := range tests {
		if got := chunkSize(tt.total, tt.limit); got != tt.want {
			t.Errorf("chunkSize(%d, %d) = %d, want %d", tt.total, tt.limit, got, tt.want)
		}
	}

	d := newTestDownloader(remotetest.New(), Options{DebugChunks: true})
	if got := d.chunkSize(1 << 30); got != DebugChunk {
		t.Errorf("debug chunk size = %d, want %d", got, DebugChunk)
	}
}

func TestResumeOffset(t *testing.T) {
	tests := []struct {
		local, total, want int64
	}{
		{0, 100, 0},
		{40, 100, 40},
		{99, 100, 99},
		{100, 100, 0},
		{150, 100, 0},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := resumeOffset(tt.local, tt.total); got != tt.want {
			t.Errorf("resumeOffset(%d, %d) = %d, want %d", tt.local, tt.total, got, tt.want)
		}
	}
}

func TestFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	fw := NewFileWriter()

	size, err := fw.Open(path)
	if err != nil || size != 0 {
		t.Fatalf("Open new file: size=%d err=%v", size, err)
	}
	if err := fw.WriteAt(path, []byte("world"), 6); err != nil {
		t.Fatal(err)
	}
	if err := fw.WriteAt(path, []byte("hello "), 0); err != nil {
		t.Fatal(err)
	}
	if err := fw.CloseFile(path); err != nil {
		t.Fatal(err)
	}
	if err := fw.CloseFile(path); err != nil {
		t.Errorf("closing twice should be a no-op: %v", err)
	}

	size, err = fw.Open(path)
	if err != nil || size != 11 {
		t.Fatalf("reopen: size=%d err=%v", size, err)
	}
	if err := fw.Truncate(path, 5); err != nil {
		t.Fatal(err)
	}
	fw.CloseAll()

	assertFile(t, path, []byte("hello"))
}

func TestDownloaderCloseReleasesHandles(t *testing.T) {
	dir := t.TempDir()
	fw := NewFileWriter()
	d := NewDownloader(remotetest.New(), testLocator, fw, logger.Discard(), Options{})

	for _, name := range []string{"a.wav", "b.wav"} {
		if _, err := fw.Open(filepath.Join(dir, name)); err != nil {
			t.Fatal(err)
		}
	}

	d.Close()

	fw.mu.RLock()
	open := len(fw.handles)
	fw.mu.RUnlock()
	if open != 0 {
		t.Errorf("%d handles still open after Close", open)
	}
	d.Close()
}
