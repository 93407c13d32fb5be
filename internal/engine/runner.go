package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"

	"github.com/datallboy/serenity/internal/domain"
	"github.com/datallboy/serenity/internal/infra/logger"
	"github.com/datallboy/serenity/internal/manifest"
	"github.com/datallboy/serenity/internal/progress"
	"github.com/datallboy/serenity/internal/retry"
)

// Runner schedules manifest and download tasks, applies the retry policy
// and folds every task's progress into a single Tracker.
type Runner struct {
	downloader *Downloader
	fetcher    *manifest.Fetcher
	settings   manifest.SettingsReader
	tracker    *progress.Tracker
	history    History
	log        *logger.Logger

	soundsDir  string
	maxWorkers int
	backoff    retry.Backoff

	mu       sync.Mutex
	running  map[string]string // filename -> task id
	syncing  bool
	manifest *domain.Manifest

	transferred atomic.Int64
}

func NewRunner(cfg RunnerConfig, d *Downloader, f *manifest.Fetcher, settings manifest.SettingsReader,
	tracker *progress.Tracker, history History, log *logger.Logger) *Runner {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = defaultBackoff()
	}
	if tracker == nil {
		tracker = progress.NewTracker()
	}

	return &Runner{
		downloader: d,
		fetcher:    f,
		settings:   settings,
		tracker:    tracker,
		history:    history,
		log:        log.With("RUNNER"),
		soundsDir:  cfg.SoundsDir,
		maxWorkers: cfg.MaxWorkers,
		backoff:    cfg.Backoff,
		running:    make(map[string]string),
	}
}

func (r *Runner) Tracker() *progress.Tracker { return r.tracker }

// Transferred is the number of bytes moved by this runner so far.
func (r *Runner) Transferred() int64 { return r.transferred.Load() }

// Manifest returns the last manifest seen by this runner, falling back
// to the persisted copy.
func (r *Runner) Manifest(ctx context.Context) (*domain.Manifest, error) {
	r.mu.Lock()
	m := r.manifest
	r.mu.Unlock()
	if m != nil {
		return m, nil
	}
	if r.settings == nil {
		return nil, domain.ErrNotFound
	}

	m, err := manifest.LoadPersisted(ctx, r.settings)
	if err != nil {
		return nil, err
	}
	r.setManifest(m)
	return m, nil
}

func (r *Runner) setManifest(m *domain.Manifest) {
	r.mu.Lock()
	r.manifest = m
	r.mu.Unlock()
}

// RunManifest performs a single manifest attempt and maps it to a Result.
// On success Output carries the raw manifest JSON.
func (r *Runner) RunManifest(ctx context.Context) domain.Result {
	m, err := r.fetcher.Fetch(ctx)
	if err != nil {
		return retry.ToResult(err, "")
	}
	r.setManifest(m)
	r.tracker.Seed(m.Filenames())
	return retry.ToResult(nil, m.Raw)
}

// RunDownload performs a single download attempt for filename.
func (r *Runner) RunDownload(ctx context.Context, filename string) domain.Result {
	res, _ := r.runDownload(ctx, filename)
	return res
}

func (r *Runner) runDownload(ctx context.Context, filename string) (domain.Result, int64) {
	task, err := r.downloader.Download(ctx, r.soundsDir, filename, r.tracker)
	var n int64
	if task != nil {
		n = task.BytesTransferred.Load()
		r.transferred.Add(n)
	}
	return retry.ToResult(err, ""), n
}

// FetchManifest fetches the manifest, retrying transient failures.
func (r *Runner) FetchManifest(ctx context.Context) (*domain.Manifest, error) {
	rec := &domain.TaskRecord{ID: ksuid.New().String(), Kind: domain.KindManifest}

	res := r.schedule(ctx, rec, func(ctx context.Context, _ *domain.TaskRecord) domain.Result {
		return r.RunManifest(ctx)
	})
	if !res.OK() {
		return nil, res.Err
	}
	return r.Manifest(ctx)
}

// Download brings filename up to date, retrying transient failures.
// Only one task per filename runs at a time; a second caller gets
// domain.ErrAlreadyRunning and the running task is kept.
func (r *Runner) Download(ctx context.Context, filename string) error {
	id, err := r.claim(filename)
	if err != nil {
		return err
	}
	defer r.release(filename)

	return r.download(ctx, id, filename)
}

// DownloadAsync starts Download in the background and returns the task id.
func (r *Runner) DownloadAsync(ctx context.Context, filename string) (string, error) {
	id, err := r.claim(filename)
	if err != nil {
		return "", err
	}

	go func() {
		defer r.release(filename)
		if err := r.download(ctx, id, filename); err != nil {
			r.log.Error("background download of %s failed: %v", filename, err)
		}
	}()
	return id, nil
}

func (r *Runner) download(ctx context.Context, id, filename string) error {
	rec := &domain.TaskRecord{ID: id, Kind: domain.KindDownload, Filename: filename}

	res := r.schedule(ctx, rec, func(ctx context.Context, rec *domain.TaskRecord) domain.Result {
		res, n := r.runDownload(ctx, filename)
		rec.BytesTransferred += n
		return res
	})
	return res.Err
}

// DownloadAll downloads every filename with at most MaxWorkers in flight.
// Tasks are independent: one failure does not cancel the others.
func (r *Runner) DownloadAll(ctx context.Context, filenames []string) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(r.maxWorkers)

	for _, name := range filenames {
		g.Go(func() error {
			err := r.Download(ctx, name)
			if errors.Is(err, domain.ErrAlreadyRunning) {
				r.log.Debug("%s already downloading, skipping", name)
				return nil
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	return errors.Join(errs...)
}

// Sync fetches the manifest and then downloads every sound it lists.
func (r *Runner) Sync(ctx context.Context) error {
	r.mu.Lock()
	if r.syncing {
		r.mu.Unlock()
		return domain.ErrAlreadyRunning
	}
	r.syncing = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.syncing = false
		r.mu.Unlock()
	}()

	m, err := r.FetchManifest(ctx)
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	return r.DownloadAll(ctx, m.Filenames())
}

// SyncAsync runs Sync in the background.
func (r *Runner) SyncAsync(ctx context.Context) error {
	r.mu.Lock()
	busy := r.syncing
	r.mu.Unlock()
	if busy {
		return domain.ErrAlreadyRunning
	}

	go func() {
		if err := r.Sync(ctx); err != nil && !errors.Is(err, domain.ErrAlreadyRunning) {
			r.log.Error("sync failed: %v", err)
		}
	}()
	return nil
}

// Seed rebuilds progress at startup from the persisted manifest: every
// sound starts at 0 and is raised to 1 only if its local file verifies.
func (r *Runner) Seed(ctx context.Context) error {
	m, err := r.Manifest(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	names := m.Filenames()
	r.tracker.Seed(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ok, err := r.downloader.Ready(ctx, r.soundsDir, name)
		if err != nil {
			r.log.Warn("could not verify %s: %v", name, err)
			continue
		}
		if ok {
			r.tracker.Report(name, 1)
		}
	}
	return nil
}

// Ready reports whether filename can be played right now.
func (r *Runner) Ready(ctx context.Context, filename string) (bool, error) {
	return r.downloader.Ready(ctx, r.soundsDir, filename)
}

// Running returns the filenames with an active task.
func (r *Runner) Running() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.running))
	for k, v := range r.running {
		out[k] = v
	}
	return out
}

func (r *Runner) claim(filename string) (string, error) {
	if err := domain.ValidateFilename(filename); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.running[filename]; busy {
		return "", fmt.Errorf("%w: %s", domain.ErrAlreadyRunning, filename)
	}
	id := ksuid.New().String()
	r.running[filename] = id
	return id, nil
}

func (r *Runner) release(filename string) {
	r.mu.Lock()
	delete(r.running, filename)
	r.mu.Unlock()
}
