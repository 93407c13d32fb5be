package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/datallboy/serenity/internal/domain"
	"github.com/datallboy/serenity/internal/infra/logger"
	"github.com/datallboy/serenity/internal/integrity"
	"github.com/datallboy/serenity/internal/progress"
	"github.com/datallboy/serenity/internal/remote"
)

// Downloader brings one sound file in line with its remote object.
// Progress is recovered from the size of the local file, there is no
// separate checkpoint.
type Downloader struct {
	store   remote.Store
	locator remote.Locator
	writer  *FileWriter
	log     *logger.Logger
	opts    Options
}

func NewDownloader(store remote.Store, locator remote.Locator, writer *FileWriter, log *logger.Logger, opts Options) *Downloader {
	if writer == nil {
		writer = NewFileWriter()
	}
	return &Downloader{
		store:   store,
		locator: locator,
		writer:  writer,
		log:     log.With("DOWNLOAD"),
		opts:    opts,
	}
}

// Download runs one attempt for filename: check, transfer, verify.
// The returned task is non-nil whenever the filename was valid, even on error.
func (d *Downloader) Download(ctx context.Context, soundsDir, filename string, sink progress.Sink) (*domain.DownloadTask, error) {
	if err := domain.ValidateFilename(filename); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = progress.Discard
	}

	task := &domain.DownloadTask{
		SoundsDir: soundsDir,
		Filename:  filename,
		Path:      filepath.Join(soundsDir, filename),
	}

	key := d.locator.Locate(filename)
	attrs, err := d.store.Attrs(ctx, key)
	if err != nil {
		return task, fmt.Errorf("attrs %s: %w", key, err)
	}
	task.RemoteMD5 = attrs.MD5
	task.TotalBytes = attrs.Size

	match, err := integrity.Matches(task.Path, attrs.MD5)
	if err != nil {
		return task, fmt.Errorf("%w: %w", domain.ErrTransferIO, err)
	}
	if match {
		d.log.Debug("%s already matches %s", filename, attrs.MD5)
		task.Skipped = true
		sink.Report(filename, 1)
		return task, nil
	}

	if err := os.MkdirAll(soundsDir, 0755); err != nil {
		return task, fmt.Errorf("%w: create sounds dir: %w", domain.ErrTransferIO, err)
	}

	if err := d.transfer(ctx, task, key, sink); err != nil {
		return task, err
	}

	if err := d.verify(task); err != nil {
		return task, err
	}

	d.log.Info("%s complete (%s, %s transferred)", filename,
		humanize.IBytes(uint64(task.TotalBytes)), humanize.IBytes(uint64(task.BytesTransferred.Load())))
	sink.Report(filename, 1)
	return task, nil
}

func (d *Downloader) transfer(ctx context.Context, task *domain.DownloadTask, key remote.Key, sink progress.Sink) (err error) {
	size, err := d.writer.Open(task.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransferIO, err)
	}
	defer func() {
		if cerr := d.writer.CloseFile(task.Path); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %w", domain.ErrTransferIO, cerr)
		}
	}()

	offset := resumeOffset(size, task.TotalBytes)
	if offset == 0 && size > 0 {
		// Full length but wrong checksum, or longer than the object: start over
		d.log.Warn("%s is stale (%s local vs %s remote), restarting", task.Filename,
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(task.TotalBytes)))
		if err := d.writer.Truncate(task.Path, 0); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrTransferIO, err)
		}
	} else if offset > 0 {
		d.log.Info("resuming %s at %s of %s", task.Filename,
			humanize.IBytes(uint64(offset)), humanize.IBytes(uint64(task.TotalBytes)))
	}
	task.ResumeOffset = offset
	sink.Report(task.Filename, fraction(offset, task.TotalBytes))

	if offset >= task.TotalBytes {
		return nil
	}

	r, err := d.store.NewRangeReader(ctx, key, offset)
	if err != nil {
		return fmt.Errorf("open %s at %d: %w", key, offset, err)
	}
	defer r.Close()

	buf := make([]byte, d.chunkSize(task.TotalBytes))
	pos := offset

	for pos < task.TotalBytes {
		if err := ctx.Err(); err != nil {
			return err
		}

		want := min(int64(len(buf)), task.TotalBytes-pos)
		n, rerr := io.ReadFull(r, buf[:want])

		// Write only the number of bytes actually read (n)
		if n > 0 {
			if werr := d.writer.WriteAt(task.Path, buf[:n], pos); werr != nil {
				return fmt.Errorf("%w: write %s at %d: %w", domain.ErrTransferIO, task.Filename, pos, werr)
			}
			pos += int64(n)
			task.BytesTransferred.Add(int64(n))

			// 1.0 is only reported once the checksum has been verified
			if pos < task.TotalBytes {
				sink.Report(task.Filename, fraction(pos, task.TotalBytes))
			}
		}

		if rerr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: stream for %s ended at %d of %d", domain.ErrTransferIO, task.Filename, pos, task.TotalBytes)
			}
			return fmt.Errorf("%w: read %s: %w", domain.ErrTransferIO, task.Filename, rerr)
		}
	}

	return nil
}

func (d *Downloader) verify(task *domain.DownloadTask) error {
	got, err := integrity.Checksum(task.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransferIO, err)
	}
	if got != task.RemoteMD5 {
		d.log.Warn("%s checksum mismatch: local %s remote %s", task.Filename, got, task.RemoteMD5)
		return fmt.Errorf("%w: %s local %s remote %s", domain.ErrIntegrity, task.Filename, got, task.RemoteMD5)
	}
	return nil
}

// Ready reports whether filename is present locally and matches its
// remote checksum. Partial files and stale progress never count.
func (d *Downloader) Ready(ctx context.Context, soundsDir, filename string) (bool, error) {
	if err := domain.ValidateFilename(filename); err != nil {
		return false, err
	}

	attrs, err := d.store.Attrs(ctx, d.locator.Locate(filename))
	if err != nil {
		return false, err
	}
	return integrity.Matches(filepath.Join(soundsDir, filename), attrs.MD5)
}

// Close flushes and releases file handles left behind by interrupted transfers.
func (d *Downloader) Close() {
	d.writer.CloseAll()
}

func (d *Downloader) chunkSize(total int64) int {
	if d.opts.DebugChunks {
		return DebugChunk
	}
	return int(chunkSize(total, d.opts.ChunkMax))
}

// chunkSize is roughly one percent of the object, in whole KiB,
// bounded by MinChunk and limit.
func chunkSize(total, limit int64) int64 {
	if limit <= 0 {
		limit = DefaultChunkMax
	}
	size := total / 100 / 1024 * 1024
	if size > limit {
		size = limit
	}
	if size < MinChunk {
		size = MinChunk
	}
	return size
}

// resumeOffset picks up where a partial file left off. A file at least
// as long as the object cannot be a valid partial and restarts from 0.
func resumeOffset(localSize, total int64) int64 {
	if localSize < 0 || localSize >= total {
		return 0
	}
	return localSize
}

func fraction(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return progress.Clamp(float64(done) / float64(total))
}
