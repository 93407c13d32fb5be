package engine

import (
	"context"
	"time"

	"github.com/datallboy/serenity/internal/domain"
	"github.com/datallboy/serenity/internal/retry"
)

const (
	// DefaultChunkMax caps a single read from the remote stream.
	DefaultChunkMax = 1 << 20
	// MinChunk keeps small objects from computing a zero-length buffer.
	MinChunk = 1 << 10
	// DebugChunk is used when download.debug_chunks is set, to make
	// progress visible on tiny test objects.
	DebugChunk = 1 << 10
)

// Options tune the transfer loop.
type Options struct {
	DebugChunks bool
	ChunkMax    int64
}

// RunnerConfig is the scheduling side of the engine.
type RunnerConfig struct {
	SoundsDir  string
	MaxWorkers int
	Backoff    retry.Backoff
}

// History records finished tasks. Implemented by the store.
type History interface {
	SaveTaskRun(ctx context.Context, rec *domain.TaskRecord) error
}

// attemptFunc runs one attempt of a task and reports the outcome.
type attemptFunc func(ctx context.Context, rec *domain.TaskRecord) domain.Result

func defaultBackoff() retry.Backoff {
	return retry.Backoff{Base: 10 * time.Second}
}
