package app

import (
	"context"

	"github.com/datallboy/serenity/internal/domain"
	"github.com/datallboy/serenity/internal/infra/config"
	"github.com/datallboy/serenity/internal/infra/logger"
	"github.com/datallboy/serenity/internal/progress"
)

type Settings interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
}

type History interface {
	ListTaskRuns(ctx context.Context, filename string, limit int) ([]*domain.TaskRecord, error)
}

// Engine lets the API drive downloads without importing the engine package
type Engine interface {
	Manifest(ctx context.Context) (*domain.Manifest, error)
	Ready(ctx context.Context, filename string) (bool, error)
	SyncAsync(ctx context.Context) error
	DownloadAsync(ctx context.Context, filename string) (string, error)
	Running() map[string]string
}

// Context holds the core environment and shared resources for serenity.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	Settings Settings
	History  History
	Progress *progress.Tracker
	Engine   Engine

	// Background outlives individual requests; tasks started over HTTP run on it
	Background context.Context
}

// NewContext initializes the base environment.
func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config:     cfg,
		Logger:     log,
		Progress:   progress.NewTracker(),
		Background: context.Background(),
	}
}
