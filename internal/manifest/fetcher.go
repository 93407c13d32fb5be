package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/datallboy/serenity/internal/domain"
	"github.com/datallboy/serenity/internal/infra/logger"
	"github.com/datallboy/serenity/internal/remote"
)

// MaxBytes bounds how much of sound-def.json is read into memory.
const MaxBytes = 1 << 20

// SettingsWriter persists a single key-value entry.
type SettingsWriter interface {
	PutSetting(ctx context.Context, key, value string) error
}

// SettingsReader loads a single key-value entry.
type SettingsReader interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

type Fetcher struct {
	store    remote.Store
	locator  remote.Locator
	settings SettingsWriter
	log      *logger.Logger
}

func NewFetcher(store remote.Store, locator remote.Locator, settings SettingsWriter, log *logger.Logger) *Fetcher {
	return &Fetcher{
		store:    store,
		locator:  locator,
		settings: settings,
		log:      log.With("MANIFEST"),
	}
}

// Fetch downloads, parses and persists the manifest. The persisted entry
// is only written once the JSON has parsed, so a bad upload never
// replaces the last good manifest.
func (f *Fetcher) Fetch(ctx context.Context) (*domain.Manifest, error) {
	key := f.locator.Manifest()

	raw, err := f.read(ctx, key)
	if err != nil {
		return nil, err
	}
	f.log.Debug("downloaded %s (%s)", key, humanize.Bytes(uint64(len(raw))))

	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: %s is not valid utf-8", domain.ErrMalformedManifest, key)
	}

	m, err := domain.ParseManifest(raw)
	if err != nil {
		f.log.Error("rejecting %s: %v", key, err)
		return nil, err
	}

	if err := f.settings.PutSetting(ctx, domain.SettingSoundDef, m.Raw); err != nil {
		return nil, fmt.Errorf("%w: persist manifest: %v", domain.ErrTransferIO, err)
	}

	f.log.Info("manifest updated: %d sounds", len(m.Sounds))
	return m, nil
}

func (f *Fetcher) read(ctx context.Context, key remote.Key) ([]byte, error) {
	r, err := f.store.NewRangeReader(ctx, key, 0)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	raw, err := io.ReadAll(io.LimitReader(r, MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrTransferIO, key, err)
	}
	if len(raw) > MaxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %s", domain.ErrMalformedManifest, key, humanize.IBytes(MaxBytes))
	}
	return raw, nil
}

// LoadPersisted returns the last manifest that was fetched successfully.
// A missing entry yields domain.ErrNotFound.
func LoadPersisted(ctx context.Context, settings SettingsReader) (*domain.Manifest, error) {
	raw, ok, err := settings.GetSetting(ctx, domain.SettingSoundDef)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotFound
	}

	m, err := domain.ParseManifest([]byte(raw))
	if err != nil {
		return nil, errors.Join(errors.New("persisted manifest is corrupt"), err)
	}
	return m, nil
}
