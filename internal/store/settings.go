package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// GetSetting returns the value stored under key and whether it exists.
func (s *PersistentStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT value FROM settings WHERE key = ?"), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// PutSetting replaces the value under key in a single statement, so a
// reader never sees a half-written entry.
func (s *PersistentStore) PutSetting(ctx context.Context, key, value string) error {
	query := `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
              ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	return s.exec(ctx, query, key, value, time.Now().UnixMilli())
}
