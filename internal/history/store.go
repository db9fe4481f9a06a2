// Package history persists recently recognized tracks in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/songscout/internal/catalog"
	_ "modernc.org/sqlite"
)

// DefaultMaxEntries caps how many tracks are kept.
const DefaultMaxEntries = 50

// Entry is one remembered track.
type Entry struct {
	Track        catalog.Track
	RecognizedAt time.Time
}

// Store is a newest-first, id-deduplicated, size-capped track list.
type Store struct {
	db         *sql.DB
	maxEntries int
	log        *slog.Logger
	clock      func() time.Time
}

// Open creates or opens the history database at path.
func Open(ctx context.Context, path string, maxEntries int, log *slog.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history path is empty")
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(2000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, maxEntries: maxEntries, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	if err := s.trim(ctx, s.db); err != nil && log != nil {
		log.Warn("history trim on open failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS history (
    track_id TEXT PRIMARY KEY,
    seq INTEGER NOT NULL,
    name TEXT NOT NULL,
    artists TEXT NOT NULL,
    payload BLOB NOT NULL,
    recognized_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_seq ON history(seq DESC);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Add records track as the most recent entry, replacing any earlier entry with the
// same id, and trims the list to its cap.
func (s *Store) Add(ctx context.Context, track catalog.Track) error {
	if strings.TrimSpace(track.ID) == "" {
		return errors.New("history: track id is empty")
	}
	payload, err := json.Marshal(track)
	if err != nil {
		return fmt.Errorf("history: encode track: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO history(track_id, seq, name, artists, payload, recognized_at)
		 VALUES(?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM history), ?, ?, ?, ?)
		 ON CONFLICT(track_id) DO UPDATE SET
		   seq = excluded.seq,
		   name = excluded.name,
		   artists = excluded.artists,
		   payload = excluded.payload,
		   recognized_at = excluded.recognized_at`,
		track.ID, track.Name, track.ArtistNames(), payload, s.clock().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	if err = s.trim(ctx, tx); err != nil {
		return fmt.Errorf("history: trim: %w", err)
	}
	return tx.Commit()
}

// List returns up to limit entries, newest first. limit <= 0 returns everything kept.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > s.maxEntries {
		limit = s.maxEntries
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload, recognized_at FROM history ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			payload []byte
			nanos   int64
		)
		if err := rows.Scan(&payload, &nanos); err != nil {
			return nil, err
		}
		var track catalog.Track
		if err := json.Unmarshal(payload, &track); err != nil {
			if s.log != nil {
				s.log.Warn("skipping unreadable history entry", slog.String("error", err.Error()))
			}
			continue
		}
		entries = append(entries, Entry{Track: track, RecognizedAt: time.Unix(0, nanos).UTC()})
	}
	return entries, rows.Err()
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM history`)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) trim(ctx context.Context, db execer) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM history WHERE track_id NOT IN (
		   SELECT track_id FROM history ORDER BY seq DESC LIMIT ?
		 )`, s.maxEntries)
	return err
}
