// Package catalog keeps a SQLite index of the frames written by storage.Files.
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cjeanneret/RollGo/internal/debug"
	"github.com/cjeanneret/RollGo/internal/hw/camera"
	"github.com/cjeanneret/RollGo/internal/storage"
)

//go:embed schema.sql
var schema string

// Entry is one indexed frame.
type Entry struct {
	Session    string    `json:"session"`
	Seq        uint64    `json:"seq"`
	CapturedAt time.Time `json:"captured_at"`
	Path       string    `json:"path"`
	Size       int       `json:"size"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Format     string    `json:"format"`
}

// Catalog writes frames through a storage.Files and records each one.
type Catalog struct {
	db    *sql.DB
	files *storage.Files
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (or creates) the index database at path.
func Open(path string, files *storage.Files) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("catalog path is required")
	}
	if files == nil {
		files = storage.NewFiles()
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	debug.Info("Frame catalog opened at %s", path)
	return &Catalog{db: db, files: files}, nil
}

// Close closes the database handle.
func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Store implements rolling.Persister: the frame is written to disk first
// and indexed only once the file exists.
func (c *Catalog) Store(frame camera.Frame, dest string) error {
	path, err := c.files.Write(frame, dest)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(context.Background(),
		`INSERT INTO frames (
		   session, seq, captured_at, path, size, width, height, format
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		frame.Session,
		int64(frame.Seq),
		toMillis(frame.CapturedAt),
		path,
		len(frame.Data),
		frame.Width,
		frame.Height,
		string(frame.Format),
	)
	if err != nil {
		return fmt.Errorf("index frame #%d: %w", frame.Seq, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (c *Catalog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT session, seq, captured_at, path, size, width, height, format
		   FROM frames
		  ORDER BY captured_at DESC, seq DESC
		  LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			seq      int64
			captured int64
		)
		if err := rows.Scan(&e.Session, &seq, &captured, &e.Path, &e.Size, &e.Width, &e.Height, &e.Format); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		e.Seq = uint64(seq)
		e.CapturedAt = fromMillis(captured)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of frames indexed for session, or for every
// session when session is empty.
func (c *Catalog) Count(ctx context.Context, session string) (int, error) {
	var n int
	var err error
	if session == "" {
		err = c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frames`).Scan(&n)
	} else {
		err = c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frames WHERE session = ?`, session).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count frames: %w", err)
	}
	return n, nil
}
