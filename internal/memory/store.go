// Package memory implements the durable event/entity/edge/fact/learning
// store backed by a single local SQLite file, plus the background
// processor that extracts entities and maintains summaries and learnings.
package memory

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the memory database. All goroutines serialize through a single
// connection (SetMaxOpenConns(1)) so writers never hit SQLITE_BUSY; WAL
// journaling keeps concurrent readers cheap.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the memory DB and applies migrations.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("memory: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("memory: open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("memory: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("memory: store opened", "path", dbPath)
	return s, nil
}

func (s *Store) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("memory: load migrations: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("memory: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("memory: migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("memory: migrate up: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Vacuum reclaims space; maintenance only.
func (s *Store) Vacuum() error {
	_, err := s.db.Exec("VACUUM")
	return err
}

// GetStats returns per-table counts and the extraction backlog.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		query string
		dst   *int
	}{
		{"SELECT COUNT(*) FROM events", &stats.Events},
		{"SELECT COUNT(*) FROM entities", &stats.Entities},
		{"SELECT COUNT(*) FROM edges", &stats.Edges},
		{"SELECT COUNT(*) FROM facts", &stats.Facts},
		{"SELECT COUNT(*) FROM summary_nodes", &stats.SummaryNodes},
		{"SELECT COUNT(*) FROM learnings WHERE superseded_by IS NULL OR superseded_by = ''", &stats.Learnings},
		{"SELECT COUNT(*) FROM events WHERE extraction_status = 'pending'", &stats.PendingExtractions},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("memory: stats: %w", err)
		}
	}
	return stats, nil
}

// --- small column helpers shared by the table files ---

func marshalList(list []string) string {
	if len(list) == 0 {
		return ""
	}
	data, _ := json.Marshal(list)
	return string(data)
}

func unmarshalList(raw string) []string {
	if raw == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		// Legacy comma-separated fallback
		return strings.Split(raw, ",")
	}
	return list
}

func marshalMeta(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	data, _ := json.Marshal(m)
	return string(data)
}

func unmarshalMeta(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var m map[string]string
	if json.Unmarshal([]byte(raw), &m) != nil {
		return nil
	}
	return m
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
