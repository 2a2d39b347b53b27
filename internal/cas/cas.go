// Package cas implements an append-only text record store with
// etag-based compare-and-set. Each key maps to one file; writes are
// atomic (temp file, fsync, rename) and guarded by advisory file locks.
package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MergeFunc reconciles the current on-disk records with the records the
// caller attempted to write after an etag conflict.
type MergeFunc func(current, proposed []string) []string

// WriteResult reports the outcome of a WriteCAS call.
type WriteResult struct {
	Success        bool
	CurrentVersion string // etag after the write (or the conflicting etag on failure)
	Err            error
}

// Store is a content-addressed append-only file store.
type Store struct {
	dir        string
	maxRetries int
	backoff    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithMaxRetries overrides the conflict retry budget (default 5).
func WithMaxRetries(n int) Option {
	return func(s *Store) { s.maxRetries = n }
}

func NewStore(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cas: create dir: %w", err)
	}
	s := &Store{dir: dir, maxRetries: 5, backoff: 10 * time.Millisecond}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// etag is the first 16 hex chars of the content hash.
func etag(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:16]
}

func (s *Store) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, key)
	return filepath.Join(s.dir, safe)
}

// Read returns all records for key and the current etag. A missing or
// empty file returns (nil, "").
func (s *Store) Read(key string) ([]string, string, error) {
	path := s.path(key)

	lock, err := acquireLock(path+".lock", false)
	if err != nil {
		return nil, "", fmt.Errorf("cas: read lock %s: %w", key, err)
	}
	defer lock.release()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("cas: read %s: %w", key, err)
	}
	if len(data) == 0 {
		return nil, "", nil
	}

	var records []string
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		records = append(records, line)
	}
	return records, etag(data), nil
}

// WriteCAS writes records if the on-disk etag still matches expectedEtag
// (empty string means "expect no file"). On mismatch with a merge func it
// re-reads, merges, and retries up to maxRetries times with exponential
// backoff; without one it fails immediately.
func (s *Store) WriteCAS(key string, records []string, expectedEtag string, merge MergeFunc) WriteResult {
	backoff := s.backoff
	proposed := records

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		res := s.tryWrite(key, proposed, expectedEtag)
		if res.Success || res.Err != nil {
			return res
		}

		// Etag conflict. Without a merge function the caller decides.
		if merge == nil {
			return res
		}

		current, curTag, err := s.Read(key)
		if err != nil {
			return WriteResult{Err: err}
		}
		proposed = merge(current, records)
		expectedEtag = curTag

		time.Sleep(backoff)
		backoff *= 2
	}

	return WriteResult{Err: fmt.Errorf("cas: write %s: conflict retries exhausted", key)}
}

func (s *Store) tryWrite(key string, records []string, expectedEtag string) WriteResult {
	path := s.path(key)

	lock, err := acquireLock(path+".lock", true)
	if err != nil {
		return WriteResult{Err: fmt.Errorf("cas: write lock %s: %w", key, err)}
	}
	defer lock.release()

	var currentTag string
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		currentTag = etag(data)
	} else if err != nil && !os.IsNotExist(err) {
		return WriteResult{Err: fmt.Errorf("cas: read current %s: %w", key, err)}
	}

	if currentTag != expectedEtag {
		return WriteResult{Success: false, CurrentVersion: currentTag}
	}

	var content []byte
	if len(records) > 0 {
		content = []byte(strings.Join(records, "\n") + "\n")
	}

	tmp, err := os.CreateTemp(s.dir, ".cas-*.tmp")
	if err != nil {
		return WriteResult{Err: err}
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return WriteResult{Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return WriteResult{Err: err}
	}
	tmp.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return WriteResult{Err: err}
	}
	cleanup = false

	return WriteResult{Success: true, CurrentVersion: etag(content)}
}
