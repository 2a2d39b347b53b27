package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// SessionCAS wraps Store with a merge strategy for session-shaped records:
// JSON lines carrying an optional "id" and "timestamp". Conflicting writes
// are reconciled by deduplicating on id (or a stable content hash) and
// sorting by timestamp.
type SessionCAS struct {
	*Store
}

func NewSessionCAS(dir string, opts ...Option) (*SessionCAS, error) {
	s, err := NewStore(dir, opts...)
	if err != nil {
		return nil, err
	}
	return &SessionCAS{Store: s}, nil
}

// Write performs a CAS write with the session merge applied on conflict.
func (s *SessionCAS) Write(key string, records []string, expectedEtag string) WriteResult {
	return s.WriteCAS(key, records, expectedEtag, MergeSessionRecords)
}

type sessionRecord struct {
	ID        string  `json:"id"`
	Timestamp float64 `json:"timestamp"`
}

// MergeSessionRecords is the default merge: union of both sides,
// deduplicated by message id (falling back to a content hash), ordered by
// timestamp with input order as tiebreaker.
func MergeSessionRecords(current, proposed []string) []string {
	type entry struct {
		line string
		ts   float64
		seq  int
	}

	seen := make(map[string]bool)
	var merged []entry
	seq := 0

	add := func(line string) {
		var rec sessionRecord
		key := line
		ts := 0.0
		if err := json.Unmarshal([]byte(line), &rec); err == nil {
			ts = rec.Timestamp
			if rec.ID != "" {
				key = rec.ID
			} else {
				sum := sha256.Sum256([]byte(line))
				key = hex.EncodeToString(sum[:8])
			}
		}
		if seen[key] {
			return
		}
		seen[key] = true
		merged = append(merged, entry{line: line, ts: ts, seq: seq})
		seq++
	}

	for _, line := range current {
		add(line)
	}
	for _, line := range proposed {
		add(line)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].ts != merged[j].ts {
			return merged[i].ts < merged[j].ts
		}
		return merged[i].seq < merged[j].seq
	})

	out := make([]string, len(merged))
	for i, e := range merged {
		out[i] = e.line
	}
	return out
}
