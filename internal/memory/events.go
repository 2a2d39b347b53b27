package memory

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/nanoroom/internal/embed"
)

// SaveEvent inserts an event and returns its id. A zero timestamp is
// stamped now; a missing extraction status defaults to pending.
func (s *Store) SaveEvent(e *Event) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.ExtractionStatus == "" {
		e.ExtractionStatus = ExtractionPending
	}
	if e.RelevanceScore == 0 {
		e.RelevanceScore = 1.0
	}

	var embedding []byte
	if len(e.ContentEmbedding) > 0 {
		embedding = embed.Pack(e.ContentEmbedding)
	}

	_, err := s.db.Exec(`
		INSERT INTO events (id, timestamp, channel, direction, event_type, content,
			session_key, parent_event_id, person_id, tool_name, extraction_status,
			content_embedding, relevance_score, last_accessed, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, e.Channel, e.Direction, e.EventType, e.Content,
		e.SessionKey, nullStr(e.ParentEventID), nullStr(e.PersonID), nullStr(e.ToolName),
		e.ExtractionStatus, embedding, e.RelevanceScore, nullTime(e.LastAccessed),
		marshalMeta(e.Metadata))
	if err != nil {
		return "", fmt.Errorf("memory: save event: %w", err)
	}
	return e.ID, nil
}

// MarkExtracted updates only the extraction status of an event.
func (s *Store) MarkExtracted(id, status string) error {
	_, err := s.db.Exec("UPDATE events SET extraction_status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("memory: mark extracted: %w", err)
	}
	return nil
}

// TouchAccess bumps last_accessed on an event.
func (s *Store) TouchAccess(id string) error {
	_, err := s.db.Exec("UPDATE events SET last_accessed = ? WHERE id = ?", time.Now().UTC(), id)
	return err
}

// GetEvent fetches one event by id.
func (s *Store) GetEvent(id string) (*Event, error) {
	row := s.db.QueryRow(eventSelect+" WHERE id = ?", id)
	return scanEvent(row)
}

// GetPendingEvents returns up to limit events awaiting extraction, oldest
// first so the backlog drains in order.
func (s *Store) GetPendingEvents(limit int) ([]*Event, error) {
	rows, err := s.db.Query(eventSelect+`
		WHERE extraction_status = 'pending'
		ORDER BY timestamp ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: pending events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetEventsBySession returns events for a session key, newest first.
func (s *Store) GetEventsBySession(sessionKey string, limit, offset int) ([]*Event, error) {
	rows, err := s.db.Query(eventSelect+`
		WHERE session_key = ?
		ORDER BY timestamp DESC LIMIT ? OFFSET ?`, sessionKey, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("memory: events by session: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// SearchEvents computes cosine similarity of the query embedding against
// up to the 1000 most recent events with embeddings, optionally filtered
// by session. Results at or above threshold come back descending by
// similarity, ties broken by timestamp descending.
func (s *Store) SearchEvents(query []float32, sessionKey string, limit int, threshold float64) ([]ScoredEvent, error) {
	q := eventSelect + " WHERE content_embedding IS NOT NULL"
	args := []interface{}{}
	if sessionKey != "" {
		q += " AND session_key = ?"
		args = append(args, sessionKey)
	}
	q += " ORDER BY timestamp DESC LIMIT 1000"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: search events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	var scored []ScoredEvent
	for _, e := range events {
		sim := embed.Cosine(query, e.ContentEmbedding)
		if sim >= threshold {
			scored = append(scored, ScoredEvent{Event: e, Similarity: sim})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Event.Timestamp.After(scored[j].Event.Timestamp)
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

const eventSelect = `
	SELECT id, timestamp, channel, direction, event_type, content, session_key,
		parent_event_id, person_id, tool_name, extraction_status,
		content_embedding, relevance_score, last_accessed, metadata
	FROM events`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var parent, person, tool sql.NullString
	var embedding []byte
	var lastAccessed sql.NullTime
	var meta sql.NullString

	err := row.Scan(&e.ID, &e.Timestamp, &e.Channel, &e.Direction, &e.EventType,
		&e.Content, &e.SessionKey, &parent, &person, &tool, &e.ExtractionStatus,
		&embedding, &e.RelevanceScore, &lastAccessed, &meta)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: scan event: %w", err)
	}

	e.ParentEventID = parent.String
	e.PersonID = person.String
	e.ToolName = tool.String
	e.LastAccessed = timePtr(lastAccessed)
	e.Metadata = unmarshalMeta(meta.String)

	if len(embedding) > 0 {
		vec, err := embed.Unpack(embedding)
		if err != nil {
			// Dimension mismatch is a fatal load error per the data model.
			return nil, fmt.Errorf("memory: event %s: %w", e.ID, err)
		}
		e.ContentEmbedding = vec
	}
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
