package memory

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveEdge inserts a relation, or reinforces an existing one between the
// same entities with the same relation (strength keeps the max, last_seen
// extends, source events merge).
func (s *Store) SaveEdge(e *Edge) (string, error) {
	now := time.Now().UTC()
	if e.FirstSeen.IsZero() {
		e.FirstSeen = now
	}
	if e.LastSeen.IsZero() {
		e.LastSeen = now
	}

	existing, err := s.findEdge(e.SourceID, e.TargetID, e.Relation)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if e.Strength > existing.Strength {
			existing.Strength = e.Strength
		}
		existing.LastSeen = e.LastSeen
		existing.SourceEventIDs = mergeIDs(existing.SourceEventIDs, e.SourceEventIDs)
		_, err := s.db.Exec(`
			UPDATE edges SET strength = ?, last_seen = ?, source_event_ids = ? WHERE id = ?`,
			existing.Strength, existing.LastSeen, marshalList(existing.SourceEventIDs), existing.ID)
		if err != nil {
			return "", fmt.Errorf("memory: reinforce edge: %w", err)
		}
		return existing.ID, nil
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err = s.db.Exec(`
		INSERT INTO edges (id, source_id, target_id, relation, relation_type,
			strength, source_event_ids, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SourceID, e.TargetID, e.Relation, e.RelationType,
		e.Strength, marshalList(e.SourceEventIDs), e.FirstSeen, e.LastSeen)
	if err != nil {
		return "", fmt.Errorf("memory: save edge: %w", err)
	}
	return e.ID, nil
}

func (s *Store) findEdge(sourceID, targetID, relation string) (*Edge, error) {
	row := s.db.QueryRow(edgeSelect+`
		WHERE source_id = ? AND target_id = ? AND relation = ?`,
		sourceID, targetID, relation)
	return scanEdge(row)
}

// GetEdgesForEntity returns edges touching an entity in either direction.
func (s *Store) GetEdgesForEntity(entityID string, limit int) ([]*Edge, error) {
	rows, err := s.db.Query(edgeSelect+`
		WHERE source_id = ? OR target_id = ?
		ORDER BY last_seen DESC LIMIT ?`, entityID, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: edges for entity: %w", err)
	}
	defer rows.Close()

	var edges []*Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

const edgeSelect = `
	SELECT id, source_id, target_id, relation, relation_type, strength,
		source_event_ids, first_seen, last_seen
	FROM edges`

func scanEdge(row rowScanner) (*Edge, error) {
	var e Edge
	var sourceIDs sql.NullString
	err := row.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &e.RelationType,
		&e.Strength, &sourceIDs, &e.FirstSeen, &e.LastSeen)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: scan edge: %w", err)
	}
	e.SourceEventIDs = unmarshalList(sourceIDs.String)
	return &e, nil
}

// SaveFact inserts a fact. Facts are additive; contradictions arrive as
// newer facts that supersede by recency, never by overwrite.
func (s *Store) SaveFact(f *Fact) (string, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO facts (id, subject_entity_id, predicate, object_text,
			object_entity_id, fact_type, confidence, strength, source_event_ids,
			valid_from, valid_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.SubjectEntityID, f.Predicate, f.ObjectText,
		nullStr(f.ObjectEntityID), f.FactType, f.Confidence, f.Strength,
		marshalList(f.SourceEventIDs), nullTime(f.ValidFrom), nullTime(f.ValidTo),
		f.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("memory: save fact: %w", err)
	}
	return f.ID, nil
}

// GetFactsForEntity returns facts about an entity, newest first.
func (s *Store) GetFactsForEntity(entityID string, limit int) ([]*Fact, error) {
	rows, err := s.db.Query(`
		SELECT id, subject_entity_id, predicate, object_text, object_entity_id,
			fact_type, confidence, strength, source_event_ids, valid_from,
			valid_to, created_at
		FROM facts
		WHERE subject_entity_id = ? OR object_entity_id = ?
		ORDER BY created_at DESC LIMIT ?`, entityID, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: facts for entity: %w", err)
	}
	defer rows.Close()

	var facts []*Fact
	for rows.Next() {
		var f Fact
		var objectID, sourceIDs sql.NullString
		var validFrom, validTo sql.NullTime
		err := rows.Scan(&f.ID, &f.SubjectEntityID, &f.Predicate, &f.ObjectText,
			&objectID, &f.FactType, &f.Confidence, &f.Strength, &sourceIDs,
			&validFrom, &validTo, &f.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("memory: scan fact: %w", err)
		}
		f.ObjectEntityID = objectID.String
		f.SourceEventIDs = unmarshalList(sourceIDs.String)
		f.ValidFrom = timePtr(validFrom)
		f.ValidTo = timePtr(validTo)
		facts = append(facts, &f)
	}
	return facts, rows.Err()
}

func mergeIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string{}, a...)
	for _, id := range a {
		seen[id] = true
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
