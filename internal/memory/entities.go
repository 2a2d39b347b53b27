package memory

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/nanoroom/internal/embed"
)

// SaveEntity inserts a new entity.
func (s *Store) SaveEntity(e *Entity) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.FirstSeen.IsZero() {
		e.FirstSeen = now
	}
	if e.LastSeen.IsZero() {
		e.LastSeen = now
	}

	_, err := s.db.Exec(`
		INSERT INTO entities (id, name, entity_type, aliases, description,
			name_embedding, description_embedding, source_event_ids, event_count,
			first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.EntityType, marshalList(e.Aliases), e.Description,
		packOrNil(e.NameEmbedding), packOrNil(e.DescriptionEmbedding),
		marshalList(e.SourceEventIDs), e.EventCount, e.FirstSeen, e.LastSeen)
	if err != nil {
		return "", fmt.Errorf("memory: save entity: %w", err)
	}
	return e.ID, nil
}

// UpdateEntity rewrites the mutable columns of an existing entity.
func (s *Store) UpdateEntity(e *Entity) error {
	_, err := s.db.Exec(`
		UPDATE entities SET name = ?, entity_type = ?, aliases = ?, description = ?,
			name_embedding = ?, description_embedding = ?, source_event_ids = ?,
			event_count = ?, last_seen = ?
		WHERE id = ?`,
		e.Name, e.EntityType, marshalList(e.Aliases), e.Description,
		packOrNil(e.NameEmbedding), packOrNil(e.DescriptionEmbedding),
		marshalList(e.SourceEventIDs), e.EventCount, e.LastSeen, e.ID)
	if err != nil {
		return fmt.Errorf("memory: update entity: %w", err)
	}
	return nil
}

// GetEntity fetches one entity by id.
func (s *Store) GetEntity(id string) (*Entity, error) {
	row := s.db.QueryRow(entitySelect+" WHERE id = ?", id)
	return scanEntity(row)
}

// FindEntityByName matches name or any alias, case-insensitively.
func (s *Store) FindEntityByName(name string) (*Entity, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return nil, nil
	}

	// Fast path: direct name match via the NOCASE index.
	row := s.db.QueryRow(entitySelect+" WHERE name = ? COLLATE NOCASE", lower)
	if e, err := scanEntity(row); err != nil {
		return nil, err
	} else if e != nil {
		return e, nil
	}

	// Alias scan. Aliases are a JSON list column, so match in Go.
	rows, err := s.db.Query(entitySelect + " WHERE aliases IS NOT NULL AND aliases != ''")
	if err != nil {
		return nil, fmt.Errorf("memory: find by alias: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		for _, alias := range e.Aliases {
			if strings.ToLower(alias) == lower {
				return e, nil
			}
		}
	}
	return nil, rows.Err()
}

// ListEntities returns entities ordered by recency, optionally filtered
// by type.
func (s *Store) ListEntities(entityType string, limit int) ([]*Entity, error) {
	q := entitySelect
	args := []interface{}{}
	if entityType != "" {
		q += " WHERE entity_type = ?"
		args = append(args, entityType)
	}
	q += " ORDER BY last_seen DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: list entities: %w", err)
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// GetSimilarEntities ranks entities by name-embedding cosine similarity.
func (s *Store) GetSimilarEntities(query []float32, entityType string, limit int, threshold float64) ([]ScoredEntity, error) {
	q := entitySelect + " WHERE name_embedding IS NOT NULL"
	args := []interface{}{}
	if entityType != "" {
		q += " AND entity_type = ?"
		args = append(args, entityType)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: similar entities: %w", err)
	}
	defer rows.Close()

	var scored []ScoredEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		sim := embed.Cosine(query, e.NameEmbedding)
		if sim >= threshold {
			scored = append(scored, ScoredEntity{Entity: e, Similarity: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// DeleteEntity removes an entity and its edges and facts.
func (s *Store) DeleteEntity(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM edges WHERE source_id = ? OR target_id = ?",
		"DELETE FROM facts WHERE subject_entity_id = ? OR object_entity_id = ?",
	} {
		if _, err := tx.Exec(q, id, id); err != nil {
			return fmt.Errorf("memory: delete entity refs: %w", err)
		}
	}
	if _, err := tx.Exec("DELETE FROM entities WHERE id = ?", id); err != nil {
		return fmt.Errorf("memory: delete entity: %w", err)
	}
	return tx.Commit()
}

const entitySelect = `
	SELECT id, name, entity_type, aliases, description, name_embedding,
		description_embedding, source_event_ids, event_count, first_seen, last_seen
	FROM entities`

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var aliases, sourceIDs sql.NullString
	var nameEmb, descEmb []byte

	err := row.Scan(&e.ID, &e.Name, &e.EntityType, &aliases, &e.Description,
		&nameEmb, &descEmb, &sourceIDs, &e.EventCount, &e.FirstSeen, &e.LastSeen)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: scan entity: %w", err)
	}

	e.Aliases = unmarshalList(aliases.String)
	e.SourceEventIDs = unmarshalList(sourceIDs.String)

	if len(nameEmb) > 0 {
		vec, err := embed.Unpack(nameEmb)
		if err != nil {
			return nil, fmt.Errorf("memory: entity %s name embedding: %w", e.ID, err)
		}
		e.NameEmbedding = vec
	}
	if len(descEmb) > 0 {
		vec, err := embed.Unpack(descEmb)
		if err != nil {
			return nil, fmt.Errorf("memory: entity %s description embedding: %w", e.ID, err)
		}
		e.DescriptionEmbedding = vec
	}
	return &e, nil
}

func packOrNil(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	return embed.Pack(vec)
}
