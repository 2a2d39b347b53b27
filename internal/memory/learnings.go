package memory

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/nanoroom/internal/embed"
)

// Learning maintenance constants. Decay compounds per day of inactivity;
// a boost on access caps at 1.0; rows below the floor are removed.
const (
	LearningDecayRate    = 0.05
	LearningBoostFactor  = 1.2
	LearningRemovalFloor = 0.1
)

// SaveLearning inserts a new learning.
func (s *Store) SaveLearning(l *Learning) (string, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	if l.RelevanceScore == 0 {
		l.RelevanceScore = 1.0
	}
	if l.Sentiment == "" {
		l.Sentiment = SentimentNeutral
	}

	_, err := s.db.Exec(`
		INSERT INTO learnings (id, content, source, sentiment, confidence,
			tool_name, recommendation, superseded_by, content_embedding,
			created_at, updated_at, relevance_score, times_accessed, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Content, l.Source, l.Sentiment, l.Confidence,
		nullStr(l.ToolName), nullStr(l.Recommendation), nullStr(l.SupersededBy),
		packOrNil(l.ContentEmbedding), l.CreatedAt, l.UpdatedAt,
		l.RelevanceScore, l.TimesAccessed, nullTime(l.LastAccessed))
	if err != nil {
		return "", fmt.Errorf("memory: save learning: %w", err)
	}
	return l.ID, nil
}

// GetLearning fetches one learning by id.
func (s *Store) GetLearning(id string) (*Learning, error) {
	row := s.db.QueryRow(learningSelect+" WHERE id = ?", id)
	return scanLearning(row)
}

// GetActiveLearnings returns non-superseded learnings, most relevant first.
func (s *Store) GetActiveLearnings(limit int) ([]*Learning, error) {
	rows, err := s.db.Query(learningSelect+`
		WHERE superseded_by IS NULL OR superseded_by = ''
		ORDER BY relevance_score DESC, updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: active learnings: %w", err)
	}
	defer rows.Close()
	return scanLearnings(rows)
}

// SearchLearnings ranks active learnings by content-embedding similarity.
func (s *Store) SearchLearnings(query []float32, limit int, threshold float64) ([]*Learning, error) {
	rows, err := s.db.Query(learningSelect + `
		WHERE (superseded_by IS NULL OR superseded_by = '')
			AND content_embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("memory: search learnings: %w", err)
	}
	defer rows.Close()

	all, err := scanLearnings(rows)
	if err != nil {
		return nil, err
	}

	type scored struct {
		l   *Learning
		sim float64
	}
	var hits []scored
	for _, l := range all {
		sim := embed.Cosine(query, l.ContentEmbedding)
		if sim >= threshold {
			hits = append(hits, scored{l, sim})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].sim > hits[j].sim })

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]*Learning, len(hits))
	for i, h := range hits {
		out[i] = h.l
	}
	return out, nil
}

// BoostLearning marks a learning as accessed: relevance multiplies by the
// boost factor capped at 1.0, and access counters advance.
func (s *Store) BoostLearning(id string) error {
	l, err := s.GetLearning(id)
	if err != nil {
		return err
	}
	if l == nil {
		return fmt.Errorf("memory: boost learning: %s not found", id)
	}
	now := time.Now().UTC()
	score := math.Min(1.0, l.RelevanceScore*LearningBoostFactor)
	_, err = s.db.Exec(`
		UPDATE learnings SET relevance_score = ?, times_accessed = times_accessed + 1,
			last_accessed = ?, updated_at = ?
		WHERE id = ?`, score, now, now, id)
	if err != nil {
		return fmt.Errorf("memory: boost learning: %w", err)
	}
	return nil
}

// SupersedeLearning points an old learning at its replacement. Superseded
// rows stay in the table but drop out of active queries.
func (s *Store) SupersedeLearning(oldID, newID string) error {
	_, err := s.db.Exec(`
		UPDATE learnings SET superseded_by = ?, updated_at = ? WHERE id = ?`,
		newID, time.Now().UTC(), oldID)
	if err != nil {
		return fmt.Errorf("memory: supersede learning: %w", err)
	}
	return nil
}

// DecayLearnings applies compound daily decay to every active learning
// based on days since last access (falling back to updated_at), then
// removes rows whose score fell below the floor. Returns decayed and
// removed counts.
func (s *Store) DecayLearnings(now time.Time) (decayed, removed int, err error) {
	rows, err := s.db.Query(learningSelect + `
		WHERE superseded_by IS NULL OR superseded_by = ''`)
	if err != nil {
		return 0, 0, fmt.Errorf("memory: decay learnings: %w", err)
	}
	all, err := scanLearnings(rows)
	rows.Close()
	if err != nil {
		return 0, 0, err
	}

	for _, l := range all {
		ref := l.UpdatedAt
		if l.LastAccessed != nil && l.LastAccessed.After(ref) {
			ref = *l.LastAccessed
		}
		days := now.Sub(ref).Hours() / 24
		if days < 1 {
			continue
		}
		score := l.RelevanceScore * math.Pow(1-LearningDecayRate, days)
		if score < LearningRemovalFloor {
			if _, err := s.db.Exec("DELETE FROM learnings WHERE id = ?", l.ID); err != nil {
				return decayed, removed, fmt.Errorf("memory: remove decayed learning: %w", err)
			}
			removed++
			continue
		}
		if _, err := s.db.Exec(
			"UPDATE learnings SET relevance_score = ? WHERE id = ?", score, l.ID); err != nil {
			return decayed, removed, fmt.Errorf("memory: decay learning: %w", err)
		}
		decayed++
	}
	return decayed, removed, nil
}

const learningSelect = `
	SELECT id, content, source, sentiment, confidence, tool_name,
		recommendation, superseded_by, content_embedding, created_at,
		updated_at, relevance_score, times_accessed, last_accessed
	FROM learnings`

func scanLearning(row rowScanner) (*Learning, error) {
	var l Learning
	var tool, rec, superseded sql.NullString
	var emb []byte
	var lastAccessed sql.NullTime

	err := row.Scan(&l.ID, &l.Content, &l.Source, &l.Sentiment, &l.Confidence,
		&tool, &rec, &superseded, &emb, &l.CreatedAt, &l.UpdatedAt,
		&l.RelevanceScore, &l.TimesAccessed, &lastAccessed)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: scan learning: %w", err)
	}
	l.ToolName = tool.String
	l.Recommendation = rec.String
	l.SupersededBy = superseded.String
	l.LastAccessed = timePtr(lastAccessed)
	if len(emb) > 0 {
		vec, err := embed.Unpack(emb)
		if err != nil {
			return nil, fmt.Errorf("memory: learning %s: %w", l.ID, err)
		}
		l.ContentEmbedding = vec
	}
	return &l, nil
}

func scanLearnings(rows *sql.Rows) ([]*Learning, error) {
	var out []*Learning
	for rows.Next() {
		l, err := scanLearning(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
