package memory

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/nanoroom/internal/embed"
)

// UpsertSummaryNode creates or replaces the summary node for a key.
// Writing resets events_since_update to zero.
func (s *Store) UpsertSummaryNode(n *SummaryNode) (string, error) {
	n.LastUpdated = time.Now().UTC()

	existing, err := s.GetSummaryNode(n.Key)
	if err != nil {
		return "", err
	}
	if existing != nil {
		_, err := s.db.Exec(`
			UPDATE summary_nodes SET node_type = ?, parent_id = ?, summary = ?,
				summary_embedding = ?, events_since_update = 0, last_updated = ?
			WHERE id = ?`,
			n.NodeType, nullStr(n.ParentID), n.Summary,
			packOrNil(n.SummaryEmbedding), n.LastUpdated, existing.ID)
		if err != nil {
			return "", fmt.Errorf("memory: update summary node: %w", err)
		}
		return existing.ID, nil
	}

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	_, err = s.db.Exec(`
		INSERT INTO summary_nodes (id, node_type, key, parent_id, summary,
			summary_embedding, events_since_update, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		n.ID, n.NodeType, n.Key, nullStr(n.ParentID), n.Summary,
		packOrNil(n.SummaryEmbedding), n.LastUpdated)
	if err != nil {
		return "", fmt.Errorf("memory: insert summary node: %w", err)
	}
	return n.ID, nil
}

// GetSummaryNode fetches the node for a key, or nil when absent.
func (s *Store) GetSummaryNode(key string) (*SummaryNode, error) {
	row := s.db.QueryRow(summarySelect+" WHERE key = ?", key)
	return scanSummaryNode(row)
}

// BumpSummaryStaleness increments events_since_update for a key if the
// node exists; the refresh pass uses the counter to pick stale nodes.
func (s *Store) BumpSummaryStaleness(key string) error {
	_, err := s.db.Exec(`
		UPDATE summary_nodes SET events_since_update = events_since_update + 1
		WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("memory: bump summary staleness: %w", err)
	}
	return nil
}

// GetStaleSummaryNodes returns nodes with at least minEvents accumulated
// since their last refresh, most stale first.
func (s *Store) GetStaleSummaryNodes(minEvents, limit int) ([]*SummaryNode, error) {
	rows, err := s.db.Query(summarySelect+`
		WHERE events_since_update >= ?
		ORDER BY events_since_update DESC LIMIT ?`, minEvents, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: stale summary nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*SummaryNode
	for rows.Next() {
		n, err := scanSummaryNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// ListSummaryNodes returns all nodes of a type, or all nodes when the
// type filter is empty.
func (s *Store) ListSummaryNodes(nodeType string) ([]*SummaryNode, error) {
	q := summarySelect
	args := []interface{}{}
	if nodeType != "" {
		q += " WHERE node_type = ?"
		args = append(args, nodeType)
	}
	q += " ORDER BY last_updated DESC"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: list summary nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*SummaryNode
	for rows.Next() {
		n, err := scanSummaryNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

const summarySelect = `
	SELECT id, node_type, key, parent_id, summary, summary_embedding,
		events_since_update, last_updated
	FROM summary_nodes`

func scanSummaryNode(row rowScanner) (*SummaryNode, error) {
	var n SummaryNode
	var parent sql.NullString
	var emb []byte

	err := row.Scan(&n.ID, &n.NodeType, &n.Key, &parent, &n.Summary,
		&emb, &n.EventsSinceUpdate, &n.LastUpdated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: scan summary node: %w", err)
	}
	n.ParentID = parent.String
	if len(emb) > 0 {
		vec, err := embed.Unpack(emb)
		if err != nil {
			return nil, fmt.Errorf("memory: summary node %s: %w", n.ID, err)
		}
		n.SummaryEmbedding = vec
	}
	return &n, nil
}
