package db

import (
	"fmt"
	"time"
)

// ProofRecord is metadata about a generated artifact. The artifact bytes
// themselves are returned to the caller, never stored server-side.
type ProofRecord struct {
	ID            int64     `json:"id"`
	Filename      string    `json:"filename"`
	Size          int64     `json:"size"`
	SHA256        string    `json:"sha256"`
	CorrelationID string    `json:"correlation_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// InsertProof records a newly generated proof artifact.
func (s *Store) InsertProof(p *ProofRecord) error {
	res, err := s.db.Exec(
		`INSERT INTO proofs (filename, size, sha256, correlation_id) VALUES (?, ?, ?, ?)`,
		p.Filename, p.Size, p.SHA256, p.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("insert proof: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("proof insert id: %w", err)
	}
	p.ID = id
	return nil
}

// ListProofs returns the most recent proof records, newest first.
func (s *Store) ListProofs(limit int) ([]ProofRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, filename, size, sha256, correlation_id, created_at
		 FROM proofs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list proofs: %w", err)
	}
	defer rows.Close()

	var out []ProofRecord
	for rows.Next() {
		var p ProofRecord
		if err := rows.Scan(&p.ID, &p.Filename, &p.Size, &p.SHA256, &p.CorrelationID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan proof: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProofsBefore removes records older than cutoff and reports how many.
func (s *Store) DeleteProofsBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM proofs WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old proofs: %w", err)
	}
	return res.RowsAffected()
}
