package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scrtlabs/attesthub/internal/logx"
)

// AttestationEvent is one recorded attestation attempt.
type AttestationEvent struct {
	ID        int64     `json:"id"`
	VM        string    `json:"vm"`
	Status    string    `json:"status"`
	Strategy  string    `json:"strategy,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordAttestation logs an attestation outcome. Implements dual.Recorder;
// a failed audit write must not fail the attestation itself, so errors are
// only logged.
func (s *Store) RecordAttestation(vm, status, strategy, errMsg string) {
	if _, err := s.db.Exec(
		`INSERT INTO attestation_log (vm, status, strategy, error) VALUES (?, ?, ?, ?)`,
		vm, status, strategy, errMsg,
	); err != nil {
		logx.Warnf("db: record attestation for %s: %v", vm, err)
	}
}

// RecentAttestations lists the latest events for one VM, newest first.
func (s *Store) RecentAttestations(vm string, limit int) ([]AttestationEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, vm, status, strategy, error, created_at
		 FROM attestation_log WHERE vm = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		vm, limit)
	if err != nil {
		return nil, fmt.Errorf("recent attestations: %w", err)
	}
	defer rows.Close()

	var out []AttestationEvent
	for rows.Next() {
		var e AttestationEvent
		if err := rows.Scan(&e.ID, &e.VM, &e.Status, &e.Strategy, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attestation event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastVerified returns when vm last produced a verified attestation.
func (s *Store) LastVerified(vm string) (time.Time, bool, error) {
	var ts time.Time
	err := s.db.QueryRow(
		`SELECT created_at FROM attestation_log
		 WHERE vm = ? AND status = 'verified' ORDER BY created_at DESC, id DESC LIMIT 1`,
		vm).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last verified: %w", err)
	}
	return ts, true, nil
}
