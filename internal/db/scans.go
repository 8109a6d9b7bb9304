package db

import (
	"fmt"
	"time"
)

// DefaultListLimit caps list queries when the caller passes no limit.
const DefaultListLimit = 100

// MaxListLimit is the largest accepted list limit.
const MaxListLimit = 1000

// ScanRecord is one stored barcode.
type ScanRecord struct {
	ID        string    `json:"id"`
	Payload   string    `json:"payload"`
	CodeID    string    `json:"code_id,omitempty"`
	Truncated bool      `json:"truncated"`
	ScannedAt time.Time `json:"scanned_at"`
}

// RecordScan inserts a scan. Scan ids are unique; recording the same id
// twice is an error.
func (db *DB) RecordScan(s ScanRecord) error {
	_, err := db.Exec(
		`INSERT INTO scans (scan_id, payload, code_id, truncated, scanned_at) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.Payload, s.CodeID, boolInt(s.Truncated), s.ScannedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record scan %s: %w", s.ID, err)
	}
	return nil
}

// RecentScans returns up to limit scans, newest first.
func (db *DB) RecentScans(limit int) ([]ScanRecord, error) {
	rows, err := db.Query(
		`SELECT scan_id, payload, code_id, truncated, scanned_at FROM scans
		 ORDER BY scanned_at DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	scans := []ScanRecord{}
	for rows.Next() {
		var (
			s         ScanRecord
			truncated int
			scannedAt int64
		)
		if err := rows.Scan(&s.ID, &s.Payload, &s.CodeID, &truncated, &scannedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		s.Truncated = truncated == 1
		s.ScannedAt = time.Unix(0, scannedAt).UTC()
		scans = append(scans, s)
	}
	return scans, rows.Err()
}

// ScanCount returns the number of stored scans.
func (db *DB) ScanCount() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM scans`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count scans: %w", err)
	}
	return n, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
