package db

import (
	"fmt"
	"time"
)

// CommandRecord is one handshake in the command log.
type CommandRecord struct {
	ID        int64         `json:"id"`
	Opcode    string        `json:"opcode"`
	Argument  string        `json:"argument"`
	Result    string        `json:"result"`
	Duration  time.Duration `json:"duration_ns"`
	Discarded uint64        `json:"discarded"`
	Error     string        `json:"error,omitempty"`
	SentAt    time.Time     `json:"sent_at"`
}

// RecordCommand appends a handshake to the command log.
func (db *DB) RecordCommand(c CommandRecord) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO commands (opcode, argument, result, duration_ms, discarded, error, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Opcode, c.Argument, c.Result, c.Duration.Milliseconds(), int64(c.Discarded), c.Error, c.SentAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record command %s%s: %w", c.Opcode, c.Argument, err)
	}
	return res.LastInsertId()
}

// RecentCommands returns up to limit log entries, newest first.
func (db *DB) RecentCommands(limit int) ([]CommandRecord, error) {
	rows, err := db.Query(
		`SELECT command_id, opcode, argument, result, duration_ms, discarded, error, sent_at
		 FROM commands ORDER BY sent_at DESC, command_id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	commands := []CommandRecord{}
	for rows.Next() {
		var (
			c          CommandRecord
			durationMs int64
			discarded  int64
			sentAt     int64
		)
		if err := rows.Scan(&c.ID, &c.Opcode, &c.Argument, &c.Result, &durationMs, &discarded, &c.Error, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		c.Duration = time.Duration(durationMs) * time.Millisecond
		c.Discarded = uint64(discarded)
		c.SentAt = time.Unix(0, sentAt).UTC()
		commands = append(commands, c)
	}
	return commands, rows.Err()
}
