package db

import (
	"database/sql"
	"errors"
	"fmt"
)

var ErrSerialConfigNotFound = errors.New("serial config not found")

// SerialConfig is a named serial port configuration for a scanner.
type SerialConfig struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	PortPath    string `json:"port_path"`
	BaudRate    int    `json:"baud_rate"`
	DataBits    int    `json:"data_bits"`
	StopBits    int    `json:"stop_bits"`
	Parity      string `json:"parity"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

const serialConfigColumns = `id, name, port_path, baud_rate, data_bits, stop_bits, parity, enabled, description, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSerialConfig(row rowScanner) (SerialConfig, error) {
	var c SerialConfig
	var enabled int
	err := row.Scan(&c.ID, &c.Name, &c.PortPath, &c.BaudRate, &c.DataBits, &c.StopBits,
		&c.Parity, &enabled, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	c.Enabled = enabled == 1
	return c, err
}

// GetSerialConfigs returns all serial configurations, oldest first. With
// enabledOnly set, disabled rows are skipped.
func (db *DB) GetSerialConfigs(enabledOnly bool) ([]SerialConfig, error) {
	query := `SELECT ` + serialConfigColumns + ` FROM scanner_serial_config`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query serial configs: %w", err)
	}
	defer rows.Close()

	configs := []SerialConfig{}
	for rows.Next() {
		c, err := scanSerialConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan serial config: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// GetSerialConfig returns a single serial configuration by ID.
func (db *DB) GetSerialConfig(id int64) (*SerialConfig, error) {
	c, err := scanSerialConfig(db.QueryRow(
		`SELECT `+serialConfigColumns+` FROM scanner_serial_config WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrSerialConfigNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get serial config: %w", err)
	}
	return &c, nil
}

// CreateSerialConfig inserts c and returns its ID.
func (db *DB) CreateSerialConfig(c *SerialConfig) (int64, error) {
	result, err := db.Exec(
		`INSERT INTO scanner_serial_config (name, port_path, baud_rate, data_bits, stop_bits, parity, enabled, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.PortPath, c.BaudRate, c.DataBits, c.StopBits, c.Parity, boolInt(c.Enabled), c.Description)
	if err != nil {
		return 0, fmt.Errorf("failed to create serial config: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	c.ID = id
	return id, nil
}

// UpdateSerialConfig overwrites the row with c.ID.
func (db *DB) UpdateSerialConfig(c *SerialConfig) error {
	result, err := db.Exec(
		`UPDATE scanner_serial_config
		 SET name = ?, port_path = ?, baud_rate = ?, data_bits = ?, stop_bits = ?,
		     parity = ?, enabled = ?, description = ?
		 WHERE id = ?`,
		c.Name, c.PortPath, c.BaudRate, c.DataBits, c.StopBits, c.Parity, boolInt(c.Enabled), c.Description, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update serial config: %w", err)
	}
	return expectOneRow(result, c.ID)
}

// DeleteSerialConfig removes the row with id.
func (db *DB) DeleteSerialConfig(id int64) error {
	result, err := db.Exec(`DELETE FROM scanner_serial_config WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete serial config: %w", err)
	}
	return expectOneRow(result, id)
}

func expectOneRow(result sql.Result, id int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: id %d", ErrSerialConfigNotFound, id)
	}
	return nil
}
