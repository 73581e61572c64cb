package updatelog

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is the alternative update log engine, selected with -engine sqlite.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the update log database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite at %q: %w", path, err)
	}
	if _, err := db.Exec(
		`CREATE TABLE IF NOT EXISTS updates (
		doc text not null,
		seq integer not null,
		data blob not null,
		PRIMARY KEY (doc, seq)
		)`,
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create updates table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Append(name string, record []byte) error {
	if _, err := s.db.Exec(
		`INSERT INTO updates (doc, seq, data)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM updates WHERE doc = ?), ?)`,
		name, name, record,
	); err != nil {
		return fmt.Errorf("failed to append record for %q: %w", name, err)
	}
	return nil
}

func (s *SQLite) Records(name string) ([][]byte, error) {
	rows, err := s.db.Query(`SELECT data FROM updates WHERE doc = ? ORDER BY seq`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query records for %q: %w", name, err)
	}
	defer rows.Close()
	var records [][]byte
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan record for %q: %w", name, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records for %q: %w", name, err)
	}
	return records, nil
}

func (s *SQLite) ListNames() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT doc FROM updates ORDER BY doc`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan document name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return names, nil
}

func (s *SQLite) Clear(name string) error {
	if _, err := s.db.Exec(`DELETE FROM updates WHERE doc = ?`, name); err != nil {
		return fmt.Errorf("failed to clear %q: %w", name, err)
	}
	return nil
}

func (s *SQLite) Exists(name string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM updates WHERE doc = ? LIMIT 1`, name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %q: %w", name, err)
	}
	return true, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
