package identity

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	_ "modernc.org/sqlite"
)

const (
	keyTokenID    = "token_id"
	keyRegistered = "registered"
)

// SQLiteStore persists the identity in a key/value table so it survives
// process restarts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open identity db: %w", err)
	}
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS device_identity (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("migrate identity db: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Identity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM device_identity`)
	if err != nil {
		return Identity{}, err
	}
	defer func() { _ = rows.Close() }()

	var id Identity
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Identity{}, err
		}
		switch key {
		case keyTokenID:
			id.TokenID = value
		case keyRegistered:
			id.Registered, _ = strconv.ParseBool(value)
		}
	}
	if err := rows.Err(); err != nil {
		return Identity{}, err
	}
	if id.TokenID == "" {
		id.Registered = false
	}
	return id, nil
}

func (s *SQLiteStore) Save(ctx context.Context, id Identity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO device_identity (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := tx.ExecContext(ctx, query, keyTokenID, id.TokenID); err != nil {
		return fmt.Errorf("failed to store token id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, keyRegistered, strconv.FormatBool(id.Registered)); err != nil {
		return fmt.Errorf("failed to store registered flag: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM device_identity`)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
