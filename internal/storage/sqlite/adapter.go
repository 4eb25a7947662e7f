// Package sqlite implements the attribute store on an embedded SQLite
// database.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"claim-enricher/internal/storage"
)

type Adapter struct {
	db     *sql.DB
	config *Config
}

// NewAdapter opens (or creates) the database at the configured path and runs
// migrations.
func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{
		db:     db,
		config: config,
	}

	if err := adapter.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) Health() error {
	return a.db.Ping()
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS identities (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS identity_attributes (
			identity_id TEXT NOT NULL,
			name TEXT NOT NULL,
			position INTEGER NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (identity_id, name, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_identity_attributes_lookup
			ON identity_attributes(identity_id, name)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// GetAttribute returns all values for (identityID, name) in stored order
func (a *Adapter) GetAttribute(identityID, name string) ([]string, error) {
	rows, err := a.db.Query(
		`SELECT value FROM identity_attributes
		 WHERE identity_id = ? AND name = ?
		 ORDER BY position`,
		identityID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query attribute: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan attribute value: %w", err)
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

// SetAttribute replaces all values for (identityID, name) in one transaction
func (a *Adapter) SetAttribute(identityID, name string, values []string) error {
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM identity_attributes WHERE identity_id = ? AND name = ?`,
		identityID, name); err != nil {
		return fmt.Errorf("failed to clear attribute: %w", err)
	}

	for i, value := range values {
		if _, err := tx.Exec(
			`INSERT INTO identity_attributes (identity_id, name, position, value)
			 VALUES (?, ?, ?, ?)`,
			identityID, name, i, value); err != nil {
			return fmt.Errorf("failed to insert attribute value: %w", err)
		}
	}

	return tx.Commit()
}

// GetIdentity returns the identity row plus all of its profile attributes
func (a *Adapter) GetIdentity(identityID string) (*storage.Identity, error) {
	identity := &storage.Identity{}
	err := a.db.QueryRow(
		`SELECT id, username, email, first_name, last_name
		 FROM identities WHERE id = ?`,
		identityID).Scan(&identity.ID, &identity.Username, &identity.Email,
		&identity.FirstName, &identity.LastName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query identity: %w", err)
	}

	rows, err := a.db.Query(
		`SELECT name, value FROM identity_attributes
		 WHERE identity_id = ?
		 ORDER BY name, position`,
		identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query identity attributes: %w", err)
	}
	defer rows.Close()

	identity.Attributes = make(map[string][]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan identity attribute: %w", err)
		}
		identity.Attributes[name] = append(identity.Attributes[name], value)
	}
	return identity, rows.Err()
}

// UpsertIdentity creates or updates an identity row
func (a *Adapter) UpsertIdentity(identity *storage.Identity) error {
	_, err := a.db.Exec(
		`INSERT INTO identities (id, username, email, first_name, last_name)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			email = excluded.email,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			updated_at = CURRENT_TIMESTAMP`,
		identity.ID, identity.Username, identity.Email,
		identity.FirstName, identity.LastName)
	if err != nil {
		return fmt.Errorf("failed to upsert identity: %w", err)
	}

	for name, values := range identity.Attributes {
		if err := a.SetAttribute(identity.ID, name, values); err != nil {
			return err
		}
	}
	return nil
}
