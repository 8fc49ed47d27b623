package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/embedstore/internal/models"
)

// SQLiteFileName is the database file created under the storage root.
const SQLiteFileName = "embedstore.db"

// SQLitePath returns the database location for a storage root.
func SQLitePath(root string) string {
	return filepath.Join(root, SQLiteFileName)
}

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS catalog_entries (
		namespace TEXT NOT NULL,
		id TEXT NOT NULL,
		metadata TEXT NOT NULL,
		updated_at TIMESTAMP,
		PRIMARY KEY (namespace, id)
	);

	CREATE INDEX IF NOT EXISTS idx_catalog_namespace ON catalog_entries(namespace);

	CREATE TABLE IF NOT EXISTS namespaces (
		name TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL,
		directory TEXT,
		created_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS embedding_failures (
		text_hash TEXT PRIMARY KEY,
		text_preview TEXT,
		failure_count INTEGER NOT NULL,
		last_failure_time TIMESTAMP,
		last_error_message TEXT
	);
	`
	_, err := db.Exec(schema)
	return err
}

// SaveCatalog replaces the catalog rows of ns in one transaction.
func (s *SQLiteStorage) SaveCatalog(ctx context.Context, ns string, entries map[string]*models.EmbeddingMetadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_entries WHERE namespace = ?`, ns); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO catalog_entries (namespace, id, metadata, updated_at) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, meta := range entries {
		metadataJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		var updated time.Time
		if meta != nil {
			updated = meta.UpdatedAt
		}
		if _, err := stmt.ExecContext(ctx, ns, id, string(metadataJSON), updated); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadCatalog returns every catalog row of ns.
func (s *SQLiteStorage) LoadCatalog(ctx context.Context, ns string) (map[string]*models.EmbeddingMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, metadata FROM catalog_entries WHERE namespace = ?`, ns,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := map[string]*models.EmbeddingMetadata{}
	for rows.Next() {
		var id, metadataJSON string
		if err := rows.Scan(&id, &metadataJSON); err != nil {
			return nil, err
		}
		var meta *models.EmbeddingMetadata
		if err := json.Unmarshal([]byte(metadataJSON), &meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", id, err)
		}
		entries[id] = meta
	}
	return entries, rows.Err()
}

// DeleteCatalog removes the catalog rows of ns.
func (s *SQLiteStorage) DeleteCatalog(ctx context.Context, ns string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM catalog_entries WHERE namespace = ?`, ns)
	return err
}

// SaveNamespaces replaces the namespace registry.
func (s *SQLiteStorage) SaveNamespaces(ctx context.Context, namespaces map[string]models.Namespace) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM namespaces`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO namespaces (name, dimension, directory, created_at) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for name, ns := range namespaces {
		if _, err := stmt.ExecContext(ctx, name, ns.Dimension, ns.Directory, ns.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadNamespaces returns the namespace registry.
func (s *SQLiteStorage) LoadNamespaces(ctx context.Context) (map[string]models.Namespace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, dimension, directory, created_at FROM namespaces`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	namespaces := map[string]models.Namespace{}
	for rows.Next() {
		var ns models.Namespace
		var dir sql.NullString
		var created sql.NullTime
		if err := rows.Scan(&ns.Name, &ns.Dimension, &dir, &created); err != nil {
			return nil, err
		}
		ns.Directory = dir.String
		ns.CreatedAt = created.Time
		namespaces[ns.Name] = ns
	}
	return namespaces, rows.Err()
}

// SaveFailures replaces the failure log.
func (s *SQLiteStorage) SaveFailures(ctx context.Context, failures map[string]models.EmbeddingFailure) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embedding_failures`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO embedding_failures (text_hash, text_preview, failure_count, last_failure_time, last_error_message)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for hash, f := range failures {
		if _, err := stmt.ExecContext(ctx, hash, f.TextPreview, f.FailureCount, f.LastFailureTime, f.LastErrorMessage); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadFailures returns the failure log.
func (s *SQLiteStorage) LoadFailures(ctx context.Context) (map[string]models.EmbeddingFailure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT text_hash, text_preview, failure_count, last_failure_time, last_error_message
		 FROM embedding_failures`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	failures := map[string]models.EmbeddingFailure{}
	for rows.Next() {
		var f models.EmbeddingFailure
		var preview, msg sql.NullString
		var last sql.NullTime
		if err := rows.Scan(&f.TextHash, &preview, &f.FailureCount, &last, &msg); err != nil {
			return nil, err
		}
		f.TextPreview = preview.String
		f.LastErrorMessage = msg.String
		f.LastFailureTime = last.Time
		failures[f.TextHash] = f
	}
	return failures, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
