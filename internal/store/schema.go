package store

import (
	"database/sql"
	"fmt"
)

const schemaVersion = 1

func initSchema(db *sql.DB) error {
	var version int
	err := db.QueryRow("PRAGMA user_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if version == schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := createTables(tx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return tx.Commit()
}

func createTables(tx *sql.Tx) error {
	queries := []string{
		// Documents whose contents were fetched. Contents never change on
		// the server, so a row here means the chunks are complete.
		`CREATE TABLE IF NOT EXISTS documents (
            project INTEGER NOT NULL,
            document INTEGER NOT NULL,
            name TEXT NOT NULL DEFAULT '',
            text_direction TEXT NOT NULL DEFAULT 'LEFT_TO_RIGHT',
            fetched_at INTEGER NOT NULL DEFAULT 0,
            PRIMARY KEY (project, document)
        )`,

		// HTML chunks of a document, in order
		`CREATE TABLE IF NOT EXISTS chunks (
            project INTEGER NOT NULL,
            document INTEGER NOT NULL,
            seq INTEGER NOT NULL,
            "offset" INTEGER NOT NULL,
            contents TEXT NOT NULL,
            FOREIGN KEY (project, document) REFERENCES documents(project, document) ON DELETE CASCADE,
            PRIMARY KEY (project, document, seq)
        )`,

		`CREATE TABLE IF NOT EXISTS tags (
            project INTEGER NOT NULL,
            id INTEGER NOT NULL,
            path TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            highlights_count INTEGER NOT NULL DEFAULT 0,
            PRIMARY KEY (project, id)
        )`,

		// Id of the last project event applied locally
		`CREATE TABLE IF NOT EXISTS cursors (
            project INTEGER PRIMARY KEY,
            last_event INTEGER NOT NULL
        )`,
	}

	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %q: %w", query, err)
		}
	}

	return nil
}
