// store is the local sqlite cache of a Taguette project: document chunks,
// the tag index and the event cursor.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("taglight.store")

type Chunk struct {
	Offset   int
	Contents string
}

type Document struct {
	Project       int
	ID            int
	Name          string
	TextDirection string
	FetchedAt     time.Time
	// Chunks is empty for documents listed without their contents.
	Chunks []Chunk
}

type Tag struct {
	ID          int
	Path        string
	Description string
	Count       int
}

type SQLiteDB struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(`
        PRAGMA foreign_keys = ON;
        PRAGMA journal_mode = WAL;
    `); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debugf("opened cache %s", path)
	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func (s *SQLiteDB) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}

	return nil
}

// SaveDocument stores a document and replaces its chunks.
func (s *SQLiteDB) SaveDocument(doc Document) error {
	fetched := doc.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now()
	}
	return s.withTx(func(tx *sql.Tx) error {
		if err := upsertDocument(tx, doc.Project, doc.ID, doc.Name, doc.TextDirection, fetched.Unix()); err != nil {
			return err
		}

		if _, err := tx.Exec(
			"DELETE FROM chunks WHERE project = ? AND document = ?",
			doc.Project, doc.ID,
		); err != nil {
			return fmt.Errorf("failed to delete existing chunks: %w", err)
		}

		stmt, err := tx.Prepare(
			`INSERT INTO chunks (project, document, seq, "offset", contents) VALUES (?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return fmt.Errorf("failed to prepare chunk insert statement: %w", err)
		}
		defer stmt.Close()

		for seq, chunk := range doc.Chunks {
			if _, err := stmt.Exec(doc.Project, doc.ID, seq, chunk.Offset, chunk.Contents); err != nil {
				return fmt.Errorf("failed to insert chunk %d: %w", seq, err)
			}
		}
		return nil
	})
}

// TouchDocument records a document's name and direction without contents,
// as announced by a document_add event. FetchedAt stays zero until the
// contents are saved. An empty direction keeps the known one.
func (s *SQLiteDB) TouchDocument(project, id int, name, direction string) error {
	dir := direction
	if dir == "" {
		dir = "LEFT_TO_RIGHT"
	}
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
            INSERT INTO documents (project, document, name, text_direction, fetched_at)
            VALUES (?, ?, ?, ?, 0)
            ON CONFLICT(project, document) DO UPDATE SET
                name = excluded.name,
                text_direction = CASE WHEN ? = '' THEN documents.text_direction ELSE excluded.text_direction END
        `, project, id, name, dir, direction)
		if err != nil {
			return fmt.Errorf("failed to record document %d: %w", id, err)
		}
		return nil
	})
}

func upsertDocument(tx *sql.Tx, project, id int, name, direction string, fetched int64) error {
	if direction == "" {
		direction = "LEFT_TO_RIGHT"
	}
	_, err := tx.Exec(`
        INSERT INTO documents (project, document, name, text_direction, fetched_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(project, document) DO UPDATE SET
            name = CASE WHEN excluded.name = '' THEN documents.name ELSE excluded.name END,
            text_direction = excluded.text_direction,
            fetched_at = excluded.fetched_at
    `, project, id, name, direction, fetched)
	if err != nil {
		return fmt.Errorf("failed to upsert document %d: %w", id, err)
	}
	return nil
}

// LoadDocument returns a fetched document with its chunks. Documents that
// were only announced return ErrNotFound.
func (s *SQLiteDB) LoadDocument(project, id int) (Document, error) {
	doc := Document{Project: project, ID: id}
	var fetched int64
	err := s.db.QueryRow(
		"SELECT name, text_direction, fetched_at FROM documents WHERE project = ? AND document = ?",
		project, id,
	).Scan(&doc.Name, &doc.TextDirection, &fetched)
	if err == sql.ErrNoRows || (err == nil && fetched == 0) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to query document: %w", err)
	}
	doc.FetchedAt = time.Unix(fetched, 0)

	rows, err := s.db.Query(
		`SELECT "offset", contents FROM chunks WHERE project = ? AND document = ? ORDER BY seq`,
		project, id,
	)
	if err != nil {
		return Document{}, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.Offset, &c.Contents); err != nil {
			return Document{}, fmt.Errorf("failed to scan chunk: %w", err)
		}
		doc.Chunks = append(doc.Chunks, c)
	}
	if err := rows.Err(); err != nil {
		return Document{}, fmt.Errorf("failed to read chunks: %w", err)
	}
	return doc, nil
}

// Documents lists the known documents of a project, without chunks.
func (s *SQLiteDB) Documents(project int) ([]Document, error) {
	rows, err := s.db.Query(
		"SELECT document, name, text_direction, fetched_at FROM documents WHERE project = ? ORDER BY document",
		project,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc := Document{Project: project}
		var fetched int64
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.TextDirection, &fetched); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if fetched != 0 {
			doc.FetchedAt = time.Unix(fetched, 0)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument drops a document and its chunks.
func (s *SQLiteDB) DeleteDocument(project, id int) error {
	return s.withTx(func(tx *sql.Tx) error {
		// foreign_keys is per connection, so chunks are not left to the cascade
		for _, table := range []string{"chunks", "documents"} {
			if _, err := tx.Exec(
				"DELETE FROM "+table+" WHERE project = ? AND document = ?",
				project, id,
			); err != nil {
				return fmt.Errorf("failed to delete document %d: %w", id, err)
			}
		}
		return nil
	})
}

// SaveTag inserts or replaces a tag. The highlight count is kept when the
// tag already exists.
func (s *SQLiteDB) SaveTag(project int, tag Tag) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
            INSERT INTO tags (project, id, path, description, highlights_count)
            VALUES (?, ?, ?, ?, ?)
            ON CONFLICT(project, id) DO UPDATE SET
                path = excluded.path,
                description = excluded.description
        `, project, tag.ID, tag.Path, tag.Description, tag.Count)
		if err != nil {
			return fmt.Errorf("failed to upsert tag %d: %w", tag.ID, err)
		}
		return nil
	})
}

func (s *SQLiteDB) DeleteTag(project, id int) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM tags WHERE project = ? AND id = ?", project, id); err != nil {
			return fmt.Errorf("failed to delete tag %d: %w", id, err)
		}
		return nil
	})
}

// Tags returns the tags of a project ordered by path.
func (s *SQLiteDB) Tags(project int) ([]Tag, error) {
	rows, err := s.db.Query(
		"SELECT id, path, description, highlights_count FROM tags WHERE project = ? ORDER BY path, id",
		project,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Path, &t.Description, &t.Count); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// AdjustTagCounts adds each delta to the highlight count of its tag.
// Unknown tags are ignored.
func (s *SQLiteDB) AdjustTagCounts(project int, changes map[int]int) error {
	if len(changes) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(
			"UPDATE tags SET highlights_count = MAX(0, highlights_count + ?) WHERE project = ? AND id = ?",
		)
		if err != nil {
			return fmt.Errorf("failed to prepare count update: %w", err)
		}
		defer stmt.Close()

		for id, delta := range changes {
			if _, err := stmt.Exec(delta, project, id); err != nil {
				return fmt.Errorf("failed to adjust count of tag %d: %w", id, err)
			}
		}
		return nil
	})
}

// Cursor returns the id of the last applied event, 0 if none.
func (s *SQLiteDB) Cursor(project int) (int, error) {
	var last int
	err := s.db.QueryRow("SELECT last_event FROM cursors WHERE project = ?", project).Scan(&last)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query cursor: %w", err)
	}
	return last, nil
}

func (s *SQLiteDB) SetCursor(project, last int) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
            INSERT INTO cursors (project, last_event) VALUES (?, ?)
            ON CONFLICT(project) DO UPDATE SET last_event = excluded.last_event
        `, project, last)
		if err != nil {
			return fmt.Errorf("failed to set cursor: %w", err)
		}
		return nil
	})
}

// Clear removes everything cached for a project.
func (s *SQLiteDB) Clear(project int) error {
	return s.withTx(func(tx *sql.Tx) error {
		for _, table := range []string{"chunks", "documents", "tags", "cursors"} {
			if _, err := tx.Exec("DELETE FROM "+table+" WHERE project = ?", project); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}
