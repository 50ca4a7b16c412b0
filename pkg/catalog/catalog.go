// Cross-job, queryable index of every file ever archived onto any volume.
//
// Backed by SQLite. The catalog is a derived structure: it can always be
// rebuilt by replaying manifests, so losing it is an inconvenience rather
// than data loss. It is still written transactionally so concurrent readers
// never observe a half-applied job.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/function61/gokit/logex"
	_ "github.com/mattn/go-sqlite3"
)

const schemaVersion = 1

// returned by SearchFullText when the SQLite driver was built without the
// FTS5 module (mattn/go-sqlite3 only includes it under the sqlite_fts5 tag)
var ErrFullTextUnavailable = errors.New("full-text search not available (requires a build with the sqlite_fts5 tag)")

type Store struct {
	db   *sql.DB
	logl *logex.Leveled
	fts  bool
}

// opens (creating and migrating if needed) the catalog database
func Open(dbPath string, logger *log.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	// WAL so pipeline writes don't block readers. foreign keys on so volume
	// removal cascades to its file rows.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}

	s := &Store{
		db:   db,
		logl: logex.Levels(logger),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: migrate: %w", err)
	}

	if err := s.setupFullText(); err != nil {
		s.logl.Error.Printf("full-text search unavailable: %v", err)

		// without this, every insert into files would fire a trigger that
		// touches files_fts and fail
		if err := s.dropFullTextTriggers(); err != nil {
			db.Close()
			return nil, fmt.Errorf("catalog: %w", err)
		}
	} else {
		s.fts = true
	}

	return s, nil
}

// reports whether SearchFullText works in this build
func (s *Store) FullTextAvailable() bool {
	return s.fts
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return err
	}

	currentVersion := 0
	if err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&currentVersion); err != nil && err != sql.ErrNoRows {
		return err
	}

	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if currentVersion < 1 {
		if err := migrateToV1(tx); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
		return err
	}

	return tx.Commit()
}

func migrateToV1(tx *sql.Tx) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS volumes (
			name TEXT PRIMARY KEY,
			volume_uuid TEXT,
			barcode TEXT,
			created_at TEXT,
			total_bytes INTEGER NOT NULL DEFAULT 0,
			file_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			volume_name TEXT NOT NULL REFERENCES volumes(name) ON DELETE CASCADE,
			path TEXT NOT NULL,
			size INTEGER NOT NULL,
			mtime TEXT,
			digest TEXT,
			archived_at TEXT,
			UNIQUE(volume_name, path)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_files_path ON files(path)`,
		`CREATE INDEX IF NOT EXISTS idx_files_digest ON files(digest)`,
		`CREATE INDEX IF NOT EXISTS idx_files_volume ON files(volume_name)`,
	}

	for _, statement := range statements {
		if _, err := tx.Exec(statement); err != nil {
			return err
		}
	}

	return nil
}

// full-text index over path tokens, kept in sync by triggers. lives outside
// the versioned schema: a build without the FTS5 module must still be able to
// open the catalog, and a later FTS5-capable build must be able to catch up.
func (s *Store) setupFullText() error {
	// probe for the module itself - the IF NOT EXISTS statements below
	// silently no-op on a database that already has the objects. one Exec so
	// both statements run on the same pooled connection (temp tables are
	// per-connection).
	if _, err := s.db.Exec(
		`CREATE VIRTUAL TABLE temp.fts_probe USING fts5(probe); DROP TABLE temp.fts_probe;`,
	); err != nil {
		return err
	}

	triggerCount := 0
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'trigger' AND name IN ('files_ai', 'files_ad', 'files_au')`,
	).Scan(&triggerCount); err != nil {
		return err
	}

	statements := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS files_fts
			USING fts5(path, content='files', content_rowid='id')`,
		`CREATE TRIGGER IF NOT EXISTS files_ai AFTER INSERT ON files BEGIN
			INSERT INTO files_fts(rowid, path) VALUES (new.id, new.path);
		END`,
		`CREATE TRIGGER IF NOT EXISTS files_ad AFTER DELETE ON files BEGIN
			INSERT INTO files_fts(files_fts, rowid, path) VALUES('delete', old.id, old.path);
		END`,
		`CREATE TRIGGER IF NOT EXISTS files_au AFTER UPDATE ON files BEGIN
			INSERT INTO files_fts(files_fts, rowid, path) VALUES('delete', old.id, old.path);
			INSERT INTO files_fts(rowid, path) VALUES (new.id, new.path);
		END`,
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return err
		}
	}

	// triggers were missing (fresh database, or rows were written by a build
	// that had them dropped) so the index may be out of sync
	if triggerCount < 3 {
		if _, err := s.db.Exec(`INSERT INTO files_fts(files_fts) VALUES ('rebuild')`); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) dropFullTextTriggers() error {
	for _, name := range []string{"files_ai", "files_ad", "files_au"} {
		if _, err := s.db.Exec(`DROP TRIGGER IF EXISTS ` + name); err != nil {
			return err
		}
	}

	return nil
}

// stored as RFC 3339 text; NULL when unknown
func encodeTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func decodeTime(serialized sql.NullString) *time.Time {
	if !serialized.Valid {
		return nil
	}

	parsed, err := time.Parse(time.RFC3339, serialized.String)
	if err != nil {
		return nil
	}

	return &parsed
}
