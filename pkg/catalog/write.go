package catalog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/function61/tapevault/pkg/canonpath"
)

// creates the volume row if missing, updates only the given (non-empty)
// metadata fields if it exists
func (s *Store) UpsertVolume(vol Volume) error {
	_, err := s.db.Exec(`
		INSERT INTO volumes (name, volume_uuid, barcode, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			volume_uuid = COALESCE(NULLIF(excluded.volume_uuid, ''), volumes.volume_uuid),
			barcode = COALESCE(NULLIF(excluded.barcode, ''), volumes.barcode),
			created_at = COALESCE(excluded.created_at, volumes.created_at)
	`, vol.Name, vol.VolumeUUID, vol.Barcode, encodeTime(vol.CreatedAt))
	if err != nil {
		return fmt.Errorf("UpsertVolume: %w", err)
	}

	return nil
}

// commits all of a job's entries in one transaction, so concurrent readers
// never see a partially-applied job. a single malformed entry is skipped and
// counted, not fatal. the owning volume's aggregates are recomputed from the
// file rows inside the same transaction.
func (s *Store) UpsertFiles(volumeName string, entries []Entry, archivedAt time.Time) (added int, skipped int, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("UpsertFiles: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO volumes (name) VALUES (?)`, volumeName); err != nil {
		return 0, 0, fmt.Errorf("UpsertFiles: %w", err)
	}

	upsert, err := tx.Prepare(`
		INSERT INTO files (volume_name, path, size, mtime, digest, archived_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(volume_name, path) DO UPDATE SET
			size = excluded.size,
			mtime = excluded.mtime,
			digest = excluded.digest,
			archived_at = excluded.archived_at
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("UpsertFiles: %w", err)
	}
	defer upsert.Close()

	archivedAtEncoded := encodeTime(&archivedAt)

	for _, entry := range entries {
		if entry.Path == "" || entry.Size < 0 {
			skipped++
			continue
		}

		var digest interface{}
		if entry.Digest != nil {
			digest = entry.Digest.Hex()
		}

		if _, err := upsert.Exec(
			volumeName,
			canonpath.Canonicalize(entry.Path),
			entry.Size,
			encodeTime(entry.ModifiedAt),
			digest,
			archivedAtEncoded,
		); err != nil {
			s.logl.Error.Printf("UpsertFiles: skipping %s: %v", entry.Path, err)
			skipped++
			continue
		}

		added++
	}

	if err := recomputeVolumeAggregates(tx, volumeName); err != nil {
		return 0, 0, fmt.Errorf("UpsertFiles: %w", err)
	}

	return added, skipped, tx.Commit()
}

// deletes the volume and (via cascade) all of its file rows
func (s *Store) RemoveVolume(volumeName string) error {
	result, err := s.db.Exec(`DELETE FROM volumes WHERE name = ?`, volumeName)
	if err != nil {
		return fmt.Errorf("RemoveVolume: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("RemoveVolume: volume not found: %s", volumeName)
	}

	return nil
}

// aggregates are always a pure function of the volume's file rows
func recomputeVolumeAggregates(tx *sql.Tx, volumeName string) error {
	_, err := tx.Exec(`
		UPDATE volumes SET
			file_count = (SELECT COUNT(*) FROM files WHERE volume_name = ?),
			total_bytes = (SELECT COALESCE(SUM(size), 0) FROM files WHERE volume_name = ?)
		WHERE name = ?
	`, volumeName, volumeName, volumeName)
	return err
}
