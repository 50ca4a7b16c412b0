package catalog

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/function61/tapevault/pkg/canonpath"
	"github.com/function61/tapevault/pkg/contentdigest"
)

const defaultResultLimit = 1000

// glob path search. two wildcards: "*" (any run) and "?" (single char).
// a pattern without "/" is matched against the filename part, i.e. gets an
// implicit "*" prefix. empty volumeName searches all volumes.
func (s *Store) Search(pattern string, volumeName string) ([]Entry, error) {
	pattern = canonpath.Canonicalize(pattern)

	likePattern := globToLike(pattern)
	if !strings.Contains(pattern, "/") {
		likePattern = "%" + likePattern
	}

	query := `
		SELECT volume_name, path, size, mtime, digest, archived_at
		FROM files
		WHERE path LIKE ? ESCAPE '\'`
	args := []interface{}{likePattern}

	if volumeName != "" {
		query += ` AND volume_name = ?`
		args = append(args, volumeName)
	}

	query += ` ORDER BY volume_name, path LIMIT ?`
	args = append(args, defaultResultLimit)

	return s.queryEntries(query, args...)
}

// free-text search over path tokens (FTS5 MATCH syntax, e.g. "project AND mov")
func (s *Store) SearchFullText(ftsQuery string, volumeName string) ([]Entry, error) {
	if !s.fts {
		return nil, ErrFullTextUnavailable
	}

	query := `
		SELECT f.volume_name, f.path, f.size, f.mtime, f.digest, f.archived_at
		FROM files f
		JOIN files_fts fts ON f.id = fts.rowid
		WHERE fts.path MATCH ?`
	args := []interface{}{canonpath.Canonicalize(ftsQuery)}

	if volumeName != "" {
		query += ` AND f.volume_name = ?`
		args = append(args, volumeName)
	}

	query += ` ORDER BY rank LIMIT ?`
	args = append(args, defaultResultLimit)

	return s.queryEntries(query, args...)
}

// every (volume, path) sharing the digest, across all volumes. used for
// duplicate detection and "is this file already archived somewhere" checks.
// remember to compare sizes as well before trusting a match.
func (s *Store) FindByDigest(digest contentdigest.Token) ([]Entry, error) {
	return s.queryEntries(`
		SELECT volume_name, path, size, mtime, digest, archived_at
		FROM files
		WHERE digest = ?
		ORDER BY volume_name, path
	`, digest.Hex())
}

// groups of entries sharing (digest, size), largest groups first
func (s *Store) FindDuplicates(minSize int64) ([]DuplicateGroup, error) {
	rows, err := s.db.Query(`
		SELECT digest, size, COUNT(*) AS occurrences
		FROM files
		WHERE digest IS NOT NULL AND size >= ?
		GROUP BY digest, size
		HAVING occurrences > 1
		ORDER BY occurrences DESC, digest
	`, minSize)
	if err != nil {
		return nil, fmt.Errorf("FindDuplicates: %w", err)
	}
	defer rows.Close()

	groups := []DuplicateGroup{}

	for rows.Next() {
		var digestHex string
		var size int64
		var occurrences int64
		if err := rows.Scan(&digestHex, &size, &occurrences); err != nil {
			return nil, err
		}

		digest, err := contentdigest.TokenFromHex(digestHex)
		if err != nil {
			return nil, fmt.Errorf("FindDuplicates: malformed digest in catalog: %v", err)
		}

		groups = append(groups, DuplicateGroup{Digest: digest, Size: size})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, group := range groups {
		entries, err := s.queryEntries(`
			SELECT volume_name, path, size, mtime, digest, archived_at
			FROM files
			WHERE digest = ? AND size = ?
			ORDER BY volume_name, path
		`, group.Digest.Hex(), group.Size)
		if err != nil {
			return nil, err
		}

		groups[i].Entries = entries
	}

	return groups, nil
}

func (s *Store) ListVolumes() ([]Volume, error) {
	rows, err := s.db.Query(`
		SELECT name, volume_uuid, barcode, created_at, total_bytes, file_count
		FROM volumes
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("ListVolumes: %w", err)
	}
	defer rows.Close()

	volumes := []Volume{}

	for rows.Next() {
		var vol Volume
		var uuid, barcode, createdAt sql.NullString
		if err := rows.Scan(&vol.Name, &uuid, &barcode, &createdAt, &vol.TotalBytes, &vol.FileCount); err != nil {
			return nil, err
		}

		vol.VolumeUUID = uuid.String
		vol.Barcode = barcode.String
		vol.CreatedAt = decodeTime(createdAt)

		volumes = append(volumes, vol)
	}

	return volumes, rows.Err()
}

func (s *Store) VolumeStats(volumeName string) (*VolumeStats, error) {
	stats := &VolumeStats{Name: volumeName}
	var oldest, newest sql.NullString

	if err := s.db.QueryRow(`
		SELECT t.file_count, t.total_bytes, MIN(f.mtime), MAX(f.mtime)
		FROM volumes t
		LEFT JOIN files f ON t.name = f.volume_name
		WHERE t.name = ?
		GROUP BY t.name
	`, volumeName).Scan(&stats.FileCount, &stats.TotalBytes, &oldest, &newest); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("VolumeStats: volume not found: %s", volumeName)
		}
		return nil, fmt.Errorf("VolumeStats: %w", err)
	}

	stats.OldestFile = decodeTime(oldest)
	stats.NewestFile = decodeTime(newest)

	return stats, nil
}

func (s *Store) Summary() (*Summary, error) {
	summary := &Summary{}

	if err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(file_count), 0), COALESCE(SUM(total_bytes), 0)
		FROM volumes
	`).Scan(&summary.VolumeCount, &summary.FileCount, &summary.TotalBytes); err != nil {
		return nil, fmt.Errorf("Summary: %w", err)
	}

	return summary, nil
}

func (s *Store) queryEntries(query string, args ...interface{}) ([]Entry, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}

	for rows.Next() {
		var entry Entry
		var mtime, digestHex, archivedAt sql.NullString
		if err := rows.Scan(&entry.VolumeName, &entry.Path, &entry.Size, &mtime, &digestHex, &archivedAt); err != nil {
			return nil, err
		}

		entry.ModifiedAt = decodeTime(mtime)
		entry.ArchivedAt = decodeTime(archivedAt)

		if digestHex.Valid {
			digest, err := contentdigest.TokenFromHex(digestHex.String)
			if err == nil {
				entry.Digest = &digest
			}
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// "*" -> "%", "?" -> "_", with pre-existing LIKE specials escaped
func globToLike(pattern string) string {
	replaced := strings.NewReplacer(
		`\`, `\\`,
		`%`, `\%`,
		`_`, `\_`,
	).Replace(pattern)

	return strings.NewReplacer("*", "%", "?", "_").Replace(replaced)
}
