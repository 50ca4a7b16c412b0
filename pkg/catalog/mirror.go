package catalog

import (
	"fmt"
	"os"
	"path/filepath"
)

// Mirror tree: one zero-byte placeholder per cataloged path, timestamps set
// from the record, under <mirrorRoot>/<volumeName>/. Lets any directory
// browser explore an offline volume's contents.
//
// The mirror is a pure projection of the catalog rows - the relational store
// is the single source of truth - so it can be regenerated at any time and
// regenerating it is how the pipeline's phase 5 produces it.
func (s *Store) WriteMirror(mirrorRoot string, volumeName string) (int, error) {
	entries, err := s.queryEntries(`
		SELECT volume_name, path, size, mtime, digest, archived_at
		FROM files
		WHERE volume_name = ?
		ORDER BY path
	`, volumeName)
	if err != nil {
		return 0, fmt.Errorf("WriteMirror: %w", err)
	}

	volumeDir := filepath.Join(mirrorRoot, volumeName)

	written := 0

	for _, entry := range entries {
		placeholderPath := filepath.Join(volumeDir, filepath.FromSlash(entry.Path))

		if err := os.MkdirAll(filepath.Dir(placeholderPath), 0755); err != nil {
			return written, fmt.Errorf("WriteMirror: %w", err)
		}

		placeholder, err := os.OpenFile(placeholderPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return written, fmt.Errorf("WriteMirror: %w", err)
		}
		placeholder.Close()

		if entry.ModifiedAt != nil {
			// timestamp failures are cosmetic for a placeholder
			_ = os.Chtimes(placeholderPath, *entry.ModifiedAt, *entry.ModifiedAt)
		}

		written++
	}

	return written, nil
}
