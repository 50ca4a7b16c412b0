package catalog

import (
	"time"

	"github.com/function61/tapevault/pkg/manifest"
)

// replays one manifest into the catalog. this is the recovery path for a
// lost catalog: importing every manifest rebuilds it completely.
func (s *Store) ImportManifest(m *manifest.Manifest, volumeName string) (int, error) {
	if volumeName == "" && m.VolumeInfo != nil {
		volumeName = m.VolumeInfo.Name
	}

	vol := Volume{Name: volumeName}
	if m.VolumeInfo != nil {
		vol.Barcode = m.VolumeInfo.Serial
	}

	if err := s.UpsertVolume(vol); err != nil {
		return 0, err
	}

	entries := make([]Entry, 0, len(m.Records))
	for _, rec := range m.Records {
		digest := rec.Digest

		entry := Entry{
			Path:   rec.Path,
			Size:   rec.Size,
			Digest: &digest,
		}
		if rec.ModifiedAt != nil {
			mtime := rec.ModifiedAt.Time
			entry.ModifiedAt = &mtime
		}

		entries = append(entries, entry)
	}

	archivedAt := time.Now()
	if m.Creator.FinishedAt != nil {
		archivedAt = m.Creator.FinishedAt.Time
	}

	added, _, err := s.UpsertFiles(volumeName, entries, archivedAt)
	return added, err
}
