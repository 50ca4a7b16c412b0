package catalog

import (
	"time"

	"github.com/function61/tapevault/pkg/contentdigest"
)

// one archived path on one volume. unique on (VolumeName, Path); upserted by
// later jobs touching the same pair, deleted only by whole-volume removal.
type Entry struct {
	VolumeName string
	Path       string
	Size       int64
	ModifiedAt *time.Time
	Digest     *contentdigest.Token
	ArchivedAt *time.Time
}

type Volume struct {
	Name       string
	VolumeUUID string
	Barcode    string
	CreatedAt  *time.Time
	TotalBytes int64 // derived from file rows, never hand-maintained
	FileCount  int64 // same
}

type VolumeStats struct {
	Name       string
	FileCount  int64
	TotalBytes int64
	OldestFile *time.Time
	NewestFile *time.Time
}

type Summary struct {
	VolumeCount int64
	FileCount   int64
	TotalBytes  int64
}

// entries that share both digest and size. digest alone is never trusted -
// a fast 64-bit digest has a non-negligible collision probability at
// archive scale, so size acts as a cheap second factor.
type DuplicateGroup struct {
	Digest  contentdigest.Token
	Size    int64
	Entries []Entry
}
