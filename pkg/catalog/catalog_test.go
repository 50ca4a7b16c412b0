package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/function61/gokit/assert"
	"github.com/function61/gokit/logex"
	"github.com/function61/tapevault/pkg/contentdigest"
	"github.com/function61/tapevault/pkg/manifest"
)

func TestUpsertAndAggregates(t *testing.T) {
	store := testStore(t)

	added, skipped, err := store.UpsertFiles("TAPE01", []Entry{
		testEntry("a/x.bin", 1024, "00000000000000aa"),
		testEntry("b/y.bin", 2048, "00000000000000bb"),
	}, time.Now())
	assert.Ok(t, err)
	assert.Assert(t, added == 2)
	assert.Assert(t, skipped == 0)

	stats, err := store.VolumeStats("TAPE01")
	assert.Ok(t, err)
	assert.Assert(t, stats.FileCount == 2)
	assert.Assert(t, stats.TotalBytes == 3072)

	// same (volume, path) again with a new size: upsert, not duplicate
	added, _, err = store.UpsertFiles("TAPE01", []Entry{
		testEntry("a/x.bin", 4096, "00000000000000cc"),
	}, time.Now())
	assert.Ok(t, err)
	assert.Assert(t, added == 1)

	stats, err = store.VolumeStats("TAPE01")
	assert.Ok(t, err)
	assert.Assert(t, stats.FileCount == 2)
	assert.Assert(t, stats.TotalBytes == 2048+4096)
}

func TestMalformedEntriesAreSkippedNotFatal(t *testing.T) {
	store := testStore(t)

	added, skipped, err := store.UpsertFiles("TAPE01", []Entry{
		testEntry("good.bin", 10, "0000000000000001"),
		{Path: "", Size: 5},              // no path
		{Path: "negative.bin", Size: -1}, // nonsense size
		testEntry("also-good.bin", 20, "0000000000000002"),
	}, time.Now())
	assert.Ok(t, err)
	assert.Assert(t, added == 2)
	assert.Assert(t, skipped == 2)
}

func TestSearch(t *testing.T) {
	store := testStore(t)
	seedTwoVolumes(t, store)

	// bare filename pattern gets implicit any-prefix
	results, err := store.Search("*.mov", "")
	assert.Ok(t, err)
	assert.Assert(t, len(results) == 2)

	// volume-scoped
	results, err = store.Search("*.mov", "TAPE02")
	assert.Ok(t, err)
	assert.Assert(t, len(results) == 1)
	assert.EqualString(t, results[0].Path, "episode2/shot.mov")

	// full-path glob
	results, err = store.Search("episode1/*", "")
	assert.Ok(t, err)
	assert.Assert(t, len(results) == 2)

	// single-char wildcard
	results, err = store.Search("episode?/shot.mov", "")
	assert.Ok(t, err)
	assert.Assert(t, len(results) == 2)

	// no hits
	results, err = store.Search("*.wav", "")
	assert.Ok(t, err)
	assert.Assert(t, len(results) == 0)
}

func TestSearchNormalizesPattern(t *testing.T) {
	store := testStore(t)

	_, _, err := store.UpsertFiles("TAPE01", []Entry{
		testEntry("b/ü.bin", 100, "0000000000000001"),
	}, time.Now())
	assert.Ok(t, err)

	// decomposed u+combining diaeresis in the query must still match
	results, err := store.Search("b/ü.bin", "")
	assert.Ok(t, err)
	assert.Assert(t, len(results) == 1)
}

func TestSearchFullText(t *testing.T) {
	store := testStore(t)
	if !store.FullTextAvailable() {
		t.Skip("built without sqlite_fts5")
	}

	seedTwoVolumes(t, store)

	results, err := store.SearchFullText("shot AND mov", "")
	assert.Ok(t, err)
	assert.Assert(t, len(results) == 2)

	results, err = store.SearchFullText("teaser", "")
	assert.Ok(t, err)
	assert.Assert(t, len(results) == 1)
	assert.EqualString(t, results[0].Path, "episode1/teaser.mp4")
}

// without the sqlite_fts5 build tag the catalog must still open and upsert -
// only full-text search degrades, with a clear error
func TestFullTextDegradation(t *testing.T) {
	store := testStore(t)
	if store.FullTextAvailable() {
		t.Skip("built with sqlite_fts5")
	}

	seedTwoVolumes(t, store)

	results, err := store.Search("*.mov", "")
	assert.Ok(t, err)
	assert.Assert(t, len(results) == 2)

	_, err = store.SearchFullText("teaser", "")
	assert.Assert(t, errors.Is(err, ErrFullTextUnavailable))
}

func TestFindByDigestAndDuplicates(t *testing.T) {
	store := testStore(t)

	shared := "00000000deadbeef"

	_, _, err := store.UpsertFiles("TAPE01", []Entry{
		testEntry("a/copy1.bin", 500, shared),
		testEntry("unrelated.bin", 123, "0000000000000aaa"),
	}, time.Now())
	assert.Ok(t, err)

	_, _, err = store.UpsertFiles("TAPE02", []Entry{
		testEntry("b/copy2.bin", 500, shared),
		testEntry("c/copy3.bin", 500, shared),
	}, time.Now())
	assert.Ok(t, err)

	token, err := contentdigest.TokenFromHex(shared)
	assert.Ok(t, err)

	hits, err := store.FindByDigest(token)
	assert.Ok(t, err)
	assert.Assert(t, len(hits) == 3)
	assert.EqualString(t, hits[0].VolumeName, "TAPE01")
	assert.EqualString(t, hits[1].Path, "b/copy2.bin")

	groups, err := store.FindDuplicates(0)
	assert.Ok(t, err)
	assert.Assert(t, len(groups) == 1)
	assert.Assert(t, groups[0].Digest == token)
	assert.Assert(t, groups[0].Size == 500)
	assert.Assert(t, len(groups[0].Entries) == 3)
}

func TestRemoveVolumeCascades(t *testing.T) {
	store := testStore(t)
	seedTwoVolumes(t, store)

	assert.Ok(t, store.RemoveVolume("TAPE01"))

	// file rows went with the volume
	results, err := store.Search("episode1/*", "")
	assert.Ok(t, err)
	assert.Assert(t, len(results) == 0)

	// the other volume is untouched
	stats, err := store.VolumeStats("TAPE02")
	assert.Ok(t, err)
	assert.Assert(t, stats.FileCount == 1)

	// removing twice errors
	assert.Assert(t, store.RemoveVolume("TAPE01") != nil)
}

func TestSummary(t *testing.T) {
	store := testStore(t)
	seedTwoVolumes(t, store)

	summary, err := store.Summary()
	assert.Ok(t, err)
	assert.Assert(t, summary.VolumeCount == 2)
	assert.Assert(t, summary.FileCount == 3)
	assert.Assert(t, summary.TotalBytes == 100+200+300)
}

func TestVolumeMetadataUpsertKeepsExisting(t *testing.T) {
	store := testStore(t)

	assert.Ok(t, store.UpsertVolume(Volume{Name: "TAPE01", Barcode: "ABC123L8"}))
	// second upsert without barcode must not clear it
	assert.Ok(t, store.UpsertVolume(Volume{Name: "TAPE01", VolumeUUID: "uuid-1"}))

	volumes, err := store.ListVolumes()
	assert.Ok(t, err)
	assert.Assert(t, len(volumes) == 1)
	assert.EqualString(t, volumes[0].Barcode, "ABC123L8")
	assert.EqualString(t, volumes[0].VolumeUUID, "uuid-1")
}

func TestImportManifest(t *testing.T) {
	store := testStore(t)

	m := manifest.New(&manifest.VolumeInfo{Name: "TAPE03", Serial: "XYZ987L8"})
	finished := manifest.Now()
	m.Creator.FinishedAt = &finished

	digest, err := contentdigest.TokenFromHex("00000000000000ee")
	assert.Ok(t, err)

	modified := manifest.At(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	m.Append(manifest.Record{Path: "restored/file.bin", Size: 777, Digest: digest, ModifiedAt: &modified})

	imported, err := store.ImportManifest(m, "")
	assert.Ok(t, err)
	assert.Assert(t, imported == 1)

	stats, err := store.VolumeStats("TAPE03")
	assert.Ok(t, err)
	assert.Assert(t, stats.FileCount == 1)
	assert.Assert(t, stats.TotalBytes == 777)

	volumes, err := store.ListVolumes()
	assert.Ok(t, err)
	assert.EqualString(t, volumes[0].Barcode, "XYZ987L8")
}

func TestSnapshot(t *testing.T) {
	store := testStore(t)

	mtime := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := store.UpsertFiles("TAPE01", []Entry{
		{Path: "proj/a/x.bin", Size: 100, ModifiedAt: &mtime},
		{Path: "proj/a/y.bin", Size: 200, ModifiedAt: &mtime},
		{Path: "proj/readme.txt", Size: 10, ModifiedAt: &mtime},
	}, time.Now())
	assert.Ok(t, err)

	snapshot, err := store.Snapshot("TAPE01")
	assert.Ok(t, err)

	assert.Assert(t, snapshot.FileCount() == 3)

	node, found := snapshot.Stat("proj/a")
	assert.Assert(t, found)
	assert.Assert(t, node.IsDirectory())

	node, found = snapshot.Stat("proj/a/x.bin")
	assert.Assert(t, found)
	assert.Assert(t, !node.IsDirectory())
	assert.Assert(t, node.File.Size == 100)
	assert.Assert(t, node.File.ModifiedAt.Equal(mtime))

	_, found = snapshot.Stat("proj/missing.bin")
	assert.Assert(t, !found)

	assert.EqualString(t, strings.Join(snapshot.List("proj"), ","), "a,readme.txt")
	assert.EqualString(t, strings.Join(snapshot.List(""), ","), "proj")
	assert.Assert(t, snapshot.List("proj/a/x.bin") == nil)
}

func TestWriteMirror(t *testing.T) {
	store := testStore(t)

	mtime := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := store.UpsertFiles("TAPE01", []Entry{
		{Path: "proj/a/x.bin", Size: 100, ModifiedAt: &mtime},
		{Path: "proj/readme.txt", Size: 10, ModifiedAt: &mtime},
	}, time.Now())
	assert.Ok(t, err)

	mirrorRoot := t.TempDir()

	written, err := store.WriteMirror(mirrorRoot, "TAPE01")
	assert.Ok(t, err)
	assert.Assert(t, written == 2)

	placeholder := filepath.Join(mirrorRoot, "TAPE01", "proj", "a", "x.bin")

	stat, err := os.Stat(placeholder)
	assert.Ok(t, err)
	assert.Assert(t, stat.Size() == 0)
	assert.Assert(t, stat.ModTime().UTC().Equal(mtime))
}

// helpers

func testStore(t *testing.T) *Store {
	store, err := Open(filepath.Join(t.TempDir(), "catalog.db"), logex.Discard)
	assert.Ok(t, err)

	t.Cleanup(func() { store.Close() })

	return store
}

func testEntry(path string, size int64, digestHex string) Entry {
	digest, err := contentdigest.TokenFromHex(digestHex)
	if err != nil {
		panic(err)
	}

	return Entry{Path: path, Size: size, Digest: &digest}
}

func seedTwoVolumes(t *testing.T, store *Store) {
	t.Helper()

	_, _, err := store.UpsertFiles("TAPE01", []Entry{
		testEntry("episode1/shot.mov", 100, "0000000000000001"),
		testEntry("episode1/teaser.mp4", 200, "0000000000000002"),
	}, time.Now())
	assert.Ok(t, err)

	_, _, err = store.UpsertFiles("TAPE02", []Entry{
		testEntry("episode2/shot.mov", 300, "0000000000000003"),
	}, time.Now())
	assert.Ok(t, err)
}
