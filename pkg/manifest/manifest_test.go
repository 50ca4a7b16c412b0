package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/function61/gokit/assert"
	"github.com/function61/tapevault/pkg/contentdigest"
)

func TestRoundtripPreservesRecordsAndOrder(t *testing.T) {
	m := New(&VolumeInfo{Name: "TAPE01", Serial: "ABC123L8"})
	m.Creator = Creator{
		Username:  "csilva",
		Hostname:  "ingest1",
		Tool:      "tapevault",
		StartedAt: timestampPtr("2025-03-01T10:00:00Z"),
	}

	hashedAt := timestampPtr("2025-03-01T10:05:00Z")

	m.Append(Record{Path: "b/later.bin", Size: 2048, Digest: mustToken(t, "00000000deadbeef"), HashedAt: hashedAt})
	m.Append(Record{Path: "a/earlier.bin", Size: 1024, Digest: mustToken(t, "cafebabe00000000"), HashedAt: hashedAt})

	serialized, err := m.Serialize()
	assert.Ok(t, err)

	parsed, err := Deserialize(serialized)
	assert.Ok(t, err)

	assert.EqualString(t, parsed.FormatVersion, "1.1")
	assert.EqualString(t, parsed.Creator.Username, "csilva")
	assert.EqualString(t, parsed.VolumeInfo.Name, "TAPE01")

	// insertion order preserved, not sorted
	assert.Assert(t, len(parsed.Records) == 2)
	assert.EqualString(t, parsed.Records[0].Path, "b/later.bin")
	assert.EqualString(t, parsed.Records[1].Path, "a/earlier.bin")
	assert.Assert(t, parsed.Records[0].Size == 2048)
	assert.EqualString(t, parsed.Records[0].Digest.Hex(), "00000000deadbeef")
	assert.Assert(t, parsed.Records[0].HashedAt.Equal(hashedAt.Time))
}

func TestSerializedForm(t *testing.T) {
	m := New(nil)
	m.Creator = Creator{Tool: "tapevault", StartedAt: timestampPtr("2025-03-01T10:00:00Z")}
	m.Append(Record{
		Path:       "a/x.bin",
		Size:       1024,
		Digest:     mustToken(t, "0102030405060708"),
		ModifiedAt: timestampPtr("2025-02-28T23:59:59Z"),
	})

	serialized, err := m.Serialize()
	assert.Ok(t, err)

	asText := string(serialized)

	assert.Assert(t, strings.Contains(asText, `<hashlist version="1.1">`))
	assert.Assert(t, strings.Contains(asText, "<file>a/x.bin</file>"))
	assert.Assert(t, strings.Contains(asText, "<size>1024</size>"))
	assert.Assert(t, strings.Contains(asText, "<xxhash64be>0102030405060708</xxhash64be>"))
	assert.Assert(t, strings.Contains(asText, "<lastmodificationdate>2025-02-28T23:59:59Z</lastmodificationdate>"))
	// no volume block was given
	assert.Assert(t, !strings.Contains(asText, "<tapeinfo>"))
}

func TestAppendCanonicalizesPath(t *testing.T) {
	m := New(nil)
	m.Append(Record{Path: "b/ü.bin", Size: 1}) // decomposed "ü"

	assert.EqualString(t, m.Records[0].Path, "b/ü.bin")
}

func TestAppendStripsIllegalXMLCharacters(t *testing.T) {
	m := New(nil)
	m.Append(Record{Path: "weird\x07name\x00.bin", Size: 1})

	assert.EqualString(t, m.Records[0].Path, "weirdname.bin")
}

func TestSaveRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "TAPE01_proj_20250301_100000.mhl")

	m := New(nil)

	assert.Ok(t, m.Save(path))

	err := m.Save(path)
	assert.Assert(t, err != nil)
	assert.Assert(t, errors.Is(err, os.ErrExist))
}

func TestFilenameFor(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 4, 5, 0, time.UTC)

	assert.EqualString(t, FilenameFor("TAPE01", "deathstar2", ts), "TAPE01_deathstar2_20250301_100405.mhl")
}

func TestEmptyManifestIsLegal(t *testing.T) {
	m := New(&VolumeInfo{Name: "TAPE02"})

	serialized, err := m.Serialize()
	assert.Ok(t, err)

	parsed, err := Deserialize(serialized)
	assert.Ok(t, err)
	assert.Assert(t, len(parsed.Records) == 0)
	assert.Assert(t, parsed.TotalBytes() == 0)
}

func TestCompare(t *testing.T) {
	first := New(nil)
	first.Append(Record{Path: "same.bin", Digest: mustToken(t, "0000000000000001")})
	first.Append(Record{Path: "changed.bin", Digest: mustToken(t, "0000000000000002")})
	first.Append(Record{Path: "only-first.bin", Digest: mustToken(t, "0000000000000003")})

	second := New(nil)
	second.Append(Record{Path: "same.bin", Digest: mustToken(t, "0000000000000001")})
	second.Append(Record{Path: "changed.bin", Digest: mustToken(t, "00000000000000ff")})
	second.Append(Record{Path: "only-second.bin", Digest: mustToken(t, "0000000000000004")})

	comparison := Compare(first, second)

	assert.EqualString(t, strings.Join(comparison.Common, ","), "same.bin")
	assert.EqualString(t, strings.Join(comparison.Different, ","), "changed.bin")
	assert.EqualString(t, strings.Join(comparison.OnlyInFirst, ","), "only-first.bin")
	assert.EqualString(t, strings.Join(comparison.OnlyInSecond, ","), "only-second.bin")
}

func mustToken(t *testing.T, hex string) contentdigest.Token {
	t.Helper()

	token, err := contentdigest.TokenFromHex(hex)
	assert.Ok(t, err)
	return token
}

func timestampPtr(serialized string) *Timestamp {
	parsed, err := time.ParseInLocation(TimeFormat, serialized, time.UTC)
	if err != nil {
		panic(err)
	}

	ts := At(parsed)
	return &ts
}

