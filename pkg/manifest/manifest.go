// Per-job, append-only ledger artifact: which files went onto which volume,
// with sizes and content digests.
//
// Serialized as a Media Hash List (MHL) XML document so the artifacts stay
// readable by industry verification tooling. The manifest files are the
// durability anchor of the whole system: the catalog can always be rebuilt
// by replaying every manifest.
package manifest

import (
	"encoding/xml"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/function61/tapevault/pkg/canonpath"
	"github.com/function61/tapevault/pkg/contentdigest"
)

const FormatVersion = "1.1"

// wire format for timestamps. always UTC.
const TimeFormat = "2006-01-02T15:04:05Z"

type Manifest struct {
	XMLName       xml.Name    `xml:"hashlist"`
	FormatVersion string      `xml:"version,attr"`
	Creator       Creator     `xml:"creatorinfo"`
	VolumeInfo    *VolumeInfo `xml:"tapeinfo,omitempty"`
	Records       []Record    `xml:"hash"`
}

type Creator struct {
	Name       string     `xml:"name,omitempty"`
	Username   string     `xml:"username,omitempty"`
	Hostname   string     `xml:"hostname,omitempty"`
	Tool       string     `xml:"tool,omitempty"`
	StartedAt  *Timestamp `xml:"startdate,omitempty"`
	FinishedAt *Timestamp `xml:"finishdate,omitempty"`
}

type VolumeInfo struct {
	Name    string `xml:"name,omitempty"`
	Serial  string `xml:"serial,omitempty"`
	Vendor  string `xml:"vendor,omitempty"`
	Product string `xml:"product,omitempty"`
}

// immutable once placed in a Manifest. unique by Path within one Manifest.
type Record struct {
	Path       string              `xml:"file"`
	Size       int64               `xml:"size"`
	ModifiedAt *Timestamp          `xml:"lastmodificationdate,omitempty"`
	Digest     contentdigest.Token `xml:"xxhash64be"`
	HashedAt   *Timestamp          `xml:"hashdate,omitempty"`
}

func New(volumeInfo *VolumeInfo) *Manifest {
	return &Manifest{
		FormatVersion: FormatVersion,
		Creator:       CreatorDefaults(),
		VolumeInfo:    volumeInfo,
	}
}

func (m *Manifest) Append(rec Record) {
	rec.Path = sanitizeXMLString(canonpath.Canonicalize(rec.Path))

	m.Records = append(m.Records, rec)
}

func (m *Manifest) TotalBytes() int64 {
	total := int64(0)
	for _, rec := range m.Records {
		total += rec.Size
	}
	return total
}

func (m *Manifest) Serialize() ([]byte, error) {
	serialized, err := xml.MarshalIndent(m, "", "    ")
	if err != nil {
		return nil, err
	}

	return append([]byte(xml.Header), append(serialized, '\n')...), nil
}

func Deserialize(serialized []byte) (*Manifest, error) {
	parsed := &Manifest{}
	if err := xml.Unmarshal(serialized, parsed); err != nil {
		return nil, fmt.Errorf("manifest: deserialize: %v", err)
	}

	for i, rec := range parsed.Records {
		parsed.Records[i].Path = canonpath.Canonicalize(rec.Path)
	}

	return parsed, nil
}

func Load(path string) (*Manifest, error) {
	serialized, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Deserialize(serialized)
}

// writes the manifest to a new file. refuses to overwrite: a manifest is
// never mutated after it has been persisted.
func (m *Manifest) Save(path string) error {
	serialized, err := m.Serialize()
	if err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("manifest: save: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(serialized); err != nil {
		return err
	}

	return file.Sync()
}

// "<volume>_<source>_<20060102_150405>.mhl"
func FilenameFor(volumeName string, sourceName string, ts time.Time) string {
	return fmt.Sprintf(
		"%s_%s_%s.mhl",
		volumeName,
		sourceName,
		ts.Format("20060102_150405"))
}

func CreatorDefaults() Creator {
	username := ""
	name := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
		name = u.Name
	}

	hostname, _ := os.Hostname()

	now := Now()

	return Creator{
		Name:      name,
		Username:  username,
		Hostname:  hostname,
		Tool:      "tapevault",
		StartedAt: &now,
	}
}

// removes characters that are not legal in XML 1.0 (control characters and
// surrogate halves). they can appear in filenames; an unencodable manifest
// would lose the whole job's record over one broken name.
func sanitizeXMLString(in string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == 0x09 || r == 0x0a || r == 0x0d:
			return r
		case r < 0x20:
			return -1
		case r >= 0x7f && r <= 0x9f:
			return -1
		case r >= 0xd800 && r <= 0xdfff:
			return -1
		case r == 0xfffe || r == 0xffff:
			return -1
		default:
			return r
		}
	}, in)
}
