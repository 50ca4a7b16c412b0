package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/function61/tapevault/pkg/contentdigest"
	"github.com/function61/tapevault/pkg/manifest"
)

type VerifyResult struct {
	ManifestPath string
	BasePath     string

	Total    int
	Verified int
	Failed   int
	Missing  int

	FailedFiles  []string
	MissingFiles []string
}

func (r *VerifyResult) Success() bool {
	return r.Failed == 0 && r.Missing == 0
}

// re-checks files under basePath against a previously written manifest.
// this is how an archive is audited months later, without needing the
// original source or the catalog.
func Verify(ctx context.Context, manifestPath string, basePath string, progress ProgressFunc) (*VerifyResult, error) {
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("Verify: %w", err)
	}

	if _, err := os.Stat(basePath); err != nil {
		return nil, fmt.Errorf("Verify: base path not found: %s", basePath)
	}

	if progress == nil {
		progress = func(string, int64, int64) {}
	}

	result := &VerifyResult{
		ManifestPath: manifestPath,
		BasePath:     basePath,
		Total:        len(m.Records),
	}

	bytesTotal := m.TotalBytes()
	bytesDone := int64(0)

	for _, rec := range m.Records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		filePath := filepath.Join(basePath, filepath.FromSlash(rec.Path))

		if _, err := os.Stat(filePath); err != nil {
			result.Missing++
			result.MissingFiles = append(result.MissingFiles, rec.Path)
			continue
		}

		digest, size, err := contentdigest.DigestFile(filePath, nil)
		if err != nil {
			result.Failed++
			result.FailedFiles = append(result.FailedFiles, fmt.Sprintf("%s (read error: %v)", rec.Path, err))
			continue
		}

		if digest != rec.Digest || size != rec.Size {
			result.Failed++
			result.FailedFiles = append(result.FailedFiles, fmt.Sprintf(
				"%s (expected %s/%d bytes, got %s/%d bytes)",
				rec.Path, rec.Digest.Hex(), rec.Size, digest.Hex(), size))
		} else {
			result.Verified++
		}

		bytesDone += size
		progress("verifying", bytesDone, bytesTotal)
	}

	return result, nil
}
