package transfer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/function61/tapevault/pkg/exclude"
)

// Recovery for a run that crashed after the copy phase: the files are on the
// destination but the manifest and catalog are missing. Re-digests the
// original source (typically much faster than the medium) and emits phases
// 4-5 from that.
//
// Only correct when the source has not been modified since the crashed run -
// the digests stand in for what was copied.
func (p *Pipeline) Recover(ctx context.Context) (*Result, error) {
	if _, err := os.Stat(p.opts.DestDir); err != nil {
		return nil, fmt.Errorf(
			"destination directory not found: %s (did the transfer reach the copy phase?)",
			p.opts.DestDir)
	}

	p.log.Info.Printf("recovering %s from source %s", p.opts.Volume, p.opts.SourceRoot)

	return p.emitFromScan(ctx, p.opts.SourceRoot, p.opts.Excludes)
}

// Like Recover, but for when the source is already gone: digests the
// destination subtree itself. Slower (reads the medium) but needs nothing
// besides the destination. Callers set SourceRoot to the destination subtree
// as well, so naming and mtime fallback resolve there.
func (p *Pipeline) Finalize(ctx context.Context) (*Result, error) {
	if _, err := os.Stat(p.opts.DestDir); err != nil {
		return nil, fmt.Errorf("directory not found on destination: %s", p.opts.DestDir)
	}

	p.log.Info.Printf("finalizing %s from destination %s", p.opts.Volume, p.opts.DestDir)

	// no exclusions: whatever is on the medium is what gets recorded
	return p.emitFromScan(ctx, p.opts.DestDir, nil)
}

// digest the given tree, then run the manifest and catalog phases from the
// resulting ledger
func (p *Pipeline) emitFromScan(ctx context.Context, digestRoot string, excludes exclude.Rules) (*Result, error) {
	result := &Result{
		Volume:     p.opts.Volume,
		SourceRoot: p.opts.SourceRoot,
		DestDir:    p.opts.DestDir,
		StartedAt:  time.Now().UTC(),
	}

	files, excluded, err := scanSource(digestRoot, excludes, result.warnf)
	if err != nil {
		return nil, phaseErr(PhaseDigestSource, err)
	}

	result.FilesTotal = len(files) + excluded
	result.FilesExcluded = excluded
	for _, file := range files {
		result.BytesTotal += file.Size
	}

	phaseStart := time.Now()
	if err := p.digestSource(ctx, files, result); err != nil {
		return nil, phaseErr(PhaseDigestSource, err)
	}
	result.PhaseDurations[PhaseDigestSource] = time.Since(phaseStart)

	phaseStart = time.Now()
	m, err := p.writeManifest(result, p.destMtimes())
	if err != nil {
		return nil, phaseErr(PhaseManifest, err)
	}
	result.PhaseDurations[PhaseManifest] = time.Since(phaseStart)

	phaseStart = time.Now()
	p.updateCatalog(m, result)
	result.PhaseDurations[PhaseCatalog] = time.Since(phaseStart)

	result.FinishedAt = time.Now().UTC()

	if p.jobs != nil {
		if err := p.jobs.Delete(p.opts.Volume); err != nil {
			result.warnf("removing job checkpoint: %v", err)
		}
	}

	return result, nil
}
