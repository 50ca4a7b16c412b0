// Package transfer implements the verified transfer pipeline: digest the
// source, bulk copy, verify the destination, emit a manifest, update the
// catalog. The copy step is deliberately untrusted - only the verify phase,
// re-reading the destination, proves the archive.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/djherbis/times"
	"github.com/function61/gokit/logex"
	"github.com/function61/tapevault/pkg/byteshuman"
	"github.com/function61/tapevault/pkg/canonpath"
	"github.com/function61/tapevault/pkg/catalog"
	"github.com/function61/tapevault/pkg/contentdigest"
	"github.com/function61/tapevault/pkg/exclude"
	"github.com/function61/tapevault/pkg/jobstate"
	"github.com/function61/tapevault/pkg/manifest"
	"golang.org/x/sync/errgroup"
)

type ProgressFunc func(label string, done int64, total int64)

type Options struct {
	SourceRoot  string
	DestDir     string // e.g. <mountpoint>/<basename of SourceRoot>
	Volume      string
	ManifestDir string
	MirrorDir   string // "" disables the browsable mirror projection
	Excludes    exclude.Rules
	SkipVerify  bool
	DryRun      bool

	DigestWorkers int                  // 0 = default
	VolumeInfo    *manifest.VolumeInfo // optional medium metadata for the manifest
	CopyLog       io.Writer            // copy tool output, nil = discarded
	Progress      ProgressFunc         // nil = no progress reporting
}

type Pipeline struct {
	opts    Options
	copier  Copier
	catalog *catalog.Store // nil = catalog update skipped with a warning
	jobs    *jobstate.Store
	log     *logex.Leveled

	ledger *Ledger // filled by phase 1
}

func NewPipeline(
	opts Options,
	copier Copier,
	cat *catalog.Store,
	jobs *jobstate.Store,
	logger *log.Logger,
) *Pipeline {
	if opts.DigestWorkers <= 0 {
		opts.DigestWorkers = runtime.NumCPU()
	}
	if opts.CopyLog == nil {
		opts.CopyLog = io.Discard
	}
	if opts.Progress == nil {
		opts.Progress = func(string, int64, int64) {}
	}

	return &Pipeline{
		opts:    opts,
		copier:  copier,
		catalog: cat,
		jobs:    jobs,
		log:     logex.Levels(logger),
	}
}

func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if stat, err := os.Stat(p.opts.SourceRoot); err != nil {
		return nil, fmt.Errorf("source not found: %s", p.opts.SourceRoot)
	} else if !stat.IsDir() {
		return nil, fmt.Errorf("source is not a directory: %s", p.opts.SourceRoot)
	}

	result := &Result{
		Volume:     p.opts.Volume,
		SourceRoot: p.opts.SourceRoot,
		DestDir:    p.opts.DestDir,
		StartedAt:  time.Now().UTC(),
	}

	files, excluded, err := scanSource(p.opts.SourceRoot, p.opts.Excludes, result.warnf)
	if err != nil {
		return nil, phaseErr(PhaseDigestSource, err)
	}

	result.FilesTotal = len(files) + excluded
	result.FilesExcluded = excluded
	for _, file := range files {
		result.BytesTotal += file.Size
	}

	for _, relPath := range longFilenames(files) {
		result.warnf("filename exceeds %d bytes, destination may reject it: %s", maxFilenameBytes, relPath)
	}

	if p.opts.DryRun {
		result.FinishedAt = time.Now().UTC()
		return result, nil
	}

	p.checkpoint(result, 0)

	// phase 1: digest source
	p.log.Info.Printf(
		"phase 1: digesting %d files (%s)",
		len(files),
		byteshuman.Humanize(uint64(result.BytesTotal)))

	phaseStart := time.Now()
	if err := p.digestSource(ctx, files, result); err != nil {
		return nil, phaseErr(PhaseDigestSource, err)
	}
	result.PhaseDurations[PhaseDigestSource] = time.Since(phaseStart)

	p.checkpoint(result, PhaseDigestSource)

	// phase 2: bulk copy
	p.log.Info.Printf("phase 2: copying to %s", p.opts.DestDir)

	dropPageCache() // copy timing should not be flattered by just-hashed pages

	phaseStart = time.Now()
	if err := p.copier.Copy(ctx, p.opts.SourceRoot, p.opts.DestDir, p.opts.Excludes, p.opts.CopyLog); err != nil {
		exitErr := &exec.ExitError{}
		if errors.As(err, &exitErr) {
			// a partial copy is not fatal: verification decides what is damaged
			result.warnf("copy exited with error: %v", err)
		} else {
			return nil, phaseErr(PhaseCopy, err)
		}
	}
	result.PhaseDurations[PhaseCopy] = time.Since(phaseStart)

	p.checkpoint(result, PhaseCopy)

	// phase 3: verify destination
	if !p.opts.SkipVerify {
		p.log.Info.Printf("phase 3: verifying destination")

		dropPageCache() // force reads from the medium, not from cache

		phaseStart = time.Now()
		if err := p.verifyDestination(ctx, result); err != nil {
			return nil, phaseErr(PhaseVerify, err)
		}
		result.PhaseDurations[PhaseVerify] = time.Since(phaseStart)
	}

	p.checkpoint(result, PhaseVerify)

	// phase 4: emit manifest
	p.log.Info.Printf("phase 4: writing manifest")

	phaseStart = time.Now()
	m, err := p.writeManifest(result, p.destMtimes())
	if err != nil {
		return nil, phaseErr(PhaseManifest, err)
	}
	result.PhaseDurations[PhaseManifest] = time.Since(phaseStart)

	p.checkpoint(result, PhaseManifest)

	// phase 5: update catalog
	p.log.Info.Printf("phase 5: updating catalog")

	phaseStart = time.Now()
	p.updateCatalog(m, result)
	result.PhaseDurations[PhaseCatalog] = time.Since(phaseStart)

	result.FinishedAt = time.Now().UTC()

	if p.jobs != nil && result.Success() {
		if err := p.jobs.Delete(p.opts.Volume); err != nil {
			result.warnf("removing job checkpoint: %v", err)
		}
	}

	return result, nil
}

// phase 1 workhorse: a bounded worker pool digests files concurrently and
// fills the ledger. an unreadable file is a warning, not a failure - it just
// won't be part of the archive.
func (p *Pipeline) digestSource(ctx context.Context, files []sourceFile, result *Result) error {
	p.ledger = NewLedger()

	var bytesDone int64
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)

	work := make(chan sourceFile)

	g.Go(func() error {
		defer close(work)

		for _, file := range files {
			select {
			case work <- file:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return nil
	})

	for i := 0; i < p.opts.DigestWorkers; i++ {
		g.Go(func() error {
			for file := range work {
				digest, size, err := contentdigest.DigestFile(file.AbsPath, nil)
				if err != nil {
					mu.Lock()
					result.warnf("could not digest %s: %v", file.RelPath, err)
					mu.Unlock()
					continue
				}

				p.ledger.Add(file.RelPath, digest, size)

				done := atomic.AddInt64(&bytesDone, size)
				p.opts.Progress("digesting", done, result.BytesTotal)
			}

			return nil
		})
	}

	return g.Wait()
}

// phase 3: walk the destination in directory order (on tape that is physical
// order, so this reads sequentially) and compare each file against the
// ledger. afterwards, every ledger entry not seen on the destination is
// reported missing.
func (p *Pipeline) verifyDestination(ctx context.Context, result *Result) error {
	seen := map[string]bool{}

	var bytesDone int64
	bytesExpected := p.ledger.TotalBytes()

	err := filepath.WalkDir(p.opts.DestDir, func(path string, dentry fs.DirEntry, err error) error {
		if err != nil {
			if dentry == nil { // the destination root itself
				return err
			}

			// ledger entries under this subtree get accounted missing below
			result.warnf("verify: could not read %s: %v", path, err)
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if dentry.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(p.opts.DestDir, path)
		if err != nil {
			return err
		}

		relCanonical := canonpath.Canonicalize(filepath.ToSlash(rel))

		expected, inLedger := p.ledger.Get(relCanonical)
		if !inLedger {
			return nil // stray file, e.g. from an earlier transfer
		}

		seen[relCanonical] = true

		digest, size, err := contentdigest.DigestFile(path, nil)
		if err != nil {
			result.FilesFailed++
			result.FailedFiles = append(result.FailedFiles, fmt.Sprintf("%s (read error: %v)", relCanonical, err))
			return nil
		}

		// digest match alone is not enough - a truncated-then-padded file
		// could collide, so size must agree as well
		if digest != expected.Digest || size != expected.Size {
			result.FilesFailed++
			result.FailedFiles = append(result.FailedFiles, relCanonical+" (content mismatch)")
		} else {
			result.FilesVerified++
		}

		bytesDone += size
		p.opts.Progress("verifying", bytesDone, bytesExpected)

		return nil
	})
	if err != nil {
		return err
	}

	for _, relPath := range p.ledger.Paths() {
		if !seen[relPath] {
			result.FilesFailed++
			result.FailedFiles = append(result.FailedFiles, relPath+" (missing)")
		}
	}

	return nil
}

// phase 4: the ledger becomes a manifest. modification times are taken from
// the destination when possible (that is what future verifies will see).
func (p *Pipeline) writeManifest(result *Result, mtimeFor func(relPath string) *time.Time) (*manifest.Manifest, error) {
	volumeInfo := p.opts.VolumeInfo
	if volumeInfo == nil {
		volumeInfo = &manifest.VolumeInfo{Name: p.opts.Volume}
	}

	m := manifest.New(volumeInfo)

	startedAt := manifest.At(result.StartedAt)
	finishedAt := manifest.Now()
	m.Creator.StartedAt = &startedAt
	m.Creator.FinishedAt = &finishedAt

	for _, relPath := range p.ledger.Paths() {
		entry, _ := p.ledger.Get(relPath)

		hashedAt := manifest.Now()

		rec := manifest.Record{
			Path:     relPath,
			Size:     entry.Size,
			Digest:   entry.Digest,
			HashedAt: &hashedAt,
		}

		if mtime := mtimeFor(relPath); mtime != nil {
			modifiedAt := manifest.At(*mtime)
			rec.ModifiedAt = &modifiedAt
		}

		m.Append(rec)
	}

	if err := os.MkdirAll(p.opts.ManifestDir, 0755); err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(
		p.opts.ManifestDir,
		manifest.FilenameFor(p.opts.Volume, filepath.Base(p.opts.SourceRoot), result.StartedAt.Local()))

	if err := m.Save(manifestPath); err != nil {
		return nil, err
	}

	result.ManifestPath = manifestPath

	return m, nil
}

// phase 5: catalog rows plus the mirror projection. failures here are
// warnings - the manifest already exists, so the catalog can be rebuilt later
// by importing it.
func (p *Pipeline) updateCatalog(m *manifest.Manifest, result *Result) {
	if p.catalog == nil {
		result.warnf("no catalog configured, skipping catalog update")
		return
	}

	if _, err := p.catalog.ImportManifest(m, p.opts.Volume); err != nil {
		result.warnf("could not update catalog: %v", err)
		return
	}

	if p.opts.MirrorDir != "" {
		if _, err := p.catalog.WriteMirror(p.opts.MirrorDir, p.opts.Volume); err != nil {
			result.warnf("could not write mirror tree: %v", err)
		}
	}
}

// destination mtime preferred, source as fallback
func (p *Pipeline) destMtimes() func(relPath string) *time.Time {
	return func(relPath string) *time.Time {
		for _, root := range []string{p.opts.DestDir, p.opts.SourceRoot} {
			if ts, err := times.Stat(filepath.Join(root, filepath.FromSlash(relPath))); err == nil {
				mtime := ts.ModTime().UTC()
				return &mtime
			}
		}

		return nil
	}
}

func (p *Pipeline) checkpoint(result *Result, phaseReached int) {
	if p.jobs == nil {
		return
	}

	if err := p.jobs.Put(jobstate.Job{
		Volume:       p.opts.Volume,
		SourceRoot:   p.opts.SourceRoot,
		DestRoot:     p.opts.DestDir,
		StartedAt:    result.StartedAt,
		PhaseReached: phaseReached,
		ManifestPath: result.ManifestPath,
	}); err != nil {
		result.warnf("writing job checkpoint: %v", err)
	}
}

// the page cache makes both copy timing and verification lie (reads come
// from RAM instead of the medium). dropping it needs root, so this is
// best-effort only.
func dropPageCache() {
	if runtime.GOOS != "linux" {
		return
	}

	_ = exec.Command("sync").Run()
	_ = exec.Command("sudo", "-n", "sysctl", "-w", "vm.drop_caches=3").Run()
}
