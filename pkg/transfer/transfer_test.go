package transfer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/function61/gokit/logex"
	"github.com/function61/tapevault/pkg/catalog"
	"github.com/function61/tapevault/pkg/exclude"
	"github.com/function61/tapevault/pkg/jobstate"
	"github.com/function61/tapevault/pkg/manifest"
)

func TestPipelineEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.writeSourceFile("a/x.bin", make([]byte, 1024))
	// decomposed form on disk (u + combining diaeresis); everything downstream
	// must see the precomposed form
	env.writeSourceFile("b/ü.bin", make([]byte, 2048))
	env.writeSourceFile(".DS_Store", []byte("junk"))

	pipeline := env.pipeline(Options{Excludes: exclude.Rules{".DS_Store"}})

	result, err := pipeline.Run(context.Background())
	assert.Ok(t, err)

	assert.Assert(t, result.Success())
	assert.Assert(t, result.FilesTotal == 3)
	assert.Assert(t, result.FilesExcluded == 1)
	assert.Assert(t, result.FilesVerified == 2)
	assert.Assert(t, result.FilesFailed == 0)
	assert.Assert(t, result.BytesTotal == 3072)

	// manifest on disk, with canonical paths
	m, err := manifest.Load(result.ManifestPath)
	assert.Ok(t, err)
	assert.Assert(t, len(m.Records) == 2)
	assert.EqualString(t, m.Records[0].Path, "a/x.bin")
	assert.EqualString(t, m.Records[1].Path, "b/\u00fc.bin")
	assert.Assert(t, m.Records[1].Size == 2048)
	assert.Assert(t, m.Records[0].ModifiedAt != nil)

	// catalog rows and aggregates
	stats, err := env.catalog.VolumeStats("TAPE01")
	assert.Ok(t, err)
	assert.Assert(t, stats.FileCount == 2)
	assert.Assert(t, stats.TotalBytes == 3072)

	// mirror projection: zero-byte placeholder
	placeholder, err := os.Stat(filepath.Join(env.mirrorDir, "TAPE01", "a", "x.bin"))
	assert.Ok(t, err)
	assert.Assert(t, placeholder.Size() == 0)
}

func TestPipelineDetectsCorruption(t *testing.T) {
	env := newTestEnv(t)
	env.writeSourceFile("good.bin", []byte("intact content"))
	env.writeSourceFile("bad.bin", []byte("original content"))

	pipeline := env.pipeline(Options{})
	pipeline.copier = &corruptingCopier{victim: "bad.bin"}

	result, err := pipeline.Run(context.Background())
	assert.Ok(t, err)

	assert.Assert(t, !result.Success())
	assert.Assert(t, result.FilesVerified == 1)
	assert.Assert(t, result.FilesFailed == 1)
	assert.EqualString(t, result.FailedFiles[0], "bad.bin (content mismatch)")
}

func TestPipelineDetectsMissingFile(t *testing.T) {
	env := newTestEnv(t)
	env.writeSourceFile("kept.bin", []byte("aaaa"))
	env.writeSourceFile("dropped.bin", []byte("bbbb"))

	pipeline := env.pipeline(Options{})
	pipeline.copier = &droppingCopier{victim: "dropped.bin"}

	result, err := pipeline.Run(context.Background())
	assert.Ok(t, err)

	assert.Assert(t, !result.Success())
	assert.Assert(t, result.FilesFailed == 1)
	assert.EqualString(t, result.FailedFiles[0], "dropped.bin (missing)")
}

func TestDryRun(t *testing.T) {
	env := newTestEnv(t)
	env.writeSourceFile("a/x.bin", make([]byte, 100))

	result, err := env.pipeline(Options{DryRun: true}).Run(context.Background())
	assert.Ok(t, err)

	assert.Assert(t, result.FilesTotal == 1)
	assert.EqualString(t, result.ManifestPath, "")

	// nothing copied
	_, err = os.Stat(filepath.Join(env.destDir, "a", "x.bin"))
	assert.Assert(t, os.IsNotExist(err))
}

func TestJobCheckpointRemovedOnSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.writeSourceFile("x.bin", []byte("data"))

	jobs, err := jobstate.Open(filepath.Join(t.TempDir(), "jobs.db"))
	assert.Ok(t, err)
	t.Cleanup(func() { jobs.Close() })

	pipeline := env.pipeline(Options{})
	pipeline.jobs = jobs

	result, err := pipeline.Run(context.Background())
	assert.Ok(t, err)
	assert.Assert(t, result.Success())

	_, err = jobs.Get("TAPE01")
	assert.Assert(t, errors.Is(err, jobstate.ErrNotFound))
}

// crash after the copy phase: destination has the files but no manifest or
// catalog exists. recovery digests the source and emits both.
func TestRecover(t *testing.T) {
	env := newTestEnv(t)
	env.writeSourceFile("a/x.bin", make([]byte, 1024))
	env.writeSourceFile("b/ü.bin", make([]byte, 2048))

	copyOnly(t, env.sourceDir, env.destDir)

	result, err := env.pipeline(Options{}).Recover(context.Background())
	assert.Ok(t, err)

	m, err := manifest.Load(result.ManifestPath)
	assert.Ok(t, err)
	assert.Assert(t, len(m.Records) == 2)

	stats, err := env.catalog.VolumeStats("TAPE01")
	assert.Ok(t, err)
	assert.Assert(t, stats.TotalBytes == 3072)
}

// same crash, but the source is gone too: finalize digests the destination
// itself and must land on the same totals
func TestFinalize(t *testing.T) {
	env := newTestEnv(t)
	env.writeSourceFile("a/x.bin", make([]byte, 1024))
	env.writeSourceFile("b/ü.bin", make([]byte, 2048))

	copyOnly(t, env.sourceDir, env.destDir)
	assert.Ok(t, os.RemoveAll(env.sourceDir))

	pipeline := env.pipeline(Options{})
	pipeline.opts.SourceRoot = env.destDir

	result, err := pipeline.Finalize(context.Background())
	assert.Ok(t, err)

	m, err := manifest.Load(result.ManifestPath)
	assert.Ok(t, err)
	assert.Assert(t, len(m.Records) == 2)
	assert.EqualString(t, m.Records[1].Path, "b/\u00fc.bin")

	stats, err := env.catalog.VolumeStats("TAPE01")
	assert.Ok(t, err)
	assert.Assert(t, stats.FileCount == 2)
	assert.Assert(t, stats.TotalBytes == 3072)
}

// an unreadable subtree shrinks the archive with a warning; it must not kill
// the whole job
func TestPipelineContinuesPastUnreadableDir(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root bypasses file permissions")
	}

	env := newTestEnv(t)
	env.writeSourceFile("ok.bin", make([]byte, 1024))
	env.writeSourceFile("locked/secret.bin", make([]byte, 512))

	lockedDir := filepath.Join(env.sourceDir, "locked")
	assert.Ok(t, os.Chmod(lockedDir, 0000))
	t.Cleanup(func() { os.Chmod(lockedDir, 0755) })

	result, err := env.pipeline(Options{}).Run(context.Background())
	assert.Ok(t, err)

	assert.Assert(t, result.Success())
	assert.Assert(t, result.FilesVerified == 1)
	assert.Assert(t, result.BytesTotal == 1024)
	assert.Assert(t, len(result.Warnings) == 1)
	assert.Assert(t, strings.Contains(result.Warnings[0], "locked"))
}

func TestLongFilenamePreflightWarns(t *testing.T) {
	env := newTestEnv(t)

	// 255 bytes: still legal on the source filesystem, but over our threshold
	longName := strings.Repeat("a", 251) + ".bin"
	env.writeSourceFile(longName, []byte("x"))

	result, err := env.pipeline(Options{DryRun: true}).Run(context.Background())
	assert.Ok(t, err)

	assert.Assert(t, len(result.Warnings) == 1)
	assert.Assert(t, strings.Contains(result.Warnings[0], longName))
}

func TestVerifyAgainstManifest(t *testing.T) {
	env := newTestEnv(t)
	env.writeSourceFile("a/x.bin", []byte("content a"))
	env.writeSourceFile("b/y.bin", []byte("content b"))

	result, err := env.pipeline(Options{}).Run(context.Background())
	assert.Ok(t, err)
	assert.Assert(t, result.Success())

	// pristine destination verifies clean
	vr, err := Verify(context.Background(), result.ManifestPath, env.destDir, nil)
	assert.Ok(t, err)
	assert.Assert(t, vr.Success())
	assert.Assert(t, vr.Verified == 2)

	// corrupt one file, remove the other
	assert.Ok(t, os.WriteFile(filepath.Join(env.destDir, "a", "x.bin"), []byte("tampered"), 0644))
	assert.Ok(t, os.Remove(filepath.Join(env.destDir, "b", "y.bin")))

	vr, err = Verify(context.Background(), result.ManifestPath, env.destDir, nil)
	assert.Ok(t, err)
	assert.Assert(t, !vr.Success())
	assert.Assert(t, vr.Failed == 1)
	assert.Assert(t, vr.Missing == 1)
	assert.Assert(t, strings.Contains(vr.FailedFiles[0], "a/x.bin"))
	assert.EqualString(t, vr.MissingFiles[0], "b/y.bin")
}

// test scaffolding

type testEnv struct {
	t         *testing.T
	sourceDir string
	destDir   string
	mirrorDir string
	catalog   *catalog.Store
}

func newTestEnv(t *testing.T) *testEnv {
	root := t.TempDir()

	sourceDir := filepath.Join(root, "source")
	destDir := filepath.Join(root, "dest")
	assert.Ok(t, os.MkdirAll(sourceDir, 0755))
	assert.Ok(t, os.MkdirAll(destDir, 0755))

	store, err := catalog.Open(filepath.Join(root, "catalog.db"), logex.Discard)
	assert.Ok(t, err)
	t.Cleanup(func() { store.Close() })

	return &testEnv{
		t:         t,
		sourceDir: sourceDir,
		destDir:   destDir,
		mirrorDir: filepath.Join(root, "mirror"),
		catalog:   store,
	}
}

func (e *testEnv) writeSourceFile(relPath string, content []byte) {
	path := filepath.Join(e.sourceDir, filepath.FromSlash(relPath))

	assert.Ok(e.t, os.MkdirAll(filepath.Dir(path), 0755))
	assert.Ok(e.t, os.WriteFile(path, content, 0644))
}

func (e *testEnv) pipeline(opts Options) *Pipeline {
	opts.SourceRoot = e.sourceDir
	opts.DestDir = e.destDir
	opts.Volume = "TAPE01"
	opts.ManifestDir = filepath.Join(e.t.TempDir(), "manifests")
	opts.MirrorDir = e.mirrorDir

	return NewPipeline(opts, &LocalCopier{}, e.catalog, nil, logex.Discard)
}

func copyOnly(t *testing.T, sourceDir string, destDir string) {
	assert.Ok(t, (&LocalCopier{}).Copy(context.Background(), sourceDir, destDir, nil, io.Discard))
}

// copies faithfully, then damages one destination file
type corruptingCopier struct {
	victim string
}

func (c *corruptingCopier) Copy(ctx context.Context, sourceDir string, destDir string, excludes exclude.Rules, output io.Writer) error {
	if err := (&LocalCopier{}).Copy(ctx, sourceDir, destDir, excludes, output); err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(destDir, c.victim), []byte("bitrot happened here"), 0644)
}

// copies faithfully, except one file never arrives
type droppingCopier struct {
	victim string
}

func (c *droppingCopier) Copy(ctx context.Context, sourceDir string, destDir string, excludes exclude.Rules, output io.Writer) error {
	if err := (&LocalCopier{}).Copy(ctx, sourceDir, destDir, excludes, output); err != nil {
		return err
	}

	return os.Remove(filepath.Join(destDir, c.victim))
}
