package transfer

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/function61/tapevault/pkg/canonpath"
	"github.com/function61/tapevault/pkg/exclude"
)

// bulk copy capability. the pipeline treats the copy step as untrusted - the
// verify phase is what proves the bytes landed - so implementations only need
// to make a best effort and report what they saw.
type Copier interface {
	// copies the contents of sourceDir into destDir (not sourceDir itself),
	// honoring excludes. progress/log output goes to output.
	Copy(ctx context.Context, sourceDir string, destDir string, excludes exclude.Rules, output io.Writer) error
}

// shells out to rsync. LTO drives want large sequential writes and rsync is
// still the best tool for feeding them.
type RsyncCopier struct {
	// extra options in addition to the defaults, e.g. "--partial"
	Options []string
}

func (r *RsyncCopier) Copy(ctx context.Context, sourceDir string, destDir string, excludes exclude.Rules, output io.Writer) error {
	args := []string{"-a"}

	// these need rsync 3.1+; the stock macOS rsync (2.6.9) chokes on them
	if runtime.GOOS == "linux" {
		args = append(args, "--info=progress2", "--no-i-r")
	}

	args = append(args, r.Options...)

	for _, rule := range excludes {
		args = append(args, "--exclude", string(rule))
	}

	// trailing slashes: copy contents, not the directory itself
	args = append(args, sourceDir+"/", destDir+"/")

	rsync := exec.CommandContext(ctx, "rsync", args...)
	rsync.Stdout = output
	rsync.Stderr = output

	if err := rsync.Run(); err != nil {
		return fmt.Errorf("rsync: %w", err)
	}

	return nil
}

// pure-Go copy for disk-to-disk archives and for systems without rsync
type LocalCopier struct{}

func (l *LocalCopier) Copy(ctx context.Context, sourceDir string, destDir string, excludes exclude.Rules, output io.Writer) error {
	return filepath.WalkDir(sourceDir, func(path string, dentry fs.DirEntry, err error) error {
		if err != nil {
			if dentry == nil {
				return err
			}

			// keep going like rsync would; verification decides what is lost
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if dentry.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}

		if excludes.Match(canonpath.Canonicalize(filepath.ToSlash(rel))) {
			return nil
		}

		destPath := filepath.Join(destDir, rel)

		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return err
		}

		if err := copyFile(path, destPath); err != nil {
			return err
		}

		fmt.Fprintf(output, "%s\n", rel)

		return nil
	})
}

func copyFile(sourcePath string, destPath string) error {
	source, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer source.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dest.Close()

	if _, err := io.Copy(dest, source); err != nil {
		return err
	}

	if err := dest.Close(); err != nil {
		return err
	}

	// keep mtimes - verification trusts content, but catalog records timestamps
	if stat, err := os.Stat(sourcePath); err == nil {
		_ = os.Chtimes(destPath, stat.ModTime(), stat.ModTime())
	}

	return nil
}
