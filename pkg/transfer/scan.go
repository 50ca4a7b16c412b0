package transfer

import (
	"io/fs"
	"path/filepath"

	"github.com/function61/tapevault/pkg/canonpath"
	"github.com/function61/tapevault/pkg/exclude"
)

// LTFS stores names as UTF-8 with a 255-byte limit; we warn well before that
const maxFilenameBytes = 250

type sourceFile struct {
	AbsPath string
	RelPath string // canonical, forward slashes
	Size    int64
}

// walks the source tree, applying exclusion rules. returned paths are
// canonical so every later phase compares like with like.
//
// unreadable entries are reported through warnf and skipped - they just
// won't be part of the archive. only a vanished root is fatal.
func scanSource(root string, excludes exclude.Rules, warnf func(format string, args ...interface{})) (selected []sourceFile, excluded int, err error) {
	err = filepath.WalkDir(root, func(path string, dentry fs.DirEntry, err error) error {
		if err != nil {
			if dentry == nil { // the root itself
				return err
			}

			warnf("could not read %s: %v", path, err)
			return nil
		}

		if dentry.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		relCanonical := canonpath.Canonicalize(filepath.ToSlash(rel))

		if excludes.Match(relCanonical) {
			excluded++
			return nil
		}

		stat, err := dentry.Info()
		if err != nil {
			warnf("could not stat %s: %v", relCanonical, err)
			return nil
		}

		selected = append(selected, sourceFile{
			AbsPath: path,
			RelPath: relCanonical,
			Size:    stat.Size(),
		})

		return nil
	})

	return selected, excluded, err
}

// names the destination filesystem would likely reject
func longFilenames(files []sourceFile) []string {
	long := []string{}

	for _, file := range files {
		if len([]byte(filepath.Base(file.AbsPath))) > maxFilenameBytes {
			long = append(long, file.RelPath)
		}
	}

	return long
}
