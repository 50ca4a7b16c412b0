package tapemount

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

type Info struct {
	Mounted    bool
	MountPoint string
	Attributes VolumeAttributes
	TopLevel   []string // immediate children of the mount point, sorted

	// filled by deep scan only (walking a large tape is slow)
	FileCount  int
	DirCount   int
	TotalBytes int64
}

// inspects a mounted volume. deepScan walks the whole tree to count files and
// bytes; without it only the top-level listing and xattr metadata are read.
// unreadable entries are skipped, not fatal - a flaky tape should still yield
// partial info.
func Probe(mountPoint string, deepScan bool) (*Info, error) {
	mounted, err := isMountPoint(mountPoint)
	if err != nil {
		return nil, err
	}

	info := &Info{
		Mounted:    mounted,
		MountPoint: mountPoint,
	}

	if !mounted {
		return info, nil
	}

	info.Attributes = ReadVolumeAttributes(mountPoint)

	dentries, err := os.ReadDir(mountPoint)
	if err != nil {
		return nil, err
	}

	for _, dentry := range dentries {
		info.TopLevel = append(info.TopLevel, dentry.Name())
	}
	sort.Strings(info.TopLevel)

	if deepScan {
		_ = filepath.WalkDir(mountPoint, func(path string, dentry fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}

			if dentry.IsDir() {
				if path != mountPoint {
					info.DirCount++
				}
				return nil
			}

			info.FileCount++

			if stat, err := dentry.Info(); err == nil {
				info.TotalBytes += stat.Size()
			}

			return nil
		})
	}

	return info, nil
}
