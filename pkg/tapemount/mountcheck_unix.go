//go:build linux || darwin

package tapemount

import (
	"os"
	"path/filepath"
	"syscall"
)

// a path is a mount point when it lives on a different device than its parent
func isMountPoint(path string) (bool, error) {
	pathStat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	parentStat, err := os.Stat(filepath.Dir(path))
	if err != nil {
		return false, err
	}

	pathSys, ok := pathStat.Sys().(*syscall.Stat_t)
	if !ok {
		return false, nil
	}

	parentSys, ok := parentStat.Sys().(*syscall.Stat_t)
	if !ok {
		return false, nil
	}

	return pathSys.Dev != parentSys.Dev, nil
}
