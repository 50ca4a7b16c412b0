//go:build !linux && !darwin

package tapemount

import "errors"

func isMountPoint(path string) (bool, error) {
	return false, errors.New("mount detection not supported on this platform")
}
