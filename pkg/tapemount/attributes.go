package tapemount

import (
	"runtime"
	"strings"

	"github.com/pkg/xattr"
)

// metadata LTFS exposes as extended attributes on the mount point root
type VolumeAttributes struct {
	VolumeName      string
	VolumeUUID      string
	Barcode         string
	Vendor          string
	Version         string
	Generation      string
	FormatTime      string
	UpdateTime      string
	SoftwareProduct string
	SoftwareVendor  string
	SoftwareVersion string
	MediaPool       string
}

// best-effort: attributes a given LTFS implementation doesn't expose are
// simply left empty
func ReadVolumeAttributes(mountPoint string) VolumeAttributes {
	get := func(name string) string {
		value, err := xattr.Get(mountPoint, attributePrefix()+name)
		if err != nil {
			return ""
		}

		return strings.TrimRight(string(value), "\x00")
	}

	return VolumeAttributes{
		VolumeName:      get("volumeName"),
		VolumeUUID:      get("volumeUUID"),
		Barcode:         get("barcode"),
		Vendor:          get("vendor"),
		Version:         get("version"),
		Generation:      get("generation"),
		FormatTime:      get("formatTime"),
		UpdateTime:      get("updateTime"),
		SoftwareProduct: get("softwareProduct"),
		SoftwareVendor:  get("softwareVendor"),
		SoftwareVersion: get("softwareVersion"),
		MediaPool:       get("mediaPool"),
	}
}

func attributePrefix() string {
	if runtime.GOOS == "linux" {
		return "user.ltfs."
	}

	return "ltfs." // macOS namespaces differently
}
