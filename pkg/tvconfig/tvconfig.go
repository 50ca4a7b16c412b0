// Package tvconfig holds the tool configuration: where the tape mounts,
// which device to use and where archive artifacts (manifests, catalog,
// mirror, logs) live.
//
// Configuration is always passed around explicitly - nothing in this codebase
// reaches for a global config.
package tvconfig

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/function61/gokit/jsonfile"
)

const configFilename = "tapevault-config.json"

type Config struct {
	MountPoint string `json:"mount_point"`
	Device     string `json:"device"`
	ArchiveDir string `json:"archive_dir"` // manifests, catalog, mirror, logs all live under this
	LTFSBinary string `json:"ltfs_binary"`

	// LTFS mount tuning
	SyncType       string `json:"sync_type"`       // e.g. "time@5min"
	IOSize         string `json:"iosize"`          // "" = LTFS default
	PlacementRules string `json:"placement_rules"` // LTFS data placement rules, "" = none

	RsyncOptions  []string `json:"rsync_options"`
	Excludes      []string `json:"excludes"`
	DigestWorkers int      `json:"digest_workers"`
}

// derived locations under ArchiveDir

func (c *Config) ManifestDir() string { return filepath.Join(c.ArchiveDir, "mhl") }
func (c *Config) MirrorDir() string   { return filepath.Join(c.ArchiveDir, "catalogs") }
func (c *Config) LogDir() string      { return filepath.Join(c.ArchiveDir, "logs") }
func (c *Config) IndexDir() string    { return filepath.Join(c.ArchiveDir, "indexes") }

func (c *Config) CatalogDBPath() string  { return filepath.Join(c.ArchiveDir, "catalog.db") }
func (c *Config) JobStateDBPath() string { return filepath.Join(c.ArchiveDir, "jobs.db") }

func (c *Config) InitDirs() error {
	for _, dir := range []string{c.ManifestDir(), c.MirrorDir(), c.LogDir(), c.IndexDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

// environment and detection-based defaults for a host that has no config
// file yet
func Defaults() *Config {
	conf := &Config{
		SyncType: "time@5min",
		RsyncOptions: []string{
			"--progress",
			"--itemize-changes",
		},
		Excludes: []string{
			".DS_Store",
			"._*", // AppleDouble metadata
			".Spotlight-*",
			".fseventsd",
			".Trashes",
			".Trash/",
			"*/Library/Caches/*",
			"*.tmp",
			".TemporaryItems",
			"Thumbs.db",
		},
		DigestWorkers: 4,
	}

	if runtime.GOOS == "darwin" {
		conf.MountPoint = "/Volumes/LTFS"
		conf.Device = "0"
		conf.LTFSBinary = findLTFSBinaryMacos()
	} else {
		conf.MountPoint = "/media/tape"
		conf.Device = "/dev/sg3"
		conf.LTFSBinary = "/usr/local/bin/ltfs"

		if detected := detectTapeDeviceLinux(); detected != "" {
			conf.Device = detected
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		conf.ArchiveDir = filepath.Join(home, "tape-archives")
	}

	// env overrides trump detection
	if mountPoint := os.Getenv("TAPEVAULT_MOUNT_POINT"); mountPoint != "" {
		conf.MountPoint = mountPoint
	}
	if device := os.Getenv("TAPEVAULT_DEVICE"); device != "" {
		conf.Device = device
	}
	if archiveDir := os.Getenv("TAPEVAULT_ARCHIVE_DIR"); archiveDir != "" {
		conf.ArchiveDir = archiveDir
	}

	return conf
}

func ConfigFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(home, configFilename), nil
}

func Read() (*Config, error) {
	confPath, err := ConfigFilePath()
	if err != nil {
		return nil, fmt.Errorf("tapevault config: %v", err)
	}

	conf := &Config{}
	if err := jsonfile.Read(confPath, conf, true); err != nil {
		return nil, fmt.Errorf("tapevault config: %v (hint: run config-init)", err)
	}

	return conf, nil
}

func Write(conf *Config) error {
	confPath, err := ConfigFilePath()
	if err != nil {
		return err
	}

	return jsonfile.Write(confPath, conf)
}

// sanity issues that would make a transfer fail late, reported early
func (c *Config) Validate() []string {
	issues := []string{}

	if _, err := os.Stat(c.LTFSBinary); err != nil {
		issues = append(issues, fmt.Sprintf("LTFS binary not found at %s", c.LTFSBinary))
	}

	if _, err := exec.LookPath("rsync"); err != nil {
		issues = append(issues, "rsync not found in PATH")
	}

	if c.ArchiveDir == "" {
		issues = append(issues, "archive_dir not set")
	}

	return issues
}

// "lsscsi -g" lists tape drives with their sg device in the last column
func detectTapeDeviceLinux() string {
	output, err := exec.Command("lsscsi", "-g").Output()
	if err != nil {
		return ""
	}

	for _, line := range strings.Split(string(output), "\n") {
		if !strings.Contains(strings.ToLower(line), "tape") {
			continue
		}

		fields := strings.Fields(line)
		for i := len(fields) - 1; i >= 0; i-- {
			if strings.HasPrefix(fields[i], "/dev/sg") {
				return fields[i]
			}
		}
	}

	return ""
}

func findLTFSBinaryMacos() string {
	if path, err := exec.LookPath("ltfs"); err == nil {
		return path
	}

	for _, framework := range []string{
		"/Library/Frameworks/YoLTO.framework/Versions/Current/usr/bin/ltfs",
		"/Library/Frameworks/LTFS.framework/Versions/Current/usr/bin/ltfs",
	} {
		if _, err := os.Stat(framework); err == nil {
			return framework
		}
	}

	return "/Library/Frameworks/LTFS.framework/Versions/Current/usr/bin/ltfs"
}
