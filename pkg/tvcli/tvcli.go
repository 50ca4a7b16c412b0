// Command-line entrypoints, wiring configuration, the tape mounter, the
// catalog and the transfer pipeline together.
package tvcli

import (
	"context"
	"log"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/osutil"
	"github.com/function61/tapevault/pkg/catalog"
	"github.com/function61/tapevault/pkg/exclude"
	"github.com/function61/tapevault/pkg/tapemount"
	"github.com/function61/tapevault/pkg/tvconfig"
	"github.com/spf13/cobra"
)

func Entrypoints() []*cobra.Command {
	return []*cobra.Command{
		transferEntrypoint(),
		recoverEntrypoint(),
		finalizeEntrypoint(),
		verifyEntrypoint(),
		compareEntrypoint(),
		jobsEntrypoint(),
		mountEntrypoint(),
		unmountEntrypoint(),
		infoEntrypoint(),
		catalogEntrypoint(),
		configEntrypoint(),
	}
}

func wrapWithStopSupport(fn func(ctx context.Context) error) error {
	return fn(osutil.CancelOnInterruptOrTerminate(logex.StandardLogger()))
}

func openCatalog(conf *tvconfig.Config, logger *log.Logger) (*catalog.Store, error) {
	return catalog.Open(conf.CatalogDBPath(), logex.Prefix("catalog", logger))
}

func newMounter(conf *tvconfig.Config, logger *log.Logger) *tapemount.LTFS {
	return tapemount.New(tapemount.Options{
		Device:     conf.Device,
		MountPoint: conf.MountPoint,
		LTFSBinary: conf.LTFSBinary,
		SyncType:   conf.SyncType,
		IndexDir:   conf.IndexDir(),
		IOSize:     conf.IOSize,
		Rules:      conf.PlacementRules,
	}, logger)
}

func excludeRules(conf *tvconfig.Config) exclude.Rules {
	rules := make(exclude.Rules, 0, len(conf.Excludes))
	for _, pattern := range conf.Excludes {
		rules = append(rules, exclude.Rule(pattern))
	}

	return rules
}
