package tvcli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/osutil"
	"github.com/function61/tapevault/pkg/byteshuman"
	"github.com/function61/tapevault/pkg/catalog"
	"github.com/function61/tapevault/pkg/contentdigest"
	"github.com/function61/tapevault/pkg/manifest"
	"github.com/function61/tapevault/pkg/tvconfig"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func catalogEntrypoint() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Queries and maintains the offline catalog",
	}

	cmd.AddCommand(catalogSearchEntrypoint())
	cmd.AddCommand(catalogFtsEntrypoint())
	cmd.AddCommand(catalogFindHashEntrypoint())
	cmd.AddCommand(catalogVolumesEntrypoint())
	cmd.AddCommand(catalogStatsEntrypoint())
	cmd.AddCommand(catalogSummaryEntrypoint())
	cmd.AddCommand(catalogDuplicatesEntrypoint())
	cmd.AddCommand(catalogRemoveEntrypoint())
	cmd.AddCommand(catalogImportEntrypoint())
	cmd.AddCommand(catalogMirrorEntrypoint())

	return cmd
}

// opens the catalog, runs fn, closes. the repetition would otherwise drown
// the actual command logic.
func withCatalog(fn func(cat *catalog.Store, conf *tvconfig.Config) error) error {
	conf, err := tvconfig.Read()
	if err != nil {
		return err
	}

	cat, err := openCatalog(conf, logex.StandardLogger())
	if err != nil {
		return err
	}
	defer cat.Close()

	return fn(cat, conf)
}

func catalogSearchEntrypoint() *cobra.Command {
	volume := ""

	cmd := &cobra.Command{
		Use:   "search [pattern]",
		Short: "Searches cataloged paths by glob pattern (* and ?)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withCatalog(func(cat *catalog.Store, conf *tvconfig.Config) error {
				entries, err := cat.Search(args[0], volume)
				if err != nil {
					return err
				}

				printEntries(entries)

				return nil
			}))
		},
	}

	cmd.Flags().StringVarP(&volume, "volume", "v", volume, "Limit search to one volume")

	return cmd
}

func catalogFtsEntrypoint() *cobra.Command {
	volume := ""

	cmd := &cobra.Command{
		Use:   "fts [query]",
		Short: "Full-text search over cataloged paths (e.g. 'project AND mov')",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withCatalog(func(cat *catalog.Store, conf *tvconfig.Config) error {
				entries, err := cat.SearchFullText(args[0], volume)
				if err != nil {
					return err
				}

				printEntries(entries)

				return nil
			}))
		},
	}

	cmd.Flags().StringVarP(&volume, "volume", "v", volume, "Limit search to one volume")

	return cmd
}

func catalogFindHashEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "find-hash [digest]",
		Short: "Finds which volumes carry a file with the given xxhash64",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withCatalog(func(cat *catalog.Store, conf *tvconfig.Config) error {
				digest, err := contentdigest.TokenFromHex(args[0])
				if err != nil {
					return err
				}

				entries, err := cat.FindByDigest(digest)
				if err != nil {
					return err
				}

				printEntries(entries)

				return nil
			}))
		},
	}
}

func catalogVolumesEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "volumes",
		Short: "Lists cataloged volumes",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withCatalog(func(cat *catalog.Store, conf *tvconfig.Config) error {
				volumes, err := cat.ListVolumes()
				if err != nil {
					return err
				}

				table := tablewriter.NewWriter(os.Stdout)
				table.SetHeader([]string{"Volume", "Barcode", "Files", "Size"})

				for _, vol := range volumes {
					table.Append([]string{
						vol.Name,
						vol.Barcode,
						fmt.Sprintf("%d", vol.FileCount),
						byteshuman.Humanize(uint64(vol.TotalBytes)),
					})
				}

				table.Render()

				return nil
			}))
		},
	}
}

func catalogStatsEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [volume]",
		Short: "Shows aggregates for one volume",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withCatalog(func(cat *catalog.Store, conf *tvconfig.Config) error {
				stats, err := cat.VolumeStats(args[0])
				if err != nil {
					return err
				}

				fmt.Printf("%s: %d file(s), %s\n", stats.Name, stats.FileCount, byteshuman.Humanize(uint64(stats.TotalBytes)))

				if stats.OldestFile != nil && stats.NewestFile != nil {
					fmt.Printf(
						"content dates %s .. %s\n",
						stats.OldestFile.Format("2006-01-02"),
						stats.NewestFile.Format("2006-01-02"))
				}

				return nil
			}))
		},
	}
}

func catalogSummaryEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Totals across the whole catalog",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withCatalog(func(cat *catalog.Store, conf *tvconfig.Config) error {
				summary, err := cat.Summary()
				if err != nil {
					return err
				}

				fmt.Printf(
					"%d volume(s), %d file(s), %s\n",
					summary.VolumeCount,
					summary.FileCount,
					byteshuman.Humanize(uint64(summary.TotalBytes)))

				return nil
			}))
		},
	}
}

func catalogDuplicatesEntrypoint() *cobra.Command {
	minSize := int64(1024 * 1024)

	cmd := &cobra.Command{
		Use:   "duplicates",
		Short: "Finds files stored on multiple volumes (same digest and size)",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withCatalog(func(cat *catalog.Store, conf *tvconfig.Config) error {
				groups, err := cat.FindDuplicates(minSize)
				if err != nil {
					return err
				}

				for _, group := range groups {
					locations := make([]string, 0, len(group.Entries))
					for _, entry := range group.Entries {
						locations = append(locations, entry.VolumeName+":"+entry.Path)
					}

					fmt.Printf(
						"%s %s x%d\n  %s\n",
						group.Digest.Hex(),
						byteshuman.Humanize(uint64(group.Size)),
						len(group.Entries),
						strings.Join(locations, "\n  "))
				}

				return nil
			}))
		},
	}

	cmd.Flags().Int64VarP(&minSize, "min-size", "m", minSize, "Ignore files smaller than this many bytes")

	return cmd
}

func catalogRemoveEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [volume]",
		Short: "Removes a volume and all its file records from the catalog",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withCatalog(func(cat *catalog.Store, conf *tvconfig.Config) error {
				return cat.RemoveVolume(args[0])
			}))
		},
	}
}

func catalogImportEntrypoint() *cobra.Command {
	volume := ""

	cmd := &cobra.Command{
		Use:   "import [manifestFile...]",
		Short: "Replays manifests into the catalog (rebuilds a lost catalog)",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withCatalog(func(cat *catalog.Store, conf *tvconfig.Config) error {
				for _, manifestPath := range args {
					m, err := manifest.Load(manifestPath)
					if err != nil {
						return err
					}

					imported, err := cat.ImportManifest(m, volume)
					if err != nil {
						return err
					}

					fmt.Printf("%s: %d file(s)\n", manifestPath, imported)
				}

				return nil
			}))
		},
	}

	cmd.Flags().StringVarP(&volume, "volume", "v", volume, "Override volume name (default: from manifest)")

	return cmd
}

func catalogMirrorEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "mirror [volume]",
		Short: "Regenerates the browsable zero-byte mirror tree for a volume",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withCatalog(func(cat *catalog.Store, conf *tvconfig.Config) error {
				written, err := cat.WriteMirror(conf.MirrorDir(), args[0])
				if err != nil {
					return err
				}

				fmt.Printf("%d placeholder(s) under %s\n", written, conf.MirrorDir())

				return nil
			}))
		},
	}
}

func printEntries(entries []catalog.Entry) {
	if len(entries) == 0 {
		fmt.Println("no matches")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Volume", "Path", "Size", "Modified"})

	for _, entry := range entries {
		modified := ""
		if entry.ModifiedAt != nil {
			modified = entry.ModifiedAt.Format(time.RFC3339)
		}

		table.Append([]string{
			entry.VolumeName,
			entry.Path,
			byteshuman.Humanize(uint64(entry.Size)),
			modified,
		})
	}

	table.Render()
}
