package tvcli

import (
	"context"
	"errors"
	"fmt"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/osutil"
	"github.com/function61/tapevault/pkg/byteshuman"
	"github.com/function61/tapevault/pkg/tapemount"
	"github.com/function61/tapevault/pkg/tvconfig"
	"github.com/spf13/cobra"
)

func mountEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "mount [volumeName]",
		Short: "Mounts the LTFS tape in the drive",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(wrapWithStopSupport(func(ctx context.Context) error {
				conf, err := tvconfig.Read()
				if err != nil {
					return err
				}

				if err := conf.InitDirs(); err != nil {
					return err
				}

				volumeName := ""
				if len(args) > 0 {
					volumeName = args[0]
				}

				mountPoint, err := newMounter(conf, logex.StandardLogger()).Mount(ctx, volumeName)
				if err != nil {
					return err
				}

				fmt.Printf("mounted at %s\n", mountPoint)

				return nil
			}))
		},
	}
}

func unmountEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "unmount",
		Short: "Flushes the LTFS index and unmounts the tape - always do this before ejecting",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(wrapWithStopSupport(func(ctx context.Context) error {
				conf, err := tvconfig.Read()
				if err != nil {
					return err
				}

				if err := newMounter(conf, logex.StandardLogger()).Unmount(ctx); err != nil {
					if errors.Is(err, tapemount.ErrUnmountTimeout) {
						fmt.Println("!!! the tape may still be writing its index - do NOT eject !!!")
					}

					return err
				}

				fmt.Println("unmounted - safe to eject")

				return nil
			}))
		},
	}
}

func infoEntrypoint() *cobra.Command {
	deepScan := false

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Shows mounted tape info and LTFS volume attributes",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(func() error {
				conf, err := tvconfig.Read()
				if err != nil {
					return err
				}

				info, err := tapemount.Probe(conf.MountPoint, deepScan)
				if err != nil {
					return err
				}

				if !info.Mounted {
					fmt.Printf("not mounted (%s)\n", conf.MountPoint)
					return nil
				}

				fmt.Printf("mounted at %s\n", info.MountPoint)

				attrs := info.Attributes
				for _, kv := range [][2]string{
					{"volume name", attrs.VolumeName},
					{"volume UUID", attrs.VolumeUUID},
					{"barcode", attrs.Barcode},
					{"format time", attrs.FormatTime},
					{"update time", attrs.UpdateTime},
					{"generation", attrs.Generation},
					{"software", attrs.SoftwareProduct},
				} {
					if kv[1] != "" {
						fmt.Printf("  %-12s %s\n", kv[0], kv[1])
					}
				}

				if deepScan {
					fmt.Printf(
						"%d file(s) in %d dir(s), %s\n",
						info.FileCount,
						info.DirCount,
						byteshuman.Humanize(uint64(info.TotalBytes)))
				} else {
					fmt.Printf("top level: %v\n", info.TopLevel)
				}

				return nil
			}())
		},
	}

	cmd.Flags().BoolVarP(&deepScan, "deep", "d", deepScan, "Walk the whole tape to count files and bytes (slow)")

	return cmd
}
