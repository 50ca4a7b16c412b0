package tvcli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/osutil"
	"github.com/function61/tapevault/pkg/byteshuman"
	"github.com/function61/tapevault/pkg/jobstate"
	"github.com/function61/tapevault/pkg/logtee"
	"github.com/function61/tapevault/pkg/manifest"
	"github.com/function61/tapevault/pkg/tapemount"
	"github.com/function61/tapevault/pkg/transfer"
	"github.com/function61/tapevault/pkg/tui"
	"github.com/function61/tapevault/pkg/tvconfig"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func transferEntrypoint() *cobra.Command {
	volume := ""
	dryRun := false
	skipVerify := false

	cmd := &cobra.Command{
		Use:   "transfer [sourceDir]",
		Short: "Archives a directory to the mounted tape, with verification",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(wrapWithStopSupport(func(ctx context.Context) error {
				return runTransfer(ctx, args[0], volume, dryRun, skipVerify)
			}))
		},
	}

	cmd.Flags().StringVarP(&volume, "volume", "v", volume, "Volume name (default: from tape attributes)")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", dryRun, "Only show what would be transferred")
	cmd.Flags().BoolVarP(&skipVerify, "skip-verify", "", skipVerify, "Skip destination verification (not recommended)")

	return cmd
}

func recoverEntrypoint() *cobra.Command {
	volume := ""

	cmd := &cobra.Command{
		Use:   "recover [sourceDir]",
		Short: "Rebuilds manifest and catalog for a crashed transfer by re-digesting the source",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(wrapWithStopSupport(func(ctx context.Context) error {
				return runEmit(ctx, args[0], volume, false)
			}))
		},
	}

	cmd.Flags().StringVarP(&volume, "volume", "v", volume, "Volume name (default: from tape attributes)")

	return cmd
}

func finalizeEntrypoint() *cobra.Command {
	volume := ""

	cmd := &cobra.Command{
		Use:   "finalize [dirNameOnTape]",
		Short: "Rebuilds manifest and catalog by digesting the tape itself (source no longer needed)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(wrapWithStopSupport(func(ctx context.Context) error {
				return runEmit(ctx, args[0], volume, true)
			}))
		},
	}

	cmd.Flags().StringVarP(&volume, "volume", "v", volume, "Volume name (default: from tape attributes)")

	return cmd
}

func verifyEntrypoint() *cobra.Command {
	base := ""

	cmd := &cobra.Command{
		Use:   "verify [manifestFile]",
		Short: "Re-checks files against a manifest",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(wrapWithStopSupport(func(ctx context.Context) error {
				conf, err := tvconfig.Read()
				if err != nil {
					return err
				}

				basePath := base
				if basePath == "" {
					basePath = conf.MountPoint
				}

				progress := tui.NewProgressLine(os.Stderr)
				defer progress.Close()

				result, err := transfer.Verify(ctx, args[0], basePath, progress.Update)
				if err != nil {
					return err
				}

				fmt.Printf(
					"%d file(s): %d verified, %d failed, %d missing\n",
					result.Total, result.Verified, result.Failed, result.Missing)

				for _, failed := range result.FailedFiles {
					fmt.Printf("  FAILED: %s\n", failed)
				}
				for _, missing := range result.MissingFiles {
					fmt.Printf("  MISSING: %s\n", missing)
				}

				if !result.Success() {
					return fmt.Errorf("verification failed for %d file(s)", result.Failed+result.Missing)
				}

				return nil
			}))
		},
	}

	cmd.Flags().StringVarP(&base, "base", "b", base, "Directory to verify against (default: mount point)")

	return cmd
}

func compareEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "compare [manifestA] [manifestB]",
		Short: "Compares two manifests (e.g. independent runs over the same tree)",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(func() error {
				first, err := manifest.Load(args[0])
				if err != nil {
					return err
				}

				second, err := manifest.Load(args[1])
				if err != nil {
					return err
				}

				comparison := manifest.Compare(first, second)

				fmt.Printf(
					"%d common, %d different, %d only in first, %d only in second\n",
					len(comparison.Common),
					len(comparison.Different),
					len(comparison.OnlyInFirst),
					len(comparison.OnlyInSecond))

				for _, path := range comparison.Different {
					fmt.Printf("  DIFFERENT: %s\n", path)
				}
				for _, path := range comparison.OnlyInFirst {
					fmt.Printf("  ONLY IN FIRST: %s\n", path)
				}
				for _, path := range comparison.OnlyInSecond {
					fmt.Printf("  ONLY IN SECOND: %s\n", path)
				}

				if len(comparison.Different) > 0 {
					return fmt.Errorf("%d file(s) differ", len(comparison.Different))
				}

				return nil
			}())
		},
	}
}

func jobsEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "Lists interrupted transfer jobs awaiting recovery",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(func() error {
				conf, err := tvconfig.Read()
				if err != nil {
					return err
				}

				jobs, err := jobstate.Open(conf.JobStateDBPath())
				if err != nil {
					return err
				}
				defer jobs.Close()

				pending, err := jobs.List()
				if err != nil {
					return err
				}

				if len(pending) == 0 {
					fmt.Println("no interrupted jobs")
					return nil
				}

				table := tablewriter.NewWriter(os.Stdout)
				table.SetHeader([]string{"Volume", "Source", "Started", "Phase reached"})

				for _, job := range pending {
					table.Append([]string{
						job.Volume,
						job.SourceRoot,
						job.StartedAt.Format(time.RFC822Z),
						transfer.PhaseName(job.PhaseReached),
					})
				}

				table.Render()

				fmt.Println("\nrun 'recover <source>' (source intact) or 'finalize <dirNameOnTape>' (source gone)")

				return nil
			}())
		},
	}
}

func runTransfer(ctx context.Context, sourceRoot string, volume string, dryRun bool, skipVerify bool) error {
	logger := logex.StandardLogger()

	conf, err := tvconfig.Read()
	if err != nil {
		return err
	}

	if err := conf.InitDirs(); err != nil {
		return err
	}

	mounter := newMounter(conf, logger)
	if mounted, err := mounter.IsMounted(); err != nil {
		return err
	} else if !mounted {
		return fmt.Errorf("no tape mounted at %s", conf.MountPoint)
	}

	attrs := tapemount.ReadVolumeAttributes(conf.MountPoint)
	volume = resolveVolumeName(volume, attrs, conf)

	cat, err := openCatalog(conf, logger)
	if err != nil {
		return err
	}
	defer cat.Close()

	jobs, err := jobstate.Open(conf.JobStateDBPath())
	if err != nil {
		return err
	}
	defer jobs.Close()

	logPath := filepath.Join(conf.LogDir(), fmt.Sprintf(
		"transfer_%s_%s_%s.log",
		volume,
		filepath.Base(sourceRoot),
		time.Now().Format("20060102_150405")))

	logFile, err := os.Create(logPath)
	if err != nil {
		return err
	}
	defer logFile.Close()

	// on copy trouble, the last lines of rsync output are the interesting ones
	copyTail := logtee.NewStringTail(10)
	copyLog := logtee.NewLineSplitterTee(logFile, copyTail.Write)

	progress := tui.NewProgressLine(os.Stderr)
	defer progress.Close()

	pipeline := transfer.NewPipeline(transfer.Options{
		SourceRoot:  sourceRoot,
		DestDir:     filepath.Join(conf.MountPoint, filepath.Base(sourceRoot)),
		Volume:      volume,
		ManifestDir: conf.ManifestDir(),
		MirrorDir:   conf.MirrorDir(),
		Excludes:    excludeRules(conf),
		SkipVerify:  skipVerify,
		DryRun:      dryRun,

		DigestWorkers: conf.DigestWorkers,
		VolumeInfo:    volumeInfoFromAttributes(volume, attrs),
		CopyLog:       copyLog,
		Progress:      progress.Update,
	}, &transfer.RsyncCopier{Options: conf.RsyncOptions}, cat, jobs, logger)

	result, err := pipeline.Run(ctx)
	if err != nil {
		for _, line := range copyTail.Snapshot() {
			fmt.Fprintf(os.Stderr, "copy: %s\n", line)
		}

		return err
	}

	progress.Close()
	printResult(result, skipVerify)

	if !result.Success() {
		return fmt.Errorf("%d file(s) failed verification - transfer log: %s", result.FilesFailed, logPath)
	}

	return nil
}

// shared by recover and finalize (they differ only in what gets digested)
func runEmit(ctx context.Context, source string, volume string, finalize bool) error {
	logger := logex.StandardLogger()

	conf, err := tvconfig.Read()
	if err != nil {
		return err
	}

	if err := conf.InitDirs(); err != nil {
		return err
	}

	mounter := newMounter(conf, logger)
	if mounted, err := mounter.IsMounted(); err != nil {
		return err
	} else if !mounted {
		return fmt.Errorf("no tape mounted at %s", conf.MountPoint)
	}

	attrs := tapemount.ReadVolumeAttributes(conf.MountPoint)
	volume = resolveVolumeName(volume, attrs, conf)

	cat, err := openCatalog(conf, logger)
	if err != nil {
		return err
	}
	defer cat.Close()

	jobs, err := jobstate.Open(conf.JobStateDBPath())
	if err != nil {
		return err
	}
	defer jobs.Close()

	progress := tui.NewProgressLine(os.Stderr)
	defer progress.Close()

	sourceRoot := source
	destDir := filepath.Join(conf.MountPoint, filepath.Base(source))
	if finalize {
		// the "source" argument is a directory name on the tape
		sourceRoot = filepath.Join(conf.MountPoint, source)
		destDir = sourceRoot
	}

	pipeline := transfer.NewPipeline(transfer.Options{
		SourceRoot:  sourceRoot,
		DestDir:     destDir,
		Volume:      volume,
		ManifestDir: conf.ManifestDir(),
		MirrorDir:   conf.MirrorDir(),
		Excludes:    excludeRules(conf),

		DigestWorkers: conf.DigestWorkers,
		VolumeInfo:    volumeInfoFromAttributes(volume, attrs),
		Progress:      progress.Update,
	}, &transfer.RsyncCopier{Options: conf.RsyncOptions}, cat, jobs, logger)

	result, err := func() (*transfer.Result, error) {
		if finalize {
			return pipeline.Finalize(ctx)
		}
		return pipeline.Recover(ctx)
	}()
	if err != nil {
		return err
	}

	progress.Close()
	printResult(result, true)

	return nil
}

func resolveVolumeName(explicit string, attrs tapemount.VolumeAttributes, conf *tvconfig.Config) string {
	switch {
	case explicit != "":
		return explicit
	case attrs.VolumeName != "":
		return attrs.VolumeName
	case attrs.Barcode != "":
		return attrs.Barcode
	default:
		return filepath.Base(conf.MountPoint)
	}
}

func volumeInfoFromAttributes(volume string, attrs tapemount.VolumeAttributes) *manifest.VolumeInfo {
	return &manifest.VolumeInfo{
		Name:    volume,
		Serial:  attrs.Barcode,
		Vendor:  attrs.Vendor,
		Product: attrs.SoftwareProduct,
	}
}

func printResult(result *transfer.Result, skipVerify bool) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)

	row := func(key string, value string) {
		table.Append([]string{key, value})
	}

	row("Volume", result.Volume)
	row("Files", fmt.Sprintf("%d (%d excluded)", result.FilesTotal, result.FilesExcluded))
	row("Size", byteshuman.Humanize(uint64(result.BytesTotal)))
	row("Duration", result.Duration().Round(time.Second).String())

	phaseRow := func(phase int) {
		duration := result.PhaseDurations[phase]
		if duration == 0 {
			return
		}

		value := duration.Round(time.Millisecond).String()
		if phase <= transfer.PhaseVerify { // data-moving phases have meaningful throughput
			value += fmt.Sprintf(" (%s)", result.PhaseThroughput(phase))
		}

		row(fmt.Sprintf("Phase %d (%s)", phase, transfer.PhaseName(phase)), value)
	}

	for phase := transfer.PhaseDigestSource; phase <= transfer.PhaseCatalog; phase++ {
		phaseRow(phase)
	}

	if !skipVerify {
		row("Verified", fmt.Sprintf("%d", result.FilesVerified))
		row("Failed", fmt.Sprintf("%d", result.FilesFailed))
	}

	if result.ManifestPath != "" {
		row("Manifest", result.ManifestPath)
	}

	table.Render()

	for _, failed := range result.FailedFiles {
		fmt.Printf("FAILED: %s\n", failed)
	}

	for _, warning := range result.Warnings {
		fmt.Printf("WARNING: %s\n", warning)
	}
}
