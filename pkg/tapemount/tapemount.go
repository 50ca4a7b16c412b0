// Package tapemount mounts and unmounts LTFS-formatted tapes by shelling out
// to the platform's LTFS FUSE binary.
package tapemount

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/function61/gokit/logex"
)

const (
	mountTimeout   = 2 * time.Minute // tape load can take over a minute
	unmountTimeout = 1 * time.Minute
)

// unmount timing out usually means LTFS is still flushing its index to tape.
// ejecting at that point loses the index, so the message has to be loud.
var ErrUnmountTimeout = errors.New(
	"unmount timed out - tape may be busy writing index. do NOT eject the tape!")

type Mounter interface {
	// mounts the tape and returns the mount point path
	Mount(ctx context.Context, volumeName string) (string, error)
	// flushes the LTFS index to tape and detaches the filesystem.
	// always unmount before ejecting.
	Unmount(ctx context.Context) error
	IsMounted() (bool, error)
}

type Options struct {
	Device     string // e.g. /dev/sg4
	MountPoint string
	LTFSBinary string // e.g. /usr/local/bin/ltfs
	SyncType   string // e.g. "time@5min"
	IndexDir   string // capture_index destination; "" disables index backups
	IOSize     string // "" = LTFS default
	Rules      string // LTFS data placement rules, "" = none
}

type LTFS struct {
	opts Options
	log  *logex.Leveled
}

func New(opts Options, logger *log.Logger) *LTFS {
	return &LTFS{
		opts: opts,
		log:  logex.Levels(logger),
	}
}

func (l *LTFS) Mount(ctx context.Context, volumeName string) (string, error) {
	withErr := func(err error) (string, error) { return "", fmt.Errorf("Mount: %w", err) }

	if mounted, err := l.IsMounted(); err != nil {
		return withErr(err)
	} else if mounted {
		return withErr(fmt.Errorf("tape already mounted at %s", l.opts.MountPoint))
	}

	if _, err := os.Stat(l.opts.LTFSBinary); err != nil {
		return withErr(fmt.Errorf(
			"LTFS binary not found at %s - are LTFS drivers installed?",
			l.opts.LTFSBinary))
	}

	if err := os.MkdirAll(l.opts.MountPoint, 0755); err != nil {
		return withErr(err)
	}

	if l.opts.IndexDir != "" {
		if err := os.MkdirAll(l.opts.IndexDir, 0755); err != nil {
			return withErr(err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, mountTimeout)
	defer cancel()

	args := mountArgs(l.opts, volumeName)

	l.log.Info.Printf("mounting %s at %s", l.opts.Device, l.opts.MountPoint)

	ltfs := exec.CommandContext(ctx, l.opts.LTFSBinary, args...)
	stderr := &bytes.Buffer{}
	ltfs.Stderr = stderr

	if err := ltfs.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return withErr(errors.New("mount timed out - tape may be stuck loading"))
		}

		return withErr(fmt.Errorf("%w: %s", err, stderr.String()))
	}

	// FUSE mounts become visible asynchronously
	time.Sleep(2 * time.Second)

	if mounted, err := l.IsMounted(); err != nil {
		return withErr(err)
	} else if !mounted {
		return withErr(errors.New("mount command succeeded but mount point is not accessible"))
	}

	return l.opts.MountPoint, nil
}

func (l *LTFS) Unmount(ctx context.Context) error {
	withErr := func(err error) error { return fmt.Errorf("Unmount: %w", err) }

	if mounted, err := l.IsMounted(); err != nil {
		return withErr(err)
	} else if !mounted {
		return nil // nothing to do
	}

	ctx, cancel := context.WithTimeout(ctx, unmountTimeout)
	defer cancel()

	// flush page cache before asking LTFS to write its final index
	_ = exec.CommandContext(ctx, "sync").Run()

	l.log.Info.Printf("unmounting %s", l.opts.MountPoint)

	if err := l.runUnmountCommand(ctx); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return withErr(ErrUnmountTimeout)
		}

		return withErr(err)
	}

	time.Sleep(2 * time.Second)

	if mounted, err := l.IsMounted(); err != nil {
		return withErr(err)
	} else if mounted {
		return withErr(errors.New("unmount command succeeded but mount point is still mounted"))
	}

	return nil
}

func (l *LTFS) IsMounted() (bool, error) {
	return isMountPoint(l.opts.MountPoint)
}

func (l *LTFS) runUnmountCommand(ctx context.Context) error {
	if runtime.GOOS == "darwin" {
		return runCapturingStderr(exec.CommandContext(ctx, "umount", l.opts.MountPoint))
	}

	// FUSE-based LTFS detaches via fusermount, plain umount works as fallback
	if err := runCapturingStderr(exec.CommandContext(ctx, "fusermount", "-u", l.opts.MountPoint)); err != nil {
		if ctx.Err() != nil {
			return err
		}

		l.log.Debug.Printf("fusermount failed (%v), trying umount", err)

		if err := runCapturingStderr(exec.CommandContext(ctx, "umount", l.opts.MountPoint)); err != nil {
			return fmt.Errorf(
				"%w (check for processes using the mount point: lsof +D %s)",
				err,
				l.opts.MountPoint)
		}
	}

	return nil
}

func mountArgs(opts Options, volumeName string) []string {
	args := []string{
		opts.MountPoint,
		"-o", "devname=" + opts.Device,
		"-o", "sync_type=" + opts.SyncType,
	}

	if opts.IndexDir != "" {
		args = append(args, "-o", "capture_index="+opts.IndexDir)
	}

	if volumeName != "" {
		args = append(args, "-o", "volname="+volumeName)
	}

	if opts.IOSize != "" {
		args = append(args, "-o", "iosize="+opts.IOSize)
	}

	if opts.Rules != "" {
		args = append(args, "-o", "rules="+opts.Rules)
	}

	return args
}

func runCapturingStderr(cmd *exec.Cmd) error {
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", cmd.Path, err, stderr.String())
	}

	return nil
}
