package transfer

import (
	"fmt"
	"time"

	"github.com/function61/tapevault/pkg/byteshuman"
)

const (
	PhaseDigestSource = 1
	PhaseCopy         = 2
	PhaseVerify       = 3
	PhaseManifest     = 4
	PhaseCatalog      = 5
)

func PhaseName(phase int) string {
	switch phase {
	case PhaseDigestSource:
		return "digest source"
	case PhaseCopy:
		return "copy"
	case PhaseVerify:
		return "verify"
	case PhaseManifest:
		return "manifest"
	case PhaseCatalog:
		return "catalog"
	default:
		return fmt.Sprintf("phase %d", phase)
	}
}

// a fatal error tagged with the phase it happened in, so "recover or re-run?"
// can be answered from the error alone
type PhaseError struct {
	Phase int
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %d (%s): %v", e.Phase, PhaseName(e.Phase), e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

func phaseErr(phase int, err error) *PhaseError {
	return &PhaseError{Phase: phase, Err: err}
}

type Result struct {
	Volume     string
	SourceRoot string
	DestDir    string

	StartedAt  time.Time
	FinishedAt time.Time

	FilesTotal    int // files seen on source (before exclusions)
	FilesExcluded int
	FilesVerified int
	FilesFailed   int
	BytesTotal    int64 // bytes selected for transfer

	FailedFiles  []string // path + reason, e.g. "a/x.bin (content mismatch)"
	Warnings     []string // non-fatal oddities, e.g. catalog update failure
	ManifestPath string

	PhaseDurations [6]time.Duration // indexed by phase constant, [0] unused
}

// the run is a success when every selected file made it to the destination
// with its content intact. warnings don't count against success.
func (r *Result) Success() bool {
	return r.FilesFailed == 0
}

func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// per-phase throughput over the selected bytes; "n/a" for bookkeeping phases
func (r *Result) PhaseThroughput(phase int) string {
	return byteshuman.Throughput(uint64(r.BytesTotal), r.PhaseDurations[phase])
}

func (r *Result) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}
