// Utils for text-based UIs
package tui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/function61/tapevault/pkg/byteshuman"
	"github.com/mattn/go-isatty"
)

type ProgressBarTheme struct {
	Filled rune
	Vacant rune
}

func ProgressBarDefaultTheme() ProgressBarTheme {
	return ProgressBarTheme{'█', '░'}
}

func ProgressBar(pct int, barLength int, theme ProgressBarTheme) string {
	r := make([]rune, barLength)

	ratio := float64(barLength) * float64(pct) / 100.0

	for i := 0; i < barLength; i++ {
		ch := theme.Vacant
		if float64(i+1) <= ratio {
			ch = theme.Filled
		}

		r[i] = ch
	}

	return string(r)
}

// single-line live display for long byte-oriented operations (digesting,
// verifying). renders in place on a terminal; when output is piped it emits
// an occasional plain line instead, so logs stay readable.
// Update gets called concurrently (e.g. from digest workers), hence the mutex.
type ProgressLine struct {
	out         io.Writer
	interactive bool
	startedAt   time.Time

	mu         sync.Mutex
	lastRender time.Time
}

func NewProgressLine(out *os.File) *ProgressLine {
	return &ProgressLine{
		out:         out,
		interactive: isatty.IsTerminal(out.Fd()),
		startedAt:   time.Now(),
	}
}

func (p *ProgressLine) Update(label string, done int64, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	throttle := 100 * time.Millisecond
	if !p.interactive {
		throttle = 10 * time.Second
	}

	if time.Since(p.lastRender) < throttle && done < total {
		return
	}
	p.lastRender = time.Now()

	pct := 100
	if total > 0 {
		pct = int(float64(done) / float64(total) * 100.0)
	}

	line := fmt.Sprintf(
		"%s [%s] %3d %% %s / %s (%s)",
		label,
		ProgressBar(pct, 25, ProgressBarDefaultTheme()),
		pct,
		byteshuman.Humanize(uint64(done)),
		byteshuman.Humanize(uint64(total)),
		byteshuman.Throughput(uint64(done), time.Since(p.startedAt)))

	if p.interactive {
		fmt.Fprintf(p.out, "\r\x1b[K%s", line)
	} else {
		fmt.Fprintln(p.out, line)
	}
}

// ends the in-place line so following output starts clean
func (p *ProgressLine) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.interactive {
		fmt.Fprintln(p.out)
	}
}
