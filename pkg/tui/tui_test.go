package tui

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/function61/gokit/assert"
)

func TestProgressBar(t *testing.T) {
	assert.EqualString(t, ProgressBar(0, 20, ProgressBarDefaultTheme()), "░░░░░░░░░░░░░░░░░░░░")
	assert.EqualString(t, ProgressBar(13, 20, ProgressBarDefaultTheme()), "██░░░░░░░░░░░░░░░░░░")
	assert.EqualString(t, ProgressBar(50, 20, ProgressBarDefaultTheme()), "██████████░░░░░░░░░░")
	assert.EqualString(t, ProgressBar(100, 20, ProgressBarDefaultTheme()), "████████████████████")
}

// callers hand Update to worker pools, so it has to tolerate concurrent calls
// (run with -race to get anything out of this)
func TestProgressLineConcurrentUpdates(t *testing.T) {
	out, err := os.Create(filepath.Join(t.TempDir(), "progress.out"))
	assert.Ok(t, err)
	defer out.Close()

	progress := NewProgressLine(out)

	var wg sync.WaitGroup
	for worker := 0; worker < 4; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for i := int64(0); i <= 100; i++ {
				progress.Update("digesting", i, 100)
			}
		}()
	}
	wg.Wait()

	progress.Close()
}
