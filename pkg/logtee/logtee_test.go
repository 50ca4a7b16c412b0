package logtee

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/function61/gokit/assert"
)

func TestComposite(t *testing.T) {
	sink := &bytes.Buffer{}

	tail := NewStringTail(4)

	// all writes reach the sink verbatim; Snapshot() keeps only the last 4 lines
	upstream := NewLineSplitterTee(sink, func(line string) {
		tail.Write(line)
	})

	_, _ = upstream.Write([]byte("line 1\nline 2\nline 3 left open"))

	assert.EqualString(t, fmt.Sprintf("%v", tail.Snapshot()), "[line 1 line 2]")

	_, _ = upstream.Write([]byte("\n")) // close line 3

	assert.EqualString(t, fmt.Sprintf("%v", tail.Snapshot()), "[line 1 line 2 line 3 left open]")

	_, _ = upstream.Write([]byte("line 4\nline 5\nline 6\n"))

	assert.EqualString(t, fmt.Sprintf("%v", tail.Snapshot()), "[line 3 left open line 4 line 5 line 6]")

	assert.EqualString(t, sink.String(), "line 1\nline 2\nline 3 left open\nline 4\nline 5\nline 6\n")
}

func TestCarriageReturnUpdates(t *testing.T) {
	tail := NewStringTail(8)

	upstream := NewLineSplitterTee(&bytes.Buffer{}, func(line string) {
		tail.Write(line)
	})

	// rsync progress2 style: status redrawn with \r, finished with \r\n
	_, _ = upstream.Write([]byte("  1.00MB  10%\r  5.00MB  50%\r 10.00MB 100%\r\n"))

	assert.EqualString(
		t,
		fmt.Sprintf("%v", tail.Snapshot()),
		"[  1.00MB  10%   5.00MB  50%  10.00MB 100%]")
}
