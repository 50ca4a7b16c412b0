// Splitting copy-tool output into lines while teeing the raw stream to a
// log file.
package logtee

import (
	"bytes"
	"io"
	"sync"
)

type lineSplitterTee struct {
	buf           []byte // partial line, waiting for its terminator
	lineCompleted func(string)
	mu            sync.Mutex
}

// returns an io.Writer whose full lines go to the lineCompleted callback,
// while everything also lands in sink verbatim.
//
// both \n and \r terminate a line: rsync's --info=progress2 redraws its
// status with bare carriage returns.
func NewLineSplitterTee(sink io.Writer, lineCompleted func(string)) io.Writer {
	return io.MultiWriter(sink, &lineSplitterTee{
		buf:           []byte{},
		lineCompleted: lineCompleted,
	})
}

func (l *lineSplitterTee) Write(data []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, data...)

	for {
		idx := bytes.IndexAny(l.buf, "\r\n")
		if idx == -1 {
			break
		}

		if idx > 0 { // a bare terminator yields no line
			l.lineCompleted(string(l.buf[0:idx]))
		}

		l.buf = l.buf[idx+1:]
	}

	return len(data), nil
}
