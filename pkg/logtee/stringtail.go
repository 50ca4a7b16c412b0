package logtee

import (
	"container/ring"
	"sync"
)

// remembers the last "capacity" lines written to it. when a copy fails, the
// tail is what gets shown to the user - the full output may be megabytes of
// per-file noise.
type StringTail struct {
	lines *ring.Ring
	mu    sync.Mutex
}

func NewStringTail(capacity int) *StringTail {
	r := ring.New(capacity)
	for i := 0; i < capacity; i++ {
		r.Value = ""
		r = r.Next()
	}

	return &StringTail{
		lines: r,
	}
}

func (t *StringTail) Write(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lines.Value = line
	t.lines = t.lines.Next()
}

// oldest first. positions never written to are omitted.
func (t *StringTail) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ret := []string{}

	r := t.lines

	for i := 0; i < r.Len(); i++ {
		if val := r.Value.(string); val != "" {
			ret = append(ret, val)
		}
		r = r.Next()
	}

	return ret
}
