package transfer

import (
	"sort"
	"sync"

	"github.com/function61/tapevault/pkg/contentdigest"
)

// digest and size of one source file, keyed by canonical relative path.
// size is captured at digest time on purpose: once a path is normalized it
// may no longer resolve on the source filesystem (NFD vs NFC), so the
// destination check must not re-stat the source.
type ledgerEntry struct {
	Digest contentdigest.Token
	Size   int64
}

// what phase 1 learned about the source tree. digest workers write to this
// concurrently, later phases only read.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]ledgerEntry
}

func NewLedger() *Ledger {
	return &Ledger{entries: map[string]ledgerEntry{}}
}

func (l *Ledger) Add(relPath string, digest contentdigest.Token, size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[relPath] = ledgerEntry{Digest: digest, Size: size}
}

func (l *Ledger) Get(relPath string) (ledgerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, found := l.entries[relPath]
	return entry, found
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}

func (l *Ledger) TotalBytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := int64(0)
	for _, entry := range l.entries {
		total += entry.Size
	}

	return total
}

// canonical paths, sorted
func (l *Ledger) Paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	paths := make([]string, 0, len(l.entries))
	for path := range l.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	return paths
}
