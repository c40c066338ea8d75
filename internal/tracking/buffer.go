package tracking

import (
	"slices"
	"sync"

	"github.com/darkden-lab/argus-tracker/internal/location"
)

// Buffer keeps the latest update per composite key. The consumer loop calls
// Put and the flush scheduler calls Swap; both hold the same lock, so a
// swapped batch contains every entry put before the swap and none after it.
type Buffer struct {
	mu      sync.Mutex
	entries map[location.Key]location.Update
}

// NewBuffer creates an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{entries: make(map[location.Key]location.Update)}
}

// Put inserts u, replacing any earlier update with the same key.
func (b *Buffer) Put(u location.Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[u.Key()] = u
}

// Swap installs an empty buffer and returns the previous contents ordered by
// key. It returns nil when the buffer is empty.
func (b *Buffer) Swap() []location.Update {
	b.mu.Lock()
	old := b.entries
	if len(old) == 0 {
		b.mu.Unlock()
		return nil
	}
	b.entries = make(map[location.Key]location.Update)
	b.mu.Unlock()

	batch := make([]location.Update, 0, len(old))
	for _, u := range old {
		batch = append(batch, u)
	}
	// Sorted so every flush locks rows in the same order.
	slices.SortFunc(batch, func(a, b location.Update) int {
		return a.Key().Compare(b.Key())
	})
	return batch
}

// Restore puts a batch that failed to persist back into the buffer. Keys
// that received a newer update since the swap keep the newer value.
func (b *Buffer) Restore(batch []location.Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range batch {
		if _, ok := b.entries[u.Key()]; ok {
			continue
		}
		b.entries[u.Key()] = u
	}
}

// get returns the buffered update for k.
func (b *Buffer) get(k location.Key) (location.Update, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.entries[k]
	return u, ok
}

// Len returns the number of buffered keys.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
