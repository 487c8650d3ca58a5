package crawl

import "sync"

// BrokenURLSet is an append-only, insertion-ordered set of URLs whose fetch
// or parse failed. It is safe for concurrent use.
type BrokenURLSet struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewBrokenURLSet returns an empty set.
func NewBrokenURLSet() *BrokenURLSet {
	return &BrokenURLSet{seen: make(map[string]struct{})}
}

// Add records url and reports whether it was new.
func (b *BrokenURLSet) Add(url string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen[url]; ok {
		return false
	}
	b.seen[url] = struct{}{}
	b.order = append(b.order, url)
	return true
}

// Len returns the number of URLs recorded.
func (b *BrokenURLSet) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// URLs returns a copy of the recorded URLs in insertion order.
func (b *BrokenURLSet) URLs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.order...)
}
