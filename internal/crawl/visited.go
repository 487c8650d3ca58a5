package crawl

import "sync"

// visited remembers item URLs already dispatched in this run so an item
// listed on several pages is extracted once.
type visited struct {
	m sync.Map
}

// mark returns true the first time url is seen.
func (v *visited) mark(url string) bool {
	_, loaded := v.m.LoadOrStore(url, struct{}{})
	return !loaded
}
