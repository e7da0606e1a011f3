package pipeline

import (
	"sync"

	"auto_seo_article_pipeline/content"
)

// Worklist holds the items in insertion order. Items are never deleted: updates replace the
// stored item by ID and callers only ever see copies.
type Worklist struct {
	mu    sync.Mutex
	items []content.ContentItem
	index map[string]int
}

// NewWorklist returns an empty worklist.
func NewWorklist() *Worklist {
	return &Worklist{index: make(map[string]int)}
}

// Put adds item, or replaces the item with the same ID.
func (w *Worklist) Put(item content.ContentItem) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i, ok := w.index[item.ID]; ok {
		w.items[i] = item
		return
	}
	w.index[item.ID] = len(w.items)
	w.items = append(w.items, item)
}

// Get returns a copy of the item with id.
func (w *Worklist) Get(id string) (content.ContentItem, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	i, ok := w.index[id]
	if !ok {
		return content.ContentItem{}, false
	}
	return w.items[i], true
}

// Update applies fn to a copy of the item and stores the result in its place.
func (w *Worklist) Update(id string, fn func(*content.ContentItem)) (content.ContentItem, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	i, ok := w.index[id]
	if !ok {
		return content.ContentItem{}, false
	}
	item := w.items[i]
	fn(&item)
	item.ID = id
	w.items[i] = item
	return item, true
}

// Items returns a snapshot in insertion order.
func (w *Worklist) Items() []content.ContentItem {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]content.ContentItem(nil), w.items...)
}
