package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"auto_seo_article_pipeline/content"
)

// MemoryStore keeps artifacts in process. Items are deep-copied on the way in and out.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
	order map[string]int64
	seq   int64
}

// NewMemory returns an empty in-process store.
func NewMemory() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte), order: make(map[string]int64)}
}

func (s *MemoryStore) Save(_ context.Context, item content.ContentItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.items[item.ID] = raw
	s.order[item.ID] = s.seq
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (content.ContentItem, error) {
	s.mu.RLock()
	raw, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return content.ContentItem{}, ErrNotFound
	}
	var item content.ContentItem
	err := json.Unmarshal(raw, &item)
	return item, err
}

func (s *MemoryStore) List(_ context.Context, status content.Status) ([]content.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return s.order[ids[i]] > s.order[ids[j]] })

	out := make([]content.ContentItem, 0, len(ids))
	for _, id := range ids {
		var item content.ContentItem
		if err := json.Unmarshal(s.items[id], &item); err != nil {
			return nil, err
		}
		if status != "" && item.Status != status {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
