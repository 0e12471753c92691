package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TierStore holds context items across the three retention tiers.
// An item belongs to exactly one tier at a time; tier moves are atomic
// with respect to FindByID. All mutations are mutex-serialized so timer
// callbacks and direct calls never interleave partially.
type TierStore struct {
	mu    sync.RWMutex
	tiers map[Tier]map[string]*ContextItem
	index map[string]Tier // id -> owning tier

	onMutate []func()
	logger   *zap.Logger

	now func() time.Time // test hook
}

// NewTierStore creates an empty store.
func NewTierStore(logger *zap.Logger) *TierStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TierStore{
		tiers: map[Tier]map[string]*ContextItem{
			TierWorking:   {},
			TierShortTerm: {},
			TierLongTerm:  {},
		},
		index:  make(map[string]Tier),
		logger: logger,
		now:    time.Now,
	}
}

// OnMutate registers a callback fired synchronously after every mutation.
// Used by the retrieval layer for cache invalidation.
func (s *TierStore) OnMutate(fn func()) {
	s.mu.Lock()
	s.onMutate = append(s.onMutate, fn)
	s.mu.Unlock()
}

// Add inserts new content into the working tier and returns the stored item.
func (s *TierStore) Add(content string, meta Metadata) ContextItem {
	typ := meta.Type
	if typ == "" {
		typ = TypeMemory
	}

	item := &ContextItem{
		ID:          uuid.NewString(),
		Type:        typ,
		Content:     content,
		Timestamp:   s.now().UnixMilli(),
		Application: meta.Application,
		Tier:        TierWorking,
	}

	s.mu.Lock()
	s.tiers[TierWorking][item.ID] = item
	s.index[item.ID] = TierWorking
	callbacks := s.onMutate
	s.mu.Unlock()

	s.logger.Debug("memory item added",
		zap.String("id", item.ID),
		zap.String("type", string(typ)),
		zap.Int("content_len", len(content)))

	for _, fn := range callbacks {
		fn()
	}
	return *item
}

// FindByID returns the item with the given id, if present in any tier.
func (s *TierStore) FindByID(id string) (ContextItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.lookup(id)
	if !ok {
		return ContextItem{}, false
	}
	return *item, true
}

// Access looks up an item and records the access for recency signals.
// A miss has no side effects.
func (s *TierStore) Access(id string) (ContextItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.lookup(id)
	if !ok {
		return ContextItem{}, false
	}
	item.AccessCount++
	item.LastAccess = s.now().UnixMilli()
	return *item, true
}

// lookup must be called with the lock held.
func (s *TierStore) lookup(id string) (*ContextItem, bool) {
	tier, ok := s.index[id]
	if !ok {
		return nil, false
	}
	item, ok := s.tiers[tier][id]
	return item, ok
}

// Delete removes an item by id. Returns false for unknown ids.
func (s *TierStore) Delete(id string) bool {
	s.mu.Lock()
	tier, ok := s.index[id]
	if ok {
		delete(s.tiers[tier], id)
		delete(s.index, id)
	}
	callbacks := s.onMutate
	s.mu.Unlock()

	if ok {
		for _, fn := range callbacks {
			fn()
		}
	}
	return ok
}

// Promote moves an item one tier up. A no-op at long-term.
// The item keeps its id, content, and creation time.
func (s *TierStore) Promote(id string) bool {
	return s.move(id, func(t Tier) Tier { return t.Next() })
}

// Demote moves an item one tier down. A no-op at working.
func (s *TierStore) Demote(id string) bool {
	return s.move(id, func(t Tier) Tier { return t.Prev() })
}

func (s *TierStore) move(id string, dest func(Tier) Tier) bool {
	s.mu.Lock()
	from, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	to := dest(from)
	if to == from {
		s.mu.Unlock()
		return true // clamped, still a valid call
	}
	item := s.tiers[from][id]
	delete(s.tiers[from], id)
	item.Tier = to
	s.tiers[to][id] = item
	s.index[id] = to
	callbacks := s.onMutate
	s.mu.Unlock()

	s.logger.Debug("memory item moved",
		zap.String("id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	for _, fn := range callbacks {
		fn()
	}
	return true
}

// Items returns every item across all tiers, newest first.
func (s *TierStore) Items() []ContextItem {
	s.mu.RLock()
	out := make([]ContextItem, 0, len(s.index))
	for _, tier := range tierOrder {
		for _, item := range s.tiers[tier] {
			out = append(out, *item)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	return out
}

// TierItems returns the items in one tier, newest first.
func (s *TierStore) TierItems(tier Tier) []ContextItem {
	s.mu.RLock()
	out := make([]ContextItem, 0, len(s.tiers[tier]))
	for _, item := range s.tiers[tier] {
		out = append(out, *item)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	return out
}

// ClearTier removes every item in one tier.
func (s *TierStore) ClearTier(tier Tier) {
	s.mu.Lock()
	for id := range s.tiers[tier] {
		delete(s.index, id)
	}
	s.tiers[tier] = make(map[string]*ContextItem)
	callbacks := s.onMutate
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// ClearAll removes every item in every tier.
func (s *TierStore) ClearAll() {
	s.mu.Lock()
	for _, tier := range tierOrder {
		s.tiers[tier] = make(map[string]*ContextItem)
	}
	s.index = make(map[string]Tier)
	callbacks := s.onMutate
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// Len returns the total number of stored items.
func (s *TierStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Stats returns per-tier item counts.
func (s *TierStore) Stats() TierCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return TierCounts{
		Working:   len(s.tiers[TierWorking]),
		ShortTerm: len(s.tiers[TierShortTerm]),
		LongTerm:  len(s.tiers[TierLongTerm]),
		Total:     len(s.index),
	}
}

// Restore inserts previously persisted items directly into their recorded
// tiers. Items without a valid tier land in long-term, since only the
// long-term tier is ever persisted. Existing ids are left untouched.
func (s *TierStore) Restore(items []ContextItem) int {
	s.mu.Lock()
	restored := 0
	for _, item := range items {
		if item.ID == "" || item.Content == "" {
			continue
		}
		if _, exists := s.index[item.ID]; exists {
			continue
		}
		tier := item.Tier
		if !tier.Valid() {
			tier = TierLongTerm
		}
		copied := item
		copied.Tier = tier
		s.tiers[tier][copied.ID] = &copied
		s.index[copied.ID] = tier
		restored++
	}
	callbacks := s.onMutate
	s.mu.Unlock()

	if restored > 0 {
		for _, fn := range callbacks {
			fn()
		}
	}
	return restored
}
