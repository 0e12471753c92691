// Package history keeps a small bounded log of recent context items
// (clipboard captures and highlights) with dedup-on-insert and
// age-gated import/export.
package history

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flowscribe/internal/memory"
	"flowscribe/internal/similarity"
)

const (
	// DefaultCapacity is the number of items retained.
	DefaultCapacity = 5

	// DefaultSimilarityThreshold gates near-duplicate detection.
	DefaultSimilarityThreshold = 0.8

	// DefaultImportMaxAge is the oldest snapshot Import accepts.
	DefaultImportMaxAge = 24 * time.Hour

	// shortTextLimit bounds Jaccard comparison to short blobs; longer
	// texts only match via containment.
	shortTextLimit = 200
)

// Snapshot is the export/import payload: the item array plus an export
// timestamp used for age gating.
type Snapshot struct {
	ExportedAt int64                `json:"exported_at"` // unix milliseconds
	Items      []memory.ContextItem `json:"items"`
}

// History is a bounded, newest-first sequence of context items.
// All operations are mutex-serialized.
type History struct {
	mu       sync.RWMutex
	items    []memory.ContextItem
	capacity int

	onMutate []func()
	logger   *zap.Logger
	now      func() time.Time // test hook
}

// New creates a History with the given capacity (<=0 means DefaultCapacity).
func New(capacity int, logger *zap.Logger) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &History{capacity: capacity, logger: logger, now: time.Now}
}

// OnMutate registers a callback fired synchronously after every completed
// mutation, at most once per mutation.
func (h *History) OnMutate(fn func()) {
	h.mu.Lock()
	h.onMutate = append(h.onMutate, fn)
	h.mu.Unlock()
}

// Add prepends an item, assigning an id when absent. Exact {type, content}
// duplicates are rejected. Returns whether the item was stored.
func (h *History) Add(item memory.ContextItem) bool {
	if item.Content == "" {
		return false
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Timestamp == 0 {
		item.Timestamp = h.now().UnixMilli()
	}

	h.mu.Lock()
	for _, existing := range h.items {
		if existing.Type == item.Type && existing.Content == item.Content {
			h.mu.Unlock()
			return false
		}
	}
	h.items = append([]memory.ContextItem{item}, h.items...)
	if len(h.items) > h.capacity {
		h.items = h.items[:h.capacity]
	}
	callbacks := h.onMutate
	h.mu.Unlock()

	h.logger.Debug("history item added",
		zap.String("id", item.ID),
		zap.String("type", string(item.Type)))

	for _, fn := range callbacks {
		fn()
	}
	return true
}

// IsSimilarToExisting reports whether content is a near-duplicate of an
// existing item of the same type: containment either way, or (for two
// short texts) Jaccard similarity above threshold. Items of other types
// never match.
func (h *History) IsSimilarToExisting(content string, typ memory.ItemType, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, existing := range h.items {
		if existing.Type != typ {
			continue
		}
		if content != "" && (strings.Contains(existing.Content, content) || strings.Contains(content, existing.Content)) {
			return true
		}
		if len(existing.Content) < shortTextLimit && len(content) < shortTextLimit {
			if similarity.Jaccard(existing.Content, content) > threshold {
				return true
			}
		}
	}
	return false
}

// Items returns a copy of the current items, newest first.
func (h *History) Items() []memory.ContextItem {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]memory.ContextItem, len(h.items))
	copy(out, h.items)
	return out
}

// Newest returns the most recent item, if any.
func (h *History) Newest() (memory.ContextItem, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.items) == 0 {
		return memory.ContextItem{}, false
	}
	return h.items[0], true
}

// Remove deletes an item by id. Returns false for unknown ids.
func (h *History) Remove(id string) bool {
	h.mu.Lock()
	removed := false
	for i, item := range h.items {
		if item.ID == id {
			h.items = append(h.items[:i], h.items[i+1:]...)
			removed = true
			break
		}
	}
	callbacks := h.onMutate
	h.mu.Unlock()

	if removed {
		for _, fn := range callbacks {
			fn()
		}
	}
	return removed
}

// Clear removes all items.
func (h *History) Clear() {
	h.mu.Lock()
	h.items = nil
	callbacks := h.onMutate
	h.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// Len returns the current item count.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

// Export returns a snapshot of the current history.
func (h *History) Export() Snapshot {
	h.mu.RLock()
	items := make([]memory.ContextItem, len(h.items))
	copy(items, h.items)
	h.mu.RUnlock()

	return Snapshot{
		ExportedAt: h.now().UnixMilli(),
		Items:      items,
	}
}

// Import replaces the history with the snapshot's items. Snapshots older
// than maxAge (<=0 means DefaultImportMaxAge) are rejected entirely; there
// is no partial merge.
func (h *History) Import(snap Snapshot, maxAge time.Duration) error {
	if maxAge <= 0 {
		maxAge = DefaultImportMaxAge
	}

	age := h.now().Sub(time.UnixMilli(snap.ExportedAt))
	if snap.ExportedAt == 0 || age > maxAge {
		return fmt.Errorf("snapshot too old: exported %s ago (max %s)", age.Round(time.Minute), maxAge)
	}

	items := make([]memory.ContextItem, 0, len(snap.Items))
	for _, item := range snap.Items {
		if item.Content == "" {
			continue
		}
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		items = append(items, item)
		if len(items) == h.capacity {
			break
		}
	}

	h.mu.Lock()
	h.items = items
	callbacks := h.onMutate
	h.mu.Unlock()

	h.logger.Debug("history imported", zap.Int("items", len(items)))

	for _, fn := range callbacks {
		fn()
	}
	return nil
}
