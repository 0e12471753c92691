package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"flowscribe/internal/kvstore"
)

// longTermKey is the KV key holding the persisted long-term tier.
const longTermKey = "memory/long_term"

// longTermPayload is the persisted shape: the item array plus an export
// timestamp.
type longTermPayload struct {
	Version    string        `json:"version"`
	ExportedAt int64         `json:"exported_at"` // unix milliseconds
	Items      []ContextItem `json:"items"`
}

// Persistence serializes the long-term tier to a durable key-value store.
// Missing and corrupt payloads are both treated as absent data, never as
// fatal errors.
type Persistence struct {
	kv     kvstore.Store
	logger *zap.Logger
}

// NewPersistence creates a Persistence over the given store.
func NewPersistence(kv kvstore.Store, logger *zap.Logger) *Persistence {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persistence{kv: kv, logger: logger}
}

// SaveLongTerm writes the given items as the new long-term payload.
// The write is a single KV Set, so a crash mid-write never leaves a
// partially written payload visible to LoadLongTerm.
func (p *Persistence) SaveLongTerm(items []ContextItem) error {
	payload := longTermPayload{
		Version:    "1.0",
		ExportedAt: time.Now().UnixMilli(),
		Items:      items,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal long-term memory: %w", err)
	}
	if err := p.kv.Set(longTermKey, data); err != nil {
		return fmt.Errorf("failed to persist long-term memory: %w", err)
	}
	p.logger.Debug("long-term memory saved", zap.Int("items", len(items)))
	return nil
}

// LoadLongTerm returns the persisted long-term items. A missing key
// returns an empty slice; a corrupt payload is logged and also returns
// empty rather than failing the engine.
func (p *Persistence) LoadLongTerm() []ContextItem {
	data, err := p.kv.Get(longTermKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		p.logger.Warn("failed to read long-term memory", zap.Error(err))
		return nil
	}

	var payload longTermPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		p.logger.Warn("corrupt long-term memory payload, starting empty", zap.Error(err))
		return nil
	}

	items := make([]ContextItem, 0, len(payload.Items))
	for _, item := range payload.Items {
		if item.ID == "" || item.Content == "" {
			continue // tolerate partial records
		}
		item.Tier = TierLongTerm
		items = append(items, item)
	}
	return items
}
