// Package memory implements the three-tier context memory store.
// Items enter the working tier and migrate between tiers based on
// usefulness feedback; only the long-term tier survives restarts.
package memory

import "time"

// ItemType classifies where a context item came from.
type ItemType string

const (
	TypeClipboard    ItemType = "clipboard"
	TypeHighlight    ItemType = "highlight"
	TypeMemory       ItemType = "memory"
	TypeConversation ItemType = "conversation"
)

// Tier identifies a retention tier.
type Tier string

const (
	TierWorking   Tier = "working"
	TierShortTerm Tier = "short_term"
	TierLongTerm  Tier = "long_term"
)

// tierOrder defines promotion order, shortest retention first.
var tierOrder = []Tier{TierWorking, TierShortTerm, TierLongTerm}

// Next returns the next longer-retention tier, clamped at long-term.
func (t Tier) Next() Tier {
	for i, tier := range tierOrder {
		if tier == t && i < len(tierOrder)-1 {
			return tierOrder[i+1]
		}
	}
	return t
}

// Prev returns the next shorter-retention tier, clamped at working.
func (t Tier) Prev() Tier {
	for i, tier := range tierOrder {
		if tier == t && i > 0 {
			return tierOrder[i-1]
		}
	}
	return t
}

// Valid reports whether t is a known tier name.
func (t Tier) Valid() bool {
	for _, tier := range tierOrder {
		if tier == t {
			return true
		}
	}
	return false
}

// ContextItem is a single piece of remembered context.
// Content is immutable once stored; the ID is assigned at creation
// and never reused.
type ContextItem struct {
	ID             string   `json:"id"`
	Type           ItemType `json:"type"`
	Content        string   `json:"content"`
	Timestamp      int64    `json:"timestamp"` // unix milliseconds
	Application    string   `json:"application,omitempty"`
	Tier           Tier     `json:"tier,omitempty"`
	RelevanceScore float64  `json:"relevance_score,omitempty"`

	// Access tracking for recency/usefulness signals.
	AccessCount int   `json:"access_count,omitempty"`
	LastAccess  int64 `json:"last_access,omitempty"`
}

// Age returns how long ago the item was created.
func (ci ContextItem) Age() time.Duration {
	return time.Since(time.UnixMilli(ci.Timestamp))
}

// Metadata carries optional attributes for a new item.
type Metadata struct {
	Type        ItemType
	Application string
}

// TierCounts holds per-tier item counts for stats reporting.
type TierCounts struct {
	Working   int `json:"working"`
	ShortTerm int `json:"short_term"`
	LongTerm  int `json:"long_term"`
	Total     int `json:"total"`
}
