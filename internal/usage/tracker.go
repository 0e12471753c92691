// Package usage records per-item usefulness feedback from the AI
// orchestrator and aggregate AI call statistics. Feedback drives tier
// promotion and demotion; statistics feed the stats surface.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// promoteThreshold and demoteThreshold bound the feedback policy:
	// scores at or above promoteThreshold promote, at or below
	// demoteThreshold demote, anything between leaves the tier alone.
	// The policy is monotonic: a higher score never demotes where a
	// lower one would not.
	promoteThreshold = 0.7
	demoteThreshold  = 0.3

	// neutralUsefulness is reported for items with no recorded feedback.
	neutralUsefulness = 0.5

	autoSaveDelay = 5 * time.Second
)

// TierMover is the slice of the memory store the tracker drives.
type TierMover interface {
	Promote(id string) bool
	Demote(id string) bool
}

// AIStats aggregates AI call outcomes. Counters are monotonic and only
// cleared by Reset.
type AIStats struct {
	Total         int64   `json:"total"`
	Succeeded     int64   `json:"succeeded"`
	Failed        int64   `json:"failed"`
	LastLatencyMs int64   `json:"last_latency_ms"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
}

// itemFeedback accumulates usefulness scores for one item.
type itemFeedback struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
}

// usageData is the persisted file shape.
type usageData struct {
	Version string                  `json:"version"`
	AI      AIStats                 `json:"ai"`
	Items   map[string]itemFeedback `json:"items"`
}

// Tracker records usage feedback and AI call statistics, persisting them
// as JSON with a debounced auto-save.
type Tracker struct {
	mu        sync.Mutex
	data      usageData
	filePath  string
	dirty     bool
	saveTimer *time.Timer
	saveDelay time.Duration

	mover  TierMover
	logger *zap.Logger
}

// NewTracker creates a tracker persisting under workspacePath/.flowscribe.
// A missing or corrupt usage file is logged and replaced with empty data.
func NewTracker(workspacePath string, mover TierMover, logger *zap.Logger) (*Tracker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Join(workspacePath, ".flowscribe")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create usage dir: %w", err)
	}

	t := &Tracker{
		filePath:  filepath.Join(dir, "usage.json"),
		saveDelay: autoSaveDelay,
		mover:     mover,
		logger:    logger,
		data: usageData{
			Version: "1.0",
			Items:   make(map[string]itemFeedback),
		},
	}

	if err := t.load(); err != nil {
		logger.Warn("usage data unreadable, starting empty", zap.Error(err))
	}
	return t, nil
}

func (t *Tracker) load() error {
	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := json.Unmarshal(data, &t.data); err != nil {
		t.data = usageData{Version: "1.0", Items: make(map[string]itemFeedback)}
		return err
	}
	if t.data.Items == nil {
		t.data.Items = make(map[string]itemFeedback)
	}
	return nil
}

// RecordUsage stores a usefulness score in [0,1] for an item and applies
// the promotion policy against the tier store.
func (t *Tracker) RecordUsage(id string, usefulness float64) {
	if id == "" {
		return
	}
	if usefulness < 0 {
		usefulness = 0
	}
	if usefulness > 1 {
		usefulness = 1
	}

	t.mu.Lock()
	fb := t.data.Items[id]
	fb.Count++
	fb.Sum += usefulness
	t.data.Items[id] = fb
	t.mu.Unlock()

	if t.mover != nil {
		switch {
		case usefulness >= promoteThreshold:
			t.mover.Promote(id)
		case usefulness <= demoteThreshold:
			t.mover.Demote(id)
		}
	}

	t.scheduleSave()
}

// UsefulnessFor returns the average recorded usefulness for an item,
// or 0.5 when unrated.
func (t *Tracker) UsefulnessFor(id string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	fb, ok := t.data.Items[id]
	if !ok || fb.Count == 0 {
		return neutralUsefulness
	}
	return fb.Sum / float64(fb.Count)
}

// Call is an in-flight AI call handle.
type Call struct {
	tracker *Tracker
	start   time.Time
	once    sync.Once
}

// TrackAICall begins tracking an AI call started at start.
func (t *Tracker) TrackAICall(start time.Time) *Call {
	if start.IsZero() {
		start = time.Now()
	}
	return &Call{tracker: t, start: start}
}

// Success finalizes the call as successful. Repeated calls are no-ops.
func (c *Call) Success() {
	c.once.Do(func() { c.tracker.finish(c.start, true) })
}

// Failure finalizes the call as failed. Repeated calls are no-ops.
func (c *Call) Failure() {
	c.once.Do(func() { c.tracker.finish(c.start, false) })
}

func (t *Tracker) finish(start time.Time, ok bool) {
	latency := time.Since(start).Milliseconds()

	t.mu.Lock()
	ai := &t.data.AI
	ai.Total++
	if ok {
		ai.Succeeded++
	} else {
		ai.Failed++
	}
	ai.LastLatencyMs = latency

	// Incremental mean: avg' = (avg*(n-1) + x) / n
	n := float64(ai.Succeeded + ai.Failed)
	ai.AvgLatencyMs = (ai.AvgLatencyMs*(n-1) + float64(latency)) / n
	t.mu.Unlock()

	t.scheduleSave()
}

// AIStats returns a copy of the aggregate AI call statistics.
func (t *Tracker) AIStats() AIStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.AI
}

// Reset zeroes all counters and feedback.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.data.AI = AIStats{}
	t.data.Items = make(map[string]itemFeedback)
	t.mu.Unlock()
	t.scheduleSave()
}

// scheduleSave arms a debounced auto-save; repeated writes within the
// window coalesce into one disk write. The timer handle is kept so Flush
// can cancel a pending save on shutdown.
func (t *Tracker) scheduleSave() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dirty {
		return
	}
	t.dirty = true
	t.saveTimer = time.AfterFunc(t.saveDelay, func() {
		if err := t.Flush(); err != nil {
			t.logger.Warn("usage auto-save failed", zap.Error(err))
		}
	})
}

// Flush cancels any pending auto-save and writes the usage data to disk
// immediately. Nothing fires after Flush returns.
func (t *Tracker) Flush() error {
	t.mu.Lock()
	if t.saveTimer != nil {
		t.saveTimer.Stop()
		t.saveTimer = nil
	}
	t.dirty = false
	data, err := json.MarshalIndent(t.data, "", "  ")
	t.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(t.filePath, data, 0o644)
}
