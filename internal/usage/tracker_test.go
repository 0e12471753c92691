package usage

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeMover struct {
	promoted []string
	demoted  []string
}

func (m *fakeMover) Promote(id string) bool {
	m.promoted = append(m.promoted, id)
	return true
}

func (m *fakeMover) Demote(id string) bool {
	m.demoted = append(m.demoted, id)
	return true
}

func newTestTracker(t *testing.T, mover TierMover) *Tracker {
	t.Helper()
	tr, err := NewTracker(t.TempDir(), mover, zap.NewNop())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return tr
}

func TestRecordUsagePromotionPolicy(t *testing.T) {
	mover := &fakeMover{}
	tr := newTestTracker(t, mover)

	tr.RecordUsage("a", 0.9)  // promote
	tr.RecordUsage("b", 0.7)  // promote, at threshold
	tr.RecordUsage("c", 0.5)  // neutral
	tr.RecordUsage("d", 0.3)  // demote, at threshold
	tr.RecordUsage("e", 0.1)  // demote
	tr.RecordUsage("", 0.9)   // ignored
	tr.RecordUsage("f", 1.5)  // clamped to 1, promote
	tr.RecordUsage("g", -0.5) // clamped to 0, demote

	if got, want := len(mover.promoted), 3; got != want {
		t.Fatalf("promoted %d items, want %d: %v", got, want, mover.promoted)
	}
	if mover.promoted[0] != "a" || mover.promoted[1] != "b" || mover.promoted[2] != "f" {
		t.Errorf("promoted = %v, want [a b f]", mover.promoted)
	}
	if got, want := len(mover.demoted), 3; got != want {
		t.Fatalf("demoted %d items, want %d: %v", got, want, mover.demoted)
	}
	if mover.demoted[0] != "d" || mover.demoted[1] != "e" || mover.demoted[2] != "g" {
		t.Errorf("demoted = %v, want [d e g]", mover.demoted)
	}
}

func TestUsefulnessForAveragesScores(t *testing.T) {
	tr := newTestTracker(t, nil)

	if got := tr.UsefulnessFor("unknown"); got != 0.5 {
		t.Errorf("unrated usefulness = %v, want 0.5", got)
	}

	tr.RecordUsage("x", 1.0)
	tr.RecordUsage("x", 0.0)
	tr.RecordUsage("x", 0.5)

	if got, want := tr.UsefulnessFor("x"), 0.5; math.Abs(got-want) > 1e-9 {
		t.Errorf("usefulness = %v, want %v", got, want)
	}

	tr.RecordUsage("y", 0.8)
	if got := tr.UsefulnessFor("y"); math.Abs(got-0.8) > 1e-9 {
		t.Errorf("single-score usefulness = %v, want 0.8", got)
	}
}

func TestAICallCounters(t *testing.T) {
	tr := newTestTracker(t, nil)

	start := time.Now().Add(-20 * time.Millisecond)
	tr.TrackAICall(start).Success()
	tr.TrackAICall(start).Success()
	tr.TrackAICall(start).Failure()

	stats := tr.AIStats()
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.Succeeded != 2 {
		t.Errorf("Succeeded = %d, want 2", stats.Succeeded)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
	if stats.LastLatencyMs < 20 {
		t.Errorf("LastLatencyMs = %d, want >= 20", stats.LastLatencyMs)
	}
	if stats.AvgLatencyMs < 20 {
		t.Errorf("AvgLatencyMs = %v, want >= 20", stats.AvgLatencyMs)
	}
}

func TestAICallFinishesOnce(t *testing.T) {
	tr := newTestTracker(t, nil)

	call := tr.TrackAICall(time.Now())
	call.Success()
	call.Success()
	call.Failure()

	stats := tr.AIStats()
	if stats.Total != 1 {
		t.Errorf("Total = %d, want 1 after repeated finalization", stats.Total)
	}
	if stats.Failed != 0 {
		t.Errorf("Failed = %d, want 0", stats.Failed)
	}
}

func TestIncrementalAverage(t *testing.T) {
	tr := newTestTracker(t, nil)

	// Known latencies via backdated starts: roughly 10ms and 30ms.
	tr.TrackAICall(time.Now().Add(-10 * time.Millisecond)).Success()
	tr.TrackAICall(time.Now().Add(-30 * time.Millisecond)).Success()

	stats := tr.AIStats()
	if stats.AvgLatencyMs < 19 || stats.AvgLatencyMs > 25 {
		t.Errorf("AvgLatencyMs = %v, want around 20", stats.AvgLatencyMs)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	tr, err := NewTracker(dir, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	tr.RecordUsage("item-1", 0.9)
	tr.RecordUsage("item-1", 0.7)
	tr.TrackAICall(time.Now()).Success()
	if err := tr.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reloaded, err := NewTracker(dir, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewTracker reload: %v", err)
	}
	if got := reloaded.UsefulnessFor("item-1"); math.Abs(got-0.8) > 1e-9 {
		t.Errorf("reloaded usefulness = %v, want 0.8", got)
	}
	if got := reloaded.AIStats().Total; got != 1 {
		t.Errorf("reloaded Total = %d, want 1", got)
	}
}

func TestFlushCancelsPendingAutoSave(t *testing.T) {
	dir := t.TempDir()
	tr, err := NewTracker(dir, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	tr.saveDelay = 20 * time.Millisecond

	tr.RecordUsage("a", 0.5) // arms the auto-save
	if err := tr.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Nothing may touch the file after Flush returned.
	path := filepath.Join(dir, ".flowscribe", "usage.json")
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("auto-save fired after Flush, stat err = %v", err)
	}
}

func TestReset(t *testing.T) {
	tr := newTestTracker(t, nil)
	tr.RecordUsage("a", 0.9)
	tr.TrackAICall(time.Now()).Success()

	tr.Reset()

	if got := tr.UsefulnessFor("a"); got != 0.5 {
		t.Errorf("usefulness after reset = %v, want neutral 0.5", got)
	}
	if got := tr.AIStats().Total; got != 0 {
		t.Errorf("Total after reset = %d, want 0", got)
	}
}
