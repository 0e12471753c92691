package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"flowscribe/internal/config"
	"flowscribe/internal/kvstore"
	"flowscribe/internal/memory"
)

type fakeClipboard struct {
	mu   sync.Mutex
	text string
}

func (f *fakeClipboard) ReadText() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text, nil
}

func (f *fakeClipboard) WriteText(text string) error {
	f.mu.Lock()
	f.text = text
	f.mu.Unlock()
	return nil
}

func testOptions(t *testing.T) (Options, *fakeClipboard) {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace = t.TempDir()
	cfg.Clipboard.PollInterval = 10 * time.Millisecond
	cfg.AppRefreshInterval = 10 * time.Millisecond
	clip := &fakeClipboard{}
	return Options{
		Config:      cfg,
		Clipboard:   clip,
		AppResolver: func() string { return "test-app" },
		KV:          kvstore.NewMemStore(),
	}, clip
}

func TestEngine_StartStopLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	opts, _ := testOptions(t)
	e, err := New(opts)
	require.NoError(t, err)

	e.Start()
	e.Start() // idempotent
	time.Sleep(30 * time.Millisecond)
	e.Stop()
	e.Stop() // idempotent
}

func TestEngine_ZeroConfigStartStop(t *testing.T) {
	// A zero Config must pick up production defaults rather than feeding
	// zero intervals to the tickers.
	e, err := New(Options{
		Config:    config.Config{Workspace: t.TempDir()},
		Clipboard: &fakeClipboard{},
		KV:        kvstore.NewMemStore(),
	})
	require.NoError(t, err)

	e.Start()
	time.Sleep(20 * time.Millisecond)
	e.Stop()
}

func TestEngine_ClipboardChangeFlowsIntoHistoryAndMemory(t *testing.T) {
	opts, clip := testOptions(t)
	e, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, clip.WriteText("user copied something new"))
	e.Monitor().Poll()

	items := e.History().Items()
	require.Len(t, items, 1)
	assert.Equal(t, "user copied something new", items[0].Content)
	assert.Equal(t, memory.TypeClipboard, items[0].Type)
	assert.Equal(t, "test-app", items[0].Application)

	stats := e.Memory().Stats()
	assert.Equal(t, 1, stats.Working)
}

func TestEngine_NearDuplicateClipboardDropped(t *testing.T) {
	opts, clip := testOptions(t)
	e, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, clip.WriteText("the quick brown fox jumps"))
	e.Monitor().Poll()
	require.NoError(t, clip.WriteText("the quick brown fox jumps twice"))
	e.Monitor().Poll()

	assert.Equal(t, 1, e.History().Len(), "near-duplicate copy is dropped")
}

func TestEngine_WriteClipboardProducesNoChangeEvent(t *testing.T) {
	opts, _ := testOptions(t)
	e, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, e.WriteClipboard("ai response text"))
	e.Monitor().Poll()

	assert.Zero(t, e.History().Len(), "engine-initiated writes never enter history")
	assert.Equal(t, "ai response text", e.Monitor().Current())
}

func TestEngine_RecordUsagePromotesItem(t *testing.T) {
	opts, _ := testOptions(t)
	e, err := New(opts)
	require.NoError(t, err)

	item := e.Memory().Add("useful snippet of context", memory.Metadata{Type: memory.TypeClipboard})
	require.Equal(t, memory.TierWorking, item.Tier)

	e.RecordUsage(item.ID, 0.9)

	got, ok := e.Memory().FindByID(item.ID)
	require.True(t, ok)
	assert.Equal(t, memory.TierShortTerm, got.Tier)

	e.RecordUsage(item.ID, 0.1)
	got, _ = e.Memory().FindByID(item.ID)
	assert.Equal(t, memory.TierWorking, got.Tier)
}

func TestEngine_LongTermMemorySurvivesRestart(t *testing.T) {
	kv := kvstore.NewMemStore()

	opts, _ := testOptions(t)
	opts.KV = kv
	e, err := New(opts)
	require.NoError(t, err)
	e.Start()

	item := e.Memory().Add("remember this across sessions", memory.Metadata{Type: memory.TypeMemory})
	require.True(t, e.Memory().Promote(item.ID))
	require.True(t, e.Memory().Promote(item.ID))
	got, _ := e.Memory().FindByID(item.ID)
	require.Equal(t, memory.TierLongTerm, got.Tier)

	e.Stop()

	opts2, _ := testOptions(t)
	opts2.KV = kv
	e2, err := New(opts2)
	require.NoError(t, err)
	e2.Start()
	defer e2.Stop()

	restored, ok := e2.Memory().FindByID(item.ID)
	require.True(t, ok, "long-term item restored on startup")
	assert.Equal(t, "remember this across sessions", restored.Content)
	assert.Equal(t, memory.TierLongTerm, restored.Tier)

	// Non-long-term items do not survive.
	assert.Equal(t, 1, e2.Memory().Len())
}

func TestEngine_RecordingHighlightWinsPrimary(t *testing.T) {
	opts, _ := testOptions(t)
	e, err := New(opts)
	require.NoError(t, err)

	e.StartRecording("selected before dictation")
	res := e.GetContext("", "")
	require.NotNil(t, res.Primary)
	assert.Equal(t, "selected before dictation", res.Primary.Content)

	e.StopRecording()
	res = e.GetContext("", "")
	assert.Nil(t, res.Primary, "recording highlight cleared on stop")
}

func TestEngine_Stats(t *testing.T) {
	opts, _ := testOptions(t)
	e, err := New(opts)
	require.NoError(t, err)

	e.Memory().Add("one", memory.Metadata{Type: memory.TypeClipboard})
	e.TrackAICall(time.Now()).Success()

	ai, tiers := e.Stats()
	assert.Equal(t, int64(1), ai.Total)
	assert.Equal(t, 1, tiers.Working)
}
