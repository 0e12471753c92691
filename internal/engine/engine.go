// Package engine wires the context and memory components into a single
// facade with an explicit lifecycle. Dependencies are injected once at
// construction; there is no runtime service lookup.
package engine

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"flowscribe/internal/clipboard"
	"flowscribe/internal/config"
	"flowscribe/internal/history"
	"flowscribe/internal/kvstore"
	"flowscribe/internal/memory"
	"flowscribe/internal/relevance"
	"flowscribe/internal/retrieval"
	"flowscribe/internal/usage"
)

// AppResolver returns the frontmost application's name. Best effort:
// implementations should return "" on failure, never panic.
type AppResolver func() string

// Options configures a new Engine. Zero-value fields get production
// defaults; tests typically inject Clipboard and KV fakes.
type Options struct {
	Config      config.Config
	Logger      *zap.Logger
	Clipboard   clipboard.ReadWriter
	AppResolver AppResolver
	KV          kvstore.Store
}

// Engine owns the clipboard monitor, context history, memory tiers,
// usage tracker, and retrieval core.
type Engine struct {
	cfg    config.Config
	logger *zap.Logger

	clip      clipboard.ReadWriter
	monitor   *clipboard.Monitor
	hist      *history.History
	store     *memory.TierStore
	persist   *memory.Persistence
	kv        kvstore.Store
	ownsKV    bool
	tracker   *usage.Tracker
	retriever *retrieval.Retriever
	resolver  AppResolver

	mu                 sync.Mutex
	started            bool
	recordingStart     time.Time
	recordingHighlight string
	activeApp          string
	refreshStop        chan struct{}
	refreshDone        chan struct{}
}

// New constructs a fully wired Engine.
func New(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config.WithDefaults()

	clip := opts.Clipboard
	if clip == nil {
		clip = clipboard.NewSystem()
	}

	kv := opts.KV
	ownsKV := false
	if kv == nil {
		if cfg.Memory.DatabasePath != "" {
			sqlKV, err := kvstore.OpenSQLite(cfg.Memory.DatabasePath)
			if err != nil {
				return nil, fmt.Errorf("failed to open memory database: %w", err)
			}
			kv = sqlKV
			ownsKV = true
		} else {
			kv = kvstore.NewMemStore()
		}
	}

	store := memory.NewTierStore(logger.Named("memory"))
	hist := history.New(cfg.History.Capacity, logger.Named("history"))
	persist := memory.NewPersistence(kv, logger.Named("persistence"))

	tracker, err := usage.NewTracker(cfg.Workspace, store, logger.Named("usage"))
	if err != nil {
		if ownsKV {
			kv.Close()
		}
		return nil, fmt.Errorf("failed to create usage tracker: %w", err)
	}

	monitor := clipboard.NewMonitor(clip, cfg.Clipboard.PollInterval, logger.Named("clipboard"))
	scorer := relevance.NewScorer(tracker)

	retriever := retrieval.New(hist, store, scorer, monitor, retrieval.Config{
		CacheTTL:            cfg.Retrieval.CacheTTL,
		DebounceWindow:      cfg.Retrieval.DebounceWindow,
		TopK:                cfg.Retrieval.TopK,
		Freshness:           cfg.Clipboard.Freshness,
		SimilarityThreshold: cfg.History.SimilarityThreshold,
	}, logger.Named("retrieval"))

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		clip:      clip,
		monitor:   monitor,
		hist:      hist,
		store:     store,
		persist:   persist,
		kv:        kv,
		ownsKV:    ownsKV,
		tracker:   tracker,
		retriever: retriever,
		resolver:  opts.AppResolver,
	}

	monitor.SetAppResolver(e.ActiveApplication)
	monitor.OnChange(e.handleClipboardChange)
	monitor.OnError(func(err error) {
		logger.Warn("clipboard error", zap.Error(err))
	})

	return e, nil
}

// Start loads persisted long-term memory and begins the clipboard poll
// and active-application refresh timers. Calling Start twice is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.refreshStop = make(chan struct{})
	e.refreshDone = make(chan struct{})
	stop, done := e.refreshStop, e.refreshDone
	e.mu.Unlock()

	if restored := e.store.Restore(e.persist.LoadLongTerm()); restored > 0 {
		e.logger.Info("long-term memory restored", zap.Int("items", restored))
	}

	e.refreshActiveApp()
	e.monitor.Start()
	go e.appRefreshLoop(stop, done)

	e.logger.Info("context engine started")
}

// Stop cancels all timers, flushes usage statistics, and persists the
// long-term tier. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	stop, done := e.refreshStop, e.refreshDone
	e.mu.Unlock()

	close(stop)
	<-done
	e.monitor.Stop()
	e.retriever.Close()

	if err := e.persist.SaveLongTerm(e.store.TierItems(memory.TierLongTerm)); err != nil {
		e.logger.Warn("failed to persist long-term memory", zap.Error(err))
	}
	if err := e.tracker.Flush(); err != nil {
		e.logger.Warn("failed to flush usage data", zap.Error(err))
	}
	if e.ownsKV {
		if err := e.kv.Close(); err != nil {
			e.logger.Warn("failed to close memory database", zap.Error(err))
		}
	}

	e.logger.Info("context engine stopped")
}

func (e *Engine) appRefreshLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.AppRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.refreshActiveApp()
		}
	}
}

func (e *Engine) refreshActiveApp() {
	if e.resolver == nil {
		return
	}
	name := e.resolver()
	e.mu.Lock()
	e.activeApp = name
	e.mu.Unlock()
}

// ActiveApplication returns the most recently resolved application name.
func (e *Engine) ActiveApplication() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeApp
}

// handleClipboardChange feeds accepted clipboard changes into history and
// working memory. Near-duplicates of recent history are dropped.
func (e *Engine) handleClipboardChange(ch clipboard.Change) {
	if e.hist.IsSimilarToExisting(ch.Content, memory.TypeClipboard, e.cfg.History.SimilarityThreshold) {
		e.logger.Debug("clipboard change dropped as near-duplicate")
		return
	}

	e.hist.Add(memory.ContextItem{
		Type:        memory.TypeClipboard,
		Content:     ch.Content,
		Timestamp:   ch.Timestamp.UnixMilli(),
		Application: ch.Application,
	})
	e.store.Add(ch.Content, memory.Metadata{
		Type:        memory.TypeClipboard,
		Application: ch.Application,
	})
}

// StartRecording marks the beginning of a dictation session, capturing
// any text highlighted at that moment.
func (e *Engine) StartRecording(highlightedText string) {
	e.mu.Lock()
	e.recordingStart = time.Now()
	e.recordingHighlight = highlightedText
	e.mu.Unlock()
	e.retriever.Invalidate()
}

// StopRecording ends the dictation session.
func (e *Engine) StopRecording() {
	e.mu.Lock()
	e.recordingStart = time.Time{}
	e.recordingHighlight = ""
	e.mu.Unlock()
	e.retriever.Invalidate()
}

func (e *Engine) request(highlightedText, command string) retrieval.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return retrieval.Request{
		HighlightedText:          highlightedText,
		Command:                  command,
		RecordingHighlightedText: e.recordingHighlight,
		RecordingStart:           e.recordingStart,
	}
}

// GetContext returns context for an AI-triggered command.
func (e *Engine) GetContext(highlightedText, command string) retrieval.Result {
	return e.retriever.GetContext(e.request(highlightedText, command))
}

// GetContextAsync is the debounced variant: bursts of calls collapse into
// one computation.
func (e *Engine) GetContextAsync(highlightedText, command string) <-chan retrieval.Result {
	return e.retriever.GetContextAsync(e.request(highlightedText, command))
}

// WriteClipboard performs an engine-initiated clipboard write inside an
// internal-operation bracket so it is never mistaken for user activity.
func (e *Engine) WriteClipboard(text string) error {
	e.monitor.BeginInternalOp()
	defer e.monitor.EndInternalOp()
	return e.clip.WriteText(text)
}

// RecordUsage forwards usefulness feedback from the AI orchestrator.
func (e *Engine) RecordUsage(itemID string, usefulness float64) {
	e.tracker.RecordUsage(itemID, usefulness)
}

// TrackAICall begins tracking an AI call for latency/success statistics.
func (e *Engine) TrackAICall(start time.Time) *usage.Call {
	return e.tracker.TrackAICall(start)
}

// Stats reports AI call statistics and per-tier memory counts.
func (e *Engine) Stats() (usage.AIStats, memory.TierCounts) {
	return e.tracker.AIStats(), e.store.Stats()
}

// Memory exposes the tier store for admin surfaces.
func (e *Engine) Memory() *memory.TierStore { return e.store }

// History exposes the context history for export/import.
func (e *Engine) History() *history.History { return e.hist }

// Monitor exposes the clipboard monitor.
func (e *Engine) Monitor() *clipboard.Monitor { return e.monitor }
