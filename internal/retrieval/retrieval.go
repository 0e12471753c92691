// Package retrieval is the orchestration core of the context engine: it
// turns "get context for this command" into a ranked answer drawn from the
// memory tiers, the recent history, and the clipboard, behind a short-TTL
// cache with input-driven invalidation.
package retrieval

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"flowscribe/internal/clipboard"
	"flowscribe/internal/history"
	"flowscribe/internal/memory"
	"flowscribe/internal/relevance"
)

// Defaults for the retrieval layer.
const (
	DefaultCacheTTL       = 2 * time.Second
	DefaultDebounceWindow = 500 * time.Millisecond
	DefaultTopK           = 5
	DefaultFreshness      = 30 * time.Second

	// minHighlightLen gates highlighted-text capture into the memory
	// store; shorter selections are too noisy to remember.
	minHighlightLen = 10
)

// Request carries the per-call inputs to GetContext.
type Request struct {
	HighlightedText          string
	Command                  string
	RecordingHighlightedText string
	RecordingStart           time.Time
}

// hasInputs reports whether the request carries inputs that must bypass
// the cache.
func (r Request) hasInputs() bool {
	return r.HighlightedText != "" || r.Command != ""
}

// Snippet is one piece of context handed to the AI orchestrator.
type Snippet struct {
	ID        string          `json:"id,omitempty"`
	Type      memory.ItemType `json:"type"`
	Content   string          `json:"content"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Result is the answer to a context request.
type Result struct {
	Primary     *Snippet           `json:"primary_context"`
	Secondary   *Snippet           `json:"secondary_context"`
	Application string             `json:"application_context,omitempty"`
	History     []Snippet          `json:"history_context,omitempty"`
	MemoryStats *memory.TierCounts `json:"memory_stats,omitempty"`
}

// Config holds retrieval tuning knobs.
type Config struct {
	CacheTTL            time.Duration
	DebounceWindow      time.Duration
	TopK                int
	Freshness           time.Duration
	SimilarityThreshold float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CacheTTL:            DefaultCacheTTL,
		DebounceWindow:      DefaultDebounceWindow,
		TopK:                DefaultTopK,
		Freshness:           DefaultFreshness,
		SimilarityThreshold: history.DefaultSimilarityThreshold,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = d.DebounceWindow
	}
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.Freshness <= 0 {
		c.Freshness = d.Freshness
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = d.SimilarityThreshold
	}
	return c
}

// Retriever computes context results. It never panics into its caller:
// any failure inside retrieval degrades to an empty result.
type Retriever struct {
	hist    *history.History
	store   *memory.TierStore // nil disables intelligent retrieval
	scorer  *relevance.Scorer
	monitor *clipboard.Monitor
	cfg     Config
	logger  *zap.Logger

	mu         sync.Mutex
	cached     *Result
	computedAt time.Time

	group singleflight.Group
	deb   *debouncer
	now   func() time.Time // test hook
}

// New creates a Retriever. hist and scorer are required; store and monitor
// may be nil, which limits the retriever to legacy retrieval without
// clipboard fallback.
func New(hist *history.History, store *memory.TierStore, scorer *relevance.Scorer,
	monitor *clipboard.Monitor, cfg Config, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	r := &Retriever{
		hist:    hist,
		store:   store,
		scorer:  scorer,
		monitor: monitor,
		cfg:     cfg,
		logger:  logger,
		deb:     newDebouncer(cfg.DebounceWindow),
		now:     time.Now,
	}

	// External mutations invalidate the cache synchronously.
	hist.OnMutate(r.Invalidate)
	if store != nil {
		store.OnMutate(r.Invalidate)
	}
	return r
}

// Invalidate drops the cached result so the next GetContext recomputes.
func (r *Retriever) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

// GetContext returns context for the request. Calls without highlighted
// text or a command are served from the cache while it is within TTL;
// command-specific lookups always recompute.
func (r *Retriever) GetContext(req Request) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("retrieval panicked, returning empty context", zap.Any("panic", rec))
			result = Result{}
		}
	}()

	if !req.hasInputs() {
		r.mu.Lock()
		if r.cached != nil && r.now().Sub(r.computedAt) < r.cfg.CacheTTL {
			cached := *r.cached
			r.mu.Unlock()
			return cached
		}
		r.mu.Unlock()

		// Collapse concurrent no-input recomputations into one.
		v, _, _ := r.group.Do("recompute", func() (interface{}, error) {
			res := r.compute(req)
			r.cacheResult(res)
			return res, nil
		})
		return v.(Result)
	}

	res := r.compute(req)
	r.cacheResult(res)
	return res
}

// GetContextAsync is the debounced variant of GetContext: bursts of calls
// within the debounce window collapse into a single computation whose
// result every caller receives.
func (r *Retriever) GetContextAsync(req Request) <-chan Result {
	return r.deb.run(req, r.GetContext)
}

// Close cancels any pending debounced computation.
func (r *Retriever) Close() {
	r.deb.cancel()
}

func (r *Retriever) cacheResult(res Result) {
	r.mu.Lock()
	r.cached = &res
	r.computedAt = r.now()
	r.mu.Unlock()
}

func (r *Retriever) compute(req Request) Result {
	if r.store != nil && req.Command != "" {
		return r.intelligent(req)
	}
	return r.legacy(req)
}

// =============================================================================
// Intelligent retrieval (memory tiers + relevance ranking)
// =============================================================================

func (r *Retriever) intelligent(req Request) Result {
	// Capture a substantial highlight into working memory. Best effort:
	// a failure here must not abort retrieval.
	if len(req.HighlightedText) > minHighlightLen {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Warn("highlight capture failed", zap.Any("panic", rec))
				}
			}()
			r.store.Add(req.HighlightedText, memory.Metadata{
				Type:        memory.TypeHighlight,
				Application: r.activeApp(),
			})
		}()
	}

	items := r.store.Items()
	if len(items) == 0 {
		return r.fallback(req)
	}

	ranked := r.scorer.Rank(items, req.Command, r.cfg.TopK)

	res := Result{Application: r.activeApp()}
	stats := r.store.Stats()
	res.MemoryStats = &stats

	for i, rk := range ranked {
		snip := toSnippet(rk.Item)
		switch i {
		case 0:
			r.store.Access(rk.Item.ID)
			res.Primary = &snip
		case 1:
			r.store.Access(rk.Item.ID)
			res.Secondary = &snip
		default:
			res.History = append(res.History, snip)
		}
	}

	r.logger.Debug("intelligent retrieval",
		zap.Int("candidates", len(items)),
		zap.Int("ranked", len(ranked)),
		zap.String("command", req.Command))
	return res
}

// fallback covers intelligent mode with an empty memory store.
func (r *Retriever) fallback(req Request) Result {
	res := Result{Application: r.activeApp()}
	stats := memory.TierCounts{}
	if r.store != nil {
		stats = r.store.Stats()
	}
	res.MemoryStats = &stats

	switch {
	case req.HighlightedText != "":
		res.Primary = &Snippet{Type: memory.TypeHighlight, Content: req.HighlightedText}
	case req.RecordingHighlightedText != "":
		res.Primary = &Snippet{Type: memory.TypeHighlight, Content: req.RecordingHighlightedText}
	default:
		if content, ok := r.freshClipboard(req); ok {
			res.Primary = &Snippet{Type: memory.TypeClipboard, Content: content}
		}
	}
	return res
}

// =============================================================================
// Legacy retrieval (history only)
// =============================================================================

func (r *Retriever) legacy(req Request) Result {
	res := Result{Application: r.activeApp()}

	// Primary precedence: recording highlight, fresh per-call highlight,
	// fresh clipboard, newest history item.
	if req.RecordingHighlightedText != "" {
		res.Primary = &Snippet{Type: memory.TypeHighlight, Content: req.RecordingHighlightedText}
	}
	if req.HighlightedText != "" && req.HighlightedText != req.RecordingHighlightedText {
		if !r.hist.IsSimilarToExisting(req.HighlightedText, memory.TypeHighlight, r.cfg.SimilarityThreshold) {
			r.hist.Add(memory.ContextItem{
				Type:        memory.TypeHighlight,
				Content:     req.HighlightedText,
				Application: r.activeApp(),
			})
		}
		if res.Primary == nil {
			res.Primary = &Snippet{Type: memory.TypeHighlight, Content: req.HighlightedText}
		}
	}
	if res.Primary == nil {
		if content, ok := r.freshClipboard(req); ok {
			res.Primary = &Snippet{Type: memory.TypeClipboard, Content: content}
		}
	}

	items := r.hist.Items()
	if res.Primary == nil && len(items) > 0 {
		snip := toSnippet(items[0])
		res.Primary = &snip
	}

	// Secondary: next most-recent distinct history item.
	for _, item := range items {
		if res.Primary != nil && item.Content == res.Primary.Content {
			continue
		}
		snip := toSnippet(item)
		res.Secondary = &snip
		break
	}

	// Remaining history rides along for prompt building.
	for _, item := range items {
		if res.Primary != nil && item.Content == res.Primary.Content {
			continue
		}
		if res.Secondary != nil && item.Content == res.Secondary.Content {
			continue
		}
		res.History = append(res.History, toSnippet(item))
		if len(res.History) >= r.cfg.TopK {
			break
		}
	}

	return res
}

// =============================================================================
// Helpers
// =============================================================================

func (r *Retriever) freshClipboard(req Request) (string, bool) {
	if r.monitor == nil {
		return "", false
	}
	if !r.monitor.IsFresh(r.cfg.Freshness, req.RecordingStart) {
		return "", false
	}
	content := r.monitor.Current()
	return content, content != ""
}

func (r *Retriever) activeApp() string {
	if r.monitor == nil {
		return ""
	}
	return r.monitor.Snapshot().ActiveApplication
}

func toSnippet(item memory.ContextItem) Snippet {
	return Snippet{
		ID:        item.ID,
		Type:      item.Type,
		Content:   item.Content,
		Timestamp: item.Timestamp,
	}
}
