// Package clipboard polls the system clipboard and distinguishes genuine
// user copies from writes the engine performs itself. Only external
// changes are timestamped and delivered to subscribers.
package clipboard

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is how often the monitor compares clipboard state.
const DefaultPollInterval = time.Second

// Change is delivered once per detected external clipboard change.
type Change struct {
	Content     string
	Timestamp   time.Time
	Application string
}

// State is a snapshot of the monitor's view of the clipboard.
type State struct {
	LastSystemValue   string
	CurrentValue      string
	Timestamp         time.Time // zero until a genuine external change
	ActiveApplication string
}

// Monitor watches the clipboard on a ticker and emits change events.
// BeginInternalOp/EndInternalOp bracket engine-initiated writes so
// programmatic copies never look like fresh user content.
type Monitor struct {
	rw       ReadWriter
	interval time.Duration
	logger   *zap.Logger

	mu          sync.Mutex
	last        string
	current     string
	changedAt   time.Time
	internalOps int
	running     bool
	stop        chan struct{}
	done        chan struct{}

	appResolver func() string
	onChange    []func(Change)
	onError     []func(error)
}

// NewMonitor creates a Monitor polling rw every interval (<=0 means
// DefaultPollInterval).
func NewMonitor(rw ReadWriter, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{rw: rw, interval: interval, logger: logger}
}

// OnChange registers a change subscriber. Each subscriber receives at most
// one delivery per detected change.
func (m *Monitor) OnChange(fn func(Change)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// OnError registers an error subscriber for clipboard read failures.
func (m *Monitor) OnError(fn func(error)) {
	m.mu.Lock()
	m.onError = append(m.onError, fn)
	m.mu.Unlock()
}

// SetAppResolver installs the best-effort active-application resolver.
func (m *Monitor) SetAppResolver(fn func() string) {
	m.mu.Lock()
	m.appResolver = fn
	m.mu.Unlock()
}

// Start launches the polling loop. Calling Start on a running monitor is
// a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	// Seed the baseline so pre-existing clipboard content is not
	// reported as a change.
	if text, err := m.rw.ReadText(); err == nil {
		m.mu.Lock()
		m.last = text
		m.current = text
		m.mu.Unlock()
	}

	go m.loop(stop, done)
	m.logger.Debug("clipboard monitor started", zap.Duration("interval", m.interval))
}

// Stop cancels the polling loop and waits for it to exit. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	<-done
	m.logger.Debug("clipboard monitor stopped")
}

func (m *Monitor) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Poll()
		}
	}
}

// Poll performs one detection pass. Exposed so tests and the engine can
// drive detection without waiting on the ticker.
func (m *Monitor) Poll() {
	text, err := m.rw.ReadText()
	if err != nil {
		m.logger.Warn("clipboard read failed", zap.Error(err))
		m.mu.Lock()
		errSubs := append([]func(error){}, m.onError...)
		m.mu.Unlock()
		for _, fn := range errSubs {
			fn(err)
		}
		return
	}

	m.mu.Lock()
	if m.internalOps > 0 || text == "" || text == m.last {
		m.mu.Unlock()
		return
	}

	now := time.Now()
	m.last = text
	m.current = text
	m.changedAt = now

	app := ""
	if m.appResolver != nil {
		app = m.appResolver()
	}
	change := Change{Content: text, Timestamp: now, Application: app}
	subs := append([]func(Change){}, m.onChange...)
	m.mu.Unlock()

	m.logger.Debug("clipboard change detected",
		zap.Int("content_len", len(text)),
		zap.String("application", app))

	for _, fn := range subs {
		fn(change)
	}
}

// BeginInternalOp suppresses change detection while the engine writes to
// the clipboard itself. Brackets nest.
func (m *Monitor) BeginInternalOp() {
	m.mu.Lock()
	m.internalOps++
	m.mu.Unlock()
}

// EndInternalOp closes an internal-operation bracket. When the last
// bracket closes, the baseline is resynchronized to whatever the engine
// wrote WITHOUT stamping a change timestamp.
func (m *Monitor) EndInternalOp() {
	text, readErr := m.rw.ReadText()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.internalOps > 0 {
		m.internalOps--
	}
	if m.internalOps == 0 && readErr == nil {
		m.last = text
		m.current = text
		// changedAt intentionally untouched.
	}
}

// IsFresh reports whether the last genuine change is within maxAge, or at
// or after recordingStart (zero recordingStart disables that check).
func (m *Monitor) IsFresh(maxAge time.Duration, recordingStart time.Time) bool {
	m.mu.Lock()
	changedAt := m.changedAt
	m.mu.Unlock()

	if changedAt.IsZero() {
		return false
	}
	if time.Since(changedAt) <= maxAge {
		return true
	}
	return !recordingStart.IsZero() && !changedAt.Before(recordingStart)
}

// Current returns the last observed clipboard value.
func (m *Monitor) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Snapshot returns the monitor's clipboard state.
func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	app := ""
	if m.appResolver != nil {
		app = m.appResolver()
	}
	return State{
		LastSystemValue:   m.last,
		CurrentValue:      m.current,
		Timestamp:         m.changedAt,
		ActiveApplication: app,
	}
}
