package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ppiankov/riskwatch/internal/model"
)

// Defaults applied to zero Config fields.
const (
	DefaultMaxHistory = 1000
	DefaultQueueSize  = 256
)

// Handler receives dispatched alerts. A returned error or a panic is logged
// and counted; it never reaches the sender or other handlers.
type Handler func(Alert) error

// HandlerID identifies a registration for UnregisterHandler.
type HandlerID uint64

// Config configures a Manager.
type Config struct {
	MaxHistory int  // history bound, oldest evicted first
	Async      bool // queue non-immediate alerts for the background consumer
	QueueSize  int  // pending queue capacity when Async
}

type registration struct {
	id HandlerID
	fn Handler
}

// Filter narrows UnacknowledgedAlerts. Zero fields match everything.
type Filter struct {
	MinLevel  *model.RiskLevel
	Type      Type
	SessionID string
}

func (f Filter) matches(a *Alert) bool {
	if f.MinLevel != nil && !a.RiskLevel.AtLeast(*f.MinLevel) {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.SessionID != "" && a.SessionID != f.SessionID {
		return false
	}
	return true
}

// Statistics is a snapshot of manager counters.
type Statistics struct {
	TotalSent          int                     `json:"total_sent"`
	InHistory          int                     `json:"in_history"`
	Unacknowledged     int                     `json:"unacknowledged"`
	ByType             map[Type]int            `json:"by_type"`
	ByLevel            map[model.RiskLevel]int `json:"by_level"`
	Dispatched         int                     `json:"dispatched"`
	HandlerFailures    int                     `json:"handler_failures"`
	Dropped            int                     `json:"dropped"`
	QueueDepth         int                     `json:"queue_depth"`
	RegisteredHandlers int                     `json:"registered_handlers"`
}

// Manager creates, records and dispatches alerts.
type Manager struct {
	cfg    Config
	logger *log.Logger
	now    func() time.Time

	mu       sync.RWMutex
	history  []*Alert
	index    map[string]*Alert
	global   []registration
	byType   map[Type][]registration
	nextID   HandlerID
	sent     int
	sentType map[Type]int
	sentLvl  map[model.RiskLevel]int

	statMu     sync.Mutex
	dispatched int
	failures   int
	dropped    int

	// sendMu orders enqueues against shutdown so nothing is queued after
	// the consumer has drained.
	sendMu    sync.RWMutex
	closed    bool
	queue     chan Alert
	stop      chan struct{}
	abort     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. With cfg.Async it starts the background
// consumer; call Shutdown to stop it.
func NewManager(cfg Config, opts ...Option) *Manager {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	m := &Manager{
		cfg:      cfg,
		now:      time.Now,
		index:    make(map[string]*Alert),
		byType:   make(map[Type][]registration),
		sentType: make(map[Type]int),
		sentLvl:  make(map[model.RiskLevel]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.Default().WithPrefix("alert")
	}
	if cfg.Async {
		m.queue = make(chan Alert, cfg.QueueSize)
		m.stop = make(chan struct{})
		m.abort = make(chan struct{})
		m.done = make(chan struct{})
		go m.consume()
	}
	return m
}

// CreateAlert builds an alert; it is not recorded until SendAlert.
func (m *Manager) CreateAlert(level model.RiskLevel, title, message, sourceCommand, sessionID string, metadata map[string]any) *Alert {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Alert{
		ID:            NewID(),
		Type:          TypeForLevel(level),
		RiskLevel:     level,
		Title:         title,
		Message:       message,
		SourceCommand: sourceCommand,
		SessionID:     sessionID,
		Timestamp:     m.now().UTC(),
		Metadata:      metadata,
	}
}

// SendAlert records a into the bounded history and dispatches it.
// Immediate alerts, and all alerts when async dispatch is off or stopped,
// run handlers on the caller's goroutine. Others are queued; a full queue
// falls back to inline dispatch.
func (m *Manager) SendAlert(a *Alert) {
	if a == nil {
		return
	}
	m.record(a)
	snapshot := *a

	if snapshot.Type == TypeImmediate || m.queue == nil {
		m.dispatch(snapshot)
		return
	}

	m.sendMu.RLock()
	if m.closed {
		m.sendMu.RUnlock()
		m.dispatch(snapshot)
		return
	}
	select {
	case m.queue <- snapshot:
		m.sendMu.RUnlock()
	default:
		m.sendMu.RUnlock()
		m.logger.Warn("alert queue full, dispatching inline", "alert_id", snapshot.ID)
		m.dispatch(snapshot)
	}
}

func (m *Manager) record(a *Alert) {
	stored := *a
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, &stored)
	m.index[stored.ID] = &stored
	if over := len(m.history) - m.cfg.MaxHistory; over > 0 {
		for _, old := range m.history[:over] {
			if m.index[old.ID] == old {
				delete(m.index, old.ID)
			}
		}
		m.history = append([]*Alert(nil), m.history[over:]...)
	}
	m.sent++
	m.sentType[stored.Type]++
	m.sentLvl[stored.RiskLevel]++
}

func (m *Manager) consume() {
	defer close(m.done)
	for {
		select {
		case a := <-m.queue:
			m.dispatch(a)
		case <-m.stop:
			m.drain()
			return
		}
	}
}

// drain dispatches whatever is queued, giving up when abort closes.
func (m *Manager) drain() {
	for {
		select {
		case <-m.abort:
			n := 0
		discard:
			for {
				select {
				case <-m.queue:
					n++
				default:
					break discard
				}
			}
			if n > 0 {
				m.statMu.Lock()
				m.dropped += n
				m.statMu.Unlock()
				m.logger.Warn("dropped queued alerts at shutdown", "count", n)
			}
			return
		default:
		}

		select {
		case a := <-m.queue:
			m.dispatch(a)
		default:
			return
		}
	}
}

// dispatch runs global handlers, then handlers registered for a.Type.
func (m *Manager) dispatch(a Alert) {
	m.mu.RLock()
	handlers := make([]registration, 0, len(m.global)+len(m.byType[a.Type]))
	handlers = append(handlers, m.global...)
	handlers = append(handlers, m.byType[a.Type]...)
	m.mu.RUnlock()

	failures := 0
	for _, h := range handlers {
		if err := invoke(h.fn, a); err != nil {
			failures++
			m.logger.Error("alert handler failed",
				"alert_id", a.ID, "handler", uint64(h.id), "error", err)
		}
	}

	m.statMu.Lock()
	m.dispatched++
	m.failures += failures
	m.statMu.Unlock()
}

func invoke(fn Handler, a Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(a)
}

// RegisterHandler adds fn for the given alert types, or for all alerts when
// none are given. Safe to call at any time.
func (m *Manager) RegisterHandler(fn Handler, types ...Type) HandlerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	reg := registration{id: m.nextID, fn: fn}
	if len(types) == 0 {
		m.global = append(m.global, reg)
		return reg.id
	}
	for _, t := range types {
		m.byType[t] = append(m.byType[t], reg)
	}
	return reg.id
}

// UnregisterHandler removes a registration. It reports whether id was found.
func (m *Manager) UnregisterHandler(id HandlerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := false
	m.global, found = without(m.global, id)
	for t, regs := range m.byType {
		var hit bool
		m.byType[t], hit = without(regs, id)
		found = found || hit
		if len(m.byType[t]) == 0 {
			delete(m.byType, t)
		}
	}
	return found
}

func without(regs []registration, id HandlerID) ([]registration, bool) {
	out := regs[:0:0]
	found := false
	for _, r := range regs {
		if r.id == id {
			found = true
			continue
		}
		out = append(out, r)
	}
	return out, found
}

// AcknowledgeAlert marks an alert in history as acknowledged. It returns
// false when the alert is unknown or was evicted. Acknowledging twice keeps
// the first acknowledgement.
func (m *Manager) AcknowledgeAlert(id, by string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.index[id]
	if !ok {
		return false
	}
	if !a.Acknowledged {
		at := m.now().UTC()
		a.Acknowledged = true
		a.AcknowledgedAt = &at
		a.AcknowledgedBy = by
	}
	return true
}

// UnacknowledgedAlerts returns matching unacknowledged alerts, oldest first.
func (m *Manager) UnacknowledgedAlerts(filter Filter) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Alert
	for _, a := range m.history {
		if !a.Acknowledged && filter.matches(a) {
			out = append(out, *a)
		}
	}
	return out
}

// History returns up to limit most recent alerts, oldest first. A
// non-positive limit returns the whole history.
func (m *Manager) History(limit int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := 0
	if limit > 0 && limit < len(m.history) {
		start = len(m.history) - limit
	}
	out := make([]Alert, 0, len(m.history)-start)
	for _, a := range m.history[start:] {
		out = append(out, *a)
	}
	return out
}

// ClearHistory empties the history. Counters are kept.
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
	m.index = make(map[string]*Alert)
}

// Statistics returns a snapshot of the manager's counters.
func (m *Manager) Statistics() Statistics {
	m.mu.RLock()
	s := Statistics{
		TotalSent: m.sent,
		InHistory: len(m.history),
		ByType:    make(map[Type]int, len(m.sentType)),
		ByLevel:   make(map[model.RiskLevel]int, len(m.sentLvl)),
	}
	for t, n := range m.sentType {
		s.ByType[t] = n
	}
	for l, n := range m.sentLvl {
		s.ByLevel[l] = n
	}
	for _, a := range m.history {
		if !a.Acknowledged {
			s.Unacknowledged++
		}
	}
	s.RegisteredHandlers = len(m.global)
	seen := make(map[HandlerID]bool)
	for _, regs := range m.byType {
		for _, r := range regs {
			if !seen[r.id] {
				seen[r.id] = true
				s.RegisteredHandlers++
			}
		}
	}
	m.mu.RUnlock()

	m.statMu.Lock()
	s.Dispatched = m.dispatched
	s.HandlerFailures = m.failures
	s.Dropped = m.dropped
	m.statMu.Unlock()

	if m.queue != nil {
		s.QueueDepth = len(m.queue)
	}
	return s
}

// Shutdown stops the background consumer after it drains the queue. If ctx
// ends first, alerts still queued are dropped and the context error is
// returned. Later SendAlert calls dispatch inline. Shutdown is idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		m.sendMu.Lock()
		m.closed = true
		m.sendMu.Unlock()

		if m.queue == nil {
			return
		}
		close(m.stop)
		select {
		case <-m.done:
		case <-ctx.Done():
			close(m.abort)
			err = fmt.Errorf("alert: shutdown: %w", ctx.Err())
		}
	})
	return err
}
