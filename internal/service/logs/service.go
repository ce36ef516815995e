// Package logs retains recent log entries in memory and streams them to
// dashboard subscribers. The aggregator's slog handler is wrapped so
// every component logger feeds the ring without extra call sites.
package logs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// DefaultMaxEntries is the ring capacity.
	DefaultMaxEntries = 1000
	// DefaultBufferSize is the per-subscriber event buffer.
	DefaultBufferSize = 100
)

// Entry is one captured log record, shaped for the dashboard.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	Device    int            `json:"device,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Stats summarises the captured stream.
type Stats struct {
	Total         int64            `json:"total"`
	ByLevel       map[string]int64 `json:"by_level"`
	ByComponent   map[string]int64 `json:"by_component"`
	RecentErrors  []Entry          `json:"recent_errors"`
	RatePerMinute float64          `json:"rate_per_minute"`
}

// Subscriber receives entries as they are captured.
type Subscriber struct {
	ID     string
	Events chan *Entry
	Done   chan struct{}
}

// Service owns the ring, the counters, and the subscriber set.
type Service struct {
	mu          sync.RWMutex
	entries     []Entry
	maxEntries  int
	subscribers map[string]*Subscriber

	total       int64
	byLevel     map[string]int64
	byComponent map[string]int64

	recentErrors []Entry
	maxErrors    int
	start        time.Time
}

// New creates an empty service.
func New() *Service {
	return &Service{
		entries:     make([]Entry, 0, DefaultMaxEntries),
		maxEntries:  DefaultMaxEntries,
		subscribers: make(map[string]*Subscriber),
		byLevel:     make(map[string]int64),
		byComponent: make(map[string]int64),
		maxErrors:   10,
		start:       time.Now(),
	}
}

// WrapHandler interposes the service in front of an slog handler. The
// wrapped handler still writes to its own destination.
func (s *Service) WrapHandler(handler slog.Handler) slog.Handler {
	return &captureHandler{service: s, wrapped: handler}
}

// Add records an entry and fans it out to subscribers. Slow subscribers
// miss entries rather than blocking logging.
func (s *Service) Add(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}

	s.total++
	s.byLevel[entry.Level]++
	if entry.Component != "" {
		s.byComponent[entry.Component]++
	}

	if entry.Level == "error" {
		s.recentErrors = append(s.recentErrors, entry)
		if len(s.recentErrors) > s.maxErrors {
			s.recentErrors = s.recentErrors[1:]
		}
	}

	if len(s.entries) >= s.maxEntries {
		s.entries = s.entries[1:]
	}
	s.entries = append(s.entries, entry)

	for _, sub := range s.subscribers {
		select {
		case sub.Events <- &entry:
		default:
		}
	}
}

// Subscribe registers a dashboard subscriber. It is removed when ctx is
// cancelled or Done is closed.
func (s *Service) Subscribe(ctx context.Context) *Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscriber{
		ID:     ulid.Make().String(),
		Events: make(chan *Entry, DefaultBufferSize),
		Done:   make(chan struct{}),
	}
	s.subscribers[sub.ID] = sub

	go func() {
		select {
		case <-ctx.Done():
		case <-sub.Done:
		}
		s.Unsubscribe(sub.ID)
	}()

	return sub
}

// Unsubscribe removes a subscriber and closes its event channel.
func (s *Service) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subscribers[id]; ok {
		close(sub.Events)
		delete(s.subscribers, id)
	}
}

// SubscriberCount reports the active subscriber count.
func (s *Service) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Recent returns up to limit entries, newest last. A non-empty level or
// component narrows the result.
func (s *Service) Recent(limit int, level, component string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = len(s.entries)
	}

	out := make([]Entry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.entries[i]
		if level != "" && e.Level != level {
			continue
		}
		if component != "" && e.Component != component {
			continue
		}
		out = append(out, e)
	}

	// Oldest first for display.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// GetStats returns a copy of the stream statistics.
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Total:        s.total,
		ByLevel:      make(map[string]int64, len(s.byLevel)),
		ByComponent:  make(map[string]int64, len(s.byComponent)),
		RecentErrors: append([]Entry(nil), s.recentErrors...),
	}
	for level, n := range s.byLevel {
		stats.ByLevel[level] = n
	}
	for _, level := range []string{"trace", "debug", "info", "warn", "error"} {
		if _, ok := stats.ByLevel[level]; !ok {
			stats.ByLevel[level] = 0
		}
	}
	for component, n := range s.byComponent {
		stats.ByComponent[component] = n
	}

	if elapsed := time.Since(s.start).Minutes(); elapsed > 0 {
		stats.RatePerMinute = float64(s.total) / elapsed
	}
	return stats
}

// captureHandler copies each record into the service before delegating.
type captureHandler struct {
	service *Service
	wrapped slog.Handler
	attrs   []slog.Attr
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.wrapped.Enabled(ctx, level)
}

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := Entry{
		ID:        ulid.Make().String(),
		Timestamp: r.Time,
		Level:     levelName(r.Level),
		Message:   r.Message,
		Fields:    make(map[string]any),
	}
	for _, attr := range h.attrs {
		addAttr(&entry, attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(&entry, a)
		return true
	})

	h.service.Add(entry)
	return h.wrapped.Handle(ctx, r)
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &captureHandler{
		service: h.service,
		wrapped: h.wrapped.WithAttrs(attrs),
		attrs:   merged,
	}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	return &captureHandler{
		service: h.service,
		wrapped: h.wrapped.WithGroup(name),
		attrs:   h.attrs,
	}
}

// addAttr folds one attribute into the entry, promoting the component
// and device attributes every subsystem logger carries.
func addAttr(entry *Entry, attr slog.Attr) {
	value := attr.Value.Resolve().Any()
	switch attr.Key {
	case "component":
		if s, ok := value.(string); ok {
			entry.Component = s
			return
		}
	case "device":
		switch v := value.(type) {
		case int:
			entry.Device = v
			return
		case int64:
			entry.Device = int(v)
			return
		}
	}
	entry.Fields[attr.Key] = value
}

func levelName(level slog.Level) string {
	switch {
	case level < slog.LevelDebug:
		return "trace"
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}
