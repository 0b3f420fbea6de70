package logs

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/botwatch/internal/domain/logs"
	"github.com/davidleathers/botwatch/internal/infrastructure/events"
)

// Fields carries the optional correlation attributes of a log entry.
type Fields struct {
	Metadata   map[string]string
	TraceID    string
	SpanID     string
	BotName    string
	Provider   string
	StackTrace string
}

// Aggregator is an append-only, bounded log store with eagerly maintained
// secondary indexes (level, source, trace) and synchronous alert-condition
// evaluation on every insert. Entries are never mutated after creation.
type Aggregator struct {
	logger *zap.Logger
	bus    *events.Bus

	capacity        int
	errorRateWindow time.Duration
	// Default cooldown backfilled onto conditions that do not set their
	// own. Zero means no default.
	conditionCooldown time.Duration

	mu       sync.RWMutex
	entries  []*logs.Entry
	byLevel  map[logs.Level][]*logs.Entry
	bySource map[string][]*logs.Entry
	byTrace  map[string][]*logs.Entry

	conditions map[string]*condition
}

// New creates an aggregator. capacity bounds the primary log; the oldest
// entry is evicted (and unindexed) once the bound is reached.
func New(capacity int, errorRateWindow, conditionCooldown time.Duration, bus *events.Bus, logger *zap.Logger) *Aggregator {
	if capacity <= 0 {
		capacity = 10000
	}
	if errorRateWindow <= 0 {
		errorRateWindow = time.Minute
	}
	return &Aggregator{
		logger:            logger,
		bus:               bus,
		capacity:          capacity,
		errorRateWindow:   errorRateWindow,
		conditionCooldown: conditionCooldown,
		byLevel:           make(map[logs.Level][]*logs.Entry),
		bySource:          make(map[string][]*logs.Entry),
		byTrace:           make(map[string][]*logs.Entry),
		conditions:        make(map[string]*condition),
	}
}

// Log appends an entry and evaluates alert conditions against it.
func (a *Aggregator) Log(level logs.Level, source, message string, fields *Fields) {
	entry := &logs.Entry{
		ID:        uuid.New(),
		Timestamp: time.Now(),
		Level:     level,
		Source:    source,
		Message:   message,
	}
	if fields != nil {
		if fields.Metadata != nil {
			entry.Metadata = make(map[string]string, len(fields.Metadata))
			for k, v := range fields.Metadata {
				entry.Metadata[k] = v
			}
		}
		entry.TraceID = fields.TraceID
		entry.SpanID = fields.SpanID
		entry.BotName = fields.BotName
		entry.Provider = fields.Provider
		entry.StackTrace = fields.StackTrace
	}

	a.mu.Lock()
	a.insert(entry)
	triggered := a.evaluateConditions(entry)
	a.mu.Unlock()

	for _, t := range triggered {
		a.bus.Publish(events.TopicLogCondition, t)
	}
}

// Debug appends a debug-level entry.
func (a *Aggregator) Debug(source, message string, fields *Fields) {
	a.Log(logs.LevelDebug, source, message, fields)
}

// Info appends an info-level entry.
func (a *Aggregator) Info(source, message string, fields *Fields) {
	a.Log(logs.LevelInfo, source, message, fields)
}

// Warn appends a warn-level entry.
func (a *Aggregator) Warn(source, message string, fields *Fields) {
	a.Log(logs.LevelWarn, source, message, fields)
}

// Error appends an error-level entry.
func (a *Aggregator) Error(source, message string, fields *Fields) {
	a.Log(logs.LevelError, source, message, fields)
}

// Fatal appends a fatal-level entry. It does not terminate the process;
// fatality is a classification of the producer's event, not ours.
func (a *Aggregator) Fatal(source, message string, fields *Fields) {
	a.Log(logs.LevelFatal, source, message, fields)
}

// Query filters the log and returns matching entries newest-first with
// offset/limit pagination. Returned entries are copies.
func (a *Aggregator) Query(f logs.Filter) []logs.Entry {
	a.mu.RLock()
	candidates := a.candidates(f)

	matched := make([]logs.Entry, 0)
	// Walk newest-first.
	for i := len(candidates) - 1; i >= 0; i-- {
		e := candidates[i]
		if !matches(e, f) {
			continue
		}
		matched = append(matched, *e.Clone())
	}
	a.mu.RUnlock()

	if f.Offset >= len(matched) {
		return []logs.Entry{}
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched
}

// GetStats summarizes aggregator contents.
func (a *Aggregator) GetStats() logs.Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := logs.Stats{
		Total:    len(a.entries),
		ByLevel:  make(map[string]int),
		BySource: make(map[string]int),
	}
	for level, list := range a.byLevel {
		stats.ByLevel[level.String()] = len(list)
	}
	for source, list := range a.bySource {
		stats.BySource[source] = len(list)
	}
	if len(a.entries) > 0 {
		oldest := a.entries[0].Timestamp
		newest := a.entries[len(a.entries)-1].Timestamp
		stats.OldestAt = &oldest
		stats.NewestAt = &newest
	}

	cutoff := time.Now().Add(-a.errorRateWindow)
	var windowTotal, windowErrors int
	for i := len(a.entries) - 1; i >= 0; i-- {
		if a.entries[i].Timestamp.Before(cutoff) {
			break
		}
		windowTotal++
		if a.entries[i].Level >= logs.LevelError {
			windowErrors++
		}
	}
	if windowTotal > 0 {
		stats.ErrorRate = 100 * float64(windowErrors) / float64(windowTotal)
	}
	return stats
}

// Reset clears entries, indexes and condition trigger state.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = nil
	a.byLevel = make(map[logs.Level][]*logs.Entry)
	a.bySource = make(map[string][]*logs.Entry)
	a.byTrace = make(map[string][]*logs.Entry)
	for _, c := range a.conditions {
		c.lastTriggered = time.Time{}
	}
}

// insert appends and indexes an entry, evicting the oldest entry when the
// primary log is full. Caller holds the write lock.
func (a *Aggregator) insert(entry *logs.Entry) {
	if len(a.entries) >= a.capacity {
		evicted := a.entries[0]
		a.entries = a.entries[1:]
		a.unindex(evicted)
	}
	a.entries = append(a.entries, entry)

	a.byLevel[entry.Level] = append(a.byLevel[entry.Level], entry)
	a.bySource[entry.Source] = append(a.bySource[entry.Source], entry)
	if entry.TraceID != "" {
		a.byTrace[entry.TraceID] = append(a.byTrace[entry.TraceID], entry)
	}
}

// unindex removes an evicted entry from the secondary indexes. The evicted
// entry is always the oldest, so it sits at the head of its index slices.
func (a *Aggregator) unindex(entry *logs.Entry) {
	a.byLevel[entry.Level] = dropHead(a.byLevel[entry.Level], entry)
	a.bySource[entry.Source] = dropHead(a.bySource[entry.Source], entry)
	if entry.TraceID != "" {
		a.byTrace[entry.TraceID] = dropHead(a.byTrace[entry.TraceID], entry)
		if len(a.byTrace[entry.TraceID]) == 0 {
			delete(a.byTrace, entry.TraceID)
		}
	}
}

func dropHead(list []*logs.Entry, entry *logs.Entry) []*logs.Entry {
	if len(list) > 0 && list[0] == entry {
		return list[1:]
	}
	for i, e := range list {
		if e == entry {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// candidates picks the narrowest index for the filter. Caller holds a read
// lock; the returned slice must not escape it un-copied.
func (a *Aggregator) candidates(f logs.Filter) []*logs.Entry {
	if f.TraceID != "" {
		return a.byTrace[f.TraceID]
	}
	if len(f.Sources) == 1 {
		return a.bySource[f.Sources[0]]
	}
	if len(f.Levels) == 1 {
		return a.byLevel[f.Levels[0]]
	}
	return a.entries
}

func matches(e *logs.Entry, f logs.Filter) bool {
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	if len(f.Levels) > 0 && !containsLevel(f.Levels, e.Level) {
		return false
	}
	if len(f.Sources) > 0 && !containsString(f.Sources, e.Source) {
		return false
	}
	if f.TraceID != "" && e.TraceID != f.TraceID {
		return false
	}
	if f.BotName != "" && e.BotName != f.BotName {
		return false
	}
	if f.Provider != "" && e.Provider != f.Provider {
		return false
	}
	if f.Search != "" && !searchEntry(e, f.Search) {
		return false
	}
	return true
}

func searchEntry(e *logs.Entry, needle string) bool {
	needle = strings.ToLower(needle)
	if strings.Contains(strings.ToLower(e.Message), needle) {
		return true
	}
	for k, v := range e.Metadata {
		if strings.Contains(strings.ToLower(k), needle) || strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

func containsLevel(levels []logs.Level, l logs.Level) bool {
	for _, v := range levels {
		if v == l {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
