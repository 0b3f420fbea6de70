package logs

import (
	"time"

	"github.com/google/uuid"
)

// Level is the severity of a log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ParseLevel maps a level name to its Level; unknown names parse as info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Entry is an append-only log record. Never mutated after creation.
type Entry struct {
	ID        uuid.UUID         `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Source    string            `json:"source"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	TraceID    string `json:"trace_id,omitempty"`
	SpanID     string `json:"span_id,omitempty"`
	BotName    string `json:"bot_name,omitempty"`
	Provider   string `json:"provider,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
}

// Clone returns a deep copy. Metadata gets its own map so holders of a
// copy cannot reach back into stored state.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Filter is a compound log query. Zero fields are ignored. Results are
// always newest-first.
type Filter struct {
	Since    *time.Time
	Until    *time.Time
	Levels   []Level
	Sources  []string
	Search   string // case-insensitive substring over message + metadata
	TraceID  string
	BotName  string
	Provider string
	Offset   int
	Limit    int
}

// Stats summarizes aggregator contents for the presentation layer.
type Stats struct {
	Total     int            `json:"total"`
	ByLevel   map[string]int `json:"by_level"`
	BySource  map[string]int `json:"by_source"`
	ErrorRate float64        `json:"error_rate"` // errors+fatals / total within window, ×100
	OldestAt  *time.Time     `json:"oldest_at,omitempty"`
	NewestAt  *time.Time     `json:"newest_at,omitempty"`
}
