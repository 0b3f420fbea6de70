package metrics

import (
	"time"
)

// Sample is a single immutable metric observation.
type Sample struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Clone returns a copy with its own Tags map, so holders of a copy
// cannot reach back into stored history.
func (s Sample) Clone() Sample {
	if s.Tags != nil {
		tags := make(map[string]string, len(s.Tags))
		for k, v := range s.Tags {
			tags[k] = v
		}
		s.Tags = tags
	}
	return s
}

// KPI is a named, aggregated business metric tracked alongside system metrics.
type KPI struct {
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Target    float64   `json:"target,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Window is a bounded FIFO buffer of recent float samples used for
// rolling statistics. Zero value is not usable; construct with NewWindow.
type Window struct {
	values   []float64
	capacity int
}

// NewWindow creates a sliding window holding at most capacity values.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window{
		values:   make([]float64, 0, capacity),
		capacity: capacity,
	}
}

// Push appends a value, evicting the oldest when full.
func (w *Window) Push(v float64) {
	if len(w.values) >= w.capacity {
		w.values = w.values[1:]
	}
	w.values = append(w.values, v)
}

// Len returns the number of buffered values.
func (w *Window) Len() int {
	return len(w.values)
}

// Values returns a copy of the buffered values, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.values))
	copy(out, w.values)
	return out
}

// Mean returns the arithmetic mean of the window, or 0 when empty.
func (w *Window) Mean() float64 {
	if len(w.values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range w.values {
		sum += v
	}
	return sum / float64(len(w.values))
}
