// Package history keeps the in-process metric history that the predictive
// tools read. Samples arrive as a side effect of every top-pods call; the
// buffer holds the last N per pod and is safe for concurrent use.
package history

import (
	"sync"
	"time"
)

// DefaultWindow is the per-pod sample capacity.
const DefaultWindow = 20

// Key identifies one pod's sample series.
type Key struct {
	Namespace string
	Pod       string
}

// Sample is one metrics snapshot for a pod, summed across its containers.
// Restarts carries the pod's cumulative container restart count so the
// failure-pattern analysis can spot crash loops without re-querying the API.
type Sample struct {
	At            time.Time
	CPUMillicores float64
	MemoryMi      float64
	Restarts      int32
}

// Recorder is the interface the predictive tools depend on. The ring buffer
// is the in-process implementation; a shared store can replace it without
// touching the predictors.
type Recorder interface {
	// Record appends a sample, evicting the oldest once the window is
	// full.
	Record(key Key, s Sample)

	// History returns the samples for a pod, oldest first. The returned
	// slice is a copy.
	History(key Key) []Sample

	// Keys lists every pod with at least one sample.
	Keys() []Key
}

// RingBuffer is the process-local Recorder.
type RingBuffer struct {
	mu     sync.RWMutex
	window int
	data   map[Key][]Sample
}

var _ Recorder = (*RingBuffer)(nil)

// NewRingBuffer creates a buffer holding up to window samples per pod.
// window <= 0 uses DefaultWindow.
func NewRingBuffer(window int) *RingBuffer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RingBuffer{
		window: window,
		data:   make(map[Key][]Sample),
	}
}

func (r *RingBuffer) Record(key Key, s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	samples := append(r.data[key], s)
	if len(samples) > r.window {
		samples = samples[len(samples)-r.window:]
	}
	r.data[key] = samples
}

func (r *RingBuffer) History(key Key) []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	samples := r.data[key]
	out := make([]Sample, len(samples))
	copy(out, samples)
	return out
}

func (r *RingBuffer) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]Key, 0, len(r.data))
	for k := range r.data {
		keys = append(keys, k)
	}
	return keys
}

// MinTrendSamples is the fewest samples a growth estimate needs; below it
// predictions report insufficient history instead of guessing.
const MinTrendSamples = 3

// GrowthPercent estimates the trend over the window as the percent change
// between the average of the older half and the average of the newer half.
// Returns (0, false) when there are too few samples or the older half
// averages zero.
func GrowthPercent(samples []Sample, metric func(Sample) float64) (float64, bool) {
	if len(samples) < MinTrendSamples {
		return 0, false
	}
	mid := len(samples) / 2
	early := avg(samples[:mid], metric)
	late := avg(samples[mid:], metric)
	if early == 0 {
		return 0, false
	}
	return (late - early) / early * 100, true
}

func avg(samples []Sample, metric func(Sample) float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += metric(s)
	}
	return sum / float64(len(samples))
}

// CPU and Memory are the metric selectors the predictors pass to
// GrowthPercent.
func CPU(s Sample) float64    { return s.CPUMillicores }
func Memory(s Sample) float64 { return s.MemoryMi }
