package profiler

import (
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-deferred/engine/logger"
)

// PassTimer receives the host-side timing of a render pass once per frame.
type PassTimer interface {
	// RecordPass reports one execution of a pass.
	//
	// Parameters:
	//   - label: the pass name
	//   - lights: how many lights the pass rendered
	//   - d: the host time spent recording and submitting the pass
	RecordPass(label string, lights int, d time.Duration)
}

// PassStats accumulates the recorded executions of one pass since the last report.
type PassStats struct {
	Count  int
	Lights int
	Total  time.Duration
	Last   time.Duration
}

// Average returns the mean duration per execution.
func (s PassStats) Average() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Profiler tracks frame rate, memory statistics and pass timings for performance monitoring.
// Outputs stats to the log at a configurable interval.
type Profiler struct {
	mu  *sync.Mutex
	log *slog.Logger
	now func() time.Time

	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	passes map[string]PassStats
}

var _ PassTimer = &Profiler{}

// NewProfiler creates a new Profiler.
// Update interval defaults to 1 second.
//
// Parameters:
//   - options: functional options to configure the profiler
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		mu:             &sync.Mutex{},
		now:            time.Now,
		updateInterval: time.Second,
		passes:         make(map[string]PassStats),
	}
	for _, option := range options {
		option(p)
	}
	p.log = logger.Or(p.log)
	p.lastTime = p.now()
	return p
}

// RecordPass adds one execution of a pass to the current reporting window.
func (p *Profiler) RecordPass(label string, lights int, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.passes[label]
	s.Count++
	s.Lights += lights
	s.Total += d
	s.Last = d
	p.passes[label] = s
}

// Pass returns the statistics of a pass in the current reporting window.
//
// Parameters:
//   - label: the pass name
//
// Returns:
//   - PassStats: the accumulated statistics, zero when the pass was not recorded
func (p *Profiler) Pass(label string) PassStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.passes[label]
}

// Tick should be called once per frame to track frame timing.
// Logs performance statistics when the update interval has elapsed.
// Statistics include: FPS, heap usage, allocation rate, GC count/pause times, total memory, and the average
// time and light count of every recorded pass. Pass statistics are reset after each report.
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.frameCount++
	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	fps := float64(p.frameCount) / elapsed.Seconds()

	runtime.ReadMemStats(&p.memStats)
	// Alloc: bytes of live heap objects. TotalAlloc only grows and tracks churn. Sys is the process footprint.
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	sysMB := float64(p.memStats.Sys) / 1024 / 1024
	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	gcCount := p.memStats.NumGC
	var lastPauseUs, maxPauseUs uint64
	if gcCount > 0 {
		// PauseNs is a circular buffer of the last 256 GC pauses.
		lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000
		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			maxPauseUs = max(maxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}

	p.log.Info("profiler",
		"fps", fps,
		"heap_mb", allocMB,
		"alloc_rate_mb_s", allocRateMB,
		"gc", gcCount,
		"gc_last_us", lastPauseUs,
		"gc_max_us", maxPauseUs,
		"sys_mb", sysMB,
	)
	labels := make([]string, 0, len(p.passes))
	for label := range p.passes {
		labels = append(labels, label)
	}
	slices.Sort(labels)
	for _, label := range labels {
		s := p.passes[label]
		p.log.Info("profiler pass",
			"pass", label,
			"count", s.Count,
			"avg", s.Average(),
			"lights_per_frame", float64(s.Lights)/float64(s.Count),
		)
	}

	p.frameCount = 0
	p.lastTime = currentTime
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	clear(p.passes)
	return true
}
