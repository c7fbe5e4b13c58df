package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Resources is a point-in-time CPU and memory sample of one process.
type Resources struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// ResourceConfig configures a ResourceSampler.
type ResourceConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// ResourceSampler periodically samples the resource usage of the process
// whose PID is returned by a callback (typically the supervised backend).
type ResourceSampler struct {
	enabled  bool
	interval time.Duration
	logger   *slog.Logger

	mu   sync.RWMutex
	last Resources
	ok   bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpu     prometheus.Gauge
	memory  prometheus.Gauge
	threads prometheus.Gauge
}

// NewResourceSampler creates a sampler; interval defaults to 5s.
func NewResourceSampler(cfg ResourceConfig, logger *slog.Logger) *ResourceSampler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceSampler{
		enabled:  cfg.Enabled,
		interval: cfg.Interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		cpu: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cypher", Subsystem: "backend", Name: "cpu_percent",
			Help: "CPU usage percentage of the supervised backend.",
		}),
		memory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cypher", Subsystem: "backend", Name: "memory_mb",
			Help: "Resident memory of the supervised backend in MB.",
		}),
		threads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cypher", Subsystem: "backend", Name: "num_threads",
			Help: "Thread count of the supervised backend.",
		}),
	}
}

// RegisterMetrics registers the sampler gauges; no-op when disabled.
func (s *ResourceSampler) RegisterMetrics(r prometheus.Registerer) error {
	if !s.enabled {
		return nil
	}
	for _, c := range []prometheus.Collector{s.cpu, s.memory, s.threads} {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples pid() every interval until ctx is done or Stop is called.
// A pid of zero or less means nothing is running and clears the last sample.
func (s *ResourceSampler) Start(ctx context.Context, pid func() int) {
	if !s.enabled {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.collect(pid())
			}
		}
	}()
}

// Stop stops sampling and waits for the sampling goroutine.
func (s *ResourceSampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Last returns the most recent sample.
func (s *ResourceSampler) Last() (Resources, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.ok
}

func (s *ResourceSampler) collect(pid int) {
	if pid <= 0 {
		s.mu.Lock()
		s.last, s.ok = Resources{}, false
		s.mu.Unlock()
		return
	}
	r, err := Sample(int32(pid))
	if err != nil {
		s.logger.Debug("resource sample failed", "pid", pid, "error", err)
		return
	}
	s.cpu.Set(r.CPUPercent)
	s.memory.Set(r.MemoryMB)
	s.threads.Set(float64(r.NumThreads))
	s.mu.Lock()
	s.last, s.ok = r, true
	s.mu.Unlock()
}

// Sample reads CPU and memory usage of pid once.
func Sample(pid int32) (Resources, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return Resources{}, fmt.Errorf("process handle: %w", err)
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return Resources{}, fmt.Errorf("memory info: %w", err)
	}
	// first call may report 0 until a previous sample exists
	cpu, err := proc.CPUPercent()
	if err != nil {
		cpu = 0
	}
	threads, _ := proc.NumThreads()
	r := Resources{
		PID:        pid,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		NumThreads: threads,
		Timestamp:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDs(); err == nil {
			r.NumFDs = fds
		}
	}
	return r, nil
}
