package monitor

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sample is one reading of the host metrics the runtime reacts to.
type Sample struct {
	CPUPercent      float64
	MemoryPercent   float64
	Load1           float64
	DiskFreeBytes   uint64
	DiskUsedPercent float64
	At              time.Time
}

// ewmaAlpha smooths the CPU series behind the pressure factor, so one
// spike does not stretch every worker's idle sleep.
const ewmaAlpha = 0.25

// Pressure ramp: below midCPU the factor is 1 (no shedding), between mid
// and high it ramps linearly, at or above highCPU it saturates.
const (
	midCPU      = 70.0
	highCPU     = 85.0
	maxPressure = 4.0
)

// Monitor samples host metrics periodically and turns them into runtime
// decisions: Pressure stretches worker idle sleeps when the CPU saturates,
// and DiskFree gates the recorder before it opens new segments.
type Monitor struct {
	logger   *slog.Logger
	interval time.Duration
	diskPath string

	close chan struct{}
	wg    sync.WaitGroup

	mu      sync.RWMutex
	last    Sample
	cpuEWMA float64
}

// New creates a Monitor watching diskPath (the recording volume).
// interval <= 0 defaults to 15s; diskPath empty defaults to "/".
func New(logger *slog.Logger, interval time.Duration, diskPath string) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &Monitor{
		logger:   logger.With("component", "system_monitor"),
		interval: interval,
		diskPath: diskPath,
		close:    make(chan struct{}),
	}
}

// Start begins periodic collection.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop stops the monitor.
func (m *Monitor) Stop() {
	close(m.close)
	m.wg.Wait()
}

// Sample returns the latest reading.
func (m *Monitor) Sample() Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Pressure returns the backoff multiplier in [1, maxPressure] derived from
// the smoothed CPU reading. Workers multiply their idle sleep by it,
// shedding wake frequency while the host is saturated.
func (m *Monitor) Pressure() float64 {
	m.mu.RLock()
	smoothed := m.cpuEWMA
	m.mu.RUnlock()
	return pressureFromCPU(smoothed)
}

func pressureFromCPU(pct float64) float64 {
	switch {
	case pct >= highCPU:
		return maxPressure
	case pct > midCPU:
		return 1 + (maxPressure-1)*(pct-midCPU)/(highCPU-midCPU)
	default:
		return 1
	}
}

// DiskFree reports whether the recording volume still has at least minFree
// bytes. A zero reading (collection failed or not yet run) never blocks
// writes — the gate only acts on real data.
func (m *Monitor) DiskFree(minFree uint64) bool {
	s := m.Sample()
	if s.DiskFreeBytes == 0 {
		return true
	}
	return s.DiskFreeBytes >= minFree
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-m.close:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

// collect gathers one Sample. Sources that fail are reported once per
// round, and the previous value of that field is kept so the pressure and
// disk gates do not flap on transient read errors.
func (m *Monitor) collect() {
	m.mu.RLock()
	s := m.last
	m.mu.RUnlock()
	s.At = time.Now()

	var failed []string

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	} else {
		failed = append(failed, "cpu")
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vm.UsedPercent
	} else {
		failed = append(failed, "mem")
	}
	if avg, err := load.Avg(); err == nil {
		s.Load1 = avg.Load1
	} else {
		failed = append(failed, "load")
	}
	if du, err := disk.Usage(m.diskPath); err == nil {
		s.DiskFreeBytes = du.Free
		s.DiskUsedPercent = du.UsedPercent
	} else {
		failed = append(failed, "disk")
	}

	if len(failed) > 0 {
		m.logger.Debug("partial host sample", "failed", strings.Join(failed, ","))
	}

	m.mu.Lock()
	m.cpuEWMA = smooth(m.cpuEWMA, s.CPUPercent)
	m.last = s
	m.mu.Unlock()
}

// smooth applies the EWMA step; the first sample seeds the series.
func smooth(prev, next float64) float64 {
	if prev == 0 {
		return next
	}
	return prev + ewmaAlpha*(next-prev)
}
