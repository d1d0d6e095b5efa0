package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds the scan loop's counters. All fields are updated from the
// scan goroutine and read concurrently by the HTTP API, so everything is
// atomic; per-block error counters live behind a lock because Reload
// replaces the block set.
type Metrics struct {
	scanCount      atomic.Uint64
	overrunCount   atomic.Uint64
	errorCount     atomic.Uint64
	blocksExecuted atomic.Uint64

	lastScanNanos  atomic.Int64
	maxScanNanos   atomic.Int64
	totalScanNanos atomic.Int64

	mu          sync.RWMutex
	blockErrors map[string]*atomic.Uint64
}

// MetricsSnapshot is a consistent-enough copy for reporting. Counters are
// read independently, so a snapshot taken mid-scan may be one scan apart
// between fields; reporting does not need better.
type MetricsSnapshot struct {
	ScanCount      uint64 `json:"scan_count"`
	OverrunCount   uint64 `json:"overrun_count"`
	ErrorCount     uint64 `json:"error_count"`
	BlocksExecuted uint64 `json:"blocks_executed"`

	LastScanDuration time.Duration `json:"last_scan_ns"`
	MaxScanDuration  time.Duration `json:"max_scan_ns"`
	AvgScanDuration  time.Duration `json:"avg_scan_ns"`

	BlockErrors map[string]uint64 `json:"block_errors,omitempty"`
}

func newMetrics(blockNames []string) *Metrics {
	m := &Metrics{}
	m.setBlocks(blockNames)
	return m
}

// setBlocks resets the per-block counters to a new block set. Called at
// init and on reload; global counters survive a reload.
func (m *Metrics) setBlocks(names []string) {
	counters := make(map[string]*atomic.Uint64, len(names))
	for _, n := range names {
		counters[n] = &atomic.Uint64{}
	}
	m.mu.Lock()
	m.blockErrors = counters
	m.mu.Unlock()
}

func (m *Metrics) recordScan(d time.Duration) {
	m.scanCount.Add(1)
	ns := int64(d)
	m.lastScanNanos.Store(ns)
	m.totalScanNanos.Add(ns)
	for {
		max := m.maxScanNanos.Load()
		if ns <= max || m.maxScanNanos.CompareAndSwap(max, ns) {
			return
		}
	}
}

func (m *Metrics) recordBlockStep() {
	m.blocksExecuted.Add(1)
}

func (m *Metrics) recordOverrun() {
	m.overrunCount.Add(1)
}

func (m *Metrics) recordBlockError(name string) {
	m.errorCount.Add(1)
	m.mu.RLock()
	c := m.blockErrors[name]
	m.mu.RUnlock()
	if c != nil {
		c.Add(1)
	}
}

// ScanCount returns the number of completed scans.
func (m *Metrics) ScanCount() uint64 { return m.scanCount.Load() }

// OverrunCount returns the number of scans that exceeded the period.
func (m *Metrics) OverrunCount() uint64 { return m.overrunCount.Load() }

// ErrorCount returns the total number of block step errors.
func (m *Metrics) ErrorCount() uint64 { return m.errorCount.Load() }

// Snapshot copies the current counters. The scan count and total are
// read as a pair, retrying while a scan completes in between, so the
// average never mixes one scan's count with another's total.
func (m *Metrics) Snapshot() MetricsSnapshot {
	scans := m.scanCount.Load()
	total := m.totalScanNanos.Load()
	for {
		again := m.scanCount.Load()
		if again == scans {
			break
		}
		scans = again
		total = m.totalScanNanos.Load()
	}

	s := MetricsSnapshot{
		ScanCount:        scans,
		OverrunCount:     m.overrunCount.Load(),
		ErrorCount:       m.errorCount.Load(),
		BlocksExecuted:   m.blocksExecuted.Load(),
		LastScanDuration: time.Duration(m.lastScanNanos.Load()),
		MaxScanDuration:  time.Duration(m.maxScanNanos.Load()),
	}
	if scans > 0 {
		s.AvgScanDuration = time.Duration(uint64(total) / scans)
	}

	m.mu.RLock()
	s.BlockErrors = make(map[string]uint64, len(m.blockErrors))
	for name, c := range m.blockErrors {
		if v := c.Load(); v > 0 {
			s.BlockErrors[name] = v
		}
	}
	m.mu.RUnlock()
	return s
}
