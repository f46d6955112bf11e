package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// Label is printed once when the reporter starts.
	Label string

	// Unit names the work units, e.g. "pages" or "chunks".
	// Default: "units"
	Unit string

	// TotalUnits is the total number of units. Zero when unknown.
	TotalUnits int

	// TotalRows is the total number of rows. Zero when unknown.
	TotalRows int64

	// Workers is the number of parallel workers (for display).
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Snapshot is a point-in-time view of reporter counters.
type Snapshot struct {
	CompletedUnits int
	FailedUnits    int
	InProgress     int
	Rows           int64
	Bytes          int64
}

// Reporter outputs human-readable progress information. The counting
// methods are safe for concurrent use and may be called on a nil Reporter.
type Reporter struct {
	opts Options

	mu             sync.Mutex
	totalUnits     atomic.Int64
	totalRows      atomic.Int64
	completedUnits atomic.Int64
	failedUnits    atomic.Int64
	inProgress     atomic.Int64
	rows           atomic.Int64
	bytes          atomic.Int64
	startTime      time.Time
	stopCh         chan struct{}
	doneCh         chan struct{}
	started        bool
	stopped        bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}
	if opts.Unit == "" {
		opts.Unit = "units"
	}

	r := &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	r.totalUnits.Store(int64(opts.TotalUnits))
	r.totalRows.Store(opts.TotalRows)
	return r
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.mu.Unlock()

	if r.opts.Label != "" {
		fmt.Fprintf(r.opts.Output, "[terrabulk] %s\n", r.opts.Label)
	}
	fmt.Fprintf(r.opts.Output, "[terrabulk] Total rows: %s | %s: %s | Workers: %d\n",
		formatTotal(r.totalRows.Load()),
		capitalize(r.opts.Unit),
		formatTotal(r.totalUnits.Load()),
		r.opts.Workers,
	)

	go r.updateLoop()
}

// Stop stops the progress reporter and prints the final status. It waits
// for the final status to be written.
func (r *Reporter) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// SetTotals updates the totals once they are known, e.g. after an upload
// source has been split.
func (r *Reporter) SetTotals(units int, rows int64) {
	if r == nil {
		return
	}
	r.totalUnits.Store(int64(units))
	r.totalRows.Store(rows)
}

// UnitStarted marks a unit as in progress.
func (r *Reporter) UnitStarted() {
	if r == nil {
		return
	}
	r.inProgress.Add(1)
}

// UnitCompleted marks a unit as completed with the given rows and payload
// size.
func (r *Reporter) UnitCompleted(rows int, size int64) {
	if r == nil {
		return
	}
	r.rows.Add(int64(rows))
	r.bytes.Add(size)
	r.completedUnits.Add(1)
	r.inProgress.Add(-1)
}

// UnitFailed marks a unit as failed (removes from in-progress).
func (r *Reporter) UnitFailed() {
	if r == nil {
		return
	}
	r.failedUnits.Add(1)
	r.inProgress.Add(-1)
}

// Snapshot returns the current counters.
func (r *Reporter) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		CompletedUnits: int(r.completedUnits.Load()),
		FailedUnits:    int(r.failedUnits.Load()),
		InProgress:     int(r.inProgress.Load()),
		Rows:           r.rows.Load(),
		Bytes:          r.bytes.Load(),
	}
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printStatus()
		}
	}
}

// printStatus outputs the current progress status.
func (r *Reporter) printStatus() {
	s := r.Snapshot()
	total := r.totalRows.Load()
	elapsed := time.Since(r.startTime)

	rate := float64(s.Rows) / elapsed.Seconds()

	var percent float64
	eta := "calculating..."
	if total > 0 {
		percent = float64(s.Rows) / float64(total) * 100
		if rate > 0 {
			remaining := float64(total - s.Rows)
			eta = formatDuration(time.Duration(remaining / rate * float64(time.Second)))
		}
	}

	pending := int(r.totalUnits.Load()) - s.CompletedUnits - s.FailedUnits - s.InProgress
	if pending < 0 {
		pending = 0
	}

	fmt.Fprintf(r.opts.Output, "\r[terrabulk] Progress: %.1f%% | %d / %s rows | %s | Rate: %.0f rows/s | ETA: %s    ",
		percent,
		s.Rows,
		formatTotal(total),
		formatBytes(s.Bytes),
		rate,
		eta,
	)
	fmt.Fprintf(r.opts.Output, "\n[terrabulk] %s: %d completed | %d in-progress | %d pending | %d failed    \033[A",
		capitalize(r.opts.Unit),
		s.CompletedUnits,
		s.InProgress,
		pending,
		s.FailedUnits,
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	s := r.Snapshot()
	duration := time.Since(r.startTime)
	rate := float64(s.Rows) / duration.Seconds()

	status := "Complete!"
	if s.FailedUnits > 0 {
		status = fmt.Sprintf("%d %s failed", s.FailedUnits, r.opts.Unit)
	}

	fmt.Fprintf(r.opts.Output, "\r[terrabulk] Progress: %d rows | %s | %s    \n",
		s.Rows,
		formatBytes(s.Bytes),
		status,
	)
	fmt.Fprintf(r.opts.Output, "[terrabulk] %s: %d completed | %d failed    \n",
		capitalize(r.opts.Unit),
		s.CompletedUnits,
		s.FailedUnits,
	)
	fmt.Fprintf(r.opts.Output, "[terrabulk] Total time: %s | Average rate: %.0f rows/s\n",
		formatDuration(duration),
		rate,
	)
}

func formatTotal(n int64) string {
	if n <= 0 {
		return "?"
	}
	return fmt.Sprintf("%d", n)
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KiB = 1024
		MiB = KiB * 1024
		GiB = MiB * 1024
	)

	switch {
	case b >= GiB:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
