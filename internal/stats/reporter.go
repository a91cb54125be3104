package stats

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// DefaultReportInterval is how often the reporter logs a stats line.
const DefaultReportInterval = time.Minute

// Reporter periodically logs the dataplane counters together with process
// CPU and memory usage sampled via gopsutil.
type Reporter struct {
	counters *Counters
	interval time.Duration
	log      *slog.Logger
	proc     *process.Process

	// extra returns additional attributes appended to each report, e.g.
	// the current block-list size.
	extra func() []slog.Attr
}

// NewReporter builds a reporter over the given counters. extra may be nil.
func NewReporter(c *Counters, interval time.Duration, log *slog.Logger, extra func() []slog.Attr) *Reporter {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	if log == nil {
		log = slog.Default()
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		// Resource sampling is optional; counters still get reported.
		proc = nil
	}
	return &Reporter{counters: c, interval: interval, log: log, proc: proc, extra: extra}
}

// Run logs until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

func (r *Reporter) report(ctx context.Context) {
	s := r.counters.Snapshot()
	attrs := []slog.Attr{
		slog.Uint64("received", s.Received),
		slog.Uint64("hits", s.Hits),
		slog.Uint64("misses", s.Misses),
		slog.Uint64("relayed", s.Relayed),
		slog.Uint64("decode_errors", s.DecodeErrors),
		slog.Uint64("dropped", s.Dropped),
	}
	if r.proc != nil {
		if mem, err := r.proc.MemoryInfo(); err == nil {
			attrs = append(attrs, slog.Uint64("rss_bytes", mem.RSS))
		}
		if cpu, err := r.proc.CPUPercent(); err == nil {
			attrs = append(attrs, slog.Float64("cpu_percent", cpu))
		}
	}
	if r.extra != nil {
		attrs = append(attrs, r.extra()...)
	}
	r.log.LogAttrs(ctx, slog.LevelInfo, "dataplane stats", attrs...)
}
