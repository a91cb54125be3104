// Package refresh keeps the block-list current: a long-lived task that
// periodically downloads the configured list, builds a replacement set off
// to the side, swaps it into the store, and persists a dated snapshot.
package refresh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/quench-dns/quench/internal/blocklist"
	"github.com/quench-dns/quench/internal/history"
)

// Defaults for the refresh cycle.
const (
	DefaultInterval       = 7 * 24 * time.Hour
	DefaultConnectTimeout = 30 * time.Second
	DefaultTotalTimeout   = 60 * time.Second
	initialBackoff        = time.Minute
	maxBackoff            = time.Hour
	maxBodySize           = 64 << 20 // refuse absurd list bodies
)

// Options configures a Runner.
type Options struct {
	URL      string        // block-list source
	Interval time.Duration // cycle period; zero selects the default
	DBDir    string        // directory for dated snapshots
	History  *history.DB   // optional refresh bookkeeping
	Client   *http.Client  // optional; a timeout-configured client is built when nil
	Logger   *slog.Logger
}

// Runner drives the refresh loop. Create with New, start with Run; Wake
// triggers an immediate cycle without waiting out the interval.
type Runner struct {
	store    *blocklist.Store
	url      string
	interval time.Duration
	dbDir    string
	hist     *history.DB
	client   *http.Client
	log      *slog.Logger
	wake     chan struct{}
}

// New returns a Runner that replaces sets in store.
func New(store *blocklist.Store, opts Options) *Runner {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: DefaultTotalTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: DefaultConnectTimeout}).DialContext,
			},
		}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		store:    store,
		url:      opts.URL,
		interval: interval,
		dbDir:    opts.DBDir,
		hist:     opts.History,
		client:   client,
		log:      log,
		wake:     make(chan struct{}, 1),
	}
}

// Wake schedules an immediate refresh. Multiple wakes before the loop
// notices collapse into one cycle.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled. Each cycle sleeps for the interval (or
// a shortened backoff after a failure), then fetches, parses, swaps, and
// persists. Fetch and parse failures keep the current set and shorten the
// next sleep; persistence failures only warn, since the in-memory swap has
// already happened.
func (r *Runner) Run(ctx context.Context) error {
	delay := r.interval
	backoff := initialBackoff

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-r.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if err := r.refreshOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn("block-list refresh failed; keeping current set",
				"err", err, "retry_in", backoff)
			delay = backoff
			backoff = min(backoff*2, maxBackoff)
		} else {
			delay = r.interval
			backoff = initialBackoff
		}
		timer.Reset(delay)
	}
}

// refreshOnce performs one fetch-parse-swap-persist cycle.
func (r *Runner) refreshOnce(ctx context.Context) error {
	started := time.Now()

	body, err := r.fetch(ctx)
	if err != nil {
		r.record(ctx, history.Record{
			StartedAt: started, FinishedAt: time.Now(),
			SourceURL: r.url, Outcome: history.OutcomeFetch, Error: err.Error(),
		})
		return err
	}

	set, skipped, err := blocklist.Parse(bytes.NewReader(body))
	if err != nil {
		r.record(ctx, history.Record{
			StartedAt: started, FinishedAt: time.Now(),
			SourceURL: r.url, Outcome: history.OutcomeParse, Error: err.Error(),
		})
		return err
	}

	r.store.Replace(set)
	r.log.Info("block-list replaced",
		"entries", set.Len(), "skipped_lines", skipped, "source", r.url)

	rec := history.Record{
		StartedAt: started, FinishedAt: time.Now(),
		SourceURL: r.url, EntryCount: set.Len(), Outcome: history.OutcomeOK,
	}

	path, err := WriteSnapshot(r.dbDir, body, started)
	if err != nil {
		// The swap stands; the snapshot is best-effort.
		r.log.Warn("block-list snapshot not persisted", "err", err)
		rec.Outcome = history.OutcomePersist
		rec.Error = err.Error()
	} else {
		rec.SnapshotPath = path
	}
	r.record(ctx, rec)
	return nil
}

func (r *Runner) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch block-list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch block-list: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read block-list body: %w", err)
	}
	return body, nil
}

func (r *Runner) record(ctx context.Context, rec history.Record) {
	if r.hist == nil {
		return
	}
	if err := r.hist.Add(ctx, rec); err != nil {
		r.log.Warn("refresh history not recorded", "err", err)
	}
}
