// Package querysvc applies the block-list to decoded queries.
//
// The service is assembled through value-consuming lifecycle stages so a
// half-built service cannot reach the dispatcher:
//
//	New(cfg)            -> *Builder    (nothing loaded)
//	Builder.Index()     -> *Indexed    (seed list loaded into the store)
//	Indexed.Schedule()  -> *Scheduled  (refresher task spawned, handle held)
//	Scheduled.Ready()   -> *Service + *RefresherHandle
//
// Only a *Service is accepted by the dispatcher, and the refresher handle
// leaves the service exactly once, to be supervised alongside the workers.
// Each transition invalidates its receiver; reusing one is an error.
package querysvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quench-dns/quench/internal/blocklist"
	"github.com/quench-dns/quench/internal/dnswire"
	"github.com/quench-dns/quench/internal/refresh"
)

// ErrConsumed is returned when a lifecycle stage is used after its
// transition already ran.
var ErrConsumed = errors.New("query service: lifecycle stage already consumed")

// Config carries the pieces the lifecycle assembles.
type Config struct {
	SeedPath  string // local seed list loaded by Index
	AnswerTTL uint32 // TTL for synthetic answers; zero selects the default
	NXDomain  bool   // answer blocked names with NXDOMAIN instead of a sinkhole record
	Cache     Cache  // optional; NewCache is used when nil
	Logger    *slog.Logger
}

// Result is the outcome of processing one query: either a synthetic reply
// to send back (Blocked), or the transaction ID to correlate after
// forwarding the original bytes upstream.
type Result struct {
	Blocked bool
	Reply   []byte // set when Blocked
	ID      uint16
}

// Builder is the first lifecycle stage; nothing is loaded yet.
type Builder struct {
	cfg      Config
	consumed bool
}

// New starts the lifecycle.
func New(cfg Config) *Builder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Cache == nil {
		cfg.Cache = NewCache(0)
	}
	if cfg.AnswerTTL == 0 {
		cfg.AnswerTTL = dnswire.DefaultAnswerTTL
	}
	return &Builder{cfg: cfg}
}

// Index loads the seed block-list and moves to the Indexed stage. A seed
// that cannot be read is fatal: serving with an empty list when the
// operator configured one would silently disable filtering.
func (b *Builder) Index() (*Indexed, error) {
	if b.consumed {
		return nil, ErrConsumed
	}
	b.consumed = true

	set, skipped, err := blocklist.ParseFile(b.cfg.SeedPath)
	if err != nil {
		return nil, fmt.Errorf("load seed block-list: %w", err)
	}
	b.cfg.Logger.Info("seed block-list loaded",
		"path", b.cfg.SeedPath, "entries", set.Len(), "skipped_lines", skipped)

	return &Indexed{cfg: b.cfg, store: blocklist.NewStore(set)}, nil
}

// Indexed holds a populated store but no refresher yet.
type Indexed struct {
	cfg      Config
	store    *blocklist.Store
	consumed bool
}

// Schedule spawns the refresher task against this service's store and
// moves to the Scheduled stage, which owns the task handle.
func (ix *Indexed) Schedule(ctx context.Context, opts refresh.Options) (*Scheduled, error) {
	if ix.consumed {
		return nil, ErrConsumed
	}
	ix.consumed = true

	if opts.Logger == nil {
		opts.Logger = ix.cfg.Logger
	}
	runner := refresh.New(ix.store, opts)
	errc := make(chan error, 1)
	go func() { errc <- runner.Run(ctx) }()

	return &Scheduled{
		cfg:   ix.cfg,
		store: ix.store,
		handle: &RefresherHandle{
			errc: errc,
			wake: runner.Wake,
		},
	}, nil
}

// RefresherHandle represents the running refresher task. It is owned by
// the Scheduled stage and transferred out exactly once by Ready, so the
// supervisor can wait on it next to the dispatcher workers.
type RefresherHandle struct {
	errc <-chan error
	wake func()
}

// Done yields the refresher's terminal error.
func (h *RefresherHandle) Done() <-chan error { return h.errc }

// Wake triggers an immediate refresh cycle.
func (h *RefresherHandle) Wake() { h.wake() }

// Scheduled owns the running refresher handle.
type Scheduled struct {
	cfg    Config
	store  *blocklist.Store
	handle *RefresherHandle
}

// Ready transfers the refresher handle out and returns the finished
// Service. The handle leaves exactly once; a second call fails.
func (s *Scheduled) Ready() (*Service, *RefresherHandle, error) {
	if s.handle == nil {
		return nil, nil, ErrConsumed
	}
	h := s.handle
	s.handle = nil

	svc := &Service{
		store:    s.store,
		cache:    s.cfg.Cache,
		ttl:      s.cfg.AnswerTTL,
		nxdomain: s.cfg.NXDomain,
	}
	return svc, h, nil
}

// Service answers block-list lookups. It is immutable after construction
// and safe for concurrent use by every dispatcher worker.
type Service struct {
	store    *blocklist.Store
	cache    Cache
	ttl      uint32
	nxdomain bool
}

// Process classifies one decoded query. raw must be the original client
// datagram; for blocked names the synthetic reply is encoded against it.
//
// The block-list snapshot is loaded once per call, so a concurrent replace
// yields either the old or the new set as a whole, never a mixture. Parent
// suffixes are covered by the set's matching rules: an entry on
// "example.com" blocks "ads.example.com".
func (s *Service) Process(q *dnswire.Query, raw []byte) (Result, error) {
	if reply, ok := s.cache.Get(FingerprintOf(q)); ok {
		return Result{Blocked: true, Reply: PatchID(reply, q.ID), ID: q.ID}, nil
	}

	if s.store.Contains(q.Name()) {
		reply, err := dnswire.Answer{
			Query:    q,
			TTL:      s.ttl,
			NXDomain: s.nxdomain,
		}.Encode(raw)
		if err != nil {
			return Result{}, fmt.Errorf("encode sinkhole answer: %w", err)
		}
		return Result{Blocked: true, Reply: reply, ID: q.ID}, nil
	}

	return Result{ID: q.ID}, nil
}

// BlockedCount reports the current block-list size, for startup logging
// and the stats reporter.
func (s *Service) BlockedCount() int { return s.store.Len() }
