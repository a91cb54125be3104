// Package dispatch owns the UDP dataplane: per-worker socket pairs bound
// with SO_REUSEPORT, the per-datagram processing tasks, and the relay of
// upstream replies back to clients.
//
// Goroutine model: for each worker the dispatcher runs one client receive
// loop and one upstream receive loop; each accepted client datagram is
// handled on its own goroutine, bounded per worker by a semaphore. When
// the semaphore is saturated new datagrams are dropped, so the kernel
// socket buffer absorbs bursts instead of an unbounded userspace queue.
//
// The dataplane never propagates an error past the per-datagram task: a
// malformed or unroutable datagram is logged, counted, and dropped.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/quench-dns/quench/internal/dnswire"
	"github.com/quench-dns/quench/internal/pending"
	"github.com/quench-dns/quench/internal/pool"
	"github.com/quench-dns/quench/internal/querysvc"
	"github.com/quench-dns/quench/internal/stats"
)

// Defaults for the dispatcher.
const (
	DefaultMaxInFlight = 1024            // per-worker bound on concurrent datagram tasks
	DefaultGrace       = 2 * time.Second // drain window for in-flight tasks on shutdown
)

// ErrBind marks a failure to bind the client-facing sockets; the CLI maps
// it to its own exit code.
var ErrBind = errors.New("dispatch: bind failed")

// ErrWorkerPanic marks a recovered panic in a worker loop.
var ErrWorkerPanic = errors.New("dispatch: worker panicked")

// bufferPool recycles datagram buffers sized for the largest accepted
// message.
var bufferPool = pool.New(func() *[]byte {
	buf := make([]byte, dnswire.MaxUDPPayloadSize)
	return &buf
})

// Config carries the dispatcher's knobs.
type Config struct {
	ListenAddr  string        // client-facing bind address, e.g. "[::]:8080"
	Upstream    string        // recursive resolver, host:port
	Workers     int           // socket/loop pairs; default NumCPU
	MaxInFlight int64         // per-worker task bound; default 1024
	Grace       time.Duration // shutdown drain window; default 2s
}

// Dispatcher runs the dataplane. Construct with New; it only accepts a
// fully built (Ready) query service.
type Dispatcher struct {
	cfg      Config
	svc      *querysvc.Service
	pend     *pending.Table
	counters *stats.Counters
	log      *slog.Logger

	upstreamAddr netip.AddrPort
	workers      []*worker
}

type worker struct {
	id       int
	client   *net.UDPConn
	upstream *net.UDPConn
	sem      *semaphore.Weighted
}

// New validates the configuration and resolves the upstream address.
func New(svc *querysvc.Service, pend *pending.Table, counters *stats.Counters,
	log *slog.Logger, cfg Config) (*Dispatcher, error) {
	if svc == nil {
		return nil, errors.New("dispatch: nil query service")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if log == nil {
		log = slog.Default()
	}
	if counters == nil {
		counters = stats.NewCounters()
	}

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("resolve upstream %s: %w", cfg.Upstream, err)
	}
	addrPort := udpAddr.AddrPort()
	addrPort = netip.AddrPortFrom(addrPort.Addr().Unmap(), addrPort.Port())

	return &Dispatcher{
		cfg:          cfg,
		svc:          svc,
		pend:         pend,
		counters:     counters,
		log:          log,
		upstreamAddr: addrPort,
	}, nil
}

// Bind creates the per-worker socket pairs without starting the loops.
// Run binds implicitly; calling Bind first lets a caller learn the bound
// address (for port 0) before traffic starts.
func (d *Dispatcher) Bind() error {
	if d.workers != nil {
		return nil
	}
	return d.bind()
}

// ClientAddr returns the first worker's client-facing address, or nil
// before Bind.
func (d *Dispatcher) ClientAddr() net.Addr {
	if len(d.workers) == 0 {
		return nil
	}
	return d.workers[0].client.LocalAddr()
}

// Run binds the sockets, starts the worker pairs and the sweeper, and
// blocks until ctx is cancelled or a worker fails. On shutdown, in-flight
// datagram tasks get the grace window to drain before sockets close.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.Bind(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, w := range d.workers {
		g.Go(func() error { return d.clientLoop(gctx, w) })
		g.Go(func() error { return d.upstreamLoop(gctx, w) })
	}
	g.Go(func() error { return d.sweepLoop(gctx) })

	// Unblock the receive loops once the group context ends: drain first,
	// then close.
	stop := context.AfterFunc(gctx, func() {
		d.drain()
		d.closeSockets()
	})
	defer stop()

	err := g.Wait()
	d.closeSockets()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// bind creates one socket pair per worker. Any failure closes what was
// already opened and aborts startup.
func (d *Dispatcher) bind() error {
	d.workers = make([]*worker, 0, d.cfg.Workers)
	for i := range d.cfg.Workers {
		client, err := listenReusePort(d.cfg.ListenAddr)
		if err != nil {
			d.closeSockets()
			return fmt.Errorf("%w: %v", ErrBind, err)
		}
		upstream, err := dialUpstream(d.cfg.Upstream)
		if err != nil {
			_ = client.Close()
			d.closeSockets()
			return fmt.Errorf("%w: %v", ErrBind, err)
		}
		d.workers = append(d.workers, &worker{
			id:       i,
			client:   client,
			upstream: upstream,
			sem:      semaphore.NewWeighted(d.cfg.MaxInFlight),
		})
	}
	d.log.Info("dispatcher listening",
		"addr", d.cfg.ListenAddr,
		"upstream", d.cfg.Upstream,
		"workers", d.cfg.Workers,
		"max_in_flight", d.cfg.MaxInFlight,
	)
	return nil
}

// clientLoop receives client datagrams and hands each to its own task
// without waiting for processing.
func (d *Dispatcher) clientLoop(ctx context.Context, w *worker) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: client loop %d: %v", ErrWorkerPanic, w.id, p)
		}
	}()

	for {
		bufPtr := bufferPool.Get()
		n, addr, rerr := w.client.ReadFromUDPAddrPort(*bufPtr)
		if rerr != nil {
			bufferPool.Put(bufPtr)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("client receive on worker %d: %w", w.id, rerr)
		}
		d.counters.Received()

		if !w.sem.TryAcquire(1) {
			// Saturated: drop so the kernel buffer takes the burst.
			bufferPool.Put(bufPtr)
			d.counters.Dropped()
			d.log.Warn("in-flight limit reached; datagram dropped",
				"worker", w.id, "client", addr)
			continue
		}
		go d.handleDatagram(w, bufPtr, n, addr)
	}
}

// handleDatagram decodes, classifies, and either answers locally or
// forwards upstream. Errors stop here.
func (d *Dispatcher) handleDatagram(w *worker, bufPtr *[]byte, n int, client netip.AddrPort) {
	defer w.sem.Release(1)
	defer bufferPool.Put(bufPtr)
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("datagram task panicked", "worker", w.id, "panic", p)
		}
	}()

	raw := (*bufPtr)[:n]
	q, err := dnswire.DecodeQuery(raw)
	if err != nil {
		d.counters.DecodeError()
		d.log.Warn("dropping malformed datagram",
			"kind", dnswire.ErrorKind(err), "client", client, "size", n, "err", err)
		return
	}

	res, err := d.svc.Process(q, raw)
	if err != nil {
		d.counters.Dropped()
		d.log.Warn("query processing failed", "client", client, "qname", q.Name(), "err", err)
		return
	}

	if res.Blocked {
		d.counters.Hit()
		if _, err := w.client.WriteToUDPAddrPort(res.Reply, client); err != nil {
			// No retry: the client will re-ask over UDP.
			d.log.Warn("client send failed", "client", client, "err", err)
		}
		return
	}

	// Miss: reserve the transaction ID, then forward the original bytes.
	if err := d.pend.Insert(res.ID, client, time.Now()); err != nil {
		d.counters.Dropped()
		d.log.Warn("dropping query", "reason", err, "txid", res.ID, "client", client)
		return
	}
	d.counters.Miss()

	if _, err := w.upstream.Write(raw); err != nil {
		// Clear the reservation so a late reply cannot be misdelivered.
		d.pend.Take(res.ID, time.Now())
		d.counters.Dropped()
		d.log.Warn("upstream send failed", "txid", res.ID, "err", err)
	}
}

// upstreamLoop receives resolver replies and relays them, unchanged, to
// the client recorded for the transaction ID. The reply already carries
// the client's TXID and question section; rewriting it would only risk a
// mismatch.
func (d *Dispatcher) upstreamLoop(ctx context.Context, w *worker) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: upstream loop %d: %v", ErrWorkerPanic, w.id, p)
		}
	}()

	buf := make([]byte, dnswire.MaxUDPPayloadSize)
	for {
		n, from, rerr := w.upstream.ReadFromUDPAddrPort(buf)
		if rerr != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("upstream receive on worker %d: %w", w.id, rerr)
		}
		// The connected socket already filters by peer; verify anyway so a
		// rebound socket cannot leak spoofed datagrams into the relay path.
		from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
		if from != d.upstreamAddr {
			d.log.Warn("dropping datagram from unexpected resolver", "from", from)
			continue
		}

		id, perr := dnswire.PeekID(buf[:n])
		if perr != nil {
			continue
		}
		client, ok := d.pend.Take(id, time.Now())
		if !ok {
			// Expired or never ours.
			d.log.Debug("no pending entry for upstream reply", "txid", id)
			continue
		}
		if _, werr := w.client.WriteToUDPAddrPort(buf[:n], client); werr != nil {
			d.log.Warn("relay to client failed", "client", client, "err", werr)
			continue
		}
		d.counters.Relayed()
	}
}

// sweepLoop expires stale pending entries on a fixed cadence.
func (d *Dispatcher) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(pending.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if removed := d.pend.Sweep(now); removed > 0 {
				d.log.Debug("swept expired pending entries", "removed", removed)
			}
		}
	}
}

// drain waits up to the grace window for every in-flight datagram task to
// finish, so replies in progress still reach their clients.
func (d *Dispatcher) drain() {
	deadline, cancel := context.WithTimeout(context.Background(), d.cfg.Grace)
	defer cancel()
	for _, w := range d.workers {
		if err := w.sem.Acquire(deadline, d.cfg.MaxInFlight); err != nil {
			d.log.Warn("shutdown grace expired with tasks in flight", "worker", w.id)
			return
		}
		w.sem.Release(d.cfg.MaxInFlight)
	}
}

func (d *Dispatcher) closeSockets() {
	for _, w := range d.workers {
		if w.client != nil {
			_ = w.client.Close()
		}
		if w.upstream != nil {
			_ = w.upstream.Close()
		}
	}
}
