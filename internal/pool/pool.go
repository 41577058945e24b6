// Package pool implements the accept loop and bounded worker pool that
// turn a net.Listener into a stream of parsed requests on a shared queue.
package pool

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/corewire/httpd/internal/httpcore"
	"github.com/corewire/httpd/internal/lifecycle"
	"github.com/corewire/httpd/internal/logx"
	"github.com/corewire/httpd/internal/metrics"
	"github.com/corewire/httpd/internal/queue"
)

// Config is the pool's per-server policy.
type Config struct {
	MaxWorkers       int64 // semaphore ceiling; <= 0 defaults to 64
	IdleTimeout      time.Duration
	IdleReapInterval time.Duration // cond-wait timeout when at capacity; <= 0 defaults to 5s
	TLSConfig        *tls.Config
	Limits           httpcore.ParseLimits
	BodyConfig       httpcore.BodyConfig
	ResponseDefaults httpcore.ResponseDefaults
	Metrics          *metrics.Collectors
	Logger           logx.Logger
}

// Pool runs one accept loop over a listener and dispatches each accepted
// connection to its own goroutine, bounded by a semaphore.
type Pool struct {
	ln       net.Listener
	cfg      Config
	shutdown *lifecycle.ShutdownFlag
	sem      *semaphore.Weighted
	queue    *queue.Queue[*httpcore.Request]

	mu   sync.Mutex
	cond *sync.Cond
	wg   sync.WaitGroup

	errMu   sync.Mutex
	servErr *multierror.Error
}

// New builds a Pool over ln, dispatching parsed requests onto q.
func New(ln net.Listener, cfg Config, q *queue.Queue[*httpcore.Request]) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 64
	}
	if cfg.IdleReapInterval <= 0 {
		cfg.IdleReapInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logx.Nop
	}
	p := &Pool{
		ln:       ln,
		cfg:      cfg,
		shutdown: &lifecycle.ShutdownFlag{},
		sem:      semaphore.NewWeighted(cfg.MaxWorkers),
		queue:    q,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Run is the accept loop. It blocks until Close is called, then returns
// nil; if the listener fails first, it returns the wrapped accept error.
func (p *Pool) Run(ctx context.Context) error {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			if p.shutdown.IsSet() {
				return nil
			}
			return errors.Wrap(err, "pool: accept loop")
		}
		if p.shutdown.IsSet() {
			conn.Close()
			return nil
		}

		if !p.sem.TryAcquire(1) {
			if !p.waitForSlot() {
				conn.Close()
				continue
			}
		}

		p.wg.Add(1)
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.ConnectionOpened()
		}

		go func() {
			defer p.wg.Done()
			defer p.releaseWorker()
			if p.cfg.Metrics != nil {
				defer p.cfg.Metrics.ConnectionClosed()
			}
			p.serve(ctx, conn)
		}()
	}
}

// waitForSlot blocks on the idle-worker condition variable, re-armed with
// a timer on every iteration so a capacity wait with nothing to wake it
// still gives up after IdleReapInterval rather than hanging forever.
func (p *Pool) waitForSlot() bool {
	deadline := time.Now().Add(p.cfg.IdleReapInterval)

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.sem.TryAcquire(1) {
			return true
		}
		if p.shutdown.IsSet() {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		timer := time.AfterFunc(remaining, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		p.cond.Wait()
		timer.Stop()
	}
}

// releaseWorker returns one slot to the semaphore and wakes any accept
// loop iteration parked in waitForSlot.
func (p *Pool) releaseWorker() {
	p.sem.Release(1)
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// serve performs the TLS handshake (if configured) and runs a connection
// driver until the connection ends.
func (p *Pool) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	log := p.cfg.Logger.With(logx.F("conn_id", connID), logx.F("remote", conn.RemoteAddr().String()))
	log.Debug("connection accepted")
	defer log.Debug("connection closed")

	var dc httpcore.DeadlineConn = conn
	if p.cfg.TLSConfig != nil {
		tconn := tls.Server(conn, p.cfg.TLSConfig)
		if err := tconn.HandshakeContext(ctx); err != nil {
			wrapped := errors.Wrapf(err, "pool: tls handshake for conn %s", connID)
			log.Warn("tls handshake failed", logx.F("err", err.Error()))
			p.errMu.Lock()
			p.servErr = multierror.Append(p.servErr, wrapped)
			p.errMu.Unlock()
			return
		}
		dc = tconn
	}

	d := httpcore.NewDriver(dc, p.shutdown, httpcore.DriverConfig{
		Limits:           p.cfg.Limits,
		BodyConfig:       p.cfg.BodyConfig,
		ResponseDefaults: p.cfg.ResponseDefaults,
		IdleTimeout:      p.cfg.IdleTimeout,
		Metrics:          p.cfg.Metrics,
	})
	d.Run(ctx, p.queue)
}

// Close requests shutdown: the shutdown flag stops new dispatch and lets
// in-flight drivers terminate at their next iteration, a loopback dial
// unblocks a listener whose Accept doesn't react to Close fast enough on
// its own, and Close then waits for every in-flight connection goroutine
// to return.
func (p *Pool) Close() error {
	p.shutdown.Set()
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()

	if addr, ok := p.ln.Addr().(*net.TCPAddr); ok {
		if c, err := net.DialTimeout("tcp", addr.String(), 200*time.Millisecond); err == nil {
			c.Close()
		}
	}

	lnErr := p.ln.Close()
	p.wg.Wait()

	p.errMu.Lock()
	agg := multierror.Append(p.servErr, lnErr)
	p.errMu.Unlock()
	return agg.ErrorOrNil()
}
