// Package backend implements the bounded connection pool the
// orchestrator dispatches final statement text through: a fixed set
// of BackendSlots, FIFO acquire with a per-statement deadline, a
// pre-ping health probe, and error classification into
// Transient/QueryError, with a query deadline reported as PoolExhausted.
// No backend error is classified Fatal.
package backend

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/tbproxy/tbproxy/errs"
	"github.com/tbproxy/tbproxy/metrics"
)

// Connector opens and probes a single backend connection. The default
// implementation wraps database/sql plus the MySQL driver; tests
// substitute a fake.
type Connector interface {
	Open(ctx context.Context) (Conn, error)
}

// Conn is one live backend connection.
type Conn interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string) (columns []string, rows [][]any, err error)
	Close() error
}

// Slot is a handle on an open backend connection: creation time,
// last-used time, in-use flag, liveness bit. Owned exclusively by the
// Pool; lent to the orchestrator for one backend round-trip at a time.
type Slot struct {
	conn      Conn
	createdAt time.Time
	lastUsed  time.Time
	live      bool
}

// Config carries the subset of the configuration surface the pool
// consults.
type Config struct {
	PoolSize    int
	Timeout     time.Duration
	PrePing     bool
	PoolRecycle time.Duration
}

// Pool is a bounded set of Slots: at most PoolSize slots exist, at
// most one orchestrator holds a given slot at a time, and a slot
// marked non-live is destroyed and replaced before reuse.
type Pool struct {
	cfg       Config
	connector Connector

	mu    sync.Mutex
	slots []*Slot
	sem   chan struct{}
}

// NewPool builds a pool of the configured capacity, backed by
// connector. Slots are opened lazily on first acquire.
func NewPool(cfg Config, connector Connector) *Pool {
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	return &Pool{
		cfg:       cfg,
		connector: connector,
		sem:       make(chan struct{}, cfg.PoolSize),
	}
}

// Acquire waits, FIFO, for a free slot or ctx's deadline, whichever
// comes first. It pre-pings and replaces a dead slot before handing it
// back.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	waitStart := time.Now()
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, errs.New(errs.PoolExhausted, "timed out waiting for a backend connection slot")
	}
	metrics.PoolWaitSeconds.Observe(time.Since(waitStart).Seconds())

	slot, err := p.takeOrOpen(ctx)
	if err != nil {
		<-p.sem // undo acquisition
		return nil, err
	}
	return slot, nil
}

func (p *Pool) takeOrOpen(ctx context.Context) (*Slot, error) {
	p.mu.Lock()
	var slot *Slot
	if n := len(p.slots); n > 0 {
		slot = p.slots[n-1]
		p.slots = p.slots[:n-1]
	}
	p.mu.Unlock()

	if slot != nil && p.shouldRecycle(slot) {
		_ = slot.conn.Close()
		slot = nil
	}

	if slot != nil && p.cfg.PrePing {
		if err := slot.conn.Ping(ctx); err != nil {
			_ = slot.conn.Close()
			slot = nil
		}
	}

	if slot == nil {
		conn, err := p.connector.Open(ctx)
		if err != nil {
			return nil, errs.Newf(errs.BackendTransient, "cannot open backend connection: %v", err)
		}
		slot = &Slot{conn: conn, createdAt: time.Now(), live: true}
	}

	slot.lastUsed = time.Now()
	return slot, nil
}

func (p *Pool) shouldRecycle(slot *Slot) bool {
	if p.cfg.PoolRecycle <= 0 {
		return false
	}
	return time.Since(slot.createdAt) >= p.cfg.PoolRecycle
}

// Release returns slot to the pool if it is still live, or destroys it
// otherwise. Callers must release every acquired slot exactly once.
func (p *Pool) Release(slot *Slot, live bool) {
	defer func() { <-p.sem }()

	if !live {
		slot.live = false
		_ = slot.conn.Close()
		return
	}

	p.mu.Lock()
	p.slots = append(p.slots, slot)
	p.mu.Unlock()
}

// Query runs sql on a freshly acquired slot, classifying any error. A
// slot whose query failed with anything other than a QueryError is
// destroyed instead of returned to the pool.
func (p *Pool) Query(ctx context.Context, sqlText string) (columns []string, rows [][]any, err *errs.Error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	slot, acquireErr := p.Acquire(ctx)
	if acquireErr != nil {
		if e, ok := acquireErr.(*errs.Error); ok {
			return nil, nil, e
		}
		return nil, nil, errs.New(errs.PoolExhausted, acquireErr.Error())
	}

	cols, rs, qerr := slot.conn.Query(ctx, sqlText)
	if qerr != nil {
		classified := Classify(qerr)
		p.Release(slot, classified.Kind == errs.BackendQueryError)
		return nil, nil, classified
	}

	p.Release(slot, true)
	return cols, rs, nil
}

// Classify maps a raw backend error into the proxy's error taxonomy.
// MySQL errors 1053, 2013, 2006 and 2003 and database/sql's
// ErrConnDone/ErrTxDone become Transient; context.DeadlineExceeded
// becomes PoolExhausted. Any other error, including a network error
// that carries no MySQL error number, is relayed verbatim as
// QueryError. Nothing is classified Fatal.
func Classify(err error) *errs.Error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded {
		return errs.New(errs.PoolExhausted, "backend call timed out")
	}
	if mysqlErr, ok := asMySQLError(err); ok {
		switch mysqlErr.Number {
		case 1053, 2013, 2006, 2003:
			return errs.Newf(errs.BackendTransient, "backend connection lost: %v", err)
		default:
			return errs.Newf(errs.BackendQueryError, "%v", err)
		}
	}
	if err == sql.ErrConnDone || err == sql.ErrTxDone {
		return errs.Newf(errs.BackendTransient, "backend connection lost: %v", err)
	}
	return errs.Newf(errs.BackendQueryError, "%v", err)
}
