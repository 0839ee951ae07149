package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbproxy/tbproxy/errs"
)

type fakeConn struct {
	pingErr  error
	queryErr error
	closed   bool
	cols     []string
	rows     [][]any
}

func (f *fakeConn) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeConn) Query(ctx context.Context, sqlText string) ([]string, [][]any, error) {
	if f.queryErr != nil {
		return nil, nil, f.queryErr
	}
	return f.cols, f.rows, nil
}
func (f *fakeConn) Close() error { f.closed = true; return nil }

type fakeConnector struct {
	opens int
	conns []*fakeConn
}

func (f *fakeConnector) Open(ctx context.Context) (Conn, error) {
	f.opens++
	c := &fakeConn{cols: []string{"x"}, rows: [][]any{{int64(1)}}}
	f.conns = append(f.conns, c)
	return c, nil
}

func TestPoolQuerySucceeds(t *testing.T) {
	connector := &fakeConnector{}
	pool := NewPool(Config{PoolSize: 1}, connector)

	cols, rows, err := pool.Query(context.Background(), "SELECT 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cols) != 1 || cols[0] != "x" {
		t.Fatalf("unexpected columns: %v", cols)
	}
	if len(rows) != 1 {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

func TestPoolReusesSlotAcrossQueries(t *testing.T) {
	connector := &fakeConnector{}
	pool := NewPool(Config{PoolSize: 1}, connector)

	if _, _, err := pool.Query(context.Background(), "SELECT 1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := pool.Query(context.Background(), "SELECT 2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if connector.opens != 1 {
		t.Fatalf("expected 1 connection to be opened and reused, got %d opens", connector.opens)
	}
}

func TestPoolDestroysSlotOnPingFailure(t *testing.T) {
	connector := &fakeConnector{}
	pool := NewPool(Config{PoolSize: 1, PrePing: true}, connector)

	if _, _, err := pool.Query(context.Background(), "SELECT 1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	connector.conns[0].pingErr = errors.New("connection reset")

	if _, _, err := pool.Query(context.Background(), "SELECT 2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if connector.opens != 2 {
		t.Fatalf("expected a fresh connection after failed pre-ping, got %d opens", connector.opens)
	}
	if !connector.conns[0].closed {
		t.Fatalf("expected dead slot to be closed")
	}
}

func TestPoolAcquireTimesOut(t *testing.T) {
	connector := &fakeConnector{}
	pool := NewPool(Config{PoolSize: 1}, connector)

	slot, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer pool.Release(slot, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(ctx); err == nil {
		t.Fatalf("expected acquire to time out while the only slot is held")
	} else if e, ok := err.(*errs.Error); !ok || e.Kind != errs.PoolExhausted {
		t.Fatalf("expected PoolExhausted, got %v", err)
	}
}

func TestClassifyQueryErrorRelaysBackendMessage(t *testing.T) {
	err := Classify(errors.New("unknown column 'foo' in 'field list'"))
	if err.Kind != errs.BackendQueryError {
		t.Fatalf("expected QueryError classification, got %v", err.Kind)
	}
	if err.Message != "unknown column 'foo' in 'field list'" {
		t.Fatalf("expected backend message relayed verbatim, got %q", err.Message)
	}
}
