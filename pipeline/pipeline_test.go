package pipeline

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tbproxy/tbproxy/backend"
	"github.com/tbproxy/tbproxy/policy"
	"github.com/tbproxy/tbproxy/rewrite"
	"github.com/tbproxy/tbproxy/session"
)

type fakeConn struct {
	cols    []string
	rows    [][]any
	lastSQL string
}

func (f *fakeConn) Ping(ctx context.Context) error { return nil }
func (f *fakeConn) Query(ctx context.Context, sqlText string) ([]string, [][]any, error) {
	f.lastSQL = sqlText
	return f.cols, f.rows, nil
}
func (f *fakeConn) Close() error { return nil }

type fakeConnector struct {
	conn *fakeConn
}

func (f *fakeConnector) Open(ctx context.Context) (backend.Conn, error) {
	return f.conn, nil
}

func newTestOrchestrator(t *testing.T, conn *fakeConn) *Orchestrator {
	t.Helper()
	pool := backend.NewPool(backend.Config{PoolSize: 1}, &fakeConnector{conn: conn})
	cfg := policy.Config{
		BlockWrites: true,
		UnsupportedFeatures: map[string]bool{
			"joins": true, "unions": true, "window_functions": true,
		},
		UnsupportedFunctions: []string{"COUNT"},
		RequireDateColumn:    true,
		DateColumns:          []string{"cob_date", "date_index"},
	}
	rewriteCfg := rewrite.Config{UnwrapSubqueries: true, AutoFixGroupBy: true, MaxSubqueryDepth: 2}
	return New(session.New(7), pool, cfg, rewriteCfg, zerolog.Nop())
}

func TestProcessRejectsWriteDML(t *testing.T) {
	orch := newTestOrchestrator(t, &fakeConn{})
	res := orch.Process(context.Background(), 1, "INSERT INTO t VALUES (1)")
	if res.Err == nil {
		t.Fatalf("expected rejection for write DML")
	}
}

func TestProcessRejectsMissingDatePredicate(t *testing.T) {
	orch := newTestOrchestrator(t, &fakeConn{cols: []string{"x"}, rows: [][]any{{1}}})
	res := orch.Process(context.Background(), 1, "SELECT x FROM sales WHERE region = 'us'")
	if res.Err == nil {
		t.Fatalf("expected rejection for missing date predicate")
	}
}

func TestProcessDispatchesDataSelectWithDatePredicate(t *testing.T) {
	conn := &fakeConn{cols: []string{"x"}, rows: [][]any{{42}}}
	orch := newTestOrchestrator(t, conn)
	res := orch.Process(context.Background(), 1, "SELECT x FROM sales WHERE cob_date = '2024-01-15'")
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.Rows) != 1 || res.Rows[0][0] != 42 {
		t.Fatalf("unexpected rows: %v", res.Rows)
	}
}

func TestProcessHandlesUseLocally(t *testing.T) {
	orch := newTestOrchestrator(t, &fakeConn{})
	res := orch.Process(context.Background(), 1, "USE reporting")
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if orch.Session.Database() != "reporting" {
		t.Fatalf("expected database reporting, got %q", orch.Session.Database())
	}
}

func TestProcessEvaluatesStaticSelectLocally(t *testing.T) {
	orch := newTestOrchestrator(t, &fakeConn{})
	res := orch.Process(context.Background(), 1, "SELECT CONNECTION_ID()")
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Rows[0][0] != int64(7) {
		t.Fatalf("expected connection id 7, got %v", res.Rows[0][0])
	}
}

func TestProcessConvertsInfoSchemaSchemata(t *testing.T) {
	conn := &fakeConn{cols: []string{"Database"}, rows: [][]any{{"reporting"}}}
	orch := newTestOrchestrator(t, conn)
	res := orch.Process(context.Background(), 1,
		"SELECT NULL, NULL, NULL, SCHEMA_NAME FROM INFORMATION_SCHEMA.SCHEMATA WHERE SCHEMA_NAME LIKE '%' ORDER BY SCHEMA_NAME")
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if conn.lastSQL != "SHOW DATABASES" {
		t.Fatalf("expected backend call SHOW DATABASES, got %q", conn.lastSQL)
	}

	wantCols := []string{"expr_1", "expr_2", "expr_3", "SCHEMA_NAME"}
	if len(res.Columns) != len(wantCols) {
		t.Fatalf("expected columns %v, got %v", wantCols, res.Columns)
	}
	for i, c := range wantCols {
		if res.Columns[i] != c {
			t.Fatalf("expected columns %v, got %v", wantCols, res.Columns)
		}
	}

	if len(res.Rows) != 1 || len(res.Rows[0]) != 4 {
		t.Fatalf("expected one row padded to width 4, got %v", res.Rows)
	}
	if res.Rows[0][3] != "reporting" {
		t.Fatalf("expected SCHEMA_NAME value 'reporting' at position 4, got %v", res.Rows[0][3])
	}
	for i := 0; i < 3; i++ {
		if res.Rows[0][i] != nil {
			t.Fatalf("expected NULL placeholder at position %d, got %v", i+1, res.Rows[0][i])
		}
	}
}

func TestProcessRejectsUnsupportedJoin(t *testing.T) {
	orch := newTestOrchestrator(t, &fakeConn{cols: []string{"x"}, rows: [][]any{{1}}})
	res := orch.Process(context.Background(), 1, "SELECT a.x FROM a JOIN b ON a.id = b.id WHERE cob_date = '2024-01-01'")
	if res.Err == nil {
		t.Fatalf("expected rejection for JOIN")
	}
}

func TestProcessUnwrapsParenSelect(t *testing.T) {
	conn := &fakeConn{cols: []string{"x"}, rows: [][]any{{1}}}
	orch := newTestOrchestrator(t, conn)
	res := orch.Process(context.Background(), 1, "(SELECT x FROM sales WHERE cob_date = '2024-01-01') LIMIT 5")
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
}
