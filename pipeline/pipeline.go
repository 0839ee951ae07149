// Package pipeline is the single entry point the wire codec calls per
// COM_QUERY: it drives a statement through the orchestrator's state
// machine (received -> classified -> rewritten -> gated -> dispatched
// -> adapted -> replied), owning the per-connection Session and the
// Backend pool loan for the call.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbproxy/tbproxy/ast"
	"github.com/tbproxy/tbproxy/backend"
	"github.com/tbproxy/tbproxy/classify"
	"github.com/tbproxy/tbproxy/errs"
	"github.com/tbproxy/tbproxy/metrics"
	"github.com/tbproxy/tbproxy/policy"
	"github.com/tbproxy/tbproxy/resultset"
	"github.com/tbproxy/tbproxy/rewrite"
	"github.com/tbproxy/tbproxy/session"
	"github.com/tbproxy/tbproxy/synth"
)

// maxRewriteIterations bounds the classified/rewritten loop against
// oscillation; the fixed point is normally reached in one or two
// passes.
const maxRewriteIterations = 4

// Result is what the wire codec encodes back to the client: either
// (Columns, Rows) or Err, never both.
type Result struct {
	Columns []string
	Rows    [][]any
	Err     *errs.Error
}

// Orchestrator drives one client connection's statements through the
// pipeline. It owns the connection's Session exclusively; no method on
// it is safe to call from more than one goroutine at a time.
type Orchestrator struct {
	Session         *session.Session
	Pool            *backend.Pool
	Policy          policy.Config
	Transformations rewrite.Config
	Log             zerolog.Logger
}

// New builds an Orchestrator for one freshly accepted connection.
func New(sess *session.Session, pool *backend.Pool, policyCfg policy.Config, rewriteCfg rewrite.Config, logger zerolog.Logger) *Orchestrator {
	if rewriteCfg.MaxSubqueryDepth <= 0 {
		rewriteCfg.MaxSubqueryDepth = rewrite.DefaultMaxSubqueryDepth
	}
	return &Orchestrator{Session: sess, Pool: pool, Policy: policyCfg, Transformations: rewriteCfg, Log: logger}
}

// Process runs one statement through the full pipeline and returns the
// reply to encode. It never panics on a malformed statement; every
// failure mode is carried back in Result.Err.
func (o *Orchestrator) Process(ctx context.Context, statementID uint64, sql string) Result {
	log := o.Log.With().Uint64("statement_id", statementID).Logger()
	log.Debug().Str("state", "received").Str("sql", sql).Msg("statement received")

	text := sql
	var preRewriteStmt *ast.Statement
	var lastStmt *ast.Statement

	for i := 0; i < maxRewriteIterations; i++ {
		stmt, parseErr := ast.Parse(text)
		if parseErr == nil {
			lastStmt = stmt
			if preRewriteStmt == nil {
				preRewriteStmt = stmt
			}
		}

		kind, fate := classify.Classify(text, stmt)
		log.Debug().Str("state", "classified").Str("kind", kind.String()).Int("iteration", i).Msg("statement classified")
		if i == 0 {
			metrics.StatementsClassified.WithLabelValues(kind.String()).Inc()
		}

		switch fate.Kind {
		case classify.Reject:
			log.Info().Str("state", "gated").Str("reason", fate.Err.Kind.String()).Msg("statement rejected")
			return Result{Err: fate.Err}

		case classify.EmptyOk:
			return Result{Columns: []string{}, Rows: [][]any{}}

		case classify.Synthesize:
			return o.synthesize(ctx, kind, text, stmt, log)

		case classify.PassThrough:
			return o.gateAndDispatch(ctx, text, preRewriteStmt, stmt, log)

		case classify.RewriteAndPass:
			newText, record, changed := o.rewriteOnce(kind, text, stmt)
			if !changed {
				return o.gateAndDispatch(ctx, text, preRewriteStmt, stmt, log)
			}
			log.Debug().Str("state", "rewritten").Str("kind", record.Kind.String()).Msg("statement rewritten")
			metrics.RewritesApplied.WithLabelValues(record.Kind.String()).Inc()
			text = newText
			continue
		}
	}

	// Fixed-point bound exceeded: dispatch whatever we last settled on
	// rather than looping forever.
	return o.gateAndDispatch(ctx, text, preRewriteStmt, lastStmt, log)
}

func (o *Orchestrator) rewriteOnce(kind classify.StatementKind, text string, stmt *ast.Statement) (string, rewrite.Record, bool) {
	if kind == classify.ParenSelect {
		if newText, ok := rewrite.UnwrapParen(text); ok {
			return newText, rewrite.Record{Kind: rewrite.ParenUnwrap, Before: text, After: newText}, true
		}
		return text, rewrite.Record{}, false
	}

	if stmt == nil {
		return text, rewrite.Record{}, false
	}

	if o.Transformations.UnwrapSubqueries {
		if newStmt, ok := rewrite.UnwrapTableauWrapper(stmt); ok {
			newText := newStmt.String()
			return newText, rewrite.Record{Kind: rewrite.WrapperUnwrap, Before: text, After: newText}, true
		}
		if newStmt, ok := rewrite.Flatten(stmt, o.Transformations.MaxSubqueryDepth); ok {
			newText := newStmt.String()
			return newText, rewrite.Record{Kind: rewrite.SubqueryFlatten, Before: text, After: newText}, true
		}
	}
	if o.Transformations.AutoFixGroupBy {
		if newStmt, ok := rewrite.CompleteGroupBy(stmt); ok {
			newText := newStmt.String()
			return newText, rewrite.Record{Kind: rewrite.GroupByComplete, Before: text, After: newText}, true
		}
	}
	return text, rewrite.Record{}, false
}

func (o *Orchestrator) synthesize(ctx context.Context, kind classify.StatementKind, text string, stmt *ast.Statement, log zerolog.Logger) Result {
	switch kind {
	case classify.DDLMeta:
		if res, ok := synth.HandleSessionStatement(text, o.Session); ok {
			return Result{Columns: res.Columns, Rows: res.Rows}
		}
		return Result{Columns: []string{}, Rows: [][]any{}}

	case classify.StaticSelect:
		res, err := synth.EvaluateStaticSelect(stmt, o.Session)
		if err != nil {
			return Result{Err: err}
		}
		return Result{Columns: res.Columns, Rows: res.Rows}

	case classify.InfoSchemaSelect:
		showSQL, emptyOk := synth.ConvertInfoSchema(stmt)
		if emptyOk {
			return Result{Columns: []string{}, Rows: [][]any{}}
		}
		return o.dispatchInfoSchema(ctx, showSQL, stmt, log)

	default:
		return Result{Columns: []string{}, Rows: [][]any{}}
	}
}

func (o *Orchestrator) gateAndDispatch(ctx context.Context, text string, preRewriteStmt, finalStmt *ast.Statement, log zerolog.Logger) Result {
	if err := policy.CheckWriteBlocker(o.Policy, text); err != nil {
		log.Info().Str("state", "gated").Str("reason", "write_blocked").Msg("statement rejected")
		metrics.GateRejections.WithLabelValues("write_blocked").Inc()
		return Result{Err: err}
	}
	if preRewriteStmt != nil {
		if err := policy.CheckUnsupported(o.Policy, preRewriteStmt); err != nil {
			log.Info().Str("state", "gated").Str("reason", "unsupported_feature").Msg("statement rejected")
			metrics.GateRejections.WithLabelValues("unsupported_feature").Inc()
			return Result{Err: err}
		}
	}
	if finalStmt != nil && finalStmt.Kind() == ast.KindSelect {
		if err := policy.CheckDateGate(o.Policy, finalStmt); err != nil {
			log.Info().Str("state", "gated").Str("reason", "missing_date_predicate").Msg("statement rejected")
			metrics.GateRejections.WithLabelValues("missing_date_predicate").Inc()
			return Result{Err: err}
		}
	}
	return o.dispatch(ctx, text, log)
}

// dispatchInfoSchema runs showSQL against the backend and reprojects
// its rows onto origStmt's original client-facing projection list
// (e.g. `SELECT NULL, NULL, NULL, SCHEMA_NAME FROM information_schema.schemata`
// converted to `SHOW DATABASES`), so the client sees its own column
// shape rather than the backend's SHOW output.
func (o *Orchestrator) dispatchInfoSchema(ctx context.Context, showSQL string, origStmt *ast.Statement, log zerolog.Logger) Result {
	log.Debug().Str("state", "dispatched").Str("sql", showSQL).Msg("dispatching to backend")
	start := time.Now()
	cols, rows, err := o.Pool.Query(ctx, showSQL)
	if err != nil {
		metrics.BackendCallSeconds.WithLabelValues(err.Kind.String()).Observe(time.Since(start).Seconds())
		log.Warn().Str("state", "dispatched").Str("error_kind", err.Kind.String()).Msg("backend call failed")
		return Result{Err: err}
	}
	metrics.BackendCallSeconds.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	clientCols := synth.ProjectedColumns(origStmt)
	if clientCols == nil {
		adapted, warnings := resultset.Adapt(cols, rows)
		for _, w := range warnings {
			log.Debug().Str("state", "adapted").Str("reason", w.Reason).Str("detail", w.Detail).Msg("result adjusted")
		}
		return Result{Columns: adapted.Columns, Rows: adapted.Rows}
	}

	reprojected := synth.ReprojectRows(origStmt, rows)
	adapted, warnings := resultset.Adapt(clientCols, reprojected)
	for _, w := range warnings {
		log.Debug().Str("state", "adapted").Str("reason", w.Reason).Str("detail", w.Detail).Msg("result adjusted")
	}
	log.Debug().Str("state", "replied").Int("rows", len(adapted.Rows)).Msg("statement replied")
	return Result{Columns: adapted.Columns, Rows: adapted.Rows}
}

func (o *Orchestrator) dispatch(ctx context.Context, text string, log zerolog.Logger) Result {
	log.Debug().Str("state", "dispatched").Str("sql", text).Msg("dispatching to backend")
	start := time.Now()
	cols, rows, err := o.Pool.Query(ctx, text)
	if err != nil {
		metrics.BackendCallSeconds.WithLabelValues(err.Kind.String()).Observe(time.Since(start).Seconds())
		log.Warn().Str("state", "dispatched").Str("error_kind", err.Kind.String()).Msg("backend call failed")
		return Result{Err: err}
	}
	metrics.BackendCallSeconds.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	adapted, warnings := resultset.Adapt(cols, rows)
	for _, w := range warnings {
		log.Debug().Str("state", "adapted").Str("reason", w.Reason).Str("detail", w.Detail).Msg("result adjusted")
	}
	log.Debug().Str("state", "replied").Int("rows", len(adapted.Rows)).Msg("statement replied")
	return Result{Columns: adapted.Columns, Rows: adapted.Rows}
}
