// Package policy implements the gates that run after rewrites: the
// write blocker, unsupported-feature rejection, and the mandatory
// date-predicate gate. Every gate either passes a statement through
// unchanged or returns an *errs.Error; none of them mutate the
// statement.
package policy

import (
	"regexp"
	"strings"

	"github.com/tbproxy/tbproxy/ast"
	"github.com/tbproxy/tbproxy/errs"
)

// Config carries the subset of the configuration surface the gates
// consult.
type Config struct {
	BlockWrites          bool
	UnsupportedFeatures  map[string]bool // joins, unions, window_functions, count_function
	UnsupportedFunctions []string
	RequireDateColumn    bool
	DateColumns          []string
}

var writeKeywordPattern = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|REPLACE|TRUNCATE|DROP|CREATE|ALTER|GRANT|REVOKE|RENAME)\b`)

// CheckWriteBlocker scans the statement kind's raw text as a safety net
// beyond the classifier's own write-verb check: any write keyword
// appearing word-boundary matched anywhere in the text is rejected.
func CheckWriteBlocker(cfg Config, rawText string) *errs.Error {
	if !cfg.BlockWrites {
		return nil
	}
	if m := writeKeywordPattern.FindString(rawText); m != "" {
		return errs.New(errs.WriteBlocked, "writes are blocked by this proxy: "+strings.ToUpper(m))
	}
	return nil
}

// CheckUnsupported rejects statements using JOIN, UNION, window
// functions, or a denylisted function, according to which features the
// configuration marks unsupported. It runs on the pre-rewrite AST, so
// BI-tool wrapper shapes that rewrite would otherwise strip never see
// this check fire on the wrapper itself.
func CheckUnsupported(cfg Config, stmt *ast.Statement) *errs.Error {
	if cfg.UnsupportedFeatures["joins"] && stmt.HasJoin() {
		return errs.New(errs.UnsupportedFeature,
			"JOINs are not supported by the backend; denormalize the source data or use Tableau data blending instead")
	}
	if cfg.UnsupportedFeatures["unions"] && stmt.HasUnion() {
		return errs.New(errs.UnsupportedFeature,
			"UNION is not supported by the backend; issue separate queries and combine results in Tableau")
	}
	if cfg.UnsupportedFeatures["window_functions"] {
		if funcs := stmt.WindowFunctions(); len(funcs) > 0 {
			return errs.Newf(errs.UnsupportedFeature,
				"window functions are not supported by the backend (found %s); use Tableau table calculations instead",
				strings.Join(funcs, ", "))
		}
	}
	if cfg.UnsupportedFeatures["case_statements"] && stmt.HasCaseExpression() {
		return errs.New(errs.UnsupportedFeature,
			"CASE expressions are not supported by the backend; use Tableau calculated fields instead")
	}
	if cfg.UnsupportedFeatures["count_function"] {
		for _, f := range stmt.FunctionsUsed() {
			if strings.EqualFold(f, "COUNT") {
				return errs.New(errs.UnsupportedFeature,
					"COUNT is not supported by the backend; use SUM(1) instead")
			}
		}
	}
	if len(cfg.UnsupportedFunctions) > 0 {
		denylist := make(map[string]bool, len(cfg.UnsupportedFunctions))
		for _, f := range cfg.UnsupportedFunctions {
			denylist[ast.NormalizeIdent(f)] = true
		}
		for _, f := range stmt.FunctionsUsed() {
			if denylist[ast.NormalizeIdent(f)] {
				if strings.EqualFold(f, "COUNT") {
					return errs.New(errs.UnsupportedFeature,
						"COUNT is not supported by the backend; use SUM(1) instead")
				}
				return errs.Newf(errs.UnsupportedFeature, "function %s is not supported by the backend", f)
			}
		}
	}
	return nil
}

// CheckDateGate enforces the mandatory date-predicate gate on the
// outermost SELECT of a DataSelect statement: the WHERE clause must
// mention at least one of the configured date columns, OR-composed.
// It runs on the post-rewrite AST, since the rewrite pipeline may have
// introduced the qualifying predicate (subquery flattening merges an
// inner WHERE the outer statement never carried).
func CheckDateGate(cfg Config, stmt *ast.Statement) *errs.Error {
	if !cfg.RequireDateColumn {
		return nil
	}
	columns := cfg.DateColumns
	if len(columns) == 0 {
		columns = []string{"cob_date", "date_index"}
	}
	for _, col := range columns {
		if stmt.WhereMentions(col) {
			return nil
		}
	}
	return errs.Newf(errs.MissingDatePredicate,
		"query must filter on one of: %s (e.g. WHERE %s = '2024-01-15')",
		strings.Join(columns, ", "), columns[0])
}
