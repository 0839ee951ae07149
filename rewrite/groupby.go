package rewrite

import (
	"strings"

	"github.com/tbproxy/tbproxy/ast"
	"vitess.io/vitess/go/vt/sqlparser"
)

// CompleteGroupBy implements the GROUP BY completer: when the
// projection mixes non-aggregated and aggregated expressions, every
// non-aggregated expression not already present in GROUP BY is
// appended, existing items first, then new items in projection order.
// It is a no-op (ok=false) when the projection has no aggregate at all,
// or when every non-aggregated expression is already covered.
func CompleteGroupBy(stmt *ast.Statement) (*ast.Statement, bool) {
	sel, ok := stmt.Node().(*sqlparser.Select)
	if !ok {
		return stmt, false
	}
	if !hasAggregate(sel.SelectExprs) {
		return stmt, false
	}

	existing := make(map[string]bool)
	for _, e := range sel.GroupBy {
		existing[sqlparser.String(e)] = true
	}

	var toAppend []sqlparser.Expr
	for _, se := range sel.SelectExprs {
		aliased, ok := se.(*sqlparser.AliasedExpr)
		if !ok {
			continue
		}
		if isAggregateCall(aliased.Expr) {
			continue
		}
		key := sqlparser.String(aliased.Expr)
		if existing[key] {
			continue
		}
		existing[key] = true
		toAppend = append(toAppend, aliased.Expr)
	}

	if len(toAppend) == 0 {
		return stmt, false
	}

	completed := sqlparser.CloneStatement(sel).(*sqlparser.Select)
	completed.GroupBy = append(append(sqlparser.GroupBy{}, sel.GroupBy...), toAppend...)

	return ast.WrapNode(completed), true
}

func hasAggregate(exprs sqlparser.SelectExprs) bool {
	for _, se := range exprs {
		if aliased, ok := se.(*sqlparser.AliasedExpr); ok && isAggregateCall(aliased.Expr) {
			return true
		}
	}
	return false
}

var groupByAggregateFuncs = map[string]bool{
	"sum": true, "avg": true, "min": true, "max": true, "count": true,
}

func isAggregateCall(e sqlparser.Expr) bool {
	fn, ok := e.(*sqlparser.FuncExpr)
	if !ok {
		return false
	}
	return groupByAggregateFuncs[strings.ToLower(fn.Name.String())]
}
