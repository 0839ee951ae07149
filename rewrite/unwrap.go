// Package rewrite implements the statement transforms that run between
// classification and policy gating: stripping Tableau's schema-discovery
// wrappers, flattening derived-table subqueries, and completing GROUP BY
// clauses for mixed aggregate/non-aggregate projections. Every transform
// here either produces a rewritten statement or declines and leaves the
// input untouched — none of them raise a user-visible error.
package rewrite

import (
	"regexp"
	"strings"

	"github.com/tbproxy/tbproxy/ast"
	"vitess.io/vitess/go/vt/sqlparser"
)

var parenSelectUnwrapPattern = regexp.MustCompile(`(?is)^\(\s*(SELECT\b.*)\)\s*(LIMIT\s+\d+)?\s*$`)

// UnwrapParen implements the text-level ParenSelect unwrap: `(SELECT
// ...)  [LIMIT n]` becomes `SELECT ... [LIMIT n]`. The parser library
// preserves outer parentheses on round-trip and the backend rejects the
// parenthesized form, so this runs before the statement is ever parsed
// for this purpose.
func UnwrapParen(sql string) (string, bool) {
	normalized := strings.Join(strings.Fields(sql), " ")
	m := parenSelectUnwrapPattern.FindStringSubmatch(normalized)
	if m == nil {
		return sql, false
	}
	inner := strings.TrimSpace(m[1])
	limit := strings.TrimSpace(m[2])
	if limit == "" {
		return inner, true
	}
	return inner + " " + limit, true
}

// UnwrapTableauWrapper implements the AST-level Tableau custom-SQL
// unwrap: `SELECT <star-or-alias-projection> FROM (<inner-select>)
// <alias> [LIMIT n]`, with no outer WHERE/GROUP BY/HAVING/ORDER BY,
// collapses to the inner SELECT (LIMIT carried over if the outer one
// had it and the inner did not already have a tighter one). It declines
// (returns ok=false) for anything else, including when the outer
// projection references columns that don't resolve to the subquery's
// alias.
func UnwrapTableauWrapper(stmt *ast.Statement) (*ast.Statement, bool) {
	sel, ok := stmt.Node().(*sqlparser.Select)
	if !ok {
		return stmt, false
	}
	if sel.Where != nil || len(sel.GroupBy) > 0 || sel.Having != nil || len(sel.OrderBy) > 0 {
		return stmt, false
	}
	if len(sel.From) != 1 {
		return stmt, false
	}
	ate, ok := sel.From[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return stmt, false
	}
	subquery, ok := ate.Expr.(*sqlparser.Subquery)
	if !ok {
		return stmt, false
	}
	inner, ok := subquery.Select.(*sqlparser.Select)
	if !ok {
		return stmt, false
	}

	isStar := len(sel.SelectExprs) == 1
	if isStar {
		if _, ok := sel.SelectExprs[0].(*sqlparser.StarExpr); !ok {
			isStar = false
		}
	}

	if !isStar && !projectionResolvesToAlias(sel.SelectExprs, ate.As.String()) {
		return stmt, false
	}

	unwrapped := sqlparser.CloneStatement(inner).(*sqlparser.Select)

	if sel.Limit != nil {
		unwrapped.Limit = minLimit(unwrapped.Limit, sel.Limit)
	}

	return ast.WrapNode(unwrapped), true
}

// projectionResolvesToAlias reports whether every column reference in
// exprs is either unqualified or qualified by alias — the lenient bias
// toward unwrapping also used when the projection is not a bare star.
func projectionResolvesToAlias(exprs sqlparser.SelectExprs, alias string) bool {
	ok := true
	for _, se := range exprs {
		aliased, isAliased := se.(*sqlparser.AliasedExpr)
		if !isAliased {
			continue
		}
		_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
			col, isCol := node.(*sqlparser.ColName)
			if !isCol {
				return true, nil
			}
			if q := col.Qualifier.Name.String(); q != "" && !strings.EqualFold(q, alias) {
				ok = false
			}
			return true, nil
		}, aliased.Expr)
	}
	return ok
}
