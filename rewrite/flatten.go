package rewrite

import (
	"strconv"
	"strings"

	"github.com/tbproxy/tbproxy/ast"
	"vitess.io/vitess/go/vt/sqlparser"
)

// Flatten collapses `SELECT p FROM (SELECT q FROM T WHERE Wi [GROUP BY
// Gi]) a WHERE Wo [GROUP BY Go]` into a single `SELECT p' FROM T WHERE
// Wi AND Wo' [GROUP BY G']`. It declines (returns the input unchanged,
// ok=false) when: the FROM clause isn't exactly one aliased subquery,
// HAVING is present on either side, an outer `a.x` reference doesn't
// resolve against the inner projection, or the flattened depth would
// exceed maxDepth.
func Flatten(stmt *ast.Statement, maxDepth int) (*ast.Statement, bool) {
	sel, ok := stmt.Node().(*sqlparser.Select)
	if !ok || sel.Having != nil {
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
	if !ok || inner.Having != nil {
		return stmt, false
	}
	alias := ate.As.String()
	if alias == "" {
		return stmt, false
	}

	aliasMap, hasStar := buildAliasMap(inner)

	translate := func(node sqlparser.SQLNode) (sqlparser.SQLNode, bool) {
		return translateAliasColumns(node, alias, aliasMap, hasStar)
	}

	translatedProjection, ok := translateProjection(sel.SelectExprs, translate)
	if !ok {
		return stmt, false
	}

	var mergedWhere *sqlparser.Where
	if sel.Where != nil {
		translatedOuterWhere, ok := translate(sel.Where.Expr)
		if !ok {
			return stmt, false
		}
		outerExpr := translatedOuterWhere.(sqlparser.Expr)
		if inner.Where != nil {
			mergedWhere = &sqlparser.Where{
				Type: sqlparser.WhereClause,
				Expr: &sqlparser.AndExpr{Left: inner.Where.Expr, Right: outerExpr},
			}
		} else {
			mergedWhere = &sqlparser.Where{Type: sqlparser.WhereClause, Expr: outerExpr}
		}
	} else {
		mergedWhere = inner.Where
	}

	var groupBy sqlparser.GroupBy
	if len(sel.GroupBy) > 0 {
		translatedGroupBy, ok := translateGroupBy(sel.GroupBy, translate)
		if !ok {
			return stmt, false
		}
		groupBy = translatedGroupBy
	} else {
		groupBy = inner.GroupBy
	}

	flattened := sqlparser.CloneStatement(inner).(*sqlparser.Select)
	flattened.SelectExprs = translatedProjection
	flattened.Where = mergedWhere
	flattened.GroupBy = groupBy
	if sel.OrderBy != nil {
		flattened.OrderBy = sel.OrderBy
	}
	if sel.Limit != nil {
		flattened.Limit = minLimit(inner.Limit, sel.Limit)
	}

	if subqueryDepth(flattened) > maxDepth {
		return stmt, false
	}

	return ast.WrapNode(flattened), true
}

// minLimit picks the tighter of an inner and outer LIMIT clause: when
// both carry a plain integer rowcount, the result keeps outer's offset
// with the smaller of the two rowcounts; otherwise outer is adopted
// wholesale (a non-literal rowcount this can't safely compare also
// falls back to outer).
func minLimit(inner, outer *sqlparser.Limit) *sqlparser.Limit {
	if inner == nil {
		return outer
	}
	innerN, ok := limitRowcount(inner)
	if !ok {
		return outer
	}
	outerN, ok := limitRowcount(outer)
	if !ok {
		return outer
	}
	if innerN >= outerN {
		return outer
	}
	return &sqlparser.Limit{Offset: outer.Offset, Rowcount: inner.Rowcount}
}

func limitRowcount(l *sqlparser.Limit) (int64, bool) {
	if l == nil || l.Rowcount == nil {
		return 0, false
	}
	lit, ok := l.Rowcount.(*sqlparser.Literal)
	if !ok || lit.Type != sqlparser.IntVal {
		return 0, false
	}
	n, err := strconv.ParseInt(lit.Val, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func buildAliasMap(inner *sqlparser.Select) (map[string]sqlparser.Expr, bool) {
	m := make(map[string]sqlparser.Expr)
	for _, se := range inner.SelectExprs {
		switch e := se.(type) {
		case *sqlparser.StarExpr:
			return m, true
		case *sqlparser.AliasedExpr:
			key := e.As.String()
			if key == "" {
				if col, ok := e.Expr.(*sqlparser.ColName); ok {
					key = col.Name.String()
				}
			}
			if key != "" {
				m[strings.ToLower(key)] = e.Expr
			}
		}
	}
	return m, false
}

// translateAliasColumns rewrites every `alias.col` reference in node
// into the corresponding inner-select expression, returning ok=false if
// any such reference fails to resolve.
func translateAliasColumns(node sqlparser.SQLNode, alias string, aliasMap map[string]sqlparser.Expr, hasStar bool) (sqlparser.SQLNode, bool) {
	cloned := sqlparser.CloneSQLNode(node)
	resolved := true
	sqlparser.Rewrite(cloned, func(cursor *sqlparser.Cursor) bool {
		col, ok := cursor.Node().(*sqlparser.ColName)
		if !ok {
			return true
		}
		q := col.Qualifier.Name.String()
		if q == "" || !strings.EqualFold(q, alias) {
			return true
		}
		if hasStar {
			cursor.Replace(&sqlparser.ColName{Name: col.Name})
			return true
		}
		expr, found := aliasMap[strings.ToLower(col.Name.String())]
		if !found {
			resolved = false
			return true
		}
		cursor.Replace(sqlparser.CloneExpr(expr))
		return true
	}, nil)
	return cloned, resolved
}

func translateProjection(exprs sqlparser.SelectExprs, translate func(sqlparser.SQLNode) (sqlparser.SQLNode, bool)) (sqlparser.SelectExprs, bool) {
	out := make(sqlparser.SelectExprs, 0, len(exprs))
	for _, se := range exprs {
		aliased, ok := se.(*sqlparser.AliasedExpr)
		if !ok {
			out = append(out, se)
			continue
		}
		translated, ok := translate(aliased.Expr)
		if !ok {
			return nil, false
		}
		out = append(out, &sqlparser.AliasedExpr{Expr: translated.(sqlparser.Expr), As: aliased.As})
	}
	return out, true
}

func translateGroupBy(exprs sqlparser.GroupBy, translate func(sqlparser.SQLNode) (sqlparser.SQLNode, bool)) (sqlparser.GroupBy, bool) {
	out := make(sqlparser.GroupBy, 0, len(exprs))
	for _, e := range exprs {
		translated, ok := translate(e)
		if !ok {
			return nil, false
		}
		out = append(out, translated.(sqlparser.Expr))
	}
	return out, true
}

// subqueryDepth counts the deepest nesting of derived-table subqueries
// remaining in sel's FROM clause.
func subqueryDepth(sel *sqlparser.Select) int {
	depth := 0
	for _, te := range sel.From {
		ate, ok := te.(*sqlparser.AliasedTableExpr)
		if !ok {
			continue
		}
		sq, ok := ate.Expr.(*sqlparser.Subquery)
		if !ok {
			continue
		}
		inner, ok := sq.Select.(*sqlparser.Select)
		if !ok {
			continue
		}
		if d := 1 + subqueryDepth(inner); d > depth {
			depth = d
		}
	}
	return depth
}
