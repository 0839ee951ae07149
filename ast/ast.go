// Package ast is a thin, typed facade over the SQL parser library. It
// exposes only the query-level facts the pipeline needs — projection,
// FROM table, WHERE predicates, GROUP BY, LIMIT, subqueries, referenced
// tables and functions — so the rest of the proxy never imports the
// parser package directly.
package ast

import (
	"strings"

	"vitess.io/vitess/go/vt/sqlparser"
)

// Statement wraps a single parsed SQL statement together with the raw
// text it was parsed from. Re-serializing an unmodified Statement is
// guaranteed to be semantically, though not necessarily textually,
// equivalent to the input text.
type Statement struct {
	raw  string
	node sqlparser.Statement
}

// Parse parses sql using the parser library. A parse failure is returned
// verbatim; callers that need to classify unparseable text should do so
// on the raw string before calling Parse.
func Parse(sql string) (*Statement, error) {
	node, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, err
	}
	return &Statement{raw: sql, node: node}, nil
}

// WrapNode builds a Statement around an already-parsed or rewritten
// parser node. Used by the rewrite package, which mutates or clones
// nodes directly and needs to hand the result back through the facade.
func WrapNode(node sqlparser.Statement) *Statement {
	return &Statement{raw: sqlparser.String(node), node: node}
}

// Raw returns the original text the statement was parsed from.
func (s *Statement) Raw() string {
	return s.raw
}

// Node exposes the underlying parser AST for packages that must perform
// rewrites the facade does not model directly (rewrite.UnwrapTableauWrapper,
// rewrite.Flatten and rewrite.CompleteGroupBy clone the node through this
// escape hatch and rewrite the clone).
func (s *Statement) Node() sqlparser.Statement {
	return s.node
}

// String re-serializes the statement through the parser library.
func (s *Statement) String() string {
	return sqlparser.String(s.node)
}

// Kind is the structural shape of the parsed statement, independent of
// the pipeline's higher-level StatementKind classification.
type Kind int

const (
	KindOther Kind = iota
	KindSelect
	KindUnion
	KindInsert
	KindUpdate
	KindDelete
	KindReplace
	KindShow
	KindSet
	KindUse
	KindBegin
	KindCommit
	KindRollback
	KindDDL
)

// Kind reports the statement's structural shape.
func (s *Statement) Kind() Kind {
	switch s.node.(type) {
	case *sqlparser.Select:
		return KindSelect
	case *sqlparser.Union:
		return KindUnion
	case *sqlparser.Insert:
		return KindInsert
	case *sqlparser.Update:
		return KindUpdate
	case *sqlparser.Delete:
		return KindDelete
	case *sqlparser.Show:
		return KindShow
	case *sqlparser.Set:
		return KindSet
	case *sqlparser.Use:
		return KindUse
	case *sqlparser.Begin:
		return KindBegin
	case *sqlparser.Commit:
		return KindCommit
	case *sqlparser.Rollback:
		return KindRollback
	case *sqlparser.CreateTable, *sqlparser.DropTable, *sqlparser.AlterTable:
		return KindDDL
	default:
		return KindOther
	}
}

// selectNode returns the underlying *sqlparser.Select when the statement
// is a plain SELECT, nil otherwise.
func (s *Statement) selectNode() *sqlparser.Select {
	sel, _ := s.node.(*sqlparser.Select)
	return sel
}

// TableRef names a table, optionally schema-qualified.
type TableRef struct {
	Qualifier string
	Name      string
}

// Is reports whether the reference names the given schema.table,
// case-insensitively and quote-agnostically.
func (t TableRef) Is(schema, name string) bool {
	return normalizeIdent(t.Qualifier) == normalizeIdent(schema) &&
		normalizeIdent(t.Name) == normalizeIdent(name)
}

// ProjectionExpr is one expression in a SELECT's projection list.
type ProjectionExpr struct {
	// Text is the parser library's re-serialization of the expression.
	Text string
	// Alias is the AS-bound name, if any.
	Alias string
	// IsStar is true for a bare `*` or `alias.*` projection item.
	IsStar bool
	// IsAggregate is true when the expression is (or contains at its top
	// level) a call to SUM/AVG/MIN/MAX/COUNT.
	IsAggregate bool
}

// Projection returns the SELECT's projection list. It returns nil for
// non-SELECT statements.
func (s *Statement) Projection() []ProjectionExpr {
	sel := s.selectNode()
	if sel == nil {
		return nil
	}
	out := make([]ProjectionExpr, 0, len(sel.SelectExprs))
	for _, se := range sel.SelectExprs {
		switch e := se.(type) {
		case *sqlparser.StarExpr:
			out = append(out, ProjectionExpr{Text: sqlparser.String(e), IsStar: true})
		case *sqlparser.AliasedExpr:
			out = append(out, ProjectionExpr{
				Text:        sqlparser.String(e.Expr),
				Alias:       e.As.String(),
				IsAggregate: isAggregateExpr(e.Expr),
			})
		default:
			out = append(out, ProjectionExpr{Text: sqlparser.String(se)})
		}
	}
	return out
}

// ProjectionHasAggregate reports whether any top-level projection
// expression is an aggregate call.
func (s *Statement) ProjectionHasAggregate() bool {
	for _, p := range s.Projection() {
		if p.IsAggregate {
			return true
		}
	}
	return false
}

var aggregateFuncs = map[string]bool{
	"sum": true, "avg": true, "min": true, "max": true, "count": true,
}

func isAggregateExpr(e sqlparser.Expr) bool {
	fn, ok := e.(*sqlparser.FuncExpr)
	if !ok {
		return false
	}
	return aggregateFuncs[strings.ToLower(fn.Name.String())]
}

// FromTable returns the single base table named in the FROM clause when
// it is exactly one unaliased-or-aliased table reference (no join, no
// subquery). ok is false for anything more complex.
func (s *Statement) FromTable() (TableRef, bool) {
	sel := s.selectNode()
	if sel == nil || len(sel.From) != 1 {
		return TableRef{}, false
	}
	ate, ok := sel.From[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return TableRef{}, false
	}
	tn, ok := ate.Expr.(sqlparser.TableName)
	if !ok {
		return TableRef{}, false
	}
	return TableRef{Qualifier: tn.Qualifier.String(), Name: tn.Name.String()}, true
}

// TablesReferenced returns every base table named anywhere in the
// statement (FROM, JOIN, subqueries), schema-qualified where the source
// qualified it.
func (s *Statement) TablesReferenced() []TableRef {
	var out []TableRef
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if tn, ok := node.(sqlparser.TableName); ok && !tn.IsEmpty() {
			out = append(out, TableRef{Qualifier: tn.Qualifier.String(), Name: tn.Name.String()})
		}
		return true, nil
	}, s.node)
	return out
}

// FunctionsUsed returns the upper-cased names of every function call
// anywhere in the statement.
func (s *Statement) FunctionsUsed() []string {
	var out []string
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if fn, ok := node.(*sqlparser.FuncExpr); ok {
			out = append(out, strings.ToUpper(fn.Name.String()))
		}
		return true, nil
	}, s.node)
	return out
}

// OuterWhere returns the serialized WHERE predicate of the outermost
// SELECT, or "" if none.
func (s *Statement) OuterWhere() string {
	sel := s.selectNode()
	if sel == nil || sel.Where == nil {
		return ""
	}
	return sqlparser.String(sel.Where.Expr)
}

// WhereMentions reports whether col appears as a column reference
// anywhere in the outer WHERE's expression tree (any depth of the
// boolean expression), ignoring table qualifiers. It does not look
// inside subqueries embedded in the WHERE clause.
func (s *Statement) WhereMentions(col string) bool {
	sel := s.selectNode()
	if sel == nil || sel.Where == nil {
		return false
	}
	found := false
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if found {
			return false, nil
		}
		switch n := node.(type) {
		case *sqlparser.Subquery:
			// Do not descend into nested subqueries.
			return false, nil
		case *sqlparser.ColName:
			if normalizeIdent(n.Name.String()) == normalizeIdent(col) {
				found = true
			}
		}
		return true, nil
	}, sel.Where.Expr)
	return found
}

// GroupBy returns the serialized GROUP BY expressions, in order.
func (s *Statement) GroupBy() []string {
	sel := s.selectNode()
	if sel == nil {
		return nil
	}
	out := make([]string, 0, len(sel.GroupBy))
	for _, e := range sel.GroupBy {
		out = append(out, sqlparser.String(e))
	}
	return out
}

// OrderBy returns the serialized ORDER BY expressions, in order.
func (s *Statement) OrderBy() []string {
	sel := s.selectNode()
	if sel == nil {
		return nil
	}
	out := make([]string, 0, len(sel.OrderBy))
	for _, o := range sel.OrderBy {
		out = append(out, sqlparser.String(o))
	}
	return out
}

// HasHaving reports whether the SELECT carries a HAVING clause.
func (s *Statement) HasHaving() bool {
	sel := s.selectNode()
	return sel != nil && sel.Having != nil
}

// Limit returns the serialized LIMIT clause's rowcount and offset, and
// whether a LIMIT is present at all.
func (s *Statement) Limit() (rowcount string, offset string, ok bool) {
	sel := s.selectNode()
	if sel == nil || sel.Limit == nil {
		return "", "", false
	}
	if sel.Limit.Rowcount != nil {
		rowcount = sqlparser.String(sel.Limit.Rowcount)
	}
	if sel.Limit.Offset != nil {
		offset = sqlparser.String(sel.Limit.Offset)
	}
	return rowcount, offset, true
}

// Subqueries returns the SELECT statements embedded anywhere in the
// statement (derived tables, scalar subqueries), not recursing into the
// subqueries themselves.
func (s *Statement) Subqueries() []*Statement {
	var out []*Statement
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if sq, ok := node.(*sqlparser.Subquery); ok {
			if sel, ok := sq.Select.(*sqlparser.Select); ok {
				out = append(out, &Statement{raw: sqlparser.String(sel), node: sel})
			}
			return false, nil
		}
		return true, nil
	}, s.node)
	return out
}

// HasJoin reports whether the statement's FROM clause contains any join
// (inner, left, right, outer, cross, or comma-join of more than one
// table).
func (s *Statement) HasJoin() bool {
	sel := s.selectNode()
	if sel == nil {
		return false
	}
	if len(sel.From) > 1 {
		return true
	}
	found := false
	for _, te := range sel.From {
		_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
			if _, ok := node.(*sqlparser.JoinTableExpr); ok {
				found = true
				return false, nil
			}
			return true, nil
		}, te)
	}
	return found
}

// HasUnion reports whether the statement is, or embeds, a UNION.
func (s *Statement) HasUnion() bool {
	if _, ok := s.node.(*sqlparser.Union); ok {
		return true
	}
	found := false
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if _, ok := node.(*sqlparser.Union); ok {
			found = true
			return false, nil
		}
		return true, nil
	}, s.node)
	return found
}

// WindowFunctions returns the upper-cased names of every function call
// carrying an OVER clause.
func (s *Statement) WindowFunctions() []string {
	var out []string
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if fn, ok := node.(*sqlparser.FuncExpr); ok {
			// The grammar attaches OVER as a textual suffix on the
			// re-serialized function call; matching on it keeps this
			// facade independent of the exact AST shape vitess uses to
			// carry the window specification.
			if strings.Contains(strings.ToUpper(sqlparser.String(fn)), ") OVER") {
				out = append(out, strings.ToUpper(fn.Name.String()))
			}
		}
		return true, nil
	}, s.node)
	return out
}

// HasCaseExpression reports whether the statement uses a CASE
// expression anywhere (projection, WHERE, HAVING, ORDER BY).
func (s *Statement) HasCaseExpression() bool {
	found := false
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if _, ok := node.(*sqlparser.CaseExpr); ok {
			found = true
			return false, nil
		}
		return true, nil
	}, s.node)
	return found
}

// IsStaticSelect reports whether the statement is a SELECT with no
// FROM/WHERE/GROUP BY/HAVING/ORDER BY (a LIMIT clause is permitted).
func (s *Statement) IsStaticSelect() bool {
	sel := s.selectNode()
	if sel == nil {
		return false
	}
	return len(sel.From) == 0 && sel.Where == nil && len(sel.GroupBy) == 0 &&
		sel.Having == nil && len(sel.OrderBy) == 0
}
