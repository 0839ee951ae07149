package synth

import (
	"fmt"
	"strings"

	"github.com/tbproxy/tbproxy/ast"
	"vitess.io/vitess/go/vt/sqlparser"
)

var whitelistedISColumns = map[string]bool{
	"table_name": true, "table_schema": true, "table_type": true,
}

// ConvertInfoSchema implements the INFORMATION_SCHEMA-to-SHOW decision
// table. emptyOk is true when the relation or its predicates fall
// outside the convertible whitelist, in which case showSQL is "" and
// the caller should answer with a zero-column, zero-row result instead
// of making a backend call.
func ConvertInfoSchema(stmt *ast.Statement) (showSQL string, emptyOk bool) {
	table, ok := stmt.FromTable()
	if !ok {
		return "", true
	}
	if !strings.EqualFold(ast.NormalizeIdent(table.Qualifier), "information_schema") {
		return "", true
	}

	relation := strings.ToLower(ast.NormalizeIdent(table.Name))

	sel, ok := stmt.Node().(*sqlparser.Select)
	if !ok {
		return "", true
	}

	preds, simple := simpleWherePredicates(sel)

	switch relation {
	case "schemata":
		return "SHOW DATABASES", false
	case "tables":
		if !simple {
			return "", true
		}
		if schema, ok := preds["table_schema"]; ok {
			return fmt.Sprintf("SHOW TABLES FROM %s", schema), false
		}
		return "SHOW TABLES", false
	case "columns":
		if !simple {
			return "", true
		}
		tableName, ok := preds["table_name"]
		if !ok {
			return "", true
		}
		if schema, ok := preds["table_schema"]; ok {
			return fmt.Sprintf("SHOW COLUMNS FROM %s.%s", schema, tableName), false
		}
		return fmt.Sprintf("SHOW COLUMNS FROM %s", tableName), false
	default:
		return "", true
	}
}

// ProjectedColumns returns a client-facing column name for each entry
// in stmt's SELECT projection list: the AS alias when present, the
// expression's re-serialized text otherwise (including the literal
// "null" for a bare NULL placeholder column, so resultset.Adapt's
// NULL-name rename still fires on it).
func ProjectedColumns(stmt *ast.Statement) []string {
	proj := stmt.Projection()
	if proj == nil {
		return nil
	}
	cols := make([]string, len(proj))
	for i, p := range proj {
		if p.Alias != "" {
			cols[i] = p.Alias
		} else {
			cols[i] = p.Text
		}
	}
	return cols
}

// ReprojectRows maps a SHOW statement's backend rows onto stmt's wider
// client projection list: the i-th projection position that isn't a
// literal NULL placeholder receives the i-th backend column's value,
// in order; every NULL placeholder position is left nil, for
// resultset.Adapt to pad/rename.
func ReprojectRows(stmt *ast.Statement, backendRows [][]any) [][]any {
	proj := stmt.Projection()
	if proj == nil {
		return backendRows
	}
	var targets []int
	for i, p := range proj {
		if !strings.EqualFold(p.Text, "null") {
			targets = append(targets, i)
		}
	}
	out := make([][]any, len(backendRows))
	for r, row := range backendRows {
		newRow := make([]any, len(proj))
		for i, t := range targets {
			if i < len(row) {
				newRow[t] = row[i]
			}
		}
		out[r] = newRow
	}
	return out
}

// simpleWherePredicates collects AND-composed equality predicates that
// compare a whitelisted identifier with a literal, in either order.
// simple is false if the WHERE clause contains an OR,
// or any predicate outside the whitelist/equality shape.
func simpleWherePredicates(sel *sqlparser.Select) (map[string]string, bool) {
	preds := make(map[string]string)
	if sel.Where == nil {
		return preds, true
	}
	ok := collectAndPredicates(sel.Where.Expr, preds)
	return preds, ok
}

func collectAndPredicates(e sqlparser.Expr, preds map[string]string) bool {
	switch n := e.(type) {
	case *sqlparser.AndExpr:
		return collectAndPredicates(n.Left, preds) && collectAndPredicates(n.Right, preds)
	case *sqlparser.ParenExpr:
		return collectAndPredicates(n.Expr, preds)
	case *sqlparser.ComparisonExpr:
		if n.Operator != sqlparser.EqualOp {
			return false
		}
		col, ok := n.Left.(*sqlparser.ColName)
		var lit *sqlparser.Literal
		if ok {
			lit, ok = n.Right.(*sqlparser.Literal)
		}
		if !ok {
			col, ok = n.Right.(*sqlparser.ColName)
			if ok {
				lit, ok = n.Left.(*sqlparser.Literal)
			}
		}
		if !ok || col == nil || lit == nil {
			return false
		}
		key := ast.NormalizeIdent(col.Name.String())
		if !whitelistedISColumns[key] {
			return false
		}
		preds[key] = lit.Val
		return true
	default:
		return false
	}
}
