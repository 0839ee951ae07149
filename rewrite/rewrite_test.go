package rewrite

import (
	"testing"

	"github.com/tbproxy/tbproxy/ast"
)

func mustParse(t *testing.T, sql string) *ast.Statement {
	stmt, err := ast.Parse(sql)
	if err != nil {
		t.Fatalf("Parse(%q): %v", sql, err)
	}
	return stmt
}

func TestUnwrapParen(t *testing.T) {
	out, ok := UnwrapParen("(SELECT col1, col2 FROM my_table WHERE date_index = -1) LIMIT 0")
	if !ok {
		t.Fatalf("expected unwrap")
	}
	if out != "SELECT col1, col2 FROM my_table WHERE date_index = -1 LIMIT 0" {
		t.Fatalf("got %q", out)
	}
}

func TestUnwrapParenDeclinesPlainSelect(t *testing.T) {
	_, ok := UnwrapParen("SELECT 1")
	if ok {
		t.Fatalf("should not match a non-parenthesized statement")
	}
}

func TestUnwrapTableauWrapperStar(t *testing.T) {
	stmt := mustParse(t, "SELECT * FROM (SELECT category, SUM(amount) AS total FROM sales WHERE cob_date = '2024-01-15') sub")
	out, ok := UnwrapTableauWrapper(stmt)
	if !ok {
		t.Fatalf("expected unwrap")
	}
	if got := out.String(); got == stmt.String() {
		t.Fatalf("expected a change, got identical text %q", got)
	}
}

func TestCompleteGroupBy(t *testing.T) {
	stmt := mustParse(t, "SELECT category, SUM(amount) FROM sales WHERE cob_date = '2024-01-15'")
	out, ok := CompleteGroupBy(stmt)
	if !ok {
		t.Fatalf("expected group by completion")
	}
	sel := out.GroupBy()
	if len(sel) != 1 || sel[0] != "category" {
		t.Fatalf("got group by %v", sel)
	}
}

func TestCompleteGroupByNoAggregateIsNoOp(t *testing.T) {
	stmt := mustParse(t, "SELECT category, amount FROM sales")
	_, ok := CompleteGroupBy(stmt)
	if ok {
		t.Fatalf("expected no-op without aggregate")
	}
}

func TestFlattenMergesWhereAndGroupBy(t *testing.T) {
	stmt := mustParse(t, "SELECT a.category, a.total FROM (SELECT category, SUM(amount) AS total FROM sales WHERE cob_date = '2024-01-01' GROUP BY category) a WHERE a.total > 100")
	out, ok := Flatten(stmt, 2)
	if !ok {
		t.Fatalf("expected flatten to succeed")
	}
	where := out.OuterWhere()
	if where == "" {
		t.Fatalf("expected merged where clause, got empty")
	}
}

func TestFlattenTakesMinLimitWhenBothPresent(t *testing.T) {
	stmt := mustParse(t, "SELECT a.x FROM (SELECT x FROM t WHERE cob_date = '2024-01-01' LIMIT 5) a LIMIT 20")
	out, ok := Flatten(stmt, 2)
	if !ok {
		t.Fatalf("expected flatten to succeed")
	}
	rowcount, _, limitOK := out.Limit()
	if !limitOK || rowcount != "5" {
		t.Fatalf("expected flattened LIMIT 5 (the tighter of 5 and 20), got %q (present=%v)", rowcount, limitOK)
	}
}

func TestFlattenTakesOuterLimitWhenTighter(t *testing.T) {
	stmt := mustParse(t, "SELECT a.x FROM (SELECT x FROM t WHERE cob_date = '2024-01-01' LIMIT 100) a LIMIT 10")
	out, ok := Flatten(stmt, 2)
	if !ok {
		t.Fatalf("expected flatten to succeed")
	}
	rowcount, _, limitOK := out.Limit()
	if !limitOK || rowcount != "10" {
		t.Fatalf("expected flattened LIMIT 10 (the tighter of 100 and 10), got %q (present=%v)", rowcount, limitOK)
	}
}

func TestFlattenAdoptsOuterLimitWhenInnerHasNone(t *testing.T) {
	stmt := mustParse(t, "SELECT a.x FROM (SELECT x FROM t WHERE cob_date = '2024-01-01') a LIMIT 10")
	out, ok := Flatten(stmt, 2)
	if !ok {
		t.Fatalf("expected flatten to succeed")
	}
	rowcount, _, limitOK := out.Limit()
	if !limitOK || rowcount != "10" {
		t.Fatalf("expected flattened LIMIT 10 adopted wholesale, got %q (present=%v)", rowcount, limitOK)
	}
}

func TestFlattenDeclinesOnHaving(t *testing.T) {
	stmt := mustParse(t, "SELECT a.x FROM (SELECT x FROM t HAVING x > 1) a")
	_, ok := Flatten(stmt, 2)
	if ok {
		t.Fatalf("expected decline when inner HAVING present")
	}
}
