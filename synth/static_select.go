package synth

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tbproxy/tbproxy/ast"
	"github.com/tbproxy/tbproxy/errs"
	"github.com/tbproxy/tbproxy/session"
	"vitess.io/vitess/go/vt/sqlparser"
)

// proxyVersion is reported for @@version and the connect-time version
// probe Tableau's MySQL driver issues.
const proxyVersion = "8.0.34-tbproxy"

// EvaluateStaticSelect answers a StaticSelect (no FROM/WHERE/GROUP
// BY/HAVING/ORDER BY) locally: literal and arithmetic expressions are
// evaluated directly, and the small set of introspection calls Tableau
// issues at connect time (CONNECTION_ID, @@version, DATABASE, USER,
// NOW) are answered from the session.
func EvaluateStaticSelect(stmt *ast.Statement, sess *session.Session) (*Result, *errs.Error) {
	sel, ok := stmt.Node().(*sqlparser.Select)
	if !ok {
		return nil, errs.New(errs.ResultShapeError, "static select evaluation requires a SELECT statement")
	}

	result := &Result{}
	row := make([]any, 0, len(sel.SelectExprs))
	for i, se := range sel.SelectExprs {
		aliased, ok := se.(*sqlparser.AliasedExpr)
		if !ok {
			return nil, errs.New(errs.ResultShapeError, "unsupported static projection expression")
		}
		name := aliased.As.String()
		if name == "" {
			name = fmt.Sprintf("expr_%d", i+1)
		}
		value, err := evalExpr(aliased.Expr, sess)
		if err != nil {
			return nil, errs.Newf(errs.ResultShapeError, "cannot evaluate expression locally: %v", err)
		}
		result.Columns = append(result.Columns, name)
		row = append(row, value)
	}
	result.Rows = [][]any{row}
	return result, nil
}

func evalExpr(e sqlparser.Expr, sess *session.Session) (any, error) {
	switch v := e.(type) {
	case *sqlparser.Literal:
		return literalValue(v), nil
	case *sqlparser.FuncExpr:
		return evalFunc(v, sess)
	case *sqlparser.BinaryExpr:
		return evalArithmetic(v, sess)
	case *sqlparser.ParenExpr:
		return evalExpr(v.Expr, sess)
	case *sqlparser.UnaryExpr:
		inner, err := evalExpr(v.Expr, sess)
		if err != nil {
			return nil, err
		}
		if n, ok := toFloat(inner); ok && v.Operator == sqlparser.UMinusOp {
			return -n, nil
		}
		return inner, nil
	case *sqlparser.Variable:
		name := v.Name.Lowered()
		if name == "version" {
			return proxyVersion, nil
		}
		if val, ok := SystemVarValue(name, sess); ok {
			return val, nil
		}
		return nil, fmt.Errorf("system variable @@%s is not tracked", name)
	default:
		return nil, fmt.Errorf("unsupported expression %T", e)
	}
}

func literalValue(lit *sqlparser.Literal) any {
	switch lit.Type {
	case sqlparser.IntVal:
		n, _ := strconv.ParseInt(lit.Val, 10, 64)
		return n
	case sqlparser.FloatVal:
		f, _ := strconv.ParseFloat(lit.Val, 64)
		return f
	default:
		return lit.Val
	}
}

func evalFunc(fn *sqlparser.FuncExpr, sess *session.Session) (any, error) {
	name := strings.ToUpper(fn.Name.String())
	switch name {
	case "CONNECTION_ID":
		return int64(sess.ConnectionID()), nil
	case "DATABASE", "SCHEMA":
		if db := sess.Database(); db != "" {
			return db, nil
		}
		return nil, nil
	case "USER", "CURRENT_USER", "SESSION_USER", "SYSTEM_USER":
		return "tbproxy@proxy", nil
	case "NOW", "CURRENT_TIMESTAMP", "SYSDATE":
		return "1970-01-01 00:00:00", nil
	case "VERSION":
		return proxyVersion, nil
	default:
		return nil, fmt.Errorf("function %s is not locally evaluable", name)
	}
}

func evalArithmetic(b *sqlparser.BinaryExpr, sess *session.Session) (any, error) {
	left, err := evalExpr(b.Left, sess)
	if err != nil {
		return nil, err
	}
	right, err := evalExpr(b.Right, sess)
	if err != nil {
		return nil, err
	}
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return nil, fmt.Errorf("non-numeric operand in arithmetic expression")
	}
	switch b.Operator {
	case sqlparser.PlusOp:
		return lf + rf, nil
	case sqlparser.MinusOp:
		return lf - rf, nil
	case sqlparser.MultOp:
		return lf * rf, nil
	case sqlparser.DivOp:
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	default:
		return nil, fmt.Errorf("unsupported arithmetic operator")
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// SystemVarValue answers a `SELECT @@name` style reference against the
// session's shadow map, used by EvaluateStaticSelect when a projection
// is a bare system-variable read rather than a function call.
func SystemVarValue(name string, sess *session.Session) (string, bool) {
	return sess.SystemVar(name)
}
