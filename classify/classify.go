// Package classify decides a statement's fate without mutating it: the
// single decision point the pipeline orchestrator consults before
// choosing whether to rewrite, synthesize, dispatch, or reject.
package classify

import (
	"regexp"
	"strings"

	"github.com/tbproxy/tbproxy/ast"
	"github.com/tbproxy/tbproxy/errs"
)

// StatementKind tags the shape of an incoming statement.
type StatementKind int

const (
	Other StatementKind = iota
	DDLMeta
	StaticSelect
	InfoSchemaSelect
	ParenSelect
	DataSelect
	WriteDML
)

func (k StatementKind) String() string {
	switch k {
	case DDLMeta:
		return "DDLMeta"
	case StaticSelect:
		return "StaticSelect"
	case InfoSchemaSelect:
		return "InfoSchemaSelect"
	case ParenSelect:
		return "ParenSelect"
	case DataSelect:
		return "DataSelect"
	case WriteDML:
		return "WriteDML"
	default:
		return "Other"
	}
}

// FateKind tags a classifier's action recommendation.
type FateKind int

const (
	Reject FateKind = iota
	Synthesize
	PassThrough
	RewriteAndPass
	EmptyOk
)

// Fate is the classifier's output for one statement.
type Fate struct {
	Kind FateKind
	// SQL carries the text to forward, for PassThrough and RewriteAndPass.
	SQL string
	// Err carries the rejection detail, for Reject.
	Err *errs.Error
}

var metaPrefixes = []string{
	"SHOW", "DESCRIBE", "DESC", "USE", "SET", "KILL", "BEGIN", "COMMIT", "ROLLBACK",
}

var locallyHandledMetaPrefixes = map[string]bool{
	"SET": true,
	"USE": true,
}

var parenSelectPattern = regexp.MustCompile(`(?is)^\(\s*SELECT\b.*\)\s*(LIMIT\s+\d+)?\s*$`)

var writeVerbs = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "REPLACE": true,
	"TRUNCATE": true, "DROP": true, "CREATE": true, "ALTER": true,
	"GRANT": true, "REVOKE": true, "RENAME": true,
}

var infoSchemaRelations = map[string]bool{
	"information_schema": true,
	"performance_schema": true,
	"mysql":               true,
	"sys":                 true,
}

// Classify is a pure function from (text, optional parsed AST) to a
// StatementKind and Fate. stmt is nil when parsing failed; in that case
// only the text-based rules (meta prefix, parenthesized SELECT) can
// fire, and anything else is classified Other with a ParseFailure
// rejection. A meta-prefixed statement that fails to parse is still
// forwarded: the parser library failing to parse SHOW/SET variants it
// doesn't fully model is not reason enough to reject a statement the
// backend itself understands.
func Classify(text string, stmt *ast.Statement) (StatementKind, Fate) {
	trimmed := strings.TrimSpace(text)
	upper := strings.ToUpper(trimmed)

	// 1. Meta-statement prefix, on raw text, so statements the parser
	// library cannot parse (KILL <id>, for instance) still classify.
	for _, prefix := range metaPrefixes {
		if hasWordPrefix(upper, prefix) {
			if locallyHandledMetaPrefixes[prefix] {
				return DDLMeta, Fate{Kind: Synthesize, SQL: text}
			}
			return DDLMeta, Fate{Kind: PassThrough, SQL: text}
		}
	}

	// 2. Parenthesized SELECT, handed to the wrapper unwrapper.
	if parenSelectPattern.MatchString(trimmed) {
		return ParenSelect, Fate{Kind: RewriteAndPass, SQL: text}
	}

	if stmt == nil {
		return Other, Fate{Kind: Reject, Err: errs.Newf(errs.ParseFailure, "syntax error near: %s", text)}
	}

	// 3. Static SELECT (no FROM/WHERE/GROUP/HAVING/ORDER).
	if stmt.IsStaticSelect() {
		return StaticSelect, Fate{Kind: Synthesize, SQL: text}
	}

	// 4. Any referenced table qualified by a system schema.
	for _, t := range stmt.TablesReferenced() {
		if infoSchemaRelations[ast.NormalizeIdent(t.Qualifier)] {
			return InfoSchemaSelect, Fate{Kind: Synthesize, SQL: text}
		}
	}

	// 5. Write verbs.
	if firstKeyword := firstWord(upper); writeVerbs[firstKeyword] {
		return WriteDML, Fate{Kind: Reject, Err: errs.New(errs.WriteBlocked, "writes are blocked by this proxy: "+firstKeyword)}
	}

	// 6. Everything else that parsed.
	return DataSelect, Fate{Kind: RewriteAndPass, SQL: text}
}

func hasWordPrefix(upper, word string) bool {
	if !strings.HasPrefix(upper, word) {
		return false
	}
	if len(upper) == len(word) {
		return true
	}
	next := upper[len(word)]
	return next == ' ' || next == '\t' || next == '\n' || next == ';'
}

func firstWord(upper string) string {
	fields := strings.Fields(upper)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
