// Package synth answers statements that never reach the backend:
// session-variable SET/USE forms, StaticSelect evaluation, and the
// INFORMATION_SCHEMA-to-SHOW conversion table.
package synth

import (
	"regexp"
	"strings"

	"github.com/tbproxy/tbproxy/session"
)

// Result is a synthesized (columns, rows) reply, ready for the result
// adapter.
type Result struct {
	Columns []string
	Rows    [][]any
}

var (
	setNamesPattern      = regexp.MustCompile(`(?i)^SET\s+NAMES\s+(\S+?)(?:\s+COLLATE\s+(\S+))?\s*;?\s*$`)
	setCharSetPattern    = regexp.MustCompile(`(?i)^SET\s+CHARACTER\s+SET\s+(\S+)\s*;?\s*$`)
	setTransactionPattern = regexp.MustCompile(`(?i)^SET\s+(?:SESSION\s+|GLOBAL\s+)?TRANSACTION\s+(.+?)\s*;?\s*$`)
	setSessionVarPattern  = regexp.MustCompile(`(?i)^SET\s+(?:SESSION\s+|GLOBAL\s+|@@(?:SESSION\.|GLOBAL\.)?)?([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.+?)\s*;?\s*$`)
	setUserVarPattern     = regexp.MustCompile(`(?i)^SET\s+@([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.+?)\s*;?\s*$`)
	usePattern            = regexp.MustCompile(`(?i)^USE\s+` + "`?" + `([A-Za-z_][A-Za-z0-9_]*)` + "`?" + `\s*;?\s*$`)
)

// HandleSessionStatement answers a SET or USE statement locally, never
// forwarding it to the backend. ok is false when text does not match
// any recognized form; the pipeline then answers the statement with an
// empty result, still without forwarding it.
func HandleSessionStatement(text string, sess *session.Session) (*Result, bool) {
	trimmed := strings.TrimSpace(text)

	if m := setNamesPattern.FindStringSubmatch(trimmed); m != nil {
		charset := stripQuotes(m[1])
		sess.SetSystemVar("character_set_client", charset)
		sess.SetSystemVar("character_set_connection", charset)
		sess.SetSystemVar("character_set_results", charset)
		if m[2] != "" {
			sess.SetSystemVar("collation_connection", stripQuotes(m[2]))
		}
		return emptyOK(), true
	}

	if m := setCharSetPattern.FindStringSubmatch(trimmed); m != nil {
		charset := stripQuotes(m[1])
		sess.SetSystemVar("character_set_client", charset)
		sess.SetSystemVar("character_set_results", charset)
		return emptyOK(), true
	}

	if m := setTransactionPattern.FindStringSubmatch(trimmed); m != nil {
		characteristics := strings.ToUpper(m[1])
		if strings.Contains(characteristics, "READ ONLY") {
			sess.SetSystemVar("tx_read_only", "ON")
		} else if strings.Contains(characteristics, "READ WRITE") {
			sess.SetSystemVar("tx_read_only", "OFF")
		}
		if idx := strings.Index(characteristics, "ISOLATION LEVEL"); idx >= 0 {
			sess.SetSystemVar("tx_isolation", strings.TrimSpace(characteristics[idx+len("ISOLATION LEVEL"):]))
		}
		return emptyOK(), true
	}

	if m := setUserVarPattern.FindStringSubmatch(trimmed); m != nil {
		sess.SetUserVar(m[1], stripQuotes(m[2]))
		return emptyOK(), true
	}

	if m := setSessionVarPattern.FindStringSubmatch(trimmed); m != nil {
		sess.SetSystemVar(m[1], stripQuotes(m[2]))
		return emptyOK(), true
	}

	if m := usePattern.FindStringSubmatch(trimmed); m != nil {
		sess.SetDatabase(m[1])
		return emptyOK(), true
	}

	return nil, false
}

func emptyOK() *Result {
	return &Result{Columns: []string{}, Rows: [][]any{}}
}

func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
