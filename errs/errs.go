// Package errs defines the proxy's error taxonomy. Every user-facing
// failure anywhere in the pipeline is a *errs.Error so the wire codec has
// one place to look up a MySQL error number and SQLSTATE to report.
package errs

import "fmt"

// Kind identifies a class of pipeline failure. Each kind maps to exactly
// one row of the error-handling design's taxonomy table.
type Kind int

const (
	// ParseFailure: the statement could not be parsed and classification
	// could not route it anywhere else.
	ParseFailure Kind = iota
	// WriteBlocked: a write-DML statement was rejected by the write
	// blocker gate.
	WriteBlocked
	// UnsupportedFeature: the statement used a JOIN, UNION, window
	// function, or denylisted function.
	UnsupportedFeature
	// MissingDatePredicate: a DataSelect lacked a predicate on any
	// configured date column.
	MissingDatePredicate
	// InfoSchemaUnsupported: an INFORMATION_SCHEMA query fell outside the
	// convertible whitelist; handled as EmptyOk, never surfaced to the
	// client as an error, but still classified for logging.
	InfoSchemaUnsupported
	// BackendTransient: a connectivity failure talking to the backend;
	// the slot that produced it is destroyed.
	BackendTransient
	// BackendQueryError: the backend itself rejected the query; the slot
	// is kept.
	BackendQueryError
	// PoolExhausted: no backend slot became available before the
	// per-statement deadline.
	PoolExhausted
	// ResultShapeError: a result adapter invariant could not be enforced
	// due to a programming error upstream.
	ResultShapeError
	// Fatal: a process-level failure; the connection is closed.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case ParseFailure:
		return "ParseFailure"
	case WriteBlocked:
		return "WriteBlocked"
	case UnsupportedFeature:
		return "UnsupportedFeature"
	case MissingDatePredicate:
		return "MissingDatePredicate"
	case InfoSchemaUnsupported:
		return "InfoSchemaUnsupported"
	case BackendTransient:
		return "BackendTransient"
	case BackendQueryError:
		return "BackendQueryError"
	case PoolExhausted:
		return "PoolExhausted"
	case ResultShapeError:
		return "ResultShapeError"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error is the proxy's single user-facing error type. Number and
// SQLState follow MySQL wire conventions so the mariadb package can
// translate it into an ERR packet without a second mapping table.
type Error struct {
	Kind     Kind
	Message  string
	SQLState string
	Number   uint16
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds an *Error with the default SQLSTATE/number for kinds that
// don't carry backend-supplied values.
func New(kind Kind, message string) *Error {
	sqlstate, number := defaultCode(kind)
	return &Error{Kind: kind, Message: message, SQLState: sqlstate, Number: number}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

func defaultCode(kind Kind) (sqlstate string, number uint16) {
	switch kind {
	case ParseFailure:
		return "42000", 1064
	case WriteBlocked:
		return "42000", 1142
	case UnsupportedFeature:
		return "42000", 1235
	case MissingDatePredicate:
		return "42000", 1105
	case BackendTransient:
		return "08S01", 2013
	case BackendQueryError:
		return "HY000", 1105
	case PoolExhausted:
		return "HY000", 1040
	case ResultShapeError:
		return "HY000", 1105
	case Fatal:
		return "HY000", 2006
	default:
		return "HY000", 1105
	}
}
