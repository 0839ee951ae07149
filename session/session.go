// Package session holds per-connection proxy state: the selected database,
// user-defined variables, and the shadow system variables the proxy tracks
// on the client's behalf instead of forwarding to the backend.
package session

import "sync"

// Session is owned exclusively by one pipeline orchestrator for the
// lifetime of a single client connection. Its methods that read or write
// the database and variable maps take the mutex, so they are safe to call
// from any goroutine even though in practice only the connection's own
// goroutine does.
type Session struct {
	mu sync.Mutex

	connectionID uint32
	database     string
	userVars     map[string]any
	systemVars   map[string]string
}

// New creates a Session for a freshly accepted client connection.
// connectionID is the wire-level connection id reported by CONNECTION_ID().
func New(connectionID uint32) *Session {
	return &Session{
		connectionID: connectionID,
		userVars:     make(map[string]any),
		systemVars: map[string]string{
			"character_set_client":     "utf8mb4",
			"character_set_connection": "utf8mb4",
			"character_set_results":    "utf8mb4",
			"collation_connection":     "utf8mb4_general_ci",
			"tx_isolation":             "REPEATABLE-READ",
			"tx_read_only":             "OFF",
			"autocommit":               "ON",
		},
	}
}

// ConnectionID returns the wire-level id for this session, used to answer
// CONNECTION_ID() locally.
func (s *Session) ConnectionID() uint32 {
	return s.connectionID
}

// Database returns the currently selected database, or "" if none was
// selected via USE or the handshake's initial database.
func (s *Session) Database() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.database
}

// SetDatabase updates the session's current database, as driven by USE or
// the handshake's CLIENT_CONNECT_WITH_DB database name.
func (s *Session) SetDatabase(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.database = name
}

// SetSystemVar updates a shadow system variable. It takes no scope:
// SESSION and GLOBAL assignments both land in the same per-connection
// shadow map, since the proxy never forwards SET to the backend.
func (s *Session) SetSystemVar(name string, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemVars[normalizeVarName(name)] = value
}

// SystemVar reads a shadow system variable. ok is false when the proxy has
// no tracked value, in which case the caller should fall back to a
// hardcoded default answer.
func (s *Session) SystemVar(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.systemVars[normalizeVarName(name)]
	return v, ok
}

// SetUserVar updates a user-defined variable (`SET @name = value`).
func (s *Session) SetUserVar(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userVars[normalizeVarName(name)] = value
}

// UserVar reads a user-defined variable.
func (s *Session) UserVar(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.userVars[normalizeVarName(name)]
	return v, ok
}

func normalizeVarName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
