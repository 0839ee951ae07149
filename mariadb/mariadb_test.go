package mariadb

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbproxy/tbproxy/backend"
	"github.com/tbproxy/tbproxy/pipeline"
	"github.com/tbproxy/tbproxy/policy"
	"github.com/tbproxy/tbproxy/rewrite"
	"github.com/tbproxy/tbproxy/session"
)

type fakeConn struct {
	cols []string
	rows [][]any
}

func (f *fakeConn) Ping(ctx context.Context) error { return nil }
func (f *fakeConn) Query(ctx context.Context, sqlText string) ([]string, [][]any, error) {
	return f.cols, f.rows, nil
}
func (f *fakeConn) Close() error { return nil }

type fakeConnector struct{ conn *fakeConn }

func (f *fakeConnector) Open(ctx context.Context) (backend.Conn, error) { return f.conn, nil }

func newTestClientConn(t *testing.T, server net.Conn) *clientConn {
	t.Helper()
	pool := backend.NewPool(backend.Config{PoolSize: 1}, &fakeConnector{conn: &fakeConn{
		cols: []string{"x"}, rows: [][]any{{int64(1)}},
	}})
	cfg := policy.Config{BlockWrites: true}
	rewriteCfg := rewrite.Config{UnwrapSubqueries: true, AutoFixGroupBy: true, MaxSubqueryDepth: 2}
	orch := pipeline.New(session.New(1), pool, cfg, rewriteCfg, zerolog.Nop())
	return &clientConn{conn: server, orch: orch, connID: 1, status: SERVER_STATUS_AUTOCOMMIT}
}

func writePacket(t *testing.T, conn net.Conn, seq byte, payload []byte) {
	t.Helper()
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(payload)))
	header[3] = seq
	if _, err := conn.Write(append(header, payload...)); err != nil {
		t.Fatalf("write packet: %v", err)
	}
}

func readPacket(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	header := make([]byte, 4)
	if _, err := readFull(conn, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	length := int(uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16)
	payload := make([]byte, length)
	if _, err := readFull(conn, payload); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	return payload
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestHandshakeAndStaticSelect(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := newTestClientConn(t, server)

	done := make(chan error, 1)
	go func() { done <- cc.handshake() }()

	client.SetDeadline(time.Now().Add(5 * time.Second))

	// Server greeting.
	readPacket(t, client)

	// Minimal client auth-response packet: capability flags (4), max
	// packet size (4), charset (1), reserved (23), null-terminated
	// username, zero-length auth response.
	auth := make([]byte, 0, 40)
	caps := make([]byte, 4)
	binary.LittleEndian.PutUint32(caps, CLIENT_PROTOCOL_41)
	auth = append(auth, caps...)
	auth = append(auth, 0, 0, 0, 0) // max packet size
	auth = append(auth, 33)         // charset
	auth = append(auth, make([]byte, 23)...)
	auth = append(auth, []byte("tester")...)
	auth = append(auth, 0)
	auth = append(auth, 0) // zero-length auth response
	writePacket(t, client, 1, auth)

	// OK packet.
	ok := readPacket(t, client)
	if len(ok) == 0 || ok[0] != OK_HEADER {
		t.Fatalf("expected OK packet, got %x", ok)
	}

	if err := <-done; err != nil {
		t.Fatalf("handshake: %v", err)
	}

	go cc.run()

	writePacket(t, client, 0, append([]byte{comQuery}, []byte("SELECT CONNECTION_ID()")...))

	colCountPacket := readPacket(t, client)
	if len(colCountPacket) == 0 {
		t.Fatalf("expected column count packet")
	}
}

func TestDispatchQuitReturnsEOF(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := newTestClientConn(t, server)
	if err := cc.dispatch(comQuit, nil); err == nil {
		t.Fatalf("expected EOF-shaped error from comQuit")
	}
}

func TestDispatchInitDBUpdatesSession(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	cc := newTestClientConn(t, server)
	go func() {
		_ = cc.dispatch(comInitDB, []byte("reporting"))
	}()

	ok := readPacket(t, client)
	if len(ok) == 0 || ok[0] != OK_HEADER {
		t.Fatalf("expected OK packet, got %x", ok)
	}
	if cc.orch.Session.Database() != "reporting" {
		t.Fatalf("expected database reporting, got %q", cc.orch.Session.Database())
	}
}
