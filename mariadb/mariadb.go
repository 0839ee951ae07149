// Package mariadb implements the MySQL wire codec: handshake,
// command dispatch, and result-set encoding. It never interprets SQL
// itself — every COM_QUERY is handed to a pipeline.Orchestrator, and
// this package only translates between wire bytes and the
// orchestrator's (columns, rows) / error reply.
package mariadb

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tbproxy/tbproxy/backend"
	"github.com/tbproxy/tbproxy/pipeline"
	"github.com/tbproxy/tbproxy/policy"
	"github.com/tbproxy/tbproxy/rewrite"
	"github.com/tbproxy/tbproxy/session"
)

const (
	comQuery       = 0x03
	comQuit        = 0x01
	comInitDB      = 0x02
	comFieldList   = 0x04
	comPing        = 0x0e
	comStmtPrepare = 0x16
	comStmtExecute = 0x17
)

// gateConfig bundles the two pieces of hot-reloadable configuration a
// freshly accepted connection's Orchestrator is built from.
type gateConfig struct {
	policy          policy.Config
	transformations rewrite.Config
}

// Proxy accepts MySQL wire connections and drives each one through its
// own pipeline.Orchestrator.
type Proxy struct {
	listen string
	pool   *backend.Pool
	gateMu sync.RWMutex
	gate   gateConfig
	log    zerolog.Logger
	connID uint32
}

// New creates a MariaDB-protocol proxy fronting pool, gated by
// policyCfg and rewriteCfg.
func New(listen string, pool *backend.Pool, policyCfg policy.Config, rewriteCfg rewrite.Config, logger zerolog.Logger) *Proxy {
	return &Proxy{listen: listen, pool: pool, gate: gateConfig{policy: policyCfg, transformations: rewriteCfg}, log: logger, connID: 1000}
}

// UpdatePolicy swaps the gating policy and rewrite configuration
// applied to connections accepted from this point on; connections
// already in flight keep the configuration they started with.
func (p *Proxy) UpdatePolicy(policyCfg policy.Config, rewriteCfg rewrite.Config) {
	p.gateMu.Lock()
	p.gate = gateConfig{policy: policyCfg, transformations: rewriteCfg}
	p.gateMu.Unlock()
}

func (p *Proxy) currentGate() gateConfig {
	p.gateMu.RLock()
	defer p.gateMu.RUnlock()
	return p.gate
}

// Start begins accepting connections; it returns once the listener is
// bound, with acceptance continuing in the background.
func (p *Proxy) Start() error {
	listener, err := net.Listen("tcp", p.listen)
	if err != nil {
		return err
	}
	p.log.Info().Str("listen", p.listen).Msg("mariadb proxy listening")

	go func() {
		for {
			client, err := listener.Accept()
			if err != nil {
				p.log.Error().Err(err).Msg("accept error")
				continue
			}
			connID := atomic.AddUint32(&p.connID, 1)
			go p.handleConnection(client, connID)
		}
	}()

	return nil
}

func (p *Proxy) handleConnection(client net.Conn, connID uint32) {
	defer client.Close()

	sess := session.New(connID)
	gate := p.currentGate()
	orch := pipeline.New(sess, p.pool, gate.policy, gate.transformations, p.log)

	conn := &clientConn{
		conn:       client,
		orch:       orch,
		connID:     connID,
		capability: 0,
		status:     SERVER_STATUS_AUTOCOMMIT,
	}

	if err := conn.handshake(); err != nil {
		p.log.Warn().Err(err).Uint32("conn_id", connID).Msg("handshake failed")
		return
	}

	conn.run()
}

type clientConn struct {
	conn       net.Conn
	orch       *pipeline.Orchestrator
	connID     uint32
	capability uint32
	status     uint16
	sequence   byte
	salt       []byte
	statements uint64
}

func (c *clientConn) handshake() error {
	salt, err := GenerateSalt()
	if err != nil {
		return err
	}
	c.salt = salt

	if err := c.writeServerGreeting(); err != nil {
		return err
	}
	if err := c.readClientAuth(); err != nil {
		return err
	}

	c.sequence++
	okPacket := WriteOKPacket(0, 0, c.status, c.capability)
	okPacket[3] = c.sequence
	_, err = c.conn.Write(okPacket)
	return err
}

func (c *clientConn) writeServerGreeting() error {
	data := make([]byte, 4, 128)

	data = append(data, 10) // protocol version
	data = append(data, ServerVersion...)
	data = append(data, 0)

	data = append(data, byte(c.connID), byte(c.connID>>8), byte(c.connID>>16), byte(c.connID>>24))
	data = append(data, c.salt[0:8]...)
	data = append(data, 0) // filler

	capLower := uint16(DEFAULT_CAPABILITY & 0xFFFF)
	data = append(data, byte(capLower), byte(capLower>>8))

	data = append(data, 33) // character set: utf8_general_ci
	data = append(data, byte(c.status), byte(c.status>>8))

	capUpper := uint16((DEFAULT_CAPABILITY >> 16) & 0xFFFF)
	data = append(data, byte(capUpper), byte(capUpper>>8))

	data = append(data, 21) // auth plugin data length
	data = append(data, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	data = append(data, c.salt[8:20]...)
	data = append(data, 0)

	binary.LittleEndian.PutUint32(data[0:4], uint32(len(data)-4))
	data[3] = c.sequence
	c.sequence++

	_, err := c.conn.Write(data)
	return err
}

func (c *clientConn) readClientAuth() error {
	packet, err := c.readPacket()
	if err != nil {
		return err
	}

	pos := 0
	c.capability = binary.LittleEndian.Uint32(packet[pos : pos+4])
	pos += 4  // capability flags
	pos += 4  // max packet size
	pos += 1  // character set
	pos += 23 // reserved

	user := string(packet[pos : pos+bytes.IndexByte(packet[pos:], 0)])
	pos += len(user) + 1

	authLen := int(packet[pos])
	pos++
	pos += authLen // auth response, unused: no password check

	if c.capability&CLIENT_CONNECT_WITH_DB > 0 && pos < len(packet) {
		db := string(packet[pos : pos+bytes.IndexByte(packet[pos:], 0)])
		if db != "" {
			c.orch.Session.SetDatabase(db)
		}
	}

	return nil
}

func (c *clientConn) run() {
	for {
		packet, err := c.readPacket()
		if err != nil {
			if err != io.EOF {
				c.orch.Log.Warn().Err(err).Uint32("conn_id", c.connID).Msg("read error")
			}
			return
		}
		if len(packet) < 1 {
			continue
		}

		cmd := packet[0]
		data := packet[1:]

		if err := c.dispatch(cmd, data); err != nil {
			if err == io.EOF {
				return
			}
			c.orch.Log.Warn().Err(err).Uint32("conn_id", c.connID).Msg("command error")
			_ = c.writeError(err)
		}

		c.sequence = 0
	}
}

func (c *clientConn) dispatch(cmd byte, data []byte) error {
	switch cmd {
	case comQuit:
		return io.EOF
	case comInitDB:
		c.orch.Session.SetDatabase(string(data))
		return c.writeOK()
	case comFieldList:
		return c.writeEOF()
	case comPing:
		return c.writeOK()
	case comQuery:
		return c.handleQuery(string(data))
	case comStmtPrepare, comStmtExecute:
		return fmt.Errorf("prepared statements are not supported by this proxy")
	default:
		return fmt.Errorf("command %d not supported", cmd)
	}
}

func (c *clientConn) handleQuery(query string) error {
	statementID := atomic.AddUint64(&c.statements, 1)
	result := c.orch.Process(context.Background(), statementID, query)

	if result.Err != nil {
		return c.writeTypedError(result.Err.Number, result.Err.SQLState, result.Err.Message)
	}
	return c.writeResultSet(result.Columns, result.Rows)
}

func (c *clientConn) readPacket() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, err
	}

	length := int(uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16)
	c.sequence = header[3]

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *clientConn) writeOK() error {
	c.sequence++
	packet := WriteOKPacket(0, 0, c.status, c.capability)
	packet[3] = c.sequence
	_, err := c.conn.Write(packet)
	return err
}

func (c *clientConn) writeEOF() error {
	c.sequence++
	packet := WriteEOFPacket(c.status, c.capability)
	packet[3] = c.sequence
	_, err := c.conn.Write(packet)
	return err
}

// writeError reports a generic result-shape error for failures the
// wire codec itself produces (unsupported commands), not ones already
// classified by the pipeline.
func (c *clientConn) writeError(e error) error {
	return c.writeTypedError(1105, "HY000", e.Error())
}

func (c *clientConn) writeTypedError(number uint16, sqlState, message string) error {
	c.sequence++
	packet := WriteErrorPacket(number, sqlState, message, c.capability)
	packet[3] = c.sequence
	_, err := c.conn.Write(packet)
	return err
}
