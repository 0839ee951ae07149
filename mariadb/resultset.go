package mariadb

import (
	"encoding/binary"
	"fmt"
)

// writeResultSet encodes a (columns, rows) pair as a wire result set:
// column-count packet, one column-definition packet per name, an EOF,
// one row packet per row, and a final EOF.
func (c *clientConn) writeResultSet(columns []string, rows [][]any) error {
	var result []byte

	packet := make([]byte, 4)
	packet = append(packet, PutLengthEncodedInt(uint64(len(columns)))...)
	binary.LittleEndian.PutUint32(packet[0:4], uint32(len(packet)-4))
	c.sequence++
	packet[3] = c.sequence
	result = append(result, packet...)

	for _, col := range columns {
		packet = make([]byte, 4)
		packet = append(packet, 0x03, 'd', 'e', 'f') // catalog
		packet = append(packet, 0)                   // schema
		packet = append(packet, 0)                   // table
		packet = append(packet, 0)                   // org_table
		packet = append(packet, PutLengthEncodedInt(uint64(len(col)))...)
		packet = append(packet, []byte(col)...)
		packet = append(packet, 0)                      // org_name
		packet = append(packet, 0x0c)                   // length of fixed fields
		packet = append(packet, 0x21, 0x00)             // character set
		packet = append(packet, 0xff, 0xff, 0xff, 0xff) // column length
		packet = append(packet, 0xfd)                   // type: VAR_STRING
		packet = append(packet, 0x00, 0x00)             // flags
		packet = append(packet, 0x00)                   // decimals
		packet = append(packet, 0x00, 0x00)             // filler

		binary.LittleEndian.PutUint32(packet[0:4], uint32(len(packet)-4))
		c.sequence++
		packet[3] = c.sequence
		result = append(result, packet...)
	}

	c.sequence++
	eofPacket := WriteEOFPacket(c.status, c.capability)
	eofPacket[3] = c.sequence
	result = append(result, eofPacket...)

	for _, row := range rows {
		packet = make([]byte, 4)
		for _, val := range row {
			if val == nil {
				packet = append(packet, 0xfb) // NULL
				continue
			}
			str := valueToString(val)
			packet = append(packet, PutLengthEncodedInt(uint64(len(str)))...)
			packet = append(packet, []byte(str)...)
		}

		binary.LittleEndian.PutUint32(packet[0:4], uint32(len(packet)-4))
		c.sequence++
		packet[3] = c.sequence
		result = append(result, packet...)
	}

	c.sequence++
	eofPacket = WriteEOFPacket(c.status, c.capability)
	eofPacket[3] = c.sequence
	result = append(result, eofPacket...)

	_, err := c.conn.Write(result)
	return err
}

func valueToString(val any) string {
	switch v := val.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
