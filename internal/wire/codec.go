// Package wire carries engine messages over a plain stream connection
// (TCP, Unix socket or vsock). Every message is a protobuf Struct preceded
// by its length as a 4-byte big-endian integer.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// MaxMessageBytes bounds a single frame.
const MaxMessageBytes = 8 * 1024 * 1024

// Codec reads and writes framed messages on a connection. It is not safe
// for concurrent use; each connection has a single owner at a time.
type Codec struct {
	conn net.Conn
	hdr  [4]byte
}

// NewCodec wraps conn.
func NewCodec(conn net.Conn) *Codec {
	return &Codec{conn: conn}
}

// Conn returns the underlying connection.
func (c *Codec) Conn() net.Conn { return c.conn }

// Send writes one message.
func (c *Codec) Send(msg *structpb.Struct) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("protobuf marshal: %w", err)
	}
	if len(data) > MaxMessageBytes {
		return fmt.Errorf("wire message too large: %d bytes", len(data))
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)

	_, err = c.conn.Write(buf)
	return err
}

// Receive reads one message. io.EOF means the peer closed the connection
// between messages.
func (c *Codec) Receive() (*structpb.Struct, error) {
	if _, err := io.ReadFull(c.conn, c.hdr[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(c.hdr[:])
	if n > MaxMessageBytes {
		return nil, fmt.Errorf("wire message too large: %d bytes", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	msg := &structpb.Struct{}
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("protobuf unmarshal: %w", err)
	}
	return msg, nil
}

// Close closes the connection.
func (c *Codec) Close() error { return c.conn.Close() }
