// Package discordrpc speaks the local Discord client's RPC dialect: a
// framed, nonce-correlated JSON protocol over either a named pipe or a
// local WebSocket, with a two-step OAuth flow and voice-event
// subscriptions.
package discordrpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// Opcodes of the framed pipe protocol.
const (
	OpHandshake uint32 = 0
	OpFrame     uint32 = 1
	OpClose     uint32 = 2
	OpPing      uint32 = 3
	OpPong      uint32 = 4
)

// ErrClosed is returned by Recv once the peer has closed the connection.
var ErrClosed = errors.New("connection closed by Discord")

// Transport is a framed byte channel to the local Discord client. Senders
// serialize one frame at a time; Recv blocks until a full frame arrives.
type Transport interface {
	Send(opcode uint32, payload []byte) error
	Recv() (opcode uint32, payload []byte, err error)
	Close() error
}

// pipeTransport frames JSON over a stream connection with an 8-byte
// little-endian header (opcode u32, length u32). PING frames are answered
// in place with a PONG echoing the payload, so Recv only surfaces data
// frames.
type pipeTransport struct {
	conn net.Conn
	mu   sync.Mutex
}

func (t *pipeTransport) Send(opcode uint32, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return writeFrame(t.conn, opcode, payload)
}

func (t *pipeTransport) Recv() (uint32, []byte, error) {
	for {
		opcode, payload, err := readFrame(t.conn)
		if err != nil {
			return 0, nil, err
		}
		switch opcode {
		case OpPing:
			if err := t.Send(OpPong, payload); err != nil {
				return 0, nil, err
			}
		case OpClose:
			return 0, nil, ErrClosed
		default:
			return opcode, payload, nil
		}
	}
}

func (t *pipeTransport) Close() error {
	return t.conn.Close()
}

func writeFrame(w io.Writer, opcode uint32, payload []byte) error {
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], opcode)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

func readFrame(r io.Reader) (uint32, []byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, ErrClosed
		}
		return 0, nil, fmt.Errorf("read frame header: %w", err)
	}
	opcode := binary.LittleEndian.Uint32(header[0:4])
	length := binary.LittleEndian.Uint32(header[4:8])
	if length == 0 {
		return opcode, nil, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, ErrClosed
		}
		return 0, nil, fmt.Errorf("read frame payload: %w", err)
	}
	return opcode, payload, nil
}
