// Package nchs implements the pre-simulation handshake protocol: lobby
// join/validation, session-start broadcast, and peer-punch sequencing that
// run before a rollback scheduler's first tick (SPEC_FULL.md §4.6).
//
// Framing is grounded directly on internal/ipc/protocol.go's
// Header/WriteMessage/ReadMessage pair, extended with a literal 4-byte
// magic prefix: the IPC protocol trusts its Unix-socket peer and can skip
// straight to a version check, but NCHS runs over an untrusted network
// link and must reject garbage before it ever reaches gob decoding.
package nchs

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"sync"
)

// Magic is the 4-byte prefix every NCHS frame begins with.
var Magic = [4]byte{'N', 'C', 'H', 'S'}

// ProtocolVersion is the handshake wire version this build understands.
const ProtocolVersion uint16 = 1

// RuntimeVersion identifies this build's guest-runtime ABI, compared
// against a peer's declared version during JoinRequest validation.
const RuntimeVersion uint32 = 1

// Message type tags.
const (
	TypeJoinRequest byte = iota + 1
	TypeJoinAccept
	TypeJoinReject
	TypeLobbyUpdate
	TypeGuestReady
	TypeSessionStart
	TypePunchHello
	TypePunchAck
	TypePing
	TypePong
	TypeError
	TypeInputSample
	TypeHashSample
)

// MaxMessageSize bounds a single frame's body, rejecting anything larger
// before it is read into memory.
const MaxMessageSize = 64 * 1024

// Header is the fixed NCHS frame prefix: magic, version, type, reserved,
// then a 32-bit body length.
type Header struct {
	Magic    [4]byte
	Version  uint16
	Type     byte
	Reserved byte
	Length   uint32
}

// HeaderSize is the encoded size of Header on the wire.
const HeaderSize = 4 + 2 + 1 + 1 + 4

// WriteMessage frames and writes msgType/data to w. data may be nil for
// bodiless messages (Ping, Pong).
func WriteMessage(w io.Writer, msgType byte, data interface{}) error {
	var body []byte
	if data != nil {
		gobBuf := getBuffer()
		defer putBuffer(gobBuf)

		enc := gob.NewEncoder(gobBuf)
		if err := enc.Encode(data); err != nil {
			return fmt.Errorf("nchs: gob encode: %w", err)
		}
		body = gobBuf.Bytes()
	}

	if len(body) > MaxMessageSize {
		return fmt.Errorf("nchs: message too large: %d > %d", len(body), MaxMessageSize)
	}

	headerBuf := make([]byte, HeaderSize)
	copy(headerBuf[0:4], Magic[:])
	binary.LittleEndian.PutUint16(headerBuf[4:6], ProtocolVersion)
	headerBuf[6] = msgType
	binary.LittleEndian.PutUint32(headerBuf[8:12], uint32(len(body)))

	if _, err := w.Write(headerBuf); err != nil {
		return fmt.Errorf("nchs: write header: %w", err)
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return fmt.Errorf("nchs: write body: %w", err)
		}
	}
	return nil
}

// ReadMessage reads and validates one frame from r, returning its type tag
// and raw gob body. A bad magic or version is a hard error: the link is
// either not speaking NCHS or speaking an incompatible revision of it, and
// neither is recoverable by continuing to read.
func ReadMessage(r io.Reader) (byte, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return 0, nil, fmt.Errorf("nchs: read header: %w", err)
	}

	var magic [4]byte
	copy(magic[:], headerBuf[0:4])
	if magic != Magic {
		return 0, nil, fmt.Errorf("nchs: %w", ErrBadMagic)
	}

	version := binary.LittleEndian.Uint16(headerBuf[4:6])
	if version != ProtocolVersion {
		return 0, nil, fmt.Errorf("nchs: version mismatch: got %d, want %d", version, ProtocolVersion)
	}

	msgType := headerBuf[6]
	length := binary.LittleEndian.Uint32(headerBuf[8:12])
	if length > MaxMessageSize {
		return 0, nil, fmt.Errorf("nchs: message too large: %d > %d", length, MaxMessageSize)
	}

	var body []byte
	if length > 0 {
		body = make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, nil, fmt.Errorf("nchs: read body: %w", err)
		}
	}
	return msgType, body, nil
}

// Decode gob-decodes a message body into dst, which must be a pointer.
func Decode(body []byte, dst interface{}) error {
	dec := gob.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("nchs: gob decode: %w", err)
	}
	return nil
}

var bufferPool = sync.Pool{
	New: func() interface{} { return new(gobBuffer) },
}

// gobBuffer is an append-only byte buffer satisfying io.Writer, pooled the
// same way internal/ipc/protocol.go pools its encode scratch space.
type gobBuffer struct {
	buf []byte
}

func (b *gobBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *gobBuffer) Bytes() []byte { return b.buf }
func (b *gobBuffer) Reset()        { b.buf = b.buf[:0] }

func getBuffer() *gobBuffer {
	buf := bufferPool.Get().(*gobBuffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *gobBuffer) {
	bufferPool.Put(buf)
}
