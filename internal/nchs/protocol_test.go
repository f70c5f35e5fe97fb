package nchs

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := JoinRequest{ROMHash: 0xABCD, ConsoleType: "nethercore", RuntimeVersion: RuntimeVersion, TickRate: 60, MaxPlayers: 2}

	if err := WriteMessage(&buf, TypeJoinRequest, req); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	msgType, body, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msgType != TypeJoinRequest {
		t.Fatalf("expected type %d, got %d", TypeJoinRequest, msgType)
	}

	var got JoinRequest
	if err := Decode(body, &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != req {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, req)
	}
}

func TestReadMessageRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, TypePing, nil); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	corrupted := buf.Bytes()
	corrupted[0] ^= 0xFF

	_, _, err := ReadMessage(bytes.NewReader(corrupted))
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestWriteMessageRejectsOversizedBody(t *testing.T) {
	var buf bytes.Buffer
	huge := Error{Message: string(make([]byte, MaxMessageSize+1))}
	if err := WriteMessage(&buf, TypeError, huge); err == nil {
		t.Fatalf("expected oversized message to be rejected")
	}
}

func TestBodilessMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, TypePing, nil); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	msgType, body, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msgType != TypePing || len(body) != 0 {
		t.Fatalf("expected bodiless ping, got type=%d body=%v", msgType, body)
	}
}
