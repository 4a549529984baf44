package msgpack

import (
	"errors"
	"testing"

	"github.com/pelicanio/socketio/parser"
)

func encodeOne(t *testing.T, packet *parser.Packet) []byte {
	t.Helper()
	frames := NewEncoder().Encode(packet)
	if len(frames) != 1 {
		t.Fatalf("expected a single frame, got %d", len(frames))
	}
	return frames[0].Bytes()
}

func decodeOne(t *testing.T, data []byte) *parser.Packet {
	t.Helper()
	d := NewDecoder()
	var decoded *parser.Packet
	d.On("decoded", func(args ...any) {
		decoded = args[0].(*parser.Packet)
	})
	if err := d.Add(data); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded == nil {
		t.Fatal("no packet was emitted")
	}
	return decoded
}

func TestEventRoundTrip(t *testing.T) {
	id := uint64(13)
	packet := &parser.Packet{
		Type: parser.EVENT,
		Nsp:  "/admin",
		Id:   &id,
		Data: []any{"kick", "userX"},
	}

	decoded := decodeOne(t, encodeOne(t, packet))

	if decoded.Type != parser.EVENT || decoded.Nsp != "/admin" {
		t.Fatalf("header mangled: %+v", decoded)
	}
	if decoded.Id == nil || *decoded.Id != 13 {
		t.Fatalf("ack id mangled: %+v", decoded.Id)
	}
	data := decoded.Data.([]any)
	if data[0] != "kick" || data[1] != "userX" {
		t.Fatalf("payload mangled: %v", data)
	}
}

func TestBinaryTravelsInline(t *testing.T) {
	packet := &parser.Packet{
		Type: parser.EVENT,
		Nsp:  "/",
		Data: []any{"frame", []byte{0x01, 0x02}},
	}

	decoded := decodeOne(t, encodeOne(t, packet))

	data := decoded.Data.([]any)
	blob, ok := data[1].([]byte)
	if !ok || len(blob) != 2 || blob[0] != 0x01 || blob[1] != 0x02 {
		t.Fatalf("binary payload mangled: %#v", data[1])
	}
}

func TestDefaultNamespaceIsFilledIn(t *testing.T) {
	packet := &parser.Packet{Type: parser.CONNECT}
	decoded := decodeOne(t, encodeOne(t, packet))
	if decoded.Nsp != "/" {
		t.Fatalf("expected /, got %q", decoded.Nsp)
	}
}

func TestRejectsGarbage(t *testing.T) {
	d := NewDecoder()
	if err := d.Add([]byte{0xc1}); err == nil {
		t.Fatal("expected a decode error")
	}
}

func TestRejectsEventWithoutName(t *testing.T) {
	d := NewDecoder()
	data := encodeOne(t, &parser.Packet{Type: parser.EVENT, Nsp: "/", Data: []any{}})
	if err := d.Add(data); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("expected ErrInvalidData, got %v", err)
	}
}

func TestRejectsAckWithoutId(t *testing.T) {
	d := NewDecoder()
	data := encodeOne(t, &parser.Packet{Type: parser.ACK, Nsp: "/", Data: []any{"ok"}})
	if err := d.Add(data); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("expected ErrInvalidData, got %v", err)
	}
}
