// Package parser implements the Socket.IO v5 packet codec: the
// `<type><attachments-><nsp,><ackid><json>` text frame grammar plus the
// binary attachment framing. It is pure and transport-agnostic; the
// connection layer feeds it frames and receives packets.
package parser

import (
	"github.com/pelicanio/socketio/pkg/events"
	"github.com/pelicanio/socketio/pkg/types"
)

type (
	// Encoder serializes one packet into its wire frames, text first.
	Encoder interface {
		Encode(*Packet) []types.BufferInterface
	}

	// Decoder consumes inbound frames and emits "decoded" once a full
	// packet (including attachments) is available.
	Decoder interface {
		events.EventEmitter

		Add(any) error
		Destroy()
	}

	// Parser builds the encoder/decoder pair a connection uses. Servers
	// may swap in an alternative codec (see parser/msgpack).
	Parser interface {
		NewEncoder() Encoder
		NewDecoder() Decoder
	}
)

type textParser struct{}

// NewParser returns the default text/binary wire codec.
func NewParser() Parser {
	return &textParser{}
}

func (*textParser) NewEncoder() Encoder {
	return NewEncoder()
}

func (*textParser) NewDecoder() Decoder {
	return NewDecoder()
}
