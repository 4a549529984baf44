// Package msgpack provides an alternative wire encoding for Socket.IO
// packets: each packet travels as a single MessagePack blob, binary data
// included, so no placeholder substitution or attachment framing is
// needed. Both peers must agree on the parser at handshake time.
package msgpack

import (
	"errors"
	"fmt"
	"io"

	"github.com/pelicanio/socketio/parser"
	"github.com/pelicanio/socketio/pkg/log"
	"github.com/pelicanio/socketio/pkg/types"
	"github.com/pelicanio/socketio/pkg/utils"
)

var msgpack_log = log.NewLog("socket.io:msgpack-parser")

var (
	ErrInvalidData = errors.New("invalid msgpack payload")
)

type msgpackParser struct{}

// NewParser returns a parser.Parser producing MessagePack frames.
func NewParser() parser.Parser {
	return &msgpackParser{}
}

func (p *msgpackParser) NewEncoder() parser.Encoder {
	return NewEncoder()
}

func (p *msgpackParser) NewDecoder() parser.Decoder {
	return NewDecoder()
}

type encoder struct{}

func NewEncoder() parser.Encoder {
	return &encoder{}
}

// Encode serializes the packet as one binary frame.
func (e *encoder) Encode(packet *parser.Packet) []types.BufferInterface {
	msgpack_log.Debug("encoding packet %v", packet)
	data, err := utils.MarshalMsgpack(packet)
	if err != nil {
		msgpack_log.Debug("encode failed: %v", err)
		return nil
	}
	return []types.BufferInterface{types.NewBytesBuffer(data)}
}

type decoder struct {
	types.EventEmitter
}

func NewDecoder() parser.Decoder {
	return &decoder{EventEmitter: types.NewEventEmitter()}
}

// Add decodes one MessagePack frame into a packet and emits "decoded".
func (d *decoder) Add(data any) error {
	raw, err := readBytes(data)
	if err != nil {
		return err
	}

	packet := &parser.Packet{}
	if err := utils.UnmarshalMsgpack(raw, packet); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidData, err.Error())
	}
	if err := validate(packet); err != nil {
		return err
	}
	if packet.Nsp == "" {
		packet.Nsp = "/"
	}
	d.Emit("decoded", packet)
	return nil
}

func (d *decoder) Destroy() {
	d.Clear()
}

func readBytes(data any) ([]byte, error) {
	switch typedData := data.(type) {
	case []byte:
		return typedData, nil
	case string:
		return []byte(typedData), nil
	case types.BufferInterface:
		return typedData.Bytes(), nil
	case io.Reader:
		if closer, ok := data.(io.Closer); ok {
			defer closer.Close()
		}
		return io.ReadAll(typedData)
	default:
		return nil, fmt.Errorf("%w: unknown type %T", ErrInvalidData, data)
	}
}

func validate(packet *parser.Packet) error {
	if !packet.Type.Valid() {
		return fmt.Errorf("%w: unknown packet type %d", ErrInvalidData, packet.Type)
	}
	switch packet.Type {
	case parser.EVENT, parser.BINARY_EVENT:
		data, ok := packet.Data.([]any)
		if !ok || len(data) == 0 {
			return fmt.Errorf("%w: event payload must be a non-empty array", ErrInvalidData)
		}
		if _, ok := data[0].(string); !ok {
			return fmt.Errorf("%w: event name must be a string", ErrInvalidData)
		}
	case parser.ACK, parser.BINARY_ACK:
		if _, ok := packet.Data.([]any); !ok {
			return fmt.Errorf("%w: ack payload must be an array", ErrInvalidData)
		}
		if packet.Id == nil {
			return fmt.Errorf("%w: ack packet without id", ErrInvalidData)
		}
	}
	return nil
}
