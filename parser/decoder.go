package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pelicanio/socketio/pkg/log"
	"github.com/pelicanio/socketio/pkg/types"
)

var parserLog = log.NewLog("socket.io:parser")

// Decode failures. Any of them is fatal to the frame; the connection layer
// decides what happens to the session.
var (
	ErrShortFrame           = errors.New("malformed frame")
	ErrUnknownPacketType    = errors.New("unknown packet type")
	ErrInvalidPayload       = errors.New("invalid payload")
	ErrIllegalAttachments   = errors.New("illegal attachments")
	ErrUnexpectedAttachment = errors.New("got binary data when not reconstructing a packet")
	ErrPendingAttachments   = errors.New("got plaintext data when reconstructing a packet")
)

// assembler holds a binary packet whose attachment frames are still in
// flight. It completes once the expected number of frames arrived.
type assembler struct {
	mu      sync.Mutex
	packet  *Packet
	need    uint64
	buffers []types.BufferInterface
}

func newAssembler(packet *Packet) *assembler {
	need := uint64(0)
	if packet.Attachments != nil {
		need = *packet.Attachments
	}
	return &assembler{packet: packet, need: need}
}

// add feeds one attachment frame. It returns the finished packet once the
// last frame is in, with every placeholder replaced by its bytes.
func (a *assembler) add(buffer types.BufferInterface) (*Packet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buffers = append(a.buffers, buffer)
	if uint64(len(a.buffers)) < a.need {
		return nil, nil
	}

	data, err := joinAttachments(a.packet.Data, a.buffers)
	if err != nil {
		return nil, err
	}
	a.packet.Data = data
	return a.packet, nil
}

// decoder turns inbound frames back into packets. Text frames decode
// immediately unless they open a binary packet, in which case the decoder
// swallows binary frames until the packet is whole, then emits "decoded".
type decoder struct {
	types.EventEmitter

	pending atomic.Pointer[assembler]
}

func NewDecoder() Decoder {
	return &decoder{EventEmitter: types.NewEventEmitter()}
}

func (d *decoder) Add(data any) error {
	switch v := data.(type) {
	case string:
		return d.addText(v)
	case *types.StringBuffer:
		return d.addText(v.String())
	case []byte:
		return d.addBinary(types.NewBytesBuffer(v))
	case types.BufferInterface:
		return d.addBinary(v)
	case io.Reader:
		if closer, ok := data.(io.Closer); ok {
			defer closer.Close()
		}
		buffer := types.NewBytesBuffer(nil)
		if _, err := buffer.ReadFrom(v); err != nil {
			return fmt.Errorf("%w: %s", ErrBadAttachment, err.Error())
		}
		return d.addBinary(buffer)
	default:
		return fmt.Errorf("%w: unknown input %T", ErrInvalidPayload, data)
	}
}

func (d *decoder) addText(frame string) error {
	if d.pending.Load() != nil {
		return ErrPendingAttachments
	}

	packet, err := parseFrame(frame)
	if err != nil {
		parserLog.Debug("decode error: %v", err)
		return err
	}
	parserLog.Debug("decoded %s as %v", frame, packet)

	if packet.Type.binary() && packet.Attachments != nil && *packet.Attachments > 0 {
		d.pending.Store(newAssembler(packet))
		return nil
	}
	d.Emit("decoded", packet)
	return nil
}

func (d *decoder) addBinary(buffer types.BufferInterface) error {
	pending := d.pending.Load()
	if pending == nil {
		return ErrUnexpectedAttachment
	}

	packet, err := pending.add(buffer)
	if err != nil {
		d.pending.Store(nil)
		return err
	}
	if packet != nil {
		d.pending.Store(nil)
		d.Emit("decoded", packet)
	}
	return nil
}

// Destroy drops any half-assembled packet and every listener.
func (d *decoder) Destroy() {
	d.pending.Store(nil)
	d.Clear()
}

// parseFrame scans one text frame:
//
//	<type>[<attachments>-][<nsp>,][<ackid>][<json payload>]
func parseFrame(frame string) (*Packet, error) {
	if len(frame) == 0 {
		return nil, ErrShortFrame
	}

	packet := &Packet{Type: PacketType(frame[0] - '0'), Nsp: "/"}
	if !packet.Type.Valid() {
		return nil, ErrUnknownPacketType
	}
	pos := 1

	if packet.Type.binary() {
		count, next, ok := scanDigits(frame, pos)
		if !ok || next >= len(frame) || frame[next] != '-' {
			return nil, ErrIllegalAttachments
		}
		packet.Attachments = &count
		pos = next + 1
	}

	if pos < len(frame) && frame[pos] == '/' {
		end := pos
		for end < len(frame) && frame[end] != ',' {
			end++
		}
		if end == len(frame) {
			// a namespace may terminate the frame ("1/admin")
			packet.Nsp = frame[pos:]
			return packet, validatePayload(packet)
		}
		packet.Nsp = frame[pos:end]
		pos = end + 1
	}

	if id, next, ok := scanDigits(frame, pos); ok {
		packet.Id = &id
		pos = next
	}

	if pos < len(frame) {
		var payload any
		if err := json.Unmarshal([]byte(frame[pos:]), &payload); err != nil {
			return nil, ErrInvalidPayload
		}
		packet.Data = payload
	}
	return packet, validatePayload(packet)
}

// scanDigits reads a decimal run starting at pos. ok is false when no
// digit is present.
func scanDigits(frame string, pos int) (value uint64, next int, ok bool) {
	end := pos
	for end < len(frame) && frame[end] >= '0' && frame[end] <= '9' {
		end++
	}
	if end == pos {
		return 0, pos, false
	}
	value, err := strconv.ParseUint(frame[pos:end], 10, 64)
	if err != nil {
		return 0, pos, false
	}
	return value, end, true
}

// validatePayload enforces the payload shape each packet type allows.
func validatePayload(packet *Packet) error {
	switch packet.Type {
	case CONNECT:
		if packet.Data == nil {
			return nil
		}
		if _, ok := packet.Data.(map[string]any); ok {
			return nil
		}
	case DISCONNECT:
		if packet.Data == nil {
			return nil
		}
	case CONNECT_ERROR:
		switch packet.Data.(type) {
		case map[string]any, string:
			return nil
		}
	case EVENT, BINARY_EVENT:
		data, ok := packet.Data.([]any)
		if !ok || len(data) == 0 {
			break
		}
		if name, ok := data[0].(string); ok && !ReservedEvents.Has(name) {
			return nil
		}
	case ACK, BINARY_ACK:
		if _, ok := packet.Data.([]any); ok {
			return nil
		}
	}
	return ErrInvalidPayload
}
