package parser

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pelicanio/socketio/pkg/types"
)

type encoder struct{}

func NewEncoder() Encoder {
	return &encoder{}
}

// Encode serializes a packet: one text frame, followed by one binary frame
// per attachment when the payload carries binary data. An EVENT or ACK
// whose payload turns out to be binary is promoted to its binary variant.
func (e *encoder) Encode(packet *Packet) []types.BufferInterface {
	parserLog.Debug("encoding packet %v", packet)

	if packet.Type == EVENT && HasBinary(packet.Data) {
		packet.Type = BINARY_EVENT
	} else if packet.Type == ACK && HasBinary(packet.Data) {
		packet.Type = BINARY_ACK
	}

	if !packet.Type.binary() {
		return []types.BufferInterface{e.text(packet)}
	}

	data, buffers := splitAttachments(packet.Data)
	packet.Data = data
	count := uint64(len(buffers))
	packet.Attachments = &count
	return append([]types.BufferInterface{e.text(packet)}, buffers...)
}

// text renders the header and JSON payload of one frame.
func (e *encoder) text(packet *Packet) *types.StringBuffer {
	var frame strings.Builder
	frame.WriteByte(byte(packet.Type) + '0')

	if packet.Type.binary() && packet.Attachments != nil {
		frame.WriteString(strconv.FormatUint(*packet.Attachments, 10))
		frame.WriteByte('-')
	}
	if len(packet.Nsp) > 0 && packet.Nsp != "/" {
		frame.WriteString(packet.Nsp)
		frame.WriteByte(',')
	}
	if packet.Id != nil {
		frame.WriteString(strconv.FormatUint(*packet.Id, 10))
	}
	if packet.Data != nil {
		if payload, err := json.Marshal(packet.Data); err == nil {
			frame.Write(payload)
		} else {
			parserLog.Debug("payload marshal failed: %v", err)
		}
	}

	parserLog.Debug("encoded %v as %s", packet, frame.String())
	return types.NewStringBufferString(frame.String())
}
