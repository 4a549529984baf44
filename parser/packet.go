package parser

import "github.com/pelicanio/socketio/pkg/types"

// Protocol is the Socket.IO protocol revision this codec speaks.
const Protocol = 5

// PacketType is the leading digit of a text frame.
type PacketType byte

const (
	CONNECT PacketType = iota
	DISCONNECT
	EVENT
	ACK
	CONNECT_ERROR
	BINARY_EVENT
	BINARY_ACK
)

var packetTypeNames = [...]string{
	CONNECT:       "CONNECT",
	DISCONNECT:    "DISCONNECT",
	EVENT:         "EVENT",
	ACK:           "ACK",
	CONNECT_ERROR: "CONNECT_ERROR",
	BINARY_EVENT:  "BINARY_EVENT",
	BINARY_ACK:    "BINARY_ACK",
}

// Valid reports whether t is one of the protocol's packet types.
func (t PacketType) Valid() bool {
	return int(t) < len(packetTypeNames)
}

func (t PacketType) String() string {
	if !t.Valid() {
		return "UNKNOWN"
	}
	return packetTypeNames[t]
}

// binary reports whether packets of this type carry attachment frames.
func (t PacketType) binary() bool {
	return t == BINARY_EVENT || t == BINARY_ACK
}

// ReservedEvents are the event names the protocol claims for lifecycle
// signaling. They are rejected as data events in both directions; the
// connection layer enforces the same set.
var ReservedEvents = types.NewSet(
	"connect",
	"connecting",
	"connect_error",
	"disconnect",
	"disconnecting",
	"newListener",
	"removeListener",
)

// Packet is one decoded Socket.IO packet. Binary packets additionally
// carry the expected attachment count; their payload holds placeholder
// objects until the attachment frames arrive.
type Packet struct {
	Type        PacketType `json:"type" msgpack:"type"`
	Nsp         string     `json:"nsp" msgpack:"nsp"`
	Data        any        `json:"data,omitempty" msgpack:"data,omitempty"`
	Id          *uint64    `json:"id,omitempty" msgpack:"id,omitempty"`
	Attachments *uint64    `json:"attachments,omitempty" msgpack:"attachments,omitempty"`
}
