package socket

import "errors"

// Close reasons observable by the peer. These are the stable strings the
// client receives when the server tears down a connection or a socket.
const (
	ReasonParseError                = "parse error"
	ReasonPingTimeout               = "ping timeout"
	ReasonTransportError            = "transport error"
	ReasonTransportClose            = "transport close"
	ReasonServerShutdown            = "server shutting down"
	ReasonForcedClose               = "forced close"
	ReasonForcedServerClose         = "forced server close"
	ReasonServerNamespaceDisconnect = "server namespace disconnect"
	ReasonClientNamespaceDisconnect = "client namespace disconnect"
)

// Protocol errors. Any of these on the inbound path is fatal to the
// connection, which is closed with ReasonParseError.
var (
	ErrMalformedFrame       = errors.New("malformed frame")
	ErrUnknownType          = errors.New("unknown packet type")
	ErrUnexpectedAttachment = errors.New("unexpected binary attachment")
	ErrReservedEvent        = errors.New("reserved event name")
)

// Lifecycle errors.
var (
	ErrPingTimeout    = errors.New(ReasonPingTimeout)
	ErrTransportError = errors.New(ReasonTransportError)
	ErrTransportClose = errors.New(ReasonTransportClose)
	ErrServerShutdown = errors.New(ReasonServerShutdown)
	ErrForcedClose    = errors.New(ReasonForcedClose)
)

// Acknowledgement errors. ErrAckTimeout and ErrAckAborted are delivered to
// the registered callback; ErrDoubleAck and ErrLateAck are warnings only.
var (
	ErrAckTimeout   = errors.New("operation has timed out")
	ErrAckAborted   = errors.New("socket has been disconnected before the acknowledgement was received")
	ErrDoubleAck    = errors.New("acknowledgement already sent")
	ErrLateAck      = errors.New("acknowledgement received after completion")
	ErrAckTableFull = errors.New("too many pending acknowledgements")
)

// Backpressure errors reported to the caller of an emit.
var (
	// ErrWouldBlock is returned by MessageChannel.Write when the channel
	// cannot accept the frame without blocking.
	ErrWouldBlock = errors.New("write would block")

	// ErrWriteQueueFull is returned to the emitter when a non-volatile
	// packet cannot be queued on the connection.
	ErrWriteQueueFull = errors.New("outbound queue is full")
)
