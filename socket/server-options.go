package socket

import (
	"time"

	"github.com/pelicanio/socketio/parser"
)

type ServerOptionsInterface interface {
	SetPingInterval(time.Duration)
	GetRawPingInterval() *time.Duration
	PingInterval() time.Duration

	SetPingTimeout(time.Duration)
	GetRawPingTimeout() *time.Duration
	PingTimeout() time.Duration

	SetMaxPayload(int64)
	GetRawMaxPayload() *int64
	MaxPayload() int64

	SetConnectTimeout(time.Duration)
	GetRawConnectTimeout() *time.Duration
	ConnectTimeout() time.Duration

	SetCloseGrace(time.Duration)
	GetRawCloseGrace() *time.Duration
	CloseGrace() time.Duration

	SetAckTimeoutDefault(time.Duration)
	GetRawAckTimeoutDefault() *time.Duration
	AckTimeoutDefault() time.Duration

	SetMaxAckTableSize(int)
	GetRawMaxAckTableSize() *int
	MaxAckTableSize() int

	SetPerConnectionOutboundQueue(int)
	GetRawPerConnectionOutboundQueue() *int
	PerConnectionOutboundQueue() int

	SetCleanupEmptyChildNamespaces(bool)
	GetRawCleanupEmptyChildNamespaces() *bool
	CleanupEmptyChildNamespaces() bool

	SetMaxConnections(int)
	GetRawMaxConnections() *int
	MaxConnections() int

	SetAdapter(adapter AdapterConstructor)
	GetRawAdapter() AdapterConstructor
	Adapter() AdapterConstructor

	SetParser(parser parser.Parser)
	GetRawParser() parser.Parser
	Parser() parser.Parser
}

// ServerOptions carries the ambient configuration of a Server. Every
// setter stores a pointer so zero values (0, false) can be distinguished
// from "unset, use default".
type ServerOptions struct {
	// how long to wait between two ping packets
	pingInterval *time.Duration

	// how long to wait for a pong packet before considering the connection closed
	pingTimeout *time.Duration

	// the maximum size, in bytes, of a single frame
	maxPayload *int64

	// how long a client has to join a namespace before the connection is dropped
	connectTimeout *time.Duration

	// how long to wait for in-flight writes to flush when Close is called
	closeGrace *time.Duration

	// the default timeout applied to Emit calls carrying an ack callback, when Timeout() was not set explicitly
	ackTimeoutDefault *time.Duration

	// the maximum number of pending acks the server-wide ack table may hold before Emit-with-ack fails
	maxAckTableSize *int

	// the size of the outbound frame queue applied per connection; Volatile writes are dropped once it is half full
	perConnectionOutboundQueue *int

	// whether dynamically created child namespaces are removed once their last socket disconnects
	cleanupEmptyChildNamespaces *bool

	// the total number of connections the server accepts; 0 means unlimited
	maxConnections *int

	// the adapter to use
	adapter AdapterConstructor

	// the parser to use
	parser parser.Parser
}

func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{}
}

func (s *ServerOptions) Assign(data ServerOptionsInterface) (*ServerOptions, error) {
	if data == nil {
		return s, nil
	}
	if s.GetRawPingInterval() == nil {
		s.SetPingInterval(data.PingInterval())
	}
	if s.GetRawPingTimeout() == nil {
		s.SetPingTimeout(data.PingTimeout())
	}
	if s.GetRawMaxPayload() == nil {
		s.SetMaxPayload(data.MaxPayload())
	}
	if s.GetRawConnectTimeout() == nil {
		s.SetConnectTimeout(data.ConnectTimeout())
	}
	if s.GetRawCloseGrace() == nil {
		s.SetCloseGrace(data.CloseGrace())
	}
	if s.GetRawAckTimeoutDefault() == nil {
		s.SetAckTimeoutDefault(data.AckTimeoutDefault())
	}
	if s.GetRawMaxAckTableSize() == nil {
		s.SetMaxAckTableSize(data.MaxAckTableSize())
	}
	if s.GetRawPerConnectionOutboundQueue() == nil {
		s.SetPerConnectionOutboundQueue(data.PerConnectionOutboundQueue())
	}
	if s.GetRawCleanupEmptyChildNamespaces() == nil {
		s.SetCleanupEmptyChildNamespaces(data.CleanupEmptyChildNamespaces())
	}
	if s.GetRawMaxConnections() == nil {
		s.SetMaxConnections(data.MaxConnections())
	}
	if s.GetRawAdapter() == nil {
		s.SetAdapter(data.Adapter())
	}
	if s.GetRawParser() == nil {
		s.SetParser(data.Parser())
	}
	return s, nil
}

func (s *ServerOptions) SetPingInterval(d time.Duration) { s.pingInterval = &d }
func (s *ServerOptions) GetRawPingInterval() *time.Duration { return s.pingInterval }
func (s *ServerOptions) PingInterval() time.Duration {
	if s.pingInterval == nil {
		return 25000 * time.Millisecond
	}
	return *s.pingInterval
}

func (s *ServerOptions) SetPingTimeout(d time.Duration) { s.pingTimeout = &d }
func (s *ServerOptions) GetRawPingTimeout() *time.Duration { return s.pingTimeout }
func (s *ServerOptions) PingTimeout() time.Duration {
	if s.pingTimeout == nil {
		return 20000 * time.Millisecond
	}
	return *s.pingTimeout
}

func (s *ServerOptions) SetMaxPayload(n int64) { s.maxPayload = &n }
func (s *ServerOptions) GetRawMaxPayload() *int64 { return s.maxPayload }
func (s *ServerOptions) MaxPayload() int64 {
	if s.maxPayload == nil {
		return 1e6
	}
	return *s.maxPayload
}

func (s *ServerOptions) SetConnectTimeout(d time.Duration) { s.connectTimeout = &d }
func (s *ServerOptions) GetRawConnectTimeout() *time.Duration { return s.connectTimeout }
func (s *ServerOptions) ConnectTimeout() time.Duration {
	if s.connectTimeout == nil {
		return 45000 * time.Millisecond
	}
	return *s.connectTimeout
}

func (s *ServerOptions) SetCloseGrace(d time.Duration) { s.closeGrace = &d }
func (s *ServerOptions) GetRawCloseGrace() *time.Duration { return s.closeGrace }
func (s *ServerOptions) CloseGrace() time.Duration {
	if s.closeGrace == nil {
		return 500 * time.Millisecond
	}
	return *s.closeGrace
}

func (s *ServerOptions) SetAckTimeoutDefault(d time.Duration) { s.ackTimeoutDefault = &d }
func (s *ServerOptions) GetRawAckTimeoutDefault() *time.Duration { return s.ackTimeoutDefault }
func (s *ServerOptions) AckTimeoutDefault() time.Duration {
	if s.ackTimeoutDefault == nil {
		return 0
	}
	return *s.ackTimeoutDefault
}

func (s *ServerOptions) SetMaxAckTableSize(n int) { s.maxAckTableSize = &n }
func (s *ServerOptions) GetRawMaxAckTableSize() *int { return s.maxAckTableSize }
func (s *ServerOptions) MaxAckTableSize() int {
	if s.maxAckTableSize == nil {
		return 10000
	}
	return *s.maxAckTableSize
}

func (s *ServerOptions) SetPerConnectionOutboundQueue(n int) { s.perConnectionOutboundQueue = &n }
func (s *ServerOptions) GetRawPerConnectionOutboundQueue() *int { return s.perConnectionOutboundQueue }
func (s *ServerOptions) PerConnectionOutboundQueue() int {
	if s.perConnectionOutboundQueue == nil {
		return 1024
	}
	return *s.perConnectionOutboundQueue
}

func (s *ServerOptions) SetCleanupEmptyChildNamespaces(b bool) { s.cleanupEmptyChildNamespaces = &b }
func (s *ServerOptions) GetRawCleanupEmptyChildNamespaces() *bool { return s.cleanupEmptyChildNamespaces }
func (s *ServerOptions) CleanupEmptyChildNamespaces() bool {
	if s.cleanupEmptyChildNamespaces == nil {
		return false
	}
	return *s.cleanupEmptyChildNamespaces
}

func (s *ServerOptions) SetMaxConnections(n int) { s.maxConnections = &n }
func (s *ServerOptions) GetRawMaxConnections() *int { return s.maxConnections }
func (s *ServerOptions) MaxConnections() int {
	if s.maxConnections == nil {
		return 0
	}
	return *s.maxConnections
}

func (s *ServerOptions) SetAdapter(adapter AdapterConstructor) { s.adapter = adapter }
func (s *ServerOptions) GetRawAdapter() AdapterConstructor      { return s.adapter }
func (s *ServerOptions) Adapter() AdapterConstructor {
	if s.adapter == nil {
		return &AdapterBuilder{}
	}
	return s.adapter
}

func (s *ServerOptions) SetParser(p parser.Parser) { s.parser = p }
func (s *ServerOptions) GetRawParser() parser.Parser { return s.parser }
func (s *ServerOptions) Parser() parser.Parser {
	if s.parser == nil {
		return parser.NewParser()
	}
	return s.parser
}
