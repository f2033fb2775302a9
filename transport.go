package realtime

import "context"

// ConnectionState mirrors the peer connection state.
type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionDisconnected
	ConnectionFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNew:
		return "new"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionFailed:
		return "failed"
	case ConnectionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports states after which the transport never carries media again.
func (s ConnectionState) Terminal() bool {
	return s == ConnectionDisconnected || s == ConnectionFailed || s == ConnectionClosed
}

type ChannelState int

const (
	ChannelConnecting ChannelState = iota
	ChannelOpen
	ChannelClosing
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelClosing:
		return "closing"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DataChannel is the raw message channel underneath a ControlChannel.
// Callbacks may fire from transport goroutines.
type DataChannel interface {
	Send(data []byte) error
	OnOpen(func())
	OnMessage(func(data []byte))
	OnClose(func())
	ReadyState() ChannelState
	Close() error
}

// Transport is one peer connection carrying the microphone tracks of a
// lease and a single data channel.
type Transport interface {
	DataChannel() DataChannel
	// CreateOffer returns the local SDP once candidate gathering finished.
	CreateOffer(ctx context.Context) (string, error)
	ApplyAnswer(sdp string) error
	// OnStateChange registers the observer of connection transitions.
	// Only one observer is kept.
	OnStateChange(func(ConnectionState))
	State() ConnectionState
	// Close tears the connection down. It mutes the lease tracks but never
	// stops them. Safe to call more than once.
	Close() error
}

type TransportFactory func(ctx context.Context, lease *MicLease) (Transport, error)
