// Package channel wraps a concrete real-time transport behind one
// connect/subscribe/send/close contract.
//
// Two transports are provided: a watermill publish/subscribe backend (Redis
// Streams, or an in-process go channel) where every topic is an independent
// stream of UTF-8 text, and a raw websocket which exposes a single implicit
// stream of JSON chat frames. Adapters never reconnect on their own; callers
// observe Done and decide.
package channel

import (
	"context"

	"github.com/go-go-golems/chatsync/pkg/frame"
)

// SocketChannel is the provenance label of the single stream exposed by the
// websocket transport.
const SocketChannel = "socket"

// Frame is one raw inbound unit, not yet decoded.
type Frame struct {
	Topic string
	ID    string
	Data  []byte
}

// Dialer establishes a channel. Connect is the only call in this package that
// may block on the network.
type Dialer interface {
	Connect(ctx context.Context, endpoint string) (Conn, error)
}

// Conn is an open channel handle.
type Conn interface {
	// Subscribe returns the frame stream for topic. The stream is closed when
	// ctx is cancelled or the connection ends.
	Subscribe(ctx context.Context, topic string) (<-chan Frame, error)
	Send(ctx context.Context, topic string, data []byte) error
	// Close is idempotent and safe on an already failed connection.
	Close() error
	// Done is closed once the connection is no longer usable, either because
	// Close was called or because the transport failed (see Err).
	Done() <-chan struct{}
	Err() error
	Decoder() frame.Decoder
	Endpoint() string
}
