package channel

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
)

var (
	// ErrStopNotSupported is returned when a connection does not support graceful shutdown.
	ErrStopNotSupported = errors.New("channel connection stop not supported")
	// ErrTransport wraps every failure reported by the chat transport.
	ErrTransport = errors.New("transport error")
	// ErrNotConnected is returned by adapters when no session is open.
	ErrNotConnected = errors.New("transport not connected")
)

// InboundHandler is a callback invoked when a message arrives from a channel.
type InboundHandler func(ctx context.Context, msg InboundMessage)

// AttachmentPayload contains resolved attachment bytes and optional metadata.
// Caller must close Reader.
type AttachmentPayload struct {
	Reader io.ReadCloser
	Mime   string
	Name   string
	Size   int64
}

// AttachmentResolver downloads the media referenced by an inbound message.
type AttachmentResolver interface {
	ResolveAttachment(ctx context.Context, msg InboundMessage) (AttachmentPayload, error)
}

// Sender delivers a text message to a transport address.
type Sender interface {
	Send(ctx context.Context, target, text string) error
}

// Replier answers an inbound message, quoting it when the transport supports that.
type Replier interface {
	Reply(ctx context.Context, msg InboundMessage, text string) error
}

// Transport is the full outbound surface of a chat adapter.
type Transport interface {
	Sender
	Replier
	AttachmentResolver
}

// Receiver is an adapter capable of establishing a long-lived connection to receive messages.
type Receiver interface {
	Connect(ctx context.Context, handler InboundHandler) (Connection, error)
}

// StatusReporter exposes the transport's current connection status.
type StatusReporter interface {
	ConnectionStatus() ConnectionStatus
}

// Connection represents an active, long-lived link to a channel platform.
type Connection interface {
	ChannelType() ChannelType
	Stop(ctx context.Context) error
	Running() bool
}

// BaseConnection is a default Connection implementation backed by a stop function.
type BaseConnection struct {
	channelType ChannelType
	stop        func(ctx context.Context) error
	running     atomic.Bool
}

// NewConnection creates a BaseConnection for the given channel type and stop function.
func NewConnection(channelType ChannelType, stop func(ctx context.Context) error) *BaseConnection {
	conn := &BaseConnection{
		channelType: channelType,
		stop:        stop,
	}
	conn.running.Store(true)
	return conn
}

// ChannelType returns the type of channel this connection serves.
func (c *BaseConnection) ChannelType() ChannelType {
	return c.channelType
}

// Stop gracefully shuts down the connection.
func (c *BaseConnection) Stop(ctx context.Context) error {
	if c.stop == nil {
		return ErrStopNotSupported
	}
	c.running.Store(false)
	return c.stop(ctx)
}

// Running reports whether the connection is still active.
func (c *BaseConnection) Running() bool {
	return c.running.Load()
}
