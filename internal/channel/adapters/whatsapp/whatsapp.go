// Package whatsapp connects to a whatsapp-web bridge over a websocket. The
// bridge owns the WhatsApp session; this adapter only exchanges JSON frames.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ejide/gateway/internal/channel"
	"github.com/ejide/gateway/internal/media"
)

// Type is the channel type served by this adapter.
const Type = channel.ChannelTypeWhatsApp

const (
	minBackoff       = time.Second
	maxBackoff       = 30 * time.Second
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// Config controls the bridge connection.
type Config struct {
	BridgeURL        string
	DownloadTimeout  time.Duration
	MaxDownloadBytes int64
}

// Adapter implements channel.Transport, channel.Receiver and
// channel.StatusReporter for the bridge.
type Adapter struct {
	cfg    Config
	logger *slog.Logger
	status *channel.StatusTracker
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	// gorilla connections support one concurrent writer.
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan inboundFrame
}

// NewAdapter creates an Adapter. Connect must be called before sending.
func NewAdapter(log *slog.Logger, cfg Config) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 60 * time.Second
	}
	cfg.MaxDownloadBytes = media.EffectiveLimit(cfg.MaxDownloadBytes)
	logger := log.With(slog.String("adapter", Type.String()))
	return &Adapter{
		cfg:     cfg,
		logger:  logger,
		status:  channel.NewStatusTracker(logger, Type),
		dialer:  &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		pending: map[string]chan inboundFrame{},
	}
}

// Type returns the channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// ConnectionStatus returns the latest session state reported by the bridge.
func (a *Adapter) ConnectionStatus() channel.ConnectionStatus {
	return a.status.Snapshot()
}

// Connect starts the listen loop. The loop dials the bridge and reconnects
// with exponential backoff until the returned connection is stopped.
func (a *Adapter) Connect(ctx context.Context, handler channel.InboundHandler) (channel.Connection, error) {
	if strings.TrimSpace(a.cfg.BridgeURL) == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("inbound handler is required")
	}
	a.logger.Info("start", slog.String("bridge_url", a.cfg.BridgeURL))

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.listenLoop(connCtx, handler)
	}()

	return channel.NewConnection(Type, func(stopCtx context.Context) error {
		cancel()
		a.closeConn()
		select {
		case <-done:
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
		a.status.Mark(channel.StateDisconnected, "stopped")
		a.logger.Info("stopped")
		return nil
	}), nil
}

func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := a.dialer.DialContext(ctx, a.cfg.BridgeURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial whatsapp bridge %s: %w", a.cfg.BridgeURL, err)
	}
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	a.status.Mark(channel.StateConnecting, "")
	a.logger.Info("bridge connected", slog.String("url", a.cfg.BridgeURL))
	return conn, nil
}

func (a *Adapter) listenLoop(ctx context.Context, handler channel.InboundHandler) {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := a.dial(ctx)
		if err != nil {
			a.status.Mark(channel.StateDisconnected, err.Error())
			a.logger.Warn("bridge connect failed, will retry", slog.Duration("backoff", backoff), slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff

		stopClose := context.AfterFunc(ctx, func() { _ = conn.Close() })
		err = a.readLoop(ctx, conn, handler)
		stopClose()
		a.dropConn(conn)
		a.failPending(err)
		if ctx.Err() != nil {
			return
		}
		a.status.Mark(channel.StateDisconnected, err.Error())
		a.logger.Warn("bridge read failed, will reconnect", slog.Any("error", err))
	}
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn, handler channel.InboundHandler) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			a.logger.Warn("invalid bridge frame", slog.Any("error", err))
			continue
		}
		a.handleFrame(ctx, frame, handler)
	}
}

func (a *Adapter) handleFrame(ctx context.Context, frame inboundFrame, handler channel.InboundHandler) {
	switch frame.Type {
	case frameMessage:
		msg, ok := toInboundMessage(frame)
		if !ok {
			return
		}
		go handler(ctx, msg)
	case frameMedia:
		a.deliverMedia(frame)
	case frameReady:
		a.status.Mark(channel.StateReady, "")
	case frameQR:
		a.status.Mark(channel.StateQR, "qr pairing required")
	case frameAuthFailure:
		a.status.Mark(channel.StateAuthFailure, frame.Reason)
	case frameDisconnected:
		a.status.Mark(channel.StateDisconnected, frame.Reason)
	default:
		a.logger.Debug("ignored bridge frame", slog.String("type", frame.Type))
	}
}

func toInboundMessage(frame inboundFrame) (channel.InboundMessage, bool) {
	from := strings.TrimSpace(frame.From)
	if from == "" {
		return channel.InboundMessage{}, false
	}
	text := frame.Body
	chat := strings.TrimSpace(frame.Chat)
	if chat == "" {
		chat = from
	}
	receivedAt := time.Now().UTC()
	if frame.Timestamp > 0 {
		receivedAt = time.Unix(frame.Timestamp, 0).UTC()
	}
	msg := channel.InboundMessage{
		Channel:       Type,
		ID:            strings.TrimSpace(frame.ID),
		SenderID:      channel.NormalizeSender(from),
		ChatID:        chat,
		Text:          text,
		HasAttachment: frame.HasMedia,
		ReceivedAt:    receivedAt,
	}
	if frame.HasMedia {
		msg.Attachment = &channel.Attachment{
			PlatformKey: msg.ID,
			Name:        strings.TrimSpace(frame.Filename),
			Mime:        strings.TrimSpace(frame.Mimetype),
		}
	}
	return msg, true
}

// Send delivers text to a chat id.
func (a *Adapter) Send(ctx context.Context, target, text string) error {
	return a.writeJSON(ctx, sendFrame{Type: frameSend, To: target, Body: text})
}

// Reply answers msg in its chat, quoting it.
func (a *Adapter) Reply(ctx context.Context, msg channel.InboundMessage, text string) error {
	return a.writeJSON(ctx, sendFrame{
		Type:     frameSend,
		To:       msg.ReplyTarget(),
		Body:     text,
		QuotedID: msg.ID,
	})
}

// ResolveAttachment asks the bridge for the media of msg and waits for the
// matching response. Payloads above the configured ceiling are rejected with
// media.ErrAssetTooLarge.
func (a *Adapter) ResolveAttachment(ctx context.Context, msg channel.InboundMessage) (channel.AttachmentPayload, error) {
	if msg.Attachment == nil || strings.TrimSpace(msg.Attachment.PlatformKey) == "" {
		return channel.AttachmentPayload{}, fmt.Errorf("whatsapp attachment requires a message id")
	}
	requestID := uuid.NewString()
	ch := make(chan inboundFrame, 1)
	a.pendingMu.Lock()
	a.pending[requestID] = ch
	a.pendingMu.Unlock()
	defer func() {
		a.pendingMu.Lock()
		delete(a.pending, requestID)
		a.pendingMu.Unlock()
	}()

	if err := a.writeJSON(ctx, downloadFrame{
		Type:      frameDownloadMedia,
		RequestID: requestID,
		MessageID: msg.Attachment.PlatformKey,
	}); err != nil {
		return channel.AttachmentPayload{}, err
	}

	timer := time.NewTimer(a.cfg.DownloadTimeout)
	defer timer.Stop()

	var frame inboundFrame
	select {
	case <-ctx.Done():
		return channel.AttachmentPayload{}, ctx.Err()
	case <-timer.C:
		return channel.AttachmentPayload{}, fmt.Errorf("%w: media download timed out after %s", channel.ErrTransport, a.cfg.DownloadTimeout)
	case frame = <-ch:
	}
	if frame.Error != "" {
		return channel.AttachmentPayload{}, fmt.Errorf("%w: media download failed: %s", channel.ErrTransport, frame.Error)
	}

	maxBytes := a.cfg.MaxDownloadBytes
	if int64(base64.StdEncoding.DecodedLen(len(frame.Data))) > maxBytes+3 {
		return channel.AttachmentPayload{}, fmt.Errorf("%w: max %d bytes", media.ErrAssetTooLarge, maxBytes)
	}
	data, err := media.ReadAllWithLimit(base64.NewDecoder(base64.StdEncoding, strings.NewReader(frame.Data)), maxBytes)
	if err != nil {
		return channel.AttachmentPayload{}, fmt.Errorf("decode media: %w", err)
	}

	mime := strings.TrimSpace(frame.Mimetype)
	if mime == "" {
		mime = msg.Attachment.Mime
	}
	name := strings.TrimSpace(frame.Filename)
	if name == "" {
		name = msg.Attachment.Name
	}
	return channel.AttachmentPayload{
		Reader: io.NopCloser(bytes.NewReader(data)),
		Mime:   mime,
		Name:   name,
		Size:   int64(len(data)),
	}, nil
}

var errConnectionClosed = errors.New("bridge connection closed")

func (a *Adapter) deliverMedia(frame inboundFrame) {
	a.pendingMu.Lock()
	ch, ok := a.pending[frame.RequestID]
	a.pendingMu.Unlock()
	if !ok {
		a.logger.Debug("unmatched media response", slog.String("request_id", frame.RequestID))
		return
	}
	select {
	case ch <- frame:
	default:
	}
}

// failPending unblocks downloads waiting on a connection that just closed.
func (a *Adapter) failPending(cause error) {
	if cause == nil {
		cause = errConnectionClosed
	}
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	for _, ch := range a.pending {
		select {
		case ch <- inboundFrame{Type: frameMedia, Error: cause.Error()}:
		default:
		}
	}
}

func (a *Adapter) writeJSON(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal whatsapp frame: %w", err)
	}
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return channel.ErrNotConnected
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write whatsapp frame: %w", err)
	}
	return nil
}

func (a *Adapter) dropConn(conn *websocket.Conn) {
	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
	}
	a.mu.Unlock()
	_ = conn.Close()
}

func (a *Adapter) closeConn() {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
