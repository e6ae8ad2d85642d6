package whatsapp

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ejide/gateway/internal/channel"
	"github.com/ejide/gateway/internal/media"
)

type fakeBridge struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	upgrader := websocket.Upgrader{}
	b := &fakeBridge{conns: make(chan *websocket.Conn, 4)}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.conns <- conn
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBridge) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *fakeBridge) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-b.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("adapter did not connect")
		return nil
	}
}

func readFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(v))
}

func startAdapter(t *testing.T, cfg Config) (*Adapter, *websocket.Conn, chan channel.InboundMessage) {
	t.Helper()
	bridge := newFakeBridge(t)
	cfg.BridgeURL = bridge.url()
	adapter := NewAdapter(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)

	inbound := make(chan channel.InboundMessage, 4)
	conn, err := adapter.Connect(context.Background(), func(_ context.Context, msg channel.InboundMessage) {
		inbound <- msg
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Stop(ctx)
	})

	server := bridge.accept(t)
	require.NoError(t, server.WriteJSON(map[string]any{"type": "ready"}))
	require.Eventually(t, func() bool {
		return adapter.ConnectionStatus().State == channel.StateReady
	}, 5*time.Second, 10*time.Millisecond)
	return adapter, server, inbound
}

func TestInboundMessageIsNormalized(t *testing.T) {
	_, server, inbound := startAdapter(t, Config{})

	require.NoError(t, server.WriteJSON(map[string]any{
		"type":      "message",
		"id":        "ABCD1234",
		"from":      "2348000000001@c.us",
		"chat":      "2348000000001@c.us",
		"body":      "stock.csv",
		"has_media": true,
		"mimetype":  "text/csv",
		"filename":  "stock.csv",
		"timestamp": 1767427200,
	}))

	select {
	case msg := <-inbound:
		assert.Equal(t, "2348000000001", msg.SenderID)
		assert.Equal(t, "2348000000001@c.us", msg.ChatID)
		assert.Equal(t, "ABCD1234", msg.ID)
		assert.True(t, msg.HasAttachment)
		require.NotNil(t, msg.Attachment)
		assert.Equal(t, "text/csv", msg.Attachment.Mime)
		assert.Equal(t, "ABCD1234", msg.Attachment.PlatformKey)
		assert.Equal(t, time.Unix(1767427200, 0).UTC(), msg.ReceivedAt)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestLinkedDeviceSenderKeptVerbatim(t *testing.T) {
	_, server, inbound := startAdapter(t, Config{})

	require.NoError(t, server.WriteJSON(map[string]any{"type": "message", "id": "1", "from": "99887766@lid", "body": "hi"}))
	select {
	case msg := <-inbound:
		assert.Equal(t, "99887766@lid", msg.SenderID)
		assert.Equal(t, "99887766@lid", msg.ChatID)
		assert.Nil(t, msg.Attachment)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestEmptyBodyMessageIsForwarded(t *testing.T) {
	_, server, inbound := startAdapter(t, Config{})

	require.NoError(t, server.WriteJSON(map[string]any{"type": "message", "id": "E1", "from": "2348000000009@c.us", "body": ""}))
	select {
	case msg := <-inbound:
		assert.Equal(t, "E1", msg.ID)
		assert.Equal(t, "2348000000009", msg.SenderID)
		assert.Empty(t, msg.Text)
		assert.False(t, msg.HasAttachment)
	case <-time.After(5 * time.Second):
		t.Fatal("empty message not delivered")
	}
}

func TestMessageWithoutSenderIsDropped(t *testing.T) {
	_, server, inbound := startAdapter(t, Config{})

	require.NoError(t, server.WriteJSON(map[string]any{"type": "message", "id": "X1", "from": "  ", "body": "hi"}))
	require.NoError(t, server.WriteJSON(map[string]any{"type": "message", "id": "X2", "from": "2348000000009@c.us", "body": "hi"}))
	select {
	case msg := <-inbound:
		assert.Equal(t, "X2", msg.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestSendAndReplyFrames(t *testing.T) {
	adapter, server, _ := startAdapter(t, Config{})
	ctx := context.Background()

	require.NoError(t, adapter.Send(ctx, "2348000000001@c.us", "Take your meds"))
	var frame sendFrame
	readFrame(t, server, &frame)
	assert.Equal(t, sendFrame{Type: "send", To: "2348000000001@c.us", Body: "Take your meds"}, frame)

	msg := channel.InboundMessage{ID: "Q1", SenderID: "2348000000001", ChatID: "2348000000001@c.us"}
	require.NoError(t, adapter.Reply(ctx, msg, "Hi!"))
	readFrame(t, server, &frame)
	assert.Equal(t, sendFrame{Type: "send", To: "2348000000001@c.us", Body: "Hi!", QuotedID: "Q1"}, frame)
}

func TestSendWithoutConnection(t *testing.T) {
	adapter := NewAdapter(nil, Config{BridgeURL: "ws://127.0.0.1:1/ws"})
	err := adapter.Send(context.Background(), "1@c.us", "hi")
	assert.ErrorIs(t, err, channel.ErrNotConnected)
}

func TestResolveAttachment(t *testing.T) {
	adapter, server, _ := startAdapter(t, Config{})
	payload := "drug_name,quantity\nparacetamol,12\n"

	go func() {
		var req downloadFrame
		if err := server.ReadJSON(&req); err != nil {
			return
		}
		_ = server.WriteJSON(map[string]any{
			"type":       "media",
			"request_id": req.RequestID,
			"data":       base64.StdEncoding.EncodeToString([]byte(payload)),
			"mimetype":   "text/csv",
			"filename":   "stock.csv",
		})
	}()

	msg := channel.InboundMessage{ID: "M1", HasAttachment: true, Attachment: &channel.Attachment{PlatformKey: "M1"}}
	got, err := adapter.ResolveAttachment(context.Background(), msg)
	require.NoError(t, err)
	defer got.Reader.Close()
	data, err := io.ReadAll(got.Reader)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
	assert.Equal(t, "text/csv", got.Mime)
	assert.Equal(t, "stock.csv", got.Name)
	assert.Equal(t, int64(len(payload)), got.Size)
}

func TestResolveAttachmentTooLarge(t *testing.T) {
	adapter, server, _ := startAdapter(t, Config{MaxDownloadBytes: 16})

	go func() {
		var req downloadFrame
		if err := server.ReadJSON(&req); err != nil {
			return
		}
		_ = server.WriteJSON(map[string]any{
			"type":       "media",
			"request_id": req.RequestID,
			"data":       base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 64))),
		})
	}()

	msg := channel.InboundMessage{ID: "M1", Attachment: &channel.Attachment{PlatformKey: "M1"}}
	_, err := adapter.ResolveAttachment(context.Background(), msg)
	assert.ErrorIs(t, err, media.ErrAssetTooLarge)
}

func TestResolveAttachmentBridgeError(t *testing.T) {
	adapter, server, _ := startAdapter(t, Config{})

	go func() {
		var req downloadFrame
		if err := server.ReadJSON(&req); err != nil {
			return
		}
		_ = server.WriteJSON(map[string]any{"type": "media", "request_id": req.RequestID, "error": "media expired"})
	}()

	msg := channel.InboundMessage{ID: "M1", Attachment: &channel.Attachment{PlatformKey: "M1"}}
	_, err := adapter.ResolveAttachment(context.Background(), msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, channel.ErrTransport)
	assert.Contains(t, err.Error(), "media expired")
}

func TestResolveAttachmentTimeout(t *testing.T) {
	adapter, _, _ := startAdapter(t, Config{DownloadTimeout: 50 * time.Millisecond})

	msg := channel.InboundMessage{ID: "M1", Attachment: &channel.Attachment{PlatformKey: "M1"}}
	_, err := adapter.ResolveAttachment(context.Background(), msg)
	assert.ErrorIs(t, err, channel.ErrTransport)
}

func TestStateEventsAndReconnect(t *testing.T) {
	bridge := newFakeBridge(t)
	adapter := NewAdapter(slog.New(slog.NewTextHandler(io.Discard, nil)), Config{BridgeURL: bridge.url()})
	conn, err := adapter.Connect(context.Background(), func(context.Context, channel.InboundMessage) {})
	require.NoError(t, err)
	defer func() { _ = conn.Stop(context.Background()) }()

	first := bridge.accept(t)
	require.NoError(t, first.WriteJSON(map[string]any{"type": "auth_failure", "reason": "session expired"}))
	require.Eventually(t, func() bool {
		status := adapter.ConnectionStatus()
		return status.State == channel.StateAuthFailure && status.LastError == "session expired"
	}, 5*time.Second, 10*time.Millisecond)

	// dropping the socket makes the adapter dial again
	require.NoError(t, first.Close())
	second := bridge.accept(t)
	require.NoError(t, second.WriteJSON(map[string]any{"type": "ready"}))
	require.Eventually(t, func() bool {
		return adapter.ConnectionStatus().Running
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConnectRequiresBridgeURL(t *testing.T) {
	adapter := NewAdapter(nil, Config{})
	_, err := adapter.Connect(context.Background(), func(context.Context, channel.InboundMessage) {})
	assert.Error(t, err)
}
