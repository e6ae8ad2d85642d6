package whatsapp

// Frame types exchanged with the bridge over the websocket.
const (
	frameMessage       = "message"
	frameMedia         = "media"
	frameReady         = "ready"
	frameQR            = "qr"
	frameAuthFailure   = "auth_failure"
	frameDisconnected  = "disconnected"
	frameSend          = "send"
	frameDownloadMedia = "download_media"
)

// inboundFrame is the superset of every frame the bridge sends.
type inboundFrame struct {
	Type string `json:"type"`

	// message
	ID        string `json:"id,omitempty"`
	From      string `json:"from,omitempty"`
	Chat      string `json:"chat,omitempty"`
	Body      string `json:"body,omitempty"`
	HasMedia  bool   `json:"has_media,omitempty"`
	Mimetype  string `json:"mimetype,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// media
	RequestID string `json:"request_id,omitempty"`
	Data      string `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`

	// state events
	Reason string `json:"reason,omitempty"`
}

type sendFrame struct {
	Type     string `json:"type"`
	To       string `json:"to"`
	Body     string `json:"body"`
	QuotedID string `json:"quoted_id,omitempty"`
}

type downloadFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	MessageID string `json:"message_id"`
}
