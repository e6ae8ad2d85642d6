// Package channel defines the chat transport boundary used by the router and
// the scheduler: inbound message types, transport interfaces, the delivery
// sink and connection status tracking.
package channel

import (
	"strings"
	"time"
)

// ChannelType identifies a messaging platform.
type ChannelType string

const ChannelTypeWhatsApp ChannelType = "whatsapp"

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// Attachment describes media carried by an inbound message. The bytes are
// fetched lazily through an AttachmentResolver.
type Attachment struct {
	// PlatformKey is the transport's handle for downloading the media.
	PlatformKey string `json:"platform_key,omitempty"`
	Name        string `json:"name,omitempty"`
	Mime        string `json:"mime,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// InboundMessage is a message received from the transport. It is immutable
// and lives for a single routing pass.
type InboundMessage struct {
	Channel ChannelType
	// ID is the transport message id, used for reply quoting and dedup.
	ID string
	// SenderID is the normalized sender handle (phone digits or a JID).
	SenderID string
	// ChatID is the transport address replies go to.
	ChatID        string
	Text          string
	HasAttachment bool
	Attachment    *Attachment
	ReceivedAt    time.Time
}

// ReplyTarget returns the address a reply to m should be sent to.
func (m InboundMessage) ReplyTarget() string {
	if chat := strings.TrimSpace(m.ChatID); chat != "" {
		return chat
	}
	return strings.TrimSpace(m.SenderID)
}

// DeclaredMime returns the attachment's declared media type, lowercased and
// stripped of parameters.
func (m InboundMessage) DeclaredMime() string {
	if m.Attachment == nil {
		return ""
	}
	mime := strings.ToLower(strings.TrimSpace(m.Attachment.Mime))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}

// Preview returns at most limit runes of the message text.
func (m InboundMessage) Preview(limit int) string {
	runes := []rune(m.Text)
	if limit <= 0 || len(runes) <= limit {
		return m.Text
	}
	return string(runes[:limit])
}

// ConnectionState is the transport session state reported by the bridge.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateReady        ConnectionState = "ready"
	StateQR           ConnectionState = "qr"
	StateAuthFailure  ConnectionState = "auth_failure"
	StateDisconnected ConnectionState = "disconnected"
)

// ConnectionStatus is a point-in-time snapshot of a transport connection.
type ConnectionStatus struct {
	ChannelType ChannelType     `json:"channel_type"`
	State       ConnectionState `json:"state"`
	Running     bool            `json:"running"`
	LastError   string          `json:"last_error,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
