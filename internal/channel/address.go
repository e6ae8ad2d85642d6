package channel

import "strings"

const (
	// UserSuffix marks a personal WhatsApp chat id.
	UserSuffix = "@c.us"
	// LinkedDeviceSuffix marks a linked-device id, which is kept verbatim.
	LinkedDeviceSuffix = "@lid"
)

// WhatsAppAddress converts a recipient handle to a transport chat id. Handles
// that already carry a server part are returned unchanged; phone numbers are
// reduced to digits and suffixed with @c.us. It returns "" when no digits remain.
func WhatsAppAddress(handle string) string {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return ""
	}
	if strings.Contains(handle, "@") {
		return handle
	}
	var b strings.Builder
	for _, r := range handle {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return b.String() + UserSuffix
}

// NormalizeSender strips the personal-chat suffix from a transport sender id
// so it can be compared against allow-list phone numbers.
func NormalizeSender(id string) string {
	return strings.TrimSuffix(strings.TrimSpace(id), UserSuffix)
}
