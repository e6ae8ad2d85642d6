package channel

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// StatusTracker records connection state transitions for one transport and
// logs failures and recoveries once per change.
type StatusTracker struct {
	mu     sync.RWMutex
	status ConnectionStatus
	logger *slog.Logger
	now    func() time.Time
}

func NewStatusTracker(log *slog.Logger, channelType ChannelType) *StatusTracker {
	if log == nil {
		log = slog.Default()
	}
	return &StatusTracker{
		status: ConnectionStatus{
			ChannelType: channelType,
			State:       StateConnecting,
		},
		logger: log,
		now:    time.Now,
	}
}

// Mark records a new state. reason is kept as LastError for non-ready states.
func (t *StatusTracker) Mark(state ConnectionState, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	previous := t.status
	status := ConnectionStatus{
		ChannelType: previous.ChannelType,
		State:       state,
		Running:     state == StateReady,
		UpdatedAt:   t.now().UTC(),
	}
	if state != StateReady {
		status.LastError = strings.TrimSpace(reason)
	}
	t.status = status

	if previous.State == status.State && previous.LastError == status.LastError {
		return
	}
	switch state {
	case StateReady:
		if previous.State != StateConnecting || strings.TrimSpace(previous.LastError) != "" {
			t.logger.Info("connection recovered", slog.String("channel", status.ChannelType.String()))
		} else {
			t.logger.Info("connection ready", slog.String("channel", status.ChannelType.String()))
		}
	case StateQR:
		t.logger.Warn("transport awaiting qr pairing", slog.String("channel", status.ChannelType.String()))
	case StateConnecting:
		t.logger.Debug("transport connecting", slog.String("channel", status.ChannelType.String()))
	default:
		t.logger.Warn("connection lost",
			slog.String("channel", status.ChannelType.String()),
			slog.String("state", string(state)),
			slog.String("reason", status.LastError),
		)
	}
}

// Snapshot returns the current status.
func (t *StatusTracker) Snapshot() ConnectionStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}
