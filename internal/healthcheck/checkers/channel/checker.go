package channelchecker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ejide/gateway/internal/channel"
	"github.com/ejide/gateway/internal/healthcheck"
)

const checkTypeChannelConnection = "channel.connection"

// Checker evaluates the transport connection.
type Checker struct {
	logger   *slog.Logger
	reporter channel.StatusReporter
}

// NewChecker creates a channel health checker.
func NewChecker(log *slog.Logger, reporter channel.StatusReporter) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:   log.With(slog.String("checker", "healthcheck_channel")),
		reporter: reporter,
	}
}

// ListChecks reports one check for the transport connection.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if ctx == nil {
		ctx = context.Background()
	}
	// Status reporter is context-free; best effort early cancellation guard.
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	if c.reporter == nil {
		c.logger.Warn("channel healthcheck dependency is unavailable")
		return []healthcheck.CheckResult{
			{
				ID:      checkTypeChannelConnection + ".service",
				Type:    checkTypeChannelConnection,
				Status:  healthcheck.StatusWarn,
				Summary: "Channel checker service is not available.",
				Detail:  "status reporter is nil",
			},
		}
	}

	status := c.reporter.ConnectionStatus()
	channelType := strings.TrimSpace(string(status.ChannelType))
	if channelType == "" {
		channelType = "unknown"
	}
	item := healthcheck.CheckResult{
		ID:       checkTypeChannelConnection + "." + channelType,
		Type:     checkTypeChannelConnection,
		Subtitle: channelType,
		Status:   healthcheck.StatusError,
		Summary:  fmt.Sprintf("Channel %s connection is down.", channelType),
		Metadata: map[string]any{
			"channel_type": channelType,
			"state":        string(status.State),
			"running":      status.Running,
		},
	}
	if status.UpdatedAt.Unix() > 0 {
		item.Metadata["updated_at"] = status.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	switch {
	case status.Running:
		item.Status = healthcheck.StatusOK
		item.Summary = fmt.Sprintf("Channel %s is connected.", channelType)
	case status.State == channel.StateQR:
		item.Summary = fmt.Sprintf("Channel %s is waiting for a QR code scan.", channelType)
	case strings.TrimSpace(status.LastError) != "":
		item.Summary = fmt.Sprintf("Channel %s connection failed.", channelType)
		item.Detail = strings.TrimSpace(status.LastError)
	}
	return []healthcheck.CheckResult{item}
}
