package backendchecker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ejide/gateway/internal/backend"
	"github.com/ejide/gateway/internal/healthcheck"
)

const (
	checkTypeBackend    = "backend.reachability"
	defaultCheckTimeout = 8 * time.Second
)

// Prober calls the backend health endpoint.
type Prober interface {
	Health(ctx context.Context) (backend.HealthStatus, error)
}

// Checker probes the business backend.
type Checker struct {
	logger  *slog.Logger
	prober  Prober
	target  string
	timeout time.Duration
}

// NewChecker creates a backend health checker. target is only used for display.
func NewChecker(log *slog.Logger, prober Prober, target string) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:  log.With(slog.String("checker", "healthcheck_backend")),
		prober:  prober,
		target:  strings.TrimSpace(target),
		timeout: defaultCheckTimeout,
	}
}

// ListChecks probes the backend once.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.prober == nil {
		c.logger.Warn("backend healthcheck dependency is unavailable")
		return []healthcheck.CheckResult{
			{
				ID:      checkTypeBackend + ".service",
				Type:    checkTypeBackend,
				Status:  healthcheck.StatusWarn,
				Summary: "Backend checker service is not available.",
				Detail:  "prober is nil",
			},
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	status, err := c.prober.Health(probeCtx)
	elapsed := time.Since(start)
	item := healthcheck.CheckResult{
		ID:       checkTypeBackend,
		Type:     checkTypeBackend,
		Subtitle: c.target,
		Metadata: map[string]any{
			"latency_ms": elapsed.Milliseconds(),
		},
	}
	if err != nil {
		c.logger.Warn("backend healthcheck probe failed", slog.Any("error", err))
		item.Status = healthcheck.StatusError
		item.Summary = "Backend is not reachable."
		item.Detail = err.Error()
		return []healthcheck.CheckResult{item}
	}

	reported := strings.ToLower(strings.TrimSpace(status.Status))
	item.Metadata["reported_status"] = status.Status
	if status.Service != "" {
		item.Metadata["service"] = status.Service
	}
	switch reported {
	case "healthy", "ok":
		item.Status = healthcheck.StatusOK
		item.Summary = "Backend is healthy."
	default:
		item.Status = healthcheck.StatusWarn
		item.Summary = fmt.Sprintf("Backend responded with status %q.", status.Status)
	}
	return []healthcheck.CheckResult{item}
}
