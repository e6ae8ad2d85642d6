package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ejide/gateway/internal/schedule"
)

// JobRunner is the subset of the scheduler the operator API drives.
type JobRunner interface {
	Jobs() []schedule.JobInfo
	Trigger(ctx context.Context, kind schedule.JobKind) error
}

type JobsHandler struct {
	logger *slog.Logger
	runner JobRunner
}

func NewJobsHandler(log *slog.Logger, runner JobRunner) *JobsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &JobsHandler{
		logger: log.With(slog.String("handler", "jobs")),
		runner: runner,
	}
}

func (h *JobsHandler) Register(e *echo.Echo) {
	group := e.Group("/jobs")
	group.GET("", h.ListJobs)
	group.POST("/:kind/run", h.RunJob)
}

type RunJobResponse struct {
	Kind   schedule.JobKind `json:"kind"`
	Status string           `json:"status"`
}

// ListJobs godoc
// @Summary List scheduled jobs
// @Tags jobs
// @Success 200 {array} schedule.JobInfo
// @Router /jobs [get]
func (h *JobsHandler) ListJobs(c echo.Context) error {
	return c.JSON(http.StatusOK, h.runner.Jobs())
}

// RunJob godoc
// @Summary Run a job now
// @Description The job runs in the background; the response does not wait for it.
// @Tags jobs
// @Param kind path string true "Job kind"
// @Success 202 {object} RunJobResponse
// @Failure 404 {object} ErrorResponse
// @Router /jobs/{kind}/run [post]
func (h *JobsHandler) RunJob(c echo.Context) error {
	kind, err := schedule.ParseKind(c.Param("kind"))
	if err != nil {
		if errors.Is(err, schedule.ErrUnknownJob) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := context.WithoutCancel(c.Request().Context())
	go func() {
		if err := h.runner.Trigger(ctx, kind); err != nil {
			h.logger.Error("manual job run failed", slog.String("job", string(kind)), slog.Any("error", err))
		}
	}()
	h.logger.Info("manual job run requested", slog.String("job", string(kind)))
	return c.JSON(http.StatusAccepted, RunJobResponse{Kind: kind, Status: "accepted"})
}
