package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ejide/gateway/internal/config"
)

const (
	pathChat         = "/chat"
	pathUpload       = "/upload-inventory"
	pathReminders    = "/medication-reminders"
	pathWeeklyReport = "/generate-weekly-report"
	pathHealth       = "/health"

	uploadField      = "file"
	maxResponseBytes = 4 << 20
)

// Operation names used for logs and metrics.
const (
	OpChat         = "chat"
	OpUpload       = "upload"
	OpReminders    = "reminders"
	OpWeeklyReport = "weekly_report"
	OpHealth       = "health"
)

// Outcomes reported to the Recorder.
const (
	OutcomeOK          = "ok"
	OutcomeUnreachable = "unreachable"
	OutcomeHTTPError   = "http_error"
	OutcomeDecodeError = "decode_error"
)

// Recorder observes every backend request.
type Recorder interface {
	ObserveBackendRequest(op, outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveBackendRequest(string, string, time.Duration) {}

// Client talks to the business backend over HTTP. It never retries.
type Client struct {
	baseURL  string
	timeout  time.Duration
	http     *http.Client
	recorder Recorder
	logger   *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// NewClient builds a backend client for cfg.BaseURL. The default transport
// is wrapped with otelhttp so outgoing calls join the active trace.
func NewClient(log *slog.Logger, cfg config.BackendConfig, opts ...Option) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		timeout:  cfg.Timeout(),
		http:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		recorder: nopRecorder{},
		logger:   log.With(slog.String("component", "backend")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured backend endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SubmitChatTurn posts one conversational turn and returns the reply.
func (c *Client) SubmitChatTurn(ctx context.Context, req ChatTurnRequest) (ChatTurnResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return ChatTurnResponse{}, fmt.Errorf("encode chat request: %w", err)
	}
	var out ChatTurnResponse
	if err := c.do(ctx, OpChat, http.MethodPost, pathChat, bytes.NewReader(payload), "application/json", &out); err != nil {
		return ChatTurnResponse{}, err
	}
	return out, nil
}

// SubmitBulkUpload streams upload.Reader as the multipart "file" field.
func (c *Client) SubmitBulkUpload(ctx context.Context, upload BulkUpload) (BulkUploadResponse, error) {
	if upload.Reader == nil {
		return BulkUploadResponse{}, fmt.Errorf("upload reader is required")
	}
	name := strings.TrimSpace(upload.FileName)
	if name == "" {
		name = "upload.csv"
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeFilePart(mw, name, upload.Mime, upload.Reader)
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	var out BulkUploadResponse
	err := c.do(ctx, OpUpload, http.MethodPost, pathUpload, pr, mw.FormDataContentType(), &out)
	// Unblock the writer if the transport returned before draining the pipe.
	_ = pr.Close()
	if err != nil {
		return BulkUploadResponse{}, err
	}
	return out, nil
}

func writeFilePart(mw *multipart.Writer, name, mime string, r io.Reader) error {
	if strings.TrimSpace(mime) == "" {
		mime = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, uploadField, name))
	h.Set("Content-Type", mime)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("write form file: %w", err)
	}
	return nil
}

// FetchReminders returns the pending reminders. An empty list is valid.
func (c *Client) FetchReminders(ctx context.Context) ([]WorkItem, error) {
	var out remindersResponse
	if err := c.do(ctx, OpReminders, http.MethodGet, pathReminders, nil, "", &out); err != nil {
		return nil, err
	}
	if out.Reminders == nil {
		return []WorkItem{}, nil
	}
	return out.Reminders, nil
}

// FetchWeeklyReport returns the weekly report as a single text body.
func (c *Client) FetchWeeklyReport(ctx context.Context) (string, error) {
	var out weeklyReportResponse
	if err := c.do(ctx, OpWeeklyReport, http.MethodGet, pathWeeklyReport, nil, "", &out); err != nil {
		return "", err
	}
	return out.Report, nil
}

// Health probes GET /health.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var out HealthStatus
	if err := c.do(ctx, OpHealth, http.MethodGet, pathHealth, nil, "", &out); err != nil {
		return HealthStatus{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	outcome := OutcomeOK
	defer func() {
		elapsed := time.Since(start)
		c.recorder.ObserveBackendRequest(op, outcome, elapsed)
		if err != nil {
			c.logger.Debug("backend request failed",
				slog.String("op", op),
				slog.String("outcome", outcome),
				slog.Duration("elapsed", elapsed),
				slog.Any("error", err),
			)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		outcome = OutcomeUnreachable
		return fmt.Errorf("%w: build %s request: %w", ErrBackendUnreachable, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		outcome = OutcomeUnreachable
		return fmt.Errorf("%w: %s %s: %w", ErrBackendUnreachable, method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		outcome = OutcomeUnreachable
		return fmt.Errorf("%w: read %s response: %w", ErrBackendUnreachable, op, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		outcome = OutcomeHTTPError
		return &BackendError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		outcome = OutcomeDecodeError
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
