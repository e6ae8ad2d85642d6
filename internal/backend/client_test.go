package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ejide/gateway/internal/config"
)

type recordedCall struct {
	op, outcome string
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *fakeRecorder) ObserveBackendRequest(op, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{op: op, outcome: outcome})
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *fakeRecorder) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	rec := &fakeRecorder{}
	c := NewClient(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		config.BackendConfig{BaseURL: srv.URL + "/", TimeoutSeconds: 5},
		WithHTTPClient(srv.Client()),
		WithRecorder(rec),
	)
	return c, rec
}

func TestSubmitChatTurn(t *testing.T) {
	var got ChatTurnRequest
	c, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"reply":"Hi!"}`))
	}))

	req := ChatTurnRequest{PhoneNumber: "2348000000001", Message: "hello", IsAdmin: false, Timestamp: "2026-01-02T09:00:00Z"}
	resp, err := c.SubmitChatTurn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Hi!", resp.Reply)
	assert.Equal(t, req, got)
	assert.Equal(t, []recordedCall{{OpChat, OutcomeOK}}, rec.calls)
}

func TestSubmitChatTurnIsNotMemoized(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"reply":"ok"}`))
	}))

	req := ChatTurnRequest{PhoneNumber: "1", Message: "same"}
	_, err := c.SubmitChatTurn(context.Background(), req)
	require.NoError(t, err)
	_, err = c.SubmitChatTurn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestSubmitBulkUploadStreamsMultipartFile(t *testing.T) {
	const csv = "drug_name,quantity\nparacetamol,12\n"
	c, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload-inventory", r.URL.Path)
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, csv, string(data))
		assert.Equal(t, "stock.csv", header.Filename)
		assert.Equal(t, "text/csv", header.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"reply":"12 items imported"}`))
	}))

	src := &countingReader{r: strings.NewReader(csv)}
	resp, err := c.SubmitBulkUpload(context.Background(), BulkUpload{FileName: "stock.csv", Mime: "text/csv", Reader: src})
	require.NoError(t, err)
	assert.Equal(t, "12 items imported", resp.Reply)
	assert.Equal(t, len(csv), src.n)
	assert.Equal(t, []recordedCall{{OpUpload, OutcomeOK}}, rec.calls)
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func TestFetchReminders(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/medication-reminders", r.URL.Path)
		_, _ = w.Write([]byte(`{"reminders":[
			{"phone_number":"2348000000001","message":"Take amoxicillin","reminder_type":"dosage"},
			{"phone_number":"2348000000002","message":"Refill due","reminder_type":"refill"}
		]}`))
	}))

	items, err := c.FetchReminders(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, WorkItem{RecipientID: "2348000000001", Body: "Take amoxicillin", Kind: "dosage"}, items[0])
	assert.Equal(t, "refill", items[1].Kind)
}

func TestFetchRemindersEmpty(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))

	items, err := c.FetchReminders(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestFetchWeeklyReport(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate-weekly-report", r.URL.Path)
		_, _ = w.Write([]byte(`{"report":"Sales up 4%"}`))
	}))

	report, err := c.FetchWeeklyReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Sales up 4%", report)
}

func TestHealth(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"pharmacy-backend"}`))
	}))

	status, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
}

func TestNon2xxReturnsBackendError(t *testing.T) {
	c, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"boom"}`, http.StatusInternalServerError)
	}))

	_, err := c.SubmitChatTurn(context.Background(), ChatTurnRequest{Message: "x"})
	require.Error(t, err)
	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, http.StatusInternalServerError, be.Status)
	assert.Equal(t, `{"detail":"boom"}`, be.Body)
	assert.Equal(t, OpChat, be.Op)
	assert.False(t, errors.Is(err, ErrBackendUnreachable))
	assert.Equal(t, []recordedCall{{OpChat, OutcomeHTTPError}}, rec.calls)
}

func TestMalformedBodyIsDecodeError(t *testing.T) {
	c, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))

	_, err := c.FetchWeeklyReport(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode weekly_report response")
	assert.Equal(t, []recordedCall{{OpWeeklyReport, OutcomeDecodeError}}, rec.calls)
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rec := &fakeRecorder{}
	c := NewClient(nil, config.BackendConfig{BaseURL: url, TimeoutSeconds: 2}, WithRecorder(rec))

	_, err := c.SubmitChatTurn(context.Background(), ChatTurnRequest{Message: "hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnreachable)

	_, err = c.SubmitBulkUpload(context.Background(), BulkUpload{Reader: strings.NewReader("a,b")})
	assert.ErrorIs(t, err, ErrBackendUnreachable)

	assert.Equal(t, []recordedCall{{OpChat, OutcomeUnreachable}, {OpUpload, OutcomeUnreachable}}, rec.calls)
}

func TestTimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.FetchReminders(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnreachable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBackendErrorMessage(t *testing.T) {
	t.Parallel()

	err := &BackendError{Op: OpUpload, Status: 422, Body: strings.Repeat("x", 300)}
	assert.True(t, strings.HasPrefix(err.Error(), "backend upload: status 422: xxx"))
	assert.True(t, strings.HasSuffix(err.Error(), "..."))
	assert.Equal(t, "backend health: status 503", (&BackendError{Op: OpHealth, Status: 503}).Error())
}
