package schedule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ejide/gateway/internal/backend"
	"github.com/ejide/gateway/internal/channel"
	"github.com/ejide/gateway/internal/config"
)

type fakeBackend struct {
	mu          sync.Mutex
	reminders   []backend.WorkItem
	remindErr   error
	report      string
	reportErr   error
	reportCalls int
	remindCalls int
}

func (f *fakeBackend) FetchReminders(context.Context) ([]backend.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remindCalls++
	return f.reminders, f.remindErr
}

func (f *fakeBackend) FetchWeeklyReport(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reportCalls++
	return f.report, f.reportErr
}

type sendAttempt struct {
	target string
	text   string
	at     time.Time
}

type fakeSender struct {
	mu       sync.Mutex
	attempts []sendAttempt
	failFor  map[string]bool
}

func (f *fakeSender) Send(_ context.Context, target, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, sendAttempt{target: target, text: text, at: time.Now()})
	if f.failFor[target] {
		return fmt.Errorf("%w: socket closed", channel.ErrTransport)
	}
	return nil
}

func (f *fakeSender) targets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.attempts))
	for _, a := range f.attempts {
		out = append(out, a.target)
	}
	return out
}

type fakeRecorder struct {
	mu         sync.Mutex
	deliveries map[string]int
	runs       map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{deliveries: map[string]int{}, runs: map[string]int{}}
}

func (f *fakeRecorder) Delivery(job, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries[job+"/"+outcome]++
}

func (f *fakeRecorder) JobRun(job, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[job+"/"+outcome]++
}

func testScheduleConfig() config.ScheduleConfig {
	cfg := config.Default().Schedule
	cfg.SendDelayMs = 0
	return cfg
}

func newTestService(t *testing.T, cfg config.ScheduleConfig, recipients []string) (*Service, *fakeBackend, *fakeSender, *fakeRecorder) {
	t.Helper()
	be := &fakeBackend{}
	sender := &fakeSender{failFor: map[string]bool{}}
	rec := newFakeRecorder()
	svc, err := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, recipients, be, sender)
	require.NoError(t, err)
	svc.SetRecorder(rec)
	return svc, be, sender, rec
}

func TestReminderSweepIsolatesFailuresAndPaces(t *testing.T) {
	t.Parallel()

	cfg := testScheduleConfig()
	cfg.SendDelayMs = 30
	svc, be, sender, rec := newTestService(t, cfg, nil)
	be.reminders = []backend.WorkItem{
		{RecipientID: "2348000000001", Body: "Take Amoxicillin", Kind: "dosage"},
		{RecipientID: "2348000000002", Body: "Take Paracetamol", Kind: "dosage"},
		{RecipientID: "2348000000003", Body: "Refill due", Kind: "refill"},
	}
	sender.failFor["2348000000002@c.us"] = true

	require.NoError(t, svc.Trigger(context.Background(), KindReminders))

	assert.Equal(t, []string{
		"2348000000001@c.us",
		"2348000000002@c.us",
		"2348000000003@c.us",
	}, sender.targets())
	assert.Equal(t, "Refill due", sender.attempts[2].text)
	for i := 1; i < len(sender.attempts); i++ {
		gap := sender.attempts[i].at.Sub(sender.attempts[i-1].at)
		assert.GreaterOrEqual(t, gap, time.Duration(cfg.SendDelayMs)*time.Millisecond, "gap before send %d", i)
	}

	assert.Equal(t, 2, rec.deliveries["reminders/sent"])
	assert.Equal(t, 1, rec.deliveries["reminders/failed"])
	assert.Equal(t, 1, rec.runs["reminders/partial"])
}

func TestReminderRecipientAlreadyAddressed(t *testing.T) {
	t.Parallel()

	svc, be, sender, rec := newTestService(t, testScheduleConfig(), nil)
	be.reminders = []backend.WorkItem{
		{RecipientID: "99887766@lid", Body: "a"},
		{RecipientID: "  ", Body: "b"},
		{RecipientID: "+234 800 000 0001", Body: "c"},
	}

	require.NoError(t, svc.Trigger(context.Background(), KindReminders))
	assert.Equal(t, []string{"99887766@lid", "2348000000001@c.us"}, sender.targets())
	assert.Equal(t, 1, rec.deliveries["reminders/invalid_recipient"])
}

func TestReminderSweepEmpty(t *testing.T) {
	t.Parallel()

	svc, be, sender, rec := newTestService(t, testScheduleConfig(), nil)
	be.reminders = []backend.WorkItem{}

	require.NoError(t, svc.Trigger(context.Background(), KindReminders))
	assert.Empty(t, sender.targets())
	assert.Equal(t, 1, rec.runs["reminders/ok"])
}

func TestReminderFetchFailure(t *testing.T) {
	t.Parallel()

	svc, be, sender, rec := newTestService(t, testScheduleConfig(), nil)
	be.remindErr = fmt.Errorf("%w: connection refused", backend.ErrBackendUnreachable)

	err := svc.Trigger(context.Background(), KindReminders)
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrBackendUnreachable)
	assert.Empty(t, sender.targets())
	assert.Equal(t, 1, rec.runs["reminders/error"])

	// the next firing is unaffected
	be.remindErr = nil
	be.reminders = []backend.WorkItem{{RecipientID: "2348000000001", Body: "x"}}
	require.NoError(t, svc.Trigger(context.Background(), KindReminders))
	assert.Len(t, sender.targets(), 1)
}

func TestWeeklyReportBroadcastIsolation(t *testing.T) {
	t.Parallel()

	admins := []string{"2348000000001", "2348000000002", "99887766@lid"}
	svc, be, sender, rec := newTestService(t, testScheduleConfig(), admins)
	be.report = "📊 WEEKLY REPORT\nRevenue: ₦120,000"
	sender.failFor["2348000000002@c.us"] = true

	require.NoError(t, svc.Trigger(context.Background(), KindWeeklyReport))

	assert.Equal(t, []string{"2348000000001@c.us", "2348000000002@c.us", "99887766@lid"}, sender.targets())
	for _, a := range sender.attempts {
		assert.Equal(t, be.report, a.text)
	}
	assert.Equal(t, 1, be.reportCalls)
	assert.Equal(t, 2, rec.deliveries["weekly_report/sent"])
	assert.Equal(t, 1, rec.deliveries["weekly_report/failed"])
}

func TestWeeklyReportFailures(t *testing.T) {
	t.Parallel()

	svc, be, sender, _ := newTestService(t, testScheduleConfig(), []string{"2348000000001"})

	be.reportErr = &backend.BackendError{Op: backend.OpWeeklyReport, Status: 500, Body: "boom"}
	err := svc.Trigger(context.Background(), KindWeeklyReport)
	var be500 *backend.BackendError
	require.ErrorAs(t, err, &be500)
	assert.Equal(t, 500, be500.Status)

	be.reportErr = nil
	be.report = "   "
	assert.ErrorIs(t, svc.Trigger(context.Background(), KindWeeklyReport), errEmptyReport)
	assert.Empty(t, sender.targets())
}

func TestDailyDigestBroadcast(t *testing.T) {
	t.Parallel()

	svc, be, sender, _ := newTestService(t, testScheduleConfig(), []string{"2348000000001", "2348000000002"})

	require.NoError(t, svc.Trigger(context.Background(), KindDailyDigest))
	require.Len(t, sender.attempts, 2)
	assert.Equal(t, DefaultDigestMessage, sender.attempts[0].text)
	assert.Zero(t, be.reportCalls)
	assert.Zero(t, be.remindCalls)
}

func TestDailyDigestCustomMessage(t *testing.T) {
	t.Parallel()

	cfg := testScheduleConfig()
	cfg.DigestMessage = "Good morning team"
	svc, _, sender, _ := newTestService(t, cfg, []string{"2348000000001"})

	require.NoError(t, svc.Trigger(context.Background(), KindDailyDigest))
	require.Len(t, sender.attempts, 1)
	assert.Equal(t, "Good morning team", sender.attempts[0].text)
}

func TestBroadcastWithoutRecipients(t *testing.T) {
	t.Parallel()

	svc, _, sender, rec := newTestService(t, testScheduleConfig(), nil)
	require.NoError(t, svc.Trigger(context.Background(), KindDailyDigest))
	assert.Empty(t, sender.targets())
	assert.Equal(t, 1, rec.runs["daily_digest/ok"])
}

func TestTriggerUnknownKind(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestService(t, testScheduleConfig(), nil)
	assert.ErrorIs(t, svc.Trigger(context.Background(), JobKind("cleanup")), ErrUnknownJob)
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want JobKind
		err  bool
	}{
		{"reminders", KindReminders, false},
		{" Weekly_Report ", KindWeeklyReport, false},
		{"daily_digest", KindDailyDigest, false},
		{"", "", true},
		{"weekly", "", true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if tt.err {
			assert.True(t, errors.Is(err, ErrUnknownJob), "ParseKind(%q)", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestNewServiceRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	cfg := testScheduleConfig()
	cfg.Timezone = "Mars/Olympus_Mons"
	_, err := NewService(nil, cfg, nil, &fakeBackend{}, &fakeSender{})
	assert.Error(t, err)
}

func TestBootstrapRegistersEnabledJobs(t *testing.T) {
	t.Parallel()

	cfg := testScheduleConfig()
	cfg.Timezone = "Africa/Lagos"
	cfg.WeeklyReport = ""
	svc, _, _, _ := newTestService(t, cfg, nil)

	before := svc.Jobs()
	require.Len(t, before, 3)
	assert.Nil(t, before[0].NextRun)

	require.NoError(t, svc.Bootstrap(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})
	assert.ErrorIs(t, svc.Bootstrap(context.Background()), ErrAlreadyActive)

	jobs := svc.Jobs()
	require.Len(t, jobs, 3)

	assert.Equal(t, KindReminders, jobs[0].Kind)
	assert.True(t, jobs[0].Enabled)
	require.NotNil(t, jobs[0].NextRun)
	assert.Equal(t, "Africa/Lagos", jobs[0].NextRun.Location().String())
	assert.Contains(t, []int{9, 19}, jobs[0].NextRun.Hour())
	assert.Zero(t, jobs[0].NextRun.Minute())

	assert.Equal(t, KindWeeklyReport, jobs[1].Kind)
	assert.False(t, jobs[1].Enabled)
	assert.Nil(t, jobs[1].NextRun)

	require.NotNil(t, jobs[2].NextRun)
	assert.Equal(t, 8, jobs[2].NextRun.Hour())
}

func TestBootstrapRejectsBadCron(t *testing.T) {
	t.Parallel()

	cfg := testScheduleConfig()
	cfg.DailyDigest = "every morning"
	svc, _, _, _ := newTestService(t, cfg, nil)

	assert.Error(t, svc.Bootstrap(context.Background()))
	for _, job := range svc.Jobs() {
		assert.Nil(t, job.NextRun)
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestService(t, testScheduleConfig(), nil)
	assert.NoError(t, svc.Stop(context.Background()))
}

type fakeStatus struct {
	mu    sync.Mutex
	state channel.ConnectionState
}

func (f *fakeStatus) set(state channel.ConnectionState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

func (f *fakeStatus) ConnectionStatus() channel.ConnectionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return channel.ConnectionStatus{State: f.state}
}

func TestFiringSkippedUntilTransportReady(t *testing.T) {
	t.Parallel()

	svc, be, sender, rec := newTestService(t, testScheduleConfig(), []string{"2348000000001"})
	be.reminders = []backend.WorkItem{{RecipientID: "2348000000002", Body: "Take Amoxicillin"}}
	status := &fakeStatus{state: channel.StateConnecting}
	svc.SetStatusReporter(status)

	err := svc.Trigger(context.Background(), KindReminders)
	require.ErrorIs(t, err, ErrTransportNotReady)
	assert.ErrorIs(t, svc.Trigger(context.Background(), KindDailyDigest), ErrTransportNotReady)
	assert.Zero(t, be.remindCalls)
	assert.Empty(t, sender.targets())
	assert.Equal(t, 1, rec.runs["reminders/skipped"])
	assert.Equal(t, 1, rec.runs["daily_digest/skipped"])

	status.set(channel.StateReady)
	require.NoError(t, svc.Trigger(context.Background(), KindReminders))
	assert.Equal(t, []string{"2348000000002@c.us"}, sender.targets())
	assert.Equal(t, 1, rec.runs["reminders/ok"])
}
