// Package schedule fires the gateway's recurring outbound jobs: the reminder
// sweep, the weekly report broadcast and the daily digest broadcast.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ejide/gateway/internal/backend"
	"github.com/ejide/gateway/internal/channel"
	"github.com/ejide/gateway/internal/config"
)

// DefaultDigestMessage is the morning greeting sent to every admin.
const DefaultDigestMessage = "🌅 *GOOD MORNING!*\n\n📊 Your daily analytics digest is ready.\n\nReply with:\n• \"analytics\" - Full predictive insights\n• \"inventory report\" - Stock analysis\n• \"weekly report\" - Week summary\n\nHave a productive day! 💪"

// JobKind names one of the fixed recurring jobs.
type JobKind string

const (
	KindReminders    JobKind = "reminders"
	KindWeeklyReport JobKind = "weekly_report"
	KindDailyDigest  JobKind = "daily_digest"
)

var (
	ErrUnknownJob    = errors.New("unknown job")
	ErrAlreadyActive = errors.New("scheduler already started")
	errEmptyReport   = errors.New("backend returned an empty weekly report")
)

// ErrTransportNotReady is returned for a firing skipped because the
// transport session is not ready to send.
var ErrTransportNotReady = errors.New("transport not ready")

var tracer = otel.Tracer("github.com/ejide/gateway/internal/schedule")

// ParseKind validates a job name.
func ParseKind(name string) (JobKind, error) {
	switch kind := JobKind(strings.TrimSpace(strings.ToLower(name))); kind {
	case KindReminders, KindWeeklyReport, KindDailyDigest:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
}

// Backend is the subset of the backend client the jobs call.
type Backend interface {
	FetchReminders(ctx context.Context) ([]backend.WorkItem, error)
	FetchWeeklyReport(ctx context.Context) (string, error)
}

// Recorder counts job firings and their individual sends.
type Recorder interface {
	Delivery(job, outcome string)
	JobRun(job, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) Delivery(string, string) {}
func (nopRecorder) JobRun(string, string)   {}

// Definition is one job's schedule, fixed at startup. An empty Cron means
// the job only runs when triggered by hand.
type Definition struct {
	Kind              JobKind
	Cron              string
	MinInterSendDelay time.Duration
}

// JobInfo describes a configured job for the operator API.
type JobInfo struct {
	Kind    JobKind    `json:"kind"`
	Cron    string     `json:"cron"`
	Enabled bool       `json:"enabled"`
	NextRun *time.Time `json:"next_run,omitempty"`
	PrevRun *time.Time `json:"prev_run,omitempty"`
}

// Service owns the cron runner and the job bodies.
type Service struct {
	cron       *cron.Cron
	loc        *time.Location
	defs       []Definition
	recipients []string
	digest     string
	backend    Backend
	sender     channel.Sender
	recorder   Recorder
	status     channel.StatusReporter
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[JobKind]cron.EntryID
	started bool
}

// NewService builds the scheduler from config. Recipients are the admin
// handles that receive broadcasts.
func NewService(log *slog.Logger, cfg config.ScheduleConfig, recipients []string, backendClient Backend, sender channel.Sender) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	logger := log.With(slog.String("service", "schedule"))
	digest := cfg.DigestMessage
	if strings.TrimSpace(digest) == "" {
		digest = DefaultDigestMessage
	}
	delay := cfg.SendDelay()
	return &Service{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger{logger}),
			cron.WithChain(cron.Recover(cronLogger{logger})),
		),
		loc: loc,
		defs: []Definition{
			{Kind: KindReminders, Cron: strings.TrimSpace(cfg.Reminders), MinInterSendDelay: delay},
			{Kind: KindWeeklyReport, Cron: strings.TrimSpace(cfg.WeeklyReport), MinInterSendDelay: delay},
			{Kind: KindDailyDigest, Cron: strings.TrimSpace(cfg.DailyDigest), MinInterSendDelay: delay},
		},
		recipients: append([]string(nil), recipients...),
		digest:     digest,
		backend:    backendClient,
		sender:     sender,
		recorder:   nopRecorder{},
		logger:     logger,
		entries:    map[JobKind]cron.EntryID{},
	}, nil
}

// SetRecorder configures job metrics.
func (s *Service) SetRecorder(rec Recorder) {
	if rec == nil {
		rec = nopRecorder{}
	}
	s.recorder = rec
}

// SetStatusReporter gates firings on the transport session. While the
// reported state is not ready, firings are skipped. A nil reporter never
// gates.
func (s *Service) SetStatusReporter(status channel.StatusReporter) {
	s.status = status
}

// Location is the timezone every schedule is evaluated in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Bootstrap registers every enabled job and starts the cron runner.
func (s *Service) Bootstrap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyActive
	}
	for kind, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, kind)
	}
	for _, def := range s.defs {
		if def.Cron == "" {
			s.logger.Info("job disabled", slog.String("job", string(def.Kind)))
			continue
		}
		kind := def.Kind
		job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{s.logger})).Then(cron.FuncJob(func() {
			_ = s.run(context.Background(), kind)
		}))
		id, err := s.cron.AddJob(def.Cron, job)
		if err != nil {
			for _, added := range s.entries {
				s.cron.Remove(added)
			}
			s.entries = map[JobKind]cron.EntryID{}
			return fmt.Errorf("schedule %s %q: %w", def.Kind, def.Cron, err)
		}
		s.entries[kind] = id
	}
	s.cron.Start()
	s.started = true
	for _, info := range s.jobsLocked() {
		if info.NextRun != nil {
			s.logger.Info("job scheduled",
				slog.String("job", string(info.Kind)),
				slog.String("cron", info.Cron),
				slog.Time("next_run", *info.NextRun),
			)
		}
	}
	return ctx.Err()
}

// Stop prevents future firings and waits for running ones until ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jobs lists the configured jobs in a fixed order.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobsLocked()
}

func (s *Service) jobsLocked() []JobInfo {
	out := make([]JobInfo, 0, len(s.defs))
	for _, def := range s.defs {
		info := JobInfo{Kind: def.Kind, Cron: def.Cron, Enabled: def.Cron != ""}
		if id, ok := s.entries[def.Kind]; ok && s.started {
			entry := s.cron.Entry(id)
			if !entry.Next.IsZero() {
				next := entry.Next.In(s.loc)
				info.NextRun = &next
			}
			if !entry.Prev.IsZero() {
				prev := entry.Prev.In(s.loc)
				info.PrevRun = &prev
			}
		}
		out = append(out, info)
	}
	return out
}

// Trigger runs a job now and returns when it finishes.
func (s *Service) Trigger(ctx context.Context, kind JobKind) (err error) {
	kind, err = ParseKind(string(kind))
	if err != nil {
		return err
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("job panic", slog.String("job", string(kind)), slog.Any("panic", rec))
			err = fmt.Errorf("job %s panicked: %v", kind, rec)
		}
	}()
	return s.run(ctx, kind)
}

func (s *Service) delay(kind JobKind) time.Duration {
	for _, def := range s.defs {
		if def.Kind == kind {
			return def.MinInterSendDelay
		}
	}
	return 0
}

// sendStats tallies the sends of one firing.
type sendStats struct {
	total  int
	sent   int
	failed int
}

func (s *Service) run(ctx context.Context, kind JobKind) error {
	ctx, span := tracer.Start(ctx, "schedule.run")
	span.SetAttributes(attribute.String("job.kind", string(kind)))
	defer span.End()

	log := s.logger.With(slog.String("job", string(kind)))
	if s.status != nil {
		if state := s.status.ConnectionStatus().State; state != channel.StateReady {
			err := fmt.Errorf("%w: state %s", ErrTransportNotReady, state)
			span.SetStatus(codes.Error, err.Error())
			log.Warn("job skipped", slog.Any("error", err))
			s.recorder.JobRun(string(kind), "skipped")
			return err
		}
	}
	start := time.Now()
	log.Info("job started")

	var (
		stats sendStats
		err   error
	)
	switch kind {
	case KindReminders:
		stats, err = s.runReminders(ctx, log)
	case KindWeeklyReport:
		stats, err = s.runWeeklyReport(ctx, log)
	case KindDailyDigest:
		stats, err = s.broadcast(ctx, log, kind, s.digest)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownJob, kind)
	}

	attrs := []any{
		slog.Int("total", stats.total),
		slog.Int("sent", stats.sent),
		slog.Int("failed", stats.failed),
		slog.Duration("elapsed", time.Since(start)),
	}
	span.SetAttributes(
		attribute.Int("job.sent", stats.sent),
		attribute.Int("job.failed", stats.failed),
	)
	switch {
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		log.Error("job failed", append(attrs, slog.Any("error", err))...)
		s.recorder.JobRun(string(kind), "error")
	case stats.failed > 0:
		log.Warn("job finished with failed sends", attrs...)
		s.recorder.JobRun(string(kind), "partial")
	default:
		log.Info("job finished", attrs...)
		s.recorder.JobRun(string(kind), "ok")
	}
	return err
}

// runReminders delivers each fetched reminder in fetch order, paced, with
// every item isolated from the failure of another.
func (s *Service) runReminders(ctx context.Context, log *slog.Logger) (sendStats, error) {
	items, err := s.backend.FetchReminders(ctx)
	if err != nil {
		return sendStats{}, fmt.Errorf("fetch reminders: %w", err)
	}
	stats := sendStats{total: len(items)}
	if len(items) == 0 {
		log.Info("no reminders due")
		return stats, nil
	}

	pacer := NewPacer(s.delay(KindReminders))
	for i, item := range items {
		target := channel.WhatsAppAddress(item.RecipientID)
		if target == "" {
			stats.failed++
			s.recorder.Delivery(string(KindReminders), "invalid_recipient")
			log.Warn("reminder skipped", slog.Int("index", i), slog.String("recipient", item.RecipientID))
			continue
		}
		if err := pacer.Wait(ctx); err != nil {
			return stats, fmt.Errorf("pace reminders: %w", err)
		}
		err := s.sender.Send(ctx, target, item.Body)
		pacer.Done()
		if err != nil {
			stats.failed++
			s.recorder.Delivery(string(KindReminders), "failed")
			log.Error("reminder send failed",
				slog.Int("index", i),
				slog.String("recipient", item.RecipientID),
				slog.String("reminder_type", item.Kind),
				slog.Any("error", err),
			)
			continue
		}
		stats.sent++
		s.recorder.Delivery(string(KindReminders), "sent")
		log.Info("reminder sent",
			slog.String("recipient", item.RecipientID),
			slog.String("reminder_type", item.Kind),
		)
	}
	return stats, nil
}

func (s *Service) runWeeklyReport(ctx context.Context, log *slog.Logger) (sendStats, error) {
	report, err := s.backend.FetchWeeklyReport(ctx)
	if err != nil {
		return sendStats{}, fmt.Errorf("fetch weekly report: %w", err)
	}
	if strings.TrimSpace(report) == "" {
		return sendStats{}, errEmptyReport
	}
	return s.broadcast(ctx, log, KindWeeklyReport, report)
}

// broadcast sends text to every admin recipient. One failed recipient does
// not stop the others.
func (s *Service) broadcast(ctx context.Context, log *slog.Logger, kind JobKind, text string) (sendStats, error) {
	stats := sendStats{total: len(s.recipients)}
	if len(s.recipients) == 0 {
		log.Warn("no broadcast recipients configured")
		return stats, nil
	}
	pacer := NewPacer(s.delay(kind))
	for _, recipient := range s.recipients {
		target := channel.WhatsAppAddress(recipient)
		if target == "" {
			stats.failed++
			s.recorder.Delivery(string(kind), "invalid_recipient")
			log.Warn("broadcast recipient skipped", slog.String("recipient", recipient))
			continue
		}
		if err := pacer.Wait(ctx); err != nil {
			return stats, fmt.Errorf("pace broadcast: %w", err)
		}
		err := s.sender.Send(ctx, target, text)
		pacer.Done()
		if err != nil {
			stats.failed++
			s.recorder.Delivery(string(kind), "failed")
			log.Error("broadcast send failed", slog.String("recipient", recipient), slog.Any("error", err))
			continue
		}
		stats.sent++
		s.recorder.Delivery(string(kind), "sent")
		log.Info("broadcast sent", slog.String("recipient", recipient))
	}
	return stats, nil
}

// cronLogger adapts slog to the cron runner's logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, slog.Any("error", err))...)
}
