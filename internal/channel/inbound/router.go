// Package inbound routes chat messages from the transport to the backend:
// attachments from privileged senders that look tabular go to the bulk
// upload endpoint, everything else is a conversational turn.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ejide/gateway/internal/backend"
	"github.com/ejide/gateway/internal/channel"
	"github.com/ejide/gateway/internal/config"
	"github.com/ejide/gateway/internal/dedup"
	"github.com/ejide/gateway/internal/media"
)

const (
	// ApologyText is sent when a conversational turn cannot be answered.
	ApologyText = "Sorry, I encountered an error. Please try again."
	// SchemaHintText is sent when a bulk upload fails for any reason.
	SchemaHintText = "❌ CSV upload failed. Format:\n\ndrug_name,quantity,price,category,description,dosage_days,dosage_frequency"

	previewRunes = 50
	// ISO-8601 in UTC with millisecond precision.
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// ErrClassificationAmbiguous marks an attachment whose declared type is not
// tabular but whose text carries a tabular marker. The marker wins.
var ErrClassificationAmbiguous = errors.New("attachment classification ambiguous")

var errEmptyReply = errors.New("backend returned an empty reply")

var tracer = otel.Tracer("github.com/ejide/gateway/internal/channel/inbound")

// Role is the privilege level of a sender, derived per message.
type Role string

const (
	RolePrivileged Role = "privileged"
	RoleStandard   Role = "standard"
)

// Path is the routing decision for one message.
type Path string

const (
	PathBulkUpload     Path = "bulk_upload"
	PathConversational Path = "chat"
	PathDuplicate      Path = "duplicate"
	// PathUnknown marks a message that failed before a path was selected.
	PathUnknown        Path = "unknown"
)

// Backend is the subset of the backend client the router calls.
type Backend interface {
	SubmitChatTurn(ctx context.Context, req backend.ChatTurnRequest) (backend.ChatTurnResponse, error)
	SubmitBulkUpload(ctx context.Context, upload backend.BulkUpload) (backend.BulkUploadResponse, error)
}

// Stager spools an attachment to a scoped temp file.
type Stager interface {
	Stage(ctx context.Context, input media.StageInput) (*media.Staged, error)
}

// Recorder counts routed messages.
type Recorder interface {
	InboundMessage(path, outcome string)
}

// Router handles inbound messages. It holds no per-message state; the
// allow-list and type tables are read-only after construction.
type Router struct {
	allow    map[string]struct{}
	mimes    map[string]struct{}
	markers  []string
	backend  Backend
	resolver channel.AttachmentResolver
	stager   Stager
	replier  channel.Replier
	dedup    dedup.Filter
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewRouter creates a router. Replies go through replier, which is normally
// the shared channel.Sink.
func NewRouter(
	log *slog.Logger,
	cfg config.RouterConfig,
	backendClient Backend,
	resolver channel.AttachmentResolver,
	stager Stager,
	replier channel.Replier,
) *Router {
	if log == nil {
		log = slog.Default()
	}
	allow := make(map[string]struct{}, len(cfg.AdminNumbers))
	for _, n := range cfg.AdminNumbers {
		if key := normalizeHandle(n); key != "" {
			allow[key] = struct{}{}
		}
	}
	mimeTypes := cfg.CSVMimeTypes
	if len(mimeTypes) == 0 {
		mimeTypes = config.DefaultCSVMimeTypes
	}
	mimes := make(map[string]struct{}, len(mimeTypes))
	for _, m := range mimeTypes {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			mimes[m] = struct{}{}
		}
	}
	markerList := cfg.CSVTextMarkers
	if markerList == nil {
		markerList = config.DefaultCSVTextMarkers
	}
	markers := make([]string, 0, len(markerList))
	for _, m := range markerList {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			markers = append(markers, m)
		}
	}
	return &Router{
		allow:    allow,
		mimes:    mimes,
		markers:  markers,
		backend:  backendClient,
		resolver: resolver,
		stager:   stager,
		replier:  replier,
		dedup:    dedup.Nop{},
		logger:   log.With(slog.String("component", "channel_router")),
		now:      time.Now,
	}
}

// SetDedupFilter configures replay protection. A nil filter disables it.
func (r *Router) SetDedupFilter(f dedup.Filter) {
	if f == nil {
		f = dedup.Nop{}
	}
	r.dedup = f
}

// SetRecorder configures metrics for routed messages.
func (r *Router) SetRecorder(rec Recorder) {
	r.recorder = rec
}

func normalizeHandle(id string) string {
	return strings.TrimPrefix(channel.NormalizeSender(id), "+")
}

// Classify returns the sender's role. It is recomputed for every message.
func (r *Router) Classify(senderID string) Role {
	if _, ok := r.allow[normalizeHandle(senderID)]; ok {
		return RolePrivileged
	}
	return RoleStandard
}

// IsPrivileged reports whether handle is on the allow-list.
func (r *Router) IsPrivileged(handle string) bool {
	return r.Classify(handle) == RolePrivileged
}

// isTabular reports whether the attachment should be treated as a bulk data
// file. A text marker overrides a non-tabular declared type; that case also
// returns ErrClassificationAmbiguous for logging.
func (r *Router) isTabular(msg channel.InboundMessage) (bool, error) {
	declared := msg.DeclaredMime()
	_, mimeMatch := r.mimes[declared]
	if mimeMatch {
		return true, nil
	}
	text := strings.ToLower(msg.Text)
	if msg.Attachment != nil {
		text += "\n" + strings.ToLower(msg.Attachment.Name)
	}
	for _, marker := range r.markers {
		if strings.Contains(text, marker) {
			if declared != "" {
				return true, fmt.Errorf("%w: declared %q, marker %q", ErrClassificationAmbiguous, declared, marker)
			}
			return true, nil
		}
	}
	return false, nil
}

// SelectPath decides how msg is handled for the given role.
func (r *Router) SelectPath(msg channel.InboundMessage, role Role) Path {
	if role != RolePrivileged || !msg.HasAttachment || msg.Attachment == nil {
		return PathConversational
	}
	tabular, err := r.isTabular(msg)
	if err != nil {
		r.logger.Debug("attachment classified by text marker",
			slog.String("message_id", msg.ID),
			slog.Any("error", err),
		)
	}
	if tabular {
		return PathBulkUpload
	}
	return PathConversational
}

// Handle is the channel.InboundHandler entry point.
func (r *Router) Handle(ctx context.Context, msg channel.InboundMessage) {
	_ = r.Route(ctx, msg)
}

// Route processes one message and returns the path it took. Every message
// that is not a replay is answered, with a fallback text when its path
// fails. Failures are logged and never escape.
func (r *Router) Route(ctx context.Context, msg channel.InboundMessage) (path Path) {
	ctx, span := tracer.Start(ctx, "inbound.route", trace.WithAttributes(
		attribute.String("message.id", msg.ID),
		attribute.Bool("message.has_attachment", msg.HasAttachment),
	))
	defer func() {
		span.SetAttributes(attribute.String("route.path", string(path)))
		span.End()
	}()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("inbound handler panic",
				slog.String("message_id", msg.ID),
				slog.Any("panic", rec),
			)
			span.SetStatus(codes.Error, fmt.Sprint(rec))
			if path == "" {
				path = PathUnknown
			}
			r.count(path, "panic")
			r.reply(ctx, msg, ApologyText)
		}
	}()

	if id := strings.TrimSpace(msg.ID); id != "" {
		isNew, err := r.dedup.IsNew(ctx, id)
		if err != nil {
			r.logger.Warn("dedup check failed", slog.String("message_id", id), slog.Any("error", err))
		} else if !isNew {
			r.logger.Debug("inbound dropped duplicate", slog.String("message_id", id))
			r.count(PathDuplicate, "dropped")
			return PathDuplicate
		}
	}

	role := r.Classify(msg.SenderID)
	span.SetAttributes(attribute.String("sender.role", string(role)))
	r.logger.Info("inbound received",
		slog.String("role", string(role)),
		slog.String("sender", msg.SenderID),
		slog.String("message_id", msg.ID),
		slog.Bool("has_attachment", msg.HasAttachment),
		slog.String("preview", msg.Preview(previewRunes)),
	)

	path = r.SelectPath(msg, role)
	switch path {
	case PathBulkUpload:
		r.handleBulkUpload(ctx, msg)
	default:
		r.handleChat(ctx, msg, role)
	}
	return path
}

func (r *Router) handleChat(ctx context.Context, msg channel.InboundMessage, role Role) {
	req := backend.ChatTurnRequest{
		PhoneNumber: msg.SenderID,
		Message:     strings.TrimSpace(msg.Text),
		IsAdmin:     role == RolePrivileged,
		Timestamp:   r.now().UTC().Format(timestampLayout),
	}
	resp, err := r.backend.SubmitChatTurn(ctx, req)
	if err == nil && strings.TrimSpace(resp.Reply) == "" {
		err = errEmptyReply
	}
	if err != nil {
		r.logger.Error("chat turn failed", slog.String("sender", msg.SenderID), slog.Any("error", err))
		trace.SpanFromContext(ctx).RecordError(err)
		r.count(PathConversational, "backend_error")
		r.reply(ctx, msg, ApologyText)
		return
	}
	if err := r.replier.Reply(ctx, msg, resp.Reply); err != nil {
		r.logger.Error("chat reply failed", slog.String("sender", msg.SenderID), slog.Any("error", err))
		r.count(PathConversational, "reply_failed")
		r.reply(ctx, msg, ApologyText)
		return
	}
	r.logger.Info("replied", slog.String("sender", msg.SenderID))
	r.count(PathConversational, "ok")
}

func (r *Router) handleBulkUpload(ctx context.Context, msg channel.InboundMessage) {
	r.logger.Info("processing bulk upload", slog.String("sender", msg.SenderID), slog.String("message_id", msg.ID))
	result, err := r.uploadAttachment(ctx, msg)
	if err != nil {
		r.logger.Error("bulk upload failed", slog.String("sender", msg.SenderID), slog.Any("error", err))
		trace.SpanFromContext(ctx).RecordError(err)
		r.count(PathBulkUpload, "failed")
		r.reply(ctx, msg, SchemaHintText)
		return
	}
	if err := r.replier.Reply(ctx, msg, result); err != nil {
		r.logger.Error("bulk upload reply failed", slog.String("sender", msg.SenderID), slog.Any("error", err))
		r.count(PathBulkUpload, "reply_failed")
		r.reply(ctx, msg, SchemaHintText)
		return
	}
	r.logger.Info("bulk upload processed", slog.String("sender", msg.SenderID))
	r.count(PathBulkUpload, "ok")
}

// uploadAttachment downloads, stages and submits the attachment. The staged
// file is released before returning on every path.
func (r *Router) uploadAttachment(ctx context.Context, msg channel.InboundMessage) (string, error) {
	if r.resolver == nil || r.stager == nil {
		return "", fmt.Errorf("attachment pipeline not configured")
	}
	payload, err := r.resolver.ResolveAttachment(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("download attachment: %w", err)
	}
	defer func() {
		_ = payload.Reader.Close()
	}()

	mime := payload.Mime
	if strings.TrimSpace(mime) == "" {
		mime = msg.DeclaredMime()
	}
	staged, err := r.stager.Stage(ctx, media.StageInput{
		Mime:         mime,
		OriginalName: payload.Name,
		Reader:       payload.Reader,
	})
	if err != nil {
		return "", fmt.Errorf("stage attachment: %w", err)
	}
	defer func() {
		if err := staged.Release(); err != nil {
			r.logger.Warn("release staged attachment failed", slog.String("path", staged.Path()), slog.Any("error", err))
		}
	}()

	file, err := staged.Open()
	if err != nil {
		return "", fmt.Errorf("open staged attachment: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	resp, err := r.backend.SubmitBulkUpload(ctx, backend.BulkUpload{
		FileName: staged.FileName(),
		Mime:     staged.Mime(),
		Reader:   file,
	})
	if err != nil {
		return "", fmt.Errorf("submit upload: %w", err)
	}
	if strings.TrimSpace(resp.Reply) == "" {
		return "", errEmptyReply
	}
	return resp.Reply, nil
}

// reply sends a fallback text; a failure here is only logged.
func (r *Router) reply(ctx context.Context, msg channel.InboundMessage, text string) {
	if err := r.replier.Reply(ctx, msg, text); err != nil {
		r.logger.Error("fallback reply failed", slog.String("sender", msg.SenderID), slog.Any("error", err))
	}
}

func (r *Router) count(path Path, outcome string) {
	if r.recorder == nil {
		return
	}
	r.recorder.InboundMessage(string(path), outcome)
}
