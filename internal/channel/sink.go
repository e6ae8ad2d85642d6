package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrEmptyMessage is returned when there is no text left to deliver.
var ErrEmptyMessage = errors.New("message text is empty")

// Outbound is the part of a transport the sink delegates to.
type Outbound interface {
	Sender
	Replier
}

// Sink is the single delivery path shared by the router and the scheduler.
// It splits long texts to the transport limit and never buffers or retries;
// transport failures come back wrapped in ErrTransport.
type Sink struct {
	out    Outbound
	limit  int
	logger *slog.Logger
}

func NewSink(log *slog.Logger, out Outbound, maxMessageLength int) *Sink {
	if log == nil {
		log = slog.Default()
	}
	if maxMessageLength <= 0 {
		maxMessageLength = DefaultMaxMessageLength
	}
	return &Sink{
		out:    out,
		limit:  maxMessageLength,
		logger: log.With(slog.String("component", "sink")),
	}
}

// Send delivers text to target. Delivery stops at the first failed chunk.
func (s *Sink) Send(ctx context.Context, target, text string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return fmt.Errorf("send: target is required")
	}
	chunks := SplitMessage(text, s.limit)
	if len(chunks) == 0 {
		return ErrEmptyMessage
	}
	for i, chunk := range chunks {
		if err := s.out.Send(ctx, target, chunk); err != nil {
			return fmt.Errorf("%w: send to %s (part %d/%d): %w", ErrTransport, target, i+1, len(chunks), err)
		}
	}
	return nil
}

// Reply answers msg. The first chunk quotes the original message; any
// remaining chunks follow as plain sends to the same chat.
func (s *Sink) Reply(ctx context.Context, msg InboundMessage, text string) error {
	chunks := SplitMessage(text, s.limit)
	if len(chunks) == 0 {
		return ErrEmptyMessage
	}
	if err := s.out.Reply(ctx, msg, chunks[0]); err != nil {
		return fmt.Errorf("%w: reply to %s: %w", ErrTransport, msg.ReplyTarget(), err)
	}
	target := msg.ReplyTarget()
	for i, chunk := range chunks[1:] {
		if err := s.out.Send(ctx, target, chunk); err != nil {
			return fmt.Errorf("%w: reply to %s (part %d/%d): %w", ErrTransport, target, i+2, len(chunks), err)
		}
	}
	if len(chunks) > 1 {
		s.logger.Debug("reply split", slog.String("target", target), slog.Int("parts", len(chunks)))
	}
	return nil
}
