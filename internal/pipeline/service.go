// Package pipeline runs an inbound message through persistence, analysis,
// the flag policy and event fan-out, and exposes the moderation operations
// to the transport layer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"safechat/internal/analysis"
	"safechat/internal/apperr"
	"safechat/internal/logging"
	"safechat/internal/metrics"
	"safechat/internal/model"
	"safechat/internal/moderation"
	"safechat/internal/policy"
	"safechat/internal/realtime"
	"safechat/internal/store"
	"safechat/internal/validation"
)

// SubmitInput is a new chat message.
type SubmitInput struct {
	Text        string `json:"text" validate:"message_text"`
	Room        string `json:"room" validate:"max=50"`
	Visibility  string `json:"visibility" validate:"omitempty,visibility"`
	RecipientID string `json:"recipient_id" validate:"required_if=Visibility private"`
}

// Service is the moderation pipeline.
type Service struct {
	store      store.Store
	analyzer   analysis.Analyzer
	moderation *moderation.Service
	events     realtime.Publisher
	timeout    time.Duration
	now        func() time.Time
}

// NewService wires the pipeline. timeout bounds every analyzer call.
func NewService(
	st store.Store,
	analyzer analysis.Analyzer,
	mod *moderation.Service,
	events realtime.Publisher,
	timeout time.Duration,
) *Service {
	return &Service{
		store:      st,
		analyzer:   analyzer,
		moderation: mod,
		events:     events,
		timeout:    timeout,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SubmitMessage persists, analyzes and, when the policy says so, flags a
// message, then announces it. Analysis failures never fail the submission.
func (s *Service) SubmitMessage(ctx context.Context, authorID string, in SubmitInput) (*model.Message, error) {
	in.Text = strings.TrimSpace(in.Text)
	if err := validation.ValidateStruct(in); err != nil {
		return nil, err
	}

	author, err := s.store.GetUser(ctx, authorID)
	if err != nil {
		return nil, err
	}
	if !author.IsActive {
		return nil, apperr.InvalidState("user %s is not active", author.ID)
	}

	now := s.now()
	msg := &model.Message{
		ID:         uuid.NewString(),
		UserID:     author.ID,
		Username:   author.Username,
		Text:       in.Text,
		Room:       model.PublicRoom(in.Room),
		Visibility: model.VisibilityPublic,
		Analysis:   analysis.Default("", now),
		Status:     model.MessageActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if model.Visibility(in.Visibility) == model.VisibilityPrivate {
		if in.RecipientID == author.ID {
			return nil, apperr.Validation("recipient_id must differ from the sender")
		}
		recipient, err := s.store.GetUser(ctx, in.RecipientID)
		if err != nil {
			return nil, err
		}
		msg.Visibility = model.VisibilityPrivate
		msg.RecipientID = recipient.ID
		msg.RecipientUsername = recipient.Username
		msg.Room = model.PrivateRoom(author.ID, recipient.ID)
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.store.IncrementStat(ctx, author.ID, model.StatTotalMessages, 1); err != nil {
		logging.Warn().Err(err).Str("user_id", author.ID).Msg("failed to update message count")
	}

	result := s.analyze(ctx, msg.Text)
	if _, err := s.store.SaveAnalysis(ctx, msg.ID, result, ""); err != nil {
		return nil, err
	}

	var flag *model.Flag
	if d, ok := policy.Decide(result); ok {
		msg.Analysis = result
		flag, err = s.moderation.CreateAutoFlag(ctx, msg, d)
		if err != nil {
			// メッセージは保存済みなので未フラグのまま続行する
			logging.Error().Err(err).Str("message_id", msg.ID).Msg("failed to create auto flag")
		}
	}

	msg, err = s.store.GetMessage(ctx, msg.ID)
	if err != nil {
		return nil, err
	}

	metrics.MessagesSubmitted.WithLabelValues(string(msg.Visibility)).Inc()
	logging.Info().
		Str("message_id", msg.ID).
		Str("user_id", msg.UserID).
		Str("room", msg.Room).
		Bool("abuse_detected", msg.Analysis.AbuseDetected).
		Bool("flagged", flag != nil).
		Msg("message submitted")

	s.events.Publish(realtime.Event{Type: realtime.EventNewMessage, Data: msg}, realtime.MessageScope(msg))
	if flag != nil {
		s.events.Publish(realtime.Event{
			Type: realtime.EventMessageFlagged,
			Data: realtime.MessageFlaggedPayload{Message: msg, Flag: flag},
		}, realtime.Group(realtime.GroupModerators))
	}
	return msg, nil
}

// analyze calls the analyzer under the configured timeout and falls back to
// the unanalyzed result on any failure.
func (s *Service) analyze(ctx context.Context, text string) model.Analysis {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type outcome struct {
		result model.Analysis
		err    error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		a, err := s.analyzer.Analyze(ctx, text)
		done <- outcome{a, err}
	}()

	select {
	case o := <-done:
		metrics.AnalysisDuration.WithLabelValues(s.analyzer.Name()).Observe(time.Since(start).Seconds())
		if o.err != nil {
			reason := "error"
			if errors.Is(o.err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				reason = "timeout"
			}
			return s.fallback(reason, o.err)
		}
		return o.result
	case <-ctx.Done():
		return s.fallback("timeout", ctx.Err())
	}
}

func (s *Service) fallback(reason string, err error) model.Analysis {
	metrics.AnalysisFallbacks.WithLabelValues(reason).Inc()
	logging.Warn().Err(err).
		Str("engine", s.analyzer.Name()).
		Str("reason", reason).
		Msg("analysis unavailable, storing unanalyzed result")
	return analysis.Default(analysis.UnavailableReason, s.now())
}

// CreateManualFlag flags a message on behalf of a moderator.
func (s *Service) CreateManualFlag(ctx context.Context, moderatorID string, in moderation.ManualFlagInput) (*model.Flag, error) {
	return s.moderation.CreateManualFlag(ctx, moderatorID, in)
}

// ReviewFlag records a moderator's verdict on a flag.
func (s *Service) ReviewFlag(ctx context.Context, flagID, reviewerID string, in moderation.ReviewInput) (*model.Flag, error) {
	return s.moderation.ReviewFlag(ctx, flagID, reviewerID, in)
}

// GetFlag returns a flag by ID.
func (s *Service) GetFlag(ctx context.Context, id string) (*model.Flag, error) {
	return s.moderation.GetFlag(ctx, id)
}

// ReanalyzeMessage re-runs analysis on a stored message. It never flags.
func (s *Service) ReanalyzeMessage(ctx context.Context, id string) (*model.Message, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Status == model.MessageDeleted {
		return nil, apperr.InvalidState("message %s is deleted", id)
	}

	result := s.analyze(ctx, msg.Text)
	msg, err = s.store.SaveAnalysis(ctx, id, result, "")
	if err != nil {
		return nil, err
	}

	logging.Info().
		Str("message_id", id).
		Bool("abuse_detected", result.AbuseDetected).
		Float64("confidence", result.ConfidenceScore).
		Msg("message reanalyzed")
	return msg, nil
}

// SetMessageStatus moves a message to status and announces the change.
func (s *Service) SetMessageStatus(ctx context.Context, actorID, id, status string) (*model.Message, error) {
	next, err := model.ParseMessageStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrInvalidState)
	}

	prev, err := s.store.TransitionMessage(ctx, id, next)
	if err != nil {
		return nil, err
	}
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}

	logging.Info().
		Str("message_id", id).
		Str("from", string(prev)).
		Str("to", string(next)).
		Str("actor", actorID).
		Msg("message status changed")

	s.events.Publish(realtime.Event{
		Type: realtime.EventMessageStatusChanged,
		Data: realtime.MessageStatusPayload{MessageID: id, Previous: prev, Status: next, ChangedBy: actorID},
	}, realtime.MessageScope(msg))
	return msg, nil
}

// GetMessage returns a message by ID.
func (s *Service) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	return s.store.GetMessage(ctx, id)
}
