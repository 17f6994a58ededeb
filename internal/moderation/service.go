// Package moderation owns the flag lifecycle: creating flags, reviewing
// them and applying the resulting moderator actions.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"safechat/internal/apperr"
	"safechat/internal/logging"
	"safechat/internal/metrics"
	"safechat/internal/model"
	"safechat/internal/policy"
	"safechat/internal/realtime"
	"safechat/internal/store"
	"safechat/internal/validation"
)

// ManualFlagInput is a moderator's request to flag a message.
type ManualFlagInput struct {
	MessageID   string `json:"message_id" validate:"required"`
	Reason      string `json:"reason" validate:"required,oneof=harassment bullying hate_speech threats spam sexual_content inappropriate_emotion other"`
	Severity    string `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Description string `json:"description" validate:"flag_description"`
}

// ReviewInput is a moderator's verdict on a pending flag.
type ReviewInput struct {
	Status string `json:"status"`
	Action string `json:"action"`
	Notes  string `json:"notes" validate:"reviewer_notes"`
}

// Service creates and reviews flags. Flag creation is serialized per message
// and the store rejects a second active flag regardless.
type Service struct {
	store    store.Store
	events   realtime.Publisher
	executor *Executor
	locks    *keyLock
	now      func() time.Time
}

// NewService wires the flag lifecycle.
func NewService(st store.Store, events realtime.Publisher, executor *Executor) *Service {
	return &Service{
		store:    st,
		events:   events,
		executor: executor,
		locks:    newKeyLock(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateAutoFlag records the policy's directive against msg. The caller
// announces the flag.
func (s *Service) CreateAutoFlag(ctx context.Context, msg *model.Message, d policy.Directive) (*model.Flag, error) {
	f := &model.Flag{
		Type:         model.FlagAuto,
		Reason:       d.Reason,
		Severity:     d.Severity,
		AIConfidence: d.AIConfidence,
		Metadata: model.FlagMetadata{
			Room:                       msg.Room,
			EmotionTrigger:             d.EmotionTrigger,
			IntensityThresholdExceeded: d.IntensityThresholdExceeded,
		},
	}

	unlock := s.locks.Lock(msg.ID)
	defer unlock()

	if err := s.create(ctx, msg, f); err != nil {
		return nil, err
	}
	return f, nil
}

// CreateManualFlag flags a message on behalf of a moderator.
func (s *Service) CreateManualFlag(ctx context.Context, moderatorID string, in ManualFlagInput) (*model.Flag, error) {
	if strings.TrimSpace(moderatorID) == "" {
		return nil, apperr.Validation("moderator identity is required")
	}
	if err := validation.ValidateStruct(in); err != nil {
		return nil, err
	}

	severity := model.Severity(in.Severity)
	if severity == "" {
		severity = model.SeverityMedium
	}
	mod := moderatorID
	f := &model.Flag{
		ModeratorID: &mod,
		Type:        model.FlagManual,
		Reason:      model.FlagReason(in.Reason),
		Description: strings.TrimSpace(in.Description),
		Severity:    severity,
	}

	unlock := s.locks.Lock(in.MessageID)
	defer unlock()

	msg, err := s.store.GetMessage(ctx, in.MessageID)
	if err != nil {
		return nil, err
	}
	if existing, err := s.store.ActiveFlagForMessage(ctx, msg.ID); err == nil {
		return nil, fmt.Errorf("message %s already has flag %s: %w", msg.ID, existing.ID, apperr.ErrConflict)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	f.Metadata.Room = msg.Room
	if err := s.create(ctx, msg, f); err != nil {
		return nil, err
	}

	s.events.Publish(realtime.Event{Type: realtime.EventFlagCreated, Data: f}, realtime.Group(realtime.GroupModerators))
	return f, nil
}

// create persists f as a pending flag on msg and moves msg to flagged.
// Callers hold the message lock; the store rejects a message deleted since
// msg was read.
func (s *Service) create(ctx context.Context, msg *model.Message, f *model.Flag) error {
	if msg.Status == model.MessageDeleted {
		return apperr.InvalidState("message %s is deleted", msg.ID)
	}

	previous, err := s.store.CountFlagsForUser(ctx, msg.UserID)
	if err != nil {
		return err
	}

	f.ID = uuid.NewString()
	f.MessageID = msg.ID
	f.UserID = msg.UserID
	f.Status = model.FlagPending
	f.ActionTaken = model.ActionNone
	f.Metadata.UserPreviousFlags = previous
	f.CreatedAt = s.now()

	// フラグ保存とメッセージの flagged 遷移はストア側で一括
	if err := s.store.CreateFlag(ctx, f); err != nil {
		return err
	}
	msg.Status = model.MessageFlagged

	if err := s.store.IncrementStat(ctx, msg.UserID, model.StatFlaggedMessages, 1); err != nil {
		logging.Warn().Err(err).Str("user_id", msg.UserID).Msg("failed to update flagged message count")
	}

	metrics.FlagsCreated.WithLabelValues(string(f.Type), string(f.Severity)).Inc()
	logging.Info().
		Str("flag_id", f.ID).
		Str("message_id", f.MessageID).
		Str("type", string(f.Type)).
		Str("reason", string(f.Reason)).
		Str("severity", string(f.Severity)).
		Msg("flag created")
	return nil
}

// GetFlag returns a flag by ID.
func (s *Service) GetFlag(ctx context.Context, id string) (*model.Flag, error) {
	return s.store.GetFlag(ctx, id)
}

// ReviewFlag records a moderator's verdict and applies the chosen action.
// A flag can be reviewed once; later reviews fail with ErrInvalidState.
func (s *Service) ReviewFlag(ctx context.Context, flagID, reviewerID string, in ReviewInput) (*model.Flag, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return nil, apperr.Validation("reviewer identity is required")
	}
	if err := validation.ValidateStruct(in); err != nil {
		return nil, err
	}
	status, err := model.ParseReviewStatus(in.Status)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrInvalidState)
	}
	action, err := model.ParseAction(in.Action)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrInvalidState)
	}

	f, err := s.store.ReviewFlag(ctx, flagID, model.Review{
		Status:     status,
		Action:     action,
		Notes:      in.Notes,
		ReviewerID: reviewerID,
		ReviewedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}

	metrics.FlagsReviewed.WithLabelValues(string(f.Status)).Inc()
	logging.Info().
		Str("flag_id", f.ID).
		Str("status", string(f.Status)).
		Str("action", string(f.ActionTaken)).
		Str("reviewer", reviewerID).
		Msg("flag reviewed")

	if f.ActionTaken != model.ActionNone {
		// 失敗はログのみ。レビュー結果は取り消さない
		_ = s.executor.Apply(ctx, f.ActionTaken, f)
	}

	s.events.Publish(realtime.Event{Type: realtime.EventFlagReviewed, Data: f}, realtime.Group(realtime.GroupModerators))
	return f, nil
}
