package moderation

import (
	"context"
	"fmt"
	"time"

	"safechat/internal/logging"
	"safechat/internal/metrics"
	"safechat/internal/model"
	"safechat/internal/realtime"
	"safechat/internal/store"
)

// Executor applies the action a moderator chose when reviewing a flag.
// Effects are best effort: failures are logged and counted, and never undo
// the review that triggered them.
type Executor struct {
	store   store.Store
	events  realtime.Publisher
	timeout time.Duration
	now     func() time.Time
}

// NewExecutor creates an executor. timeout is how long a timeout action keeps
// the user inactive.
func NewExecutor(st store.Store, events realtime.Publisher, timeout time.Duration) *Executor {
	return &Executor{
		store:   st,
		events:  events,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Apply runs action against the subject and message of f.
func (e *Executor) Apply(ctx context.Context, action model.Action, f *model.Flag) error {
	err := e.apply(ctx, action, f)

	result := "applied"
	if err != nil {
		result = "failed"
		logging.Error().Err(err).
			Str("action", string(action)).
			Str("flag_id", f.ID).
			Str("user_id", f.UserID).
			Str("message_id", f.MessageID).
			Msg("moderator action failed")
	} else if action != model.ActionNone {
		logging.Info().
			Str("action", string(action)).
			Str("flag_id", f.ID).
			Str("user_id", f.UserID).
			Msg("moderator action applied")
	}
	metrics.ModeratorActions.WithLabelValues(string(action), result).Inc()
	return err
}

func (e *Executor) apply(ctx context.Context, action model.Action, f *model.Flag) error {
	switch action {
	case model.ActionNone:
		return nil

	case model.ActionWarning:
		return e.store.IncrementStat(ctx, f.UserID, model.StatWarningsReceived, 1)

	case model.ActionMessageRemoval:
		msg, err := e.store.GetMessage(ctx, f.MessageID)
		if err != nil {
			return err
		}
		prev, err := e.store.TransitionMessage(ctx, msg.ID, model.MessageDeleted)
		if err != nil {
			return err
		}
		e.events.Publish(realtime.Event{
			Type: realtime.EventMessageStatusChanged,
			Data: realtime.MessageStatusPayload{
				MessageID: f.MessageID,
				Previous:  prev,
				Status:    model.MessageDeleted,
				ChangedBy: deref(f.ReviewedBy),
			},
		}, realtime.MessageScope(msg))
		return nil

	case model.ActionTimeout:
		until := e.now().Add(e.timeout)
		return e.deactivate(ctx, f.UserID, action, &until)

	case model.ActionBan, model.ActionAccountSuspension:
		return e.deactivate(ctx, f.UserID, action, nil)

	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

func (e *Executor) deactivate(ctx context.Context, userID string, action model.Action, until *time.Time) error {
	u, changed, err := e.store.Deactivate(ctx, userID, until)
	if err != nil {
		return err
	}
	if !changed {
		// 永久停止中のユーザーにタイムアウトを重ねても期限は付かない
		logging.Info().
			Str("action", string(action)).
			Str("user_id", userID).
			Msg("user already deactivated, status unchanged")
		return nil
	}
	e.publishUserStatus(u, action)
	return nil
}

// ExpireTimeouts reactivates every user whose timeout has ended and returns
// how many were reactivated. A user banned after being listed stays inactive.
func (e *Executor) ExpireTimeouts(ctx context.Context) (int, error) {
	now := e.now()
	users, err := e.store.ExpiredTimeouts(ctx, now)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, expired := range users {
		u, lifted, err := e.store.LiftTimeout(ctx, expired.ID, now)
		if err != nil {
			logging.Error().Err(err).Str("user_id", expired.ID).Msg("failed to lift timeout")
			continue
		}
		if !lifted {
			continue
		}
		e.publishUserStatus(u, "")
		n++
	}
	if n > 0 {
		logging.Info().Int("users", n).Msg("expired timeouts lifted")
	}
	return n, nil
}

// RunSweeper calls ExpireTimeouts every interval until ctx is cancelled.
func (e *Executor) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := e.ExpireTimeouts(ctx); err != nil && ctx.Err() == nil {
				logging.Warn().Err(err).Msg("timeout sweep failed")
			}
		}
	}
}

func (e *Executor) publishUserStatus(u *model.User, action model.Action) {
	ev := realtime.Event{
		Type: realtime.EventUserStatusChanged,
		Data: realtime.UserStatusPayload{
			UserID:         u.ID,
			IsActive:       u.IsActive,
			SuspendedUntil: u.SuspendedUntil,
			Action:         action,
		},
	}
	e.events.Publish(ev, realtime.Direct(u.ID))
	e.events.Publish(ev, realtime.Group(realtime.GroupModerators))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
