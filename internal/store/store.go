// Package store persists messages, flags and users.
//
// Two implementations share the same contract: Memory for tests and
// database-less deployments, and MySQL for MariaDB. Missing entities are
// reported with apperr.ErrNotFound, a second active flag for a message with
// apperr.ErrConflict and rejected transitions with apperr.ErrInvalidState.
package store

import (
	"context"
	"time"

	"safechat/internal/model"
)

// MessageStore persists messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	// SaveAnalysis replaces the analysis and, when status is non-empty, the
	// status of a message, validating the transition.
	SaveAnalysis(ctx context.Context, id string, a model.Analysis, status model.MessageStatus) (*model.Message, error)
	// TransitionMessage moves a message to status and returns the previous status.
	TransitionMessage(ctx context.Context, id string, status model.MessageStatus) (model.MessageStatus, error)
}

// FlagStore persists flags. At most one non-dismissed flag may exist per message.
type FlagStore interface {
	// CreateFlag stores f and moves its message to flagged in one step. A
	// deleted message is rejected with apperr.ErrInvalidState and nothing is
	// stored.
	CreateFlag(ctx context.Context, f *model.Flag) error
	GetFlag(ctx context.Context, id string) (*model.Flag, error)
	ActiveFlagForMessage(ctx context.Context, messageID string) (*model.Flag, error)
	CountFlagsForUser(ctx context.Context, userID string) (int, error)
	// ReviewFlag applies r to a pending flag atomically.
	ReviewFlag(ctx context.Context, id string, r model.Review) (*model.Flag, error)
}

// UserStore reads and mutates the fields of a user the moderation core owns.
type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	IncrementStat(ctx context.Context, id string, field model.StatField, delta int) error
	// Deactivate makes a user inactive. A nil until is permanent. A timeout
	// never replaces a permanent deactivation or a later expiry; changed
	// reports whether the stored user was modified.
	Deactivate(ctx context.Context, id string, until *time.Time) (u *model.User, changed bool, err error)
	// LiftTimeout reactivates a user only while its timeout is still set and
	// ended at or before now.
	LiftTimeout(ctx context.Context, id string, now time.Time) (u *model.User, lifted bool, err error)
	// ExpiredTimeouts lists inactive users whose timeout ended before now.
	ExpiredTimeouts(ctx context.Context, now time.Time) ([]model.User, error)
}

// Store is the persistence collaborator of the moderation core.
type Store interface {
	MessageStore
	FlagStore
	UserStore
	Close() error
}
