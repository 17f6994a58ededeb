package model

import (
	"fmt"
	"time"
)

// Limits on free-text flag fields.
const (
	MaxFlagDescription = 500
	MaxReviewerNotes   = 1000
)

// FlagType records who raised a flag.
type FlagType string

const (
	FlagAuto       FlagType = "auto"
	FlagManual     FlagType = "manual"
	FlagUserReport FlagType = "user_report"
)

// FlagReason is the closed set of reasons a flag can carry.
type FlagReason string

const (
	ReasonHarassment           FlagReason = "harassment"
	ReasonBullying             FlagReason = "bullying"
	ReasonHateSpeech           FlagReason = "hate_speech"
	ReasonThreats              FlagReason = "threats"
	ReasonSpam                 FlagReason = "spam"
	ReasonSexualContent        FlagReason = "sexual_content"
	ReasonInappropriateEmotion FlagReason = "inappropriate_emotion"
	ReasonOther                FlagReason = "other"
)

// Valid reports whether r is a defined reason.
func (r FlagReason) Valid() bool {
	switch r {
	case ReasonHarassment, ReasonBullying, ReasonHateSpeech, ReasonThreats, ReasonSpam,
		ReasonSexualContent, ReasonInappropriateEmotion, ReasonOther:
		return true
	}
	return false
}

// ReasonForAbuse maps an abuse category to the flag reason of the same name.
func ReasonForAbuse(t AbuseType) FlagReason {
	r := FlagReason(t)
	if !r.Valid() {
		return ReasonOther
	}
	return r
}

// Severity is the urgency of a flag.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a defined severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// FlagStatus is the review state of a flag.
type FlagStatus string

const (
	FlagPending   FlagStatus = "pending"
	FlagReviewed  FlagStatus = "reviewed"
	FlagDismissed FlagStatus = "dismissed"
	FlagEscalated FlagStatus = "escalated"
)

// flagTransitions: pending may move to any terminal state, terminal states
// have no way out.
var flagTransitions = map[FlagStatus][]FlagStatus{
	FlagPending:   {FlagReviewed, FlagDismissed, FlagEscalated},
	FlagReviewed:  nil,
	FlagDismissed: nil,
	FlagEscalated: nil,
}

// Valid reports whether s is a defined flag status.
func (s FlagStatus) Valid() bool {
	_, ok := flagTransitions[s]
	return ok
}

// Terminal reports whether s is a review outcome.
func (s FlagStatus) Terminal() bool {
	return s.Valid() && s != FlagPending
}

// Active reports whether a flag in status s blocks a new flag on its message.
func (s FlagStatus) Active() bool {
	return s != FlagDismissed
}

// CanTransition reports whether a flag in status s may move to next.
func (s FlagStatus) CanTransition(next FlagStatus) bool {
	for _, allowed := range flagTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseReviewStatus converts a wire value into a terminal FlagStatus.
func ParseReviewStatus(v string) (FlagStatus, error) {
	s := FlagStatus(v)
	if !s.Terminal() {
		return "", fmt.Errorf("invalid review status %q", v)
	}
	return s, nil
}

// Action is a moderator action applied on review.
type Action string

const (
	ActionNone              Action = "none"
	ActionWarning           Action = "warning"
	ActionTimeout           Action = "timeout"
	ActionBan               Action = "ban"
	ActionMessageRemoval    Action = "message_removal"
	ActionAccountSuspension Action = "account_suspension"
)

// Valid reports whether a is a defined action.
func (a Action) Valid() bool {
	switch a {
	case ActionNone, ActionWarning, ActionTimeout, ActionBan, ActionMessageRemoval, ActionAccountSuspension:
		return true
	}
	return false
}

// ParseAction converts a wire value into an Action. Empty means none.
func ParseAction(v string) (Action, error) {
	if v == "" {
		return ActionNone, nil
	}
	a := Action(v)
	if !a.Valid() {
		return "", fmt.Errorf("invalid action %q", v)
	}
	return a, nil
}

// FlagMetadata is a snapshot taken when the flag is created.
type FlagMetadata struct {
	Room                       string  `json:"room"`
	UserPreviousFlags          int     `json:"user_previous_flags"`
	EmotionTrigger             Emotion `json:"emotion_trigger,omitempty"`
	IntensityThresholdExceeded bool    `json:"intensity_threshold_exceeded"`
}

// Flag marks a message for moderator review.
type Flag struct {
	ID            string       `json:"id"`
	MessageID     string       `json:"message_id"`
	UserID        string       `json:"user_id"`
	ModeratorID   *string      `json:"moderator_id"`
	Type          FlagType     `json:"flag_type"`
	Reason        FlagReason   `json:"reason"`
	Description   string       `json:"description,omitempty"`
	Severity      Severity     `json:"severity"`
	Status        FlagStatus   `json:"status"`
	ActionTaken   Action       `json:"action_taken"`
	AIConfidence  float64      `json:"ai_confidence"`
	ReviewedBy    *string      `json:"reviewed_by"`
	ReviewerNotes *string      `json:"reviewer_notes"`
	ReviewedAt    *time.Time   `json:"reviewed_at"`
	Metadata      FlagMetadata `json:"metadata"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Review is the outcome a moderator records on a pending flag.
type Review struct {
	Status     FlagStatus
	Action     Action
	Notes      string
	ReviewerID string
	ReviewedAt time.Time
}

// Apply validates the transition and records r on f.
func (f *Flag) Apply(r Review) error {
	if !f.Status.CanTransition(r.Status) {
		return fmt.Errorf("flag %s cannot move from %s to %s", f.ID, f.Status, r.Status)
	}
	if r.Action == "" {
		r.Action = ActionNone
	}
	reviewer, notes, at := r.ReviewerID, r.Notes, r.ReviewedAt
	f.Status = r.Status
	f.ActionTaken = r.Action
	f.ReviewedBy = &reviewer
	f.ReviewerNotes = &notes
	f.ReviewedAt = &at
	return nil
}
