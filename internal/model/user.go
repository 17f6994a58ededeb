package model

import "time"

// Role is a user's role.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// UserStats are counters maintained by the pipeline.
type UserStats struct {
	TotalMessages    int `json:"total_messages"`
	FlaggedMessages  int `json:"flagged_messages"`
	WarningsReceived int `json:"warnings_received"`
}

// User is the subset of the account the moderation core reads and mutates.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"is_active"`
	// SuspendedUntil is set by a timeout; nil for permanent deactivation.
	SuspendedUntil *time.Time `json:"suspended_until,omitempty"`
	Stats          UserStats  `json:"stats"`
	CreatedAt      time.Time  `json:"created_at"`
}

// StatField names a counter in UserStats.
type StatField string

const (
	StatTotalMessages    StatField = "total_messages"
	StatFlaggedMessages  StatField = "flagged_messages"
	StatWarningsReceived StatField = "warnings_received"
)

// Increment adds delta to the named counter.
func (s *UserStats) Increment(field StatField, delta int) {
	switch field {
	case StatTotalMessages:
		s.TotalMessages += delta
	case StatFlaggedMessages:
		s.FlaggedMessages += delta
	case StatWarningsReceived:
		s.WarningsReceived += delta
	}
}
