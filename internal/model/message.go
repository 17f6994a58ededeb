package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MaxMessageLength is the maximum body length in characters.
const MaxMessageLength = 2000

// DefaultRoom is the public room used when none is given.
const DefaultRoom = "general"

// Visibility is who may see a message.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is a defined visibility.
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// MessageStatus is the lifecycle status of a message.
type MessageStatus string

const (
	MessageActive  MessageStatus = "active"
	MessageFlagged MessageStatus = "flagged"
	MessageHidden  MessageStatus = "hidden"
	MessageDeleted MessageStatus = "deleted"
)

// messageTransitions lists the statuses reachable from each status.
// deleted is terminal.
var messageTransitions = map[MessageStatus][]MessageStatus{
	MessageActive:  {MessageFlagged, MessageHidden, MessageDeleted},
	MessageFlagged: {MessageActive, MessageHidden, MessageDeleted},
	MessageHidden:  {MessageActive, MessageFlagged, MessageDeleted},
	MessageDeleted: nil,
}

// Valid reports whether s is a defined message status.
func (s MessageStatus) Valid() bool {
	_, ok := messageTransitions[s]
	return ok
}

// CanTransition reports whether a message in status s may move to next.
// Re-applying the current status is a no-op and allowed, except once deleted.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return s != MessageDeleted
	}
	for _, allowed := range messageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseMessageStatus converts a wire value into a MessageStatus.
func ParseMessageStatus(v string) (MessageStatus, error) {
	s := MessageStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown message status %q", v)
	}
	return s, nil
}

// Message represents a chat message
type Message struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id"`
	Username          string        `json:"username"`
	Text              string        `json:"text"`
	Room              string        `json:"room"`
	Visibility        Visibility    `json:"visibility"`
	RecipientID       string        `json:"recipient_id,omitempty"`
	RecipientUsername string        `json:"recipient_username,omitempty"`
	Analysis          Analysis      `json:"analysis"`
	Status            MessageStatus `json:"status"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Participants returns the identities that receive a private message.
func (m *Message) Participants() []string {
	if m.Visibility != VisibilityPrivate {
		return nil
	}
	return []string{m.UserID, m.RecipientID}
}

// PublicRoom returns the room identifier for a named public room.
func PublicRoom(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultRoom
	}
	return "public:" + name
}

// PrivateRoom returns the room identifier shared by two users. The pair is
// sorted so both directions map to the same room.
func PrivateRoom(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "private:" + pair[0] + ":" + pair[1]
}
