package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"safechat/internal/apperr"
	"safechat/internal/model"
)

// Memory is an in-process Store. Entities are copied in and out so callers
// never share state with the store.
type Memory struct {
	mu       sync.RWMutex
	messages map[string]model.Message
	flags    map[string]model.Flag
	// activeFlags indexes the non-dismissed flag of each message.
	activeFlags map[string]string
	users       map[string]model.User
	now         func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		messages:    make(map[string]model.Message),
		flags:       make(map[string]model.Flag),
		activeFlags: make(map[string]string),
		users:       make(map[string]model.User),
		now:         time.Now,
	}
}

// Close implements Store.
func (s *Memory) Close() error { return nil }

func (s *Memory) CreateMessage(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[m.ID]; exists {
		return fmt.Errorf("message %s already exists: %w", m.ID, apperr.ErrConflict)
	}
	s.messages[m.ID] = cloneMessage(*m)
	return nil
}

func (s *Memory) GetMessage(_ context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, apperr.NotFound("message", id)
	}
	out := cloneMessage(m)
	return &out, nil
}

func (s *Memory) SaveAnalysis(_ context.Context, id string, a model.Analysis, status model.MessageStatus) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, apperr.NotFound("message", id)
	}
	if status != "" {
		if !m.Status.CanTransition(status) {
			return nil, apperr.InvalidState("message %s cannot move from %s to %s", id, m.Status, status)
		}
		m.Status = status
	}
	m.Analysis = a
	m.UpdatedAt = s.now()
	s.messages[id] = cloneMessage(m)

	out := cloneMessage(m)
	return &out, nil
}

func (s *Memory) TransitionMessage(_ context.Context, id string, status model.MessageStatus) (model.MessageStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return "", apperr.NotFound("message", id)
	}
	prev := m.Status
	if !prev.CanTransition(status) {
		return prev, apperr.InvalidState("message %s cannot move from %s to %s", id, prev, status)
	}
	m.Status = status
	m.UpdatedAt = s.now()
	s.messages[id] = m
	return prev, nil
}

func (s *Memory) CreateFlag(_ context.Context, f *model.Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[f.MessageID]
	if !ok {
		return apperr.NotFound("message", f.MessageID)
	}
	if m.Status == model.MessageDeleted {
		return apperr.InvalidState("message %s is deleted", f.MessageID)
	}
	if f.Status.Active() {
		if existing, ok := s.activeFlags[f.MessageID]; ok {
			return fmt.Errorf("message %s already has flag %s: %w", f.MessageID, existing, apperr.ErrConflict)
		}
		s.activeFlags[f.MessageID] = f.ID
	}
	s.flags[f.ID] = cloneFlag(*f)

	if m.Status != model.MessageFlagged {
		m.Status = model.MessageFlagged
		m.UpdatedAt = s.now()
		s.messages[m.ID] = m
	}
	return nil
}

func (s *Memory) GetFlag(_ context.Context, id string) (*model.Flag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flags[id]
	if !ok {
		return nil, apperr.NotFound("flag", id)
	}
	out := cloneFlag(f)
	return &out, nil
}

func (s *Memory) ActiveFlagForMessage(_ context.Context, messageID string) (*model.Flag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.activeFlags[messageID]
	if !ok {
		return nil, apperr.NotFound("active flag for message", messageID)
	}
	out := cloneFlag(s.flags[id])
	return &out, nil
}

func (s *Memory) CountFlagsForUser(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, f := range s.flags {
		if f.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *Memory) ReviewFlag(_ context.Context, id string, r model.Review) (*model.Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flags[id]
	if !ok {
		return nil, apperr.NotFound("flag", id)
	}
	if err := f.Apply(r); err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrInvalidState)
	}
	if !f.Status.Active() && s.activeFlags[f.MessageID] == f.ID {
		delete(s.activeFlags, f.MessageID)
	}
	s.flags[id] = cloneFlag(f)

	out := cloneFlag(f)
	return &out, nil
}

func (s *Memory) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.ID]; exists {
		return fmt.Errorf("user %s already exists: %w", u.ID, apperr.ErrConflict)
	}
	s.users[u.ID] = cloneUser(*u)
	return nil
}

func (s *Memory) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, apperr.NotFound("user", id)
	}
	out := cloneUser(u)
	return &out, nil
}

func (s *Memory) IncrementStat(_ context.Context, id string, field model.StatField, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return apperr.NotFound("user", id)
	}
	u.Stats.Increment(field, delta)
	s.users[id] = u
	return nil
}

func (s *Memory) Deactivate(_ context.Context, id string, until *time.Time) (*model.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, false, apperr.NotFound("user", id)
	}
	if !canDeactivate(u, until) {
		out := cloneUser(u)
		return &out, false, nil
	}
	u.IsActive = false
	u.SuspendedUntil = clonePtr(until)
	s.users[id] = u

	out := cloneUser(u)
	return &out, true, nil
}

// canDeactivate reports whether deactivating u until the given expiry
// changes it. Permanent deactivation always applies.
func canDeactivate(u model.User, until *time.Time) bool {
	if until == nil {
		return u.IsActive || u.SuspendedUntil != nil
	}
	if u.IsActive {
		return true
	}
	return u.SuspendedUntil != nil && u.SuspendedUntil.Before(*until)
}

func (s *Memory) LiftTimeout(_ context.Context, id string, now time.Time) (*model.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, false, apperr.NotFound("user", id)
	}
	if u.IsActive || u.SuspendedUntil == nil || u.SuspendedUntil.After(now) {
		out := cloneUser(u)
		return &out, false, nil
	}
	u.IsActive = true
	u.SuspendedUntil = nil
	s.users[id] = u

	out := cloneUser(u)
	return &out, true, nil
}

func (s *Memory) ExpiredTimeouts(_ context.Context, now time.Time) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.User
	for _, u := range s.users {
		if !u.IsActive && u.SuspendedUntil != nil && !u.SuspendedUntil.After(now) {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

func cloneMessage(m model.Message) model.Message {
	if m.Analysis.SecondaryEmotions != nil {
		m.Analysis.SecondaryEmotions = append([]model.EmotionScore(nil), m.Analysis.SecondaryEmotions...)
	}
	return m
}

func cloneFlag(f model.Flag) model.Flag {
	f.ModeratorID = clonePtr(f.ModeratorID)
	f.ReviewedBy = clonePtr(f.ReviewedBy)
	f.ReviewerNotes = clonePtr(f.ReviewerNotes)
	f.ReviewedAt = clonePtr(f.ReviewedAt)
	return f
}

func cloneUser(u model.User) model.User {
	u.SuspendedUntil = clonePtr(u.SuspendedUntil)
	return u
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
