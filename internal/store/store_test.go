package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safechat/internal/apperr"
	"safechat/internal/model"
)

// testStore runs the shared Store contract against one implementation.
func testStore(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("MessageRoundTrip", func(t *testing.T) { testMessageRoundTrip(t, newStore(t)) })
	t.Run("MessageTransitions", func(t *testing.T) { testMessageTransitions(t, newStore(t)) })
	t.Run("SaveAnalysis", func(t *testing.T) { testSaveAnalysis(t, newStore(t)) })
	t.Run("FlagUniqueness", func(t *testing.T) { testFlagUniqueness(t, newStore(t)) })
	t.Run("ConcurrentFlags", func(t *testing.T) { testConcurrentFlags(t, newStore(t)) })
	t.Run("ReviewFlag", func(t *testing.T) { testReviewFlag(t, newStore(t)) })
	t.Run("FlagMovesMessage", func(t *testing.T) { testFlagMovesMessage(t, newStore(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("Timeouts", func(t *testing.T) { testTimeouts(t, newStore(t)) })
}

func newUser(t *testing.T, s Store, name string) *model.User {
	t.Helper()
	u := &model.User{
		ID:        uuid.NewString(),
		Username:  name,
		Role:      model.RoleUser,
		IsActive:  true,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func newMessage(t *testing.T, s Store, u *model.User, text string) *model.Message {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	m := &model.Message{
		ID:         uuid.NewString(),
		UserID:     u.ID,
		Username:   u.Username,
		Text:       text,
		Room:       model.PublicRoom(""),
		Visibility: model.VisibilityPublic,
		Analysis: model.Analysis{
			AbuseType:         model.AbuseNone,
			Emotion:           model.EmotionNeutral,
			SecondaryEmotions: []model.EmotionScore{},
			ProcessedAt:       now,
		},
		Status:    model.MessageActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateMessage(context.Background(), m))
	return m
}

func newFlag(m *model.Message) *model.Flag {
	return &model.Flag{
		ID:          uuid.NewString(),
		MessageID:   m.ID,
		UserID:      m.UserID,
		Type:        model.FlagAuto,
		Reason:      model.ReasonHarassment,
		Severity:    model.SeverityMedium,
		Status:      model.FlagPending,
		ActionTaken: model.ActionNone,
		Metadata:    model.FlagMetadata{Room: m.Room},
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
}

func testMessageRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	u := newUser(t, s, "alice")
	m := newMessage(t, s, u, "hello")

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Text, got.Text)
	assert.Equal(t, m.Room, got.Room)
	assert.Equal(t, model.MessageActive, got.Status)
	assert.Equal(t, model.AbuseNone, got.Analysis.AbuseType)

	_, err = s.GetMessage(ctx, uuid.NewString())
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	err = s.CreateMessage(ctx, m)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func testMessageTransitions(t *testing.T, s Store) {
	ctx := context.Background()
	m := newMessage(t, s, newUser(t, s, "bob"), "hi")

	prev, err := s.TransitionMessage(ctx, m.ID, model.MessageHidden)
	require.NoError(t, err)
	assert.Equal(t, model.MessageActive, prev)

	prev, err = s.TransitionMessage(ctx, m.ID, model.MessageDeleted)
	require.NoError(t, err)
	assert.Equal(t, model.MessageHidden, prev)

	_, err = s.TransitionMessage(ctx, m.ID, model.MessageActive)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageDeleted, got.Status)

	_, err = s.TransitionMessage(ctx, uuid.NewString(), model.MessageHidden)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func testSaveAnalysis(t *testing.T, s Store) {
	ctx := context.Background()
	m := newMessage(t, s, newUser(t, s, "carol"), "you are stupid")

	a := model.Analysis{
		AbuseDetected:     true,
		AbuseType:         model.AbuseHarassment,
		ConfidenceScore:   82.5,
		Emotion:           model.EmotionAnger,
		EmotionIntensity:  71,
		SecondaryEmotions: []model.EmotionScore{{Emotion: model.EmotionDisgust, Intensity: 20}},
		ProcessedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}

	// 空のステータスは現在の状態を保つ
	got, err := s.SaveAnalysis(ctx, m.ID, a, "")
	require.NoError(t, err)
	assert.Equal(t, model.MessageActive, got.Status)
	assert.Equal(t, 82.5, got.Analysis.ConfidenceScore)

	got, err = s.SaveAnalysis(ctx, m.ID, a, model.MessageFlagged)
	require.NoError(t, err)
	assert.Equal(t, model.MessageFlagged, got.Status)

	reloaded, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AbuseHarassment, reloaded.Analysis.AbuseType)
	require.Len(t, reloaded.Analysis.SecondaryEmotions, 1)

	_, err = s.TransitionMessage(ctx, m.ID, model.MessageDeleted)
	require.NoError(t, err)
	_, err = s.SaveAnalysis(ctx, m.ID, a, model.MessageFlagged)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
}

func testFlagUniqueness(t *testing.T, s Store) {
	ctx := context.Background()
	u := newUser(t, s, "dave")
	m := newMessage(t, s, u, "spam spam")

	first := newFlag(m)
	require.NoError(t, s.CreateFlag(ctx, first))

	err := s.CreateFlag(ctx, newFlag(m))
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	active, err := s.ActiveFlagForMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	// 却下されたフラグは新しいフラグを妨げない
	_, err = s.ReviewFlag(ctx, first.ID, model.Review{
		Status:     model.FlagDismissed,
		ReviewerID: "mod-1",
		ReviewedAt: time.Now().UTC().Truncate(time.Microsecond),
	})
	require.NoError(t, err)

	_, err = s.ActiveFlagForMessage(ctx, m.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	second := newFlag(m)
	require.NoError(t, s.CreateFlag(ctx, second))

	n, err := s.CountFlagsForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testFlagMovesMessage(t *testing.T, s Store) {
	ctx := context.Background()
	m := newMessage(t, s, newUser(t, s, "frank"), "buy now")

	require.NoError(t, s.CreateFlag(ctx, newFlag(m)))
	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageFlagged, got.Status)

	deleted := newMessage(t, s, newUser(t, s, "gina"), "gone")
	_, err = s.TransitionMessage(ctx, deleted.ID, model.MessageDeleted)
	require.NoError(t, err)

	f := newFlag(deleted)
	err = s.CreateFlag(ctx, f)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	_, err = s.GetFlag(ctx, f.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = s.ActiveFlagForMessage(ctx, deleted.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	got, err = s.GetMessage(ctx, deleted.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageDeleted, got.Status)

	err = s.CreateFlag(ctx, &model.Flag{ID: uuid.NewString(), MessageID: uuid.NewString(), Status: model.FlagPending})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func testConcurrentFlags(t *testing.T, s Store) {
	ctx := context.Background()
	m := newMessage(t, s, newUser(t, s, "erin"), "go away")

	const workers = 8
	var (
		wg        sync.WaitGroup
		created   atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CreateFlag(ctx, newFlag(m))
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, apperr.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(workers-1), conflicts.Load())
}

func testReviewFlag(t *testing.T, s Store) {
	ctx := context.Background()
	m := newMessage(t, s, newUser(t, s, "frank"), "hate")
	f := newFlag(m)
	require.NoError(t, s.CreateFlag(ctx, f))

	at := time.Now().UTC().Truncate(time.Microsecond)
	got, err := s.ReviewFlag(ctx, f.ID, model.Review{
		Status:     model.FlagReviewed,
		Action:     model.ActionWarning,
		Notes:      "first offence",
		ReviewerID: "mod-1",
		ReviewedAt: at,
	})
	require.NoError(t, err)
	assert.Equal(t, model.FlagReviewed, got.Status)
	assert.Equal(t, model.ActionWarning, got.ActionTaken)
	require.NotNil(t, got.ReviewedBy)
	assert.Equal(t, "mod-1", *got.ReviewedBy)
	require.NotNil(t, got.ReviewerNotes)
	assert.Equal(t, "first offence", *got.ReviewerNotes)
	require.NotNil(t, got.ReviewedAt)
	assert.True(t, at.Equal(*got.ReviewedAt))

	_, err = s.ReviewFlag(ctx, f.ID, model.Review{Status: model.FlagEscalated, ReviewerID: "mod-2", ReviewedAt: at})
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	reloaded, err := s.GetFlag(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FlagReviewed, reloaded.Status)

	_, err = s.ReviewFlag(ctx, uuid.NewString(), model.Review{Status: model.FlagReviewed})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()
	u := newUser(t, s, "grace")

	require.NoError(t, s.IncrementStat(ctx, u.ID, model.StatTotalMessages, 1))
	require.NoError(t, s.IncrementStat(ctx, u.ID, model.StatTotalMessages, 1))
	require.NoError(t, s.IncrementStat(ctx, u.ID, model.StatWarningsReceived, 1))

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stats.TotalMessages)
	assert.Equal(t, 1, got.Stats.WarningsReceived)
	assert.Equal(t, 0, got.Stats.FlaggedMessages)

	assert.True(t, errors.Is(s.IncrementStat(ctx, uuid.NewString(), model.StatTotalMessages, 1), apperr.ErrNotFound))

	_, _, err = s.Deactivate(ctx, uuid.NewString(), nil)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func testTimeouts(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	u := newUser(t, s, "grace")
	until := now.Add(-time.Minute)
	got, changed, err := s.Deactivate(ctx, u.ID, &until)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.SuspendedUntil)

	// 短いタイムアウトは長いタイムアウトを縮めない
	shorter := until.Add(-time.Hour)
	got, changed, err = s.Deactivate(ctx, u.ID, &shorter)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, until.Equal(*got.SuspendedUntil))

	banned := newUser(t, s, "heidi")
	got, changed, err = s.Deactivate(ctx, banned.ID, nil)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Nil(t, got.SuspendedUntil)

	// 永久停止はタイムアウトで上書きされない
	got, changed, err = s.Deactivate(ctx, banned.ID, &until)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, got.IsActive)
	assert.Nil(t, got.SuspendedUntil)

	expired, err := s.ExpiredTimeouts(ctx, now)
	require.NoError(t, err)
	var ids []string
	for _, e := range expired {
		ids = append(ids, e.ID)
	}
	assert.Contains(t, ids, u.ID)
	assert.NotContains(t, ids, banned.ID)

	got, lifted, err := s.LiftTimeout(ctx, u.ID, now)
	require.NoError(t, err)
	assert.True(t, lifted)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.SuspendedUntil)

	got, lifted, err = s.LiftTimeout(ctx, banned.ID, now)
	require.NoError(t, err)
	assert.False(t, lifted)
	assert.False(t, got.IsActive)

	pending := newUser(t, s, "ivan")
	later := now.Add(time.Hour)
	_, _, err = s.Deactivate(ctx, pending.ID, &later)
	require.NoError(t, err)
	got, lifted, err = s.LiftTimeout(ctx, pending.ID, now)
	require.NoError(t, err)
	assert.False(t, lifted)
	assert.False(t, got.IsActive)

	// タイムアウト後の永久停止は掃除で解除されない
	_, _, err = s.Deactivate(ctx, pending.ID, nil)
	require.NoError(t, err)
	_, lifted, err = s.LiftTimeout(ctx, pending.ID, later.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, lifted)

	_, _, err = s.LiftTimeout(ctx, uuid.NewString(), now)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
