package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safechat/internal/analysis"
	"safechat/internal/apperr"
	"safechat/internal/model"
	"safechat/internal/moderation"
	"safechat/internal/realtime"
	"safechat/internal/store"
)

// stubAnalyzer returns a pinned verdict, or blocks until the context ends
// when block is set.
type stubAnalyzer struct {
	result model.Analysis
	err    error
	block  bool
}

func (s stubAnalyzer) Name() string { return "stub" }

func (s stubAnalyzer) Analyze(ctx context.Context, _ string) (model.Analysis, error) {
	if s.block {
		<-ctx.Done()
		return model.Analysis{}, ctx.Err()
	}
	return s.result, s.err
}

func (s stubAnalyzer) AnalyzeBatch(ctx context.Context, texts []string) ([]model.Analysis, error) {
	out := make([]model.Analysis, len(texts))
	for i, text := range texts {
		a, err := s.Analyze(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

type published struct {
	event realtime.Event
	scope string
}

type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(ev realtime.Event, scope realtime.Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{event: ev, scope: scope.String()})
}

func (r *recorder) ofType(t realtime.EventType) []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []published
	for _, p := range r.events {
		if p.event.Type == t {
			out = append(out, p)
		}
	}
	return out
}

type fixture struct {
	store  *store.Memory
	events *recorder
	svc    *Service
}

func newFixture(t *testing.T, analyzer analysis.Analyzer, timeout time.Duration) *fixture {
	t.Helper()
	st := store.NewMemory()
	events := &recorder{}
	mod := moderation.NewService(st, events, moderation.NewExecutor(st, events, time.Hour))

	for _, u := range []*model.User{
		{ID: "alice", Username: "Alice", Role: model.RoleUser, IsActive: true},
		{ID: "bob", Username: "Bob", Role: model.RoleUser, IsActive: true},
		{ID: "mallory", Username: "Mallory", Role: model.RoleUser, IsActive: false},
	} {
		require.NoError(t, st.CreateUser(context.Background(), u))
	}

	return &fixture{store: st, events: events, svc: NewService(st, analyzer, mod, events, timeout)}
}

func abusive(confidence float64) model.Analysis {
	return model.Analysis{
		AbuseDetected:     true,
		AbuseType:         model.AbuseThreats,
		ConfidenceScore:   confidence,
		Emotion:           model.EmotionAnger,
		EmotionIntensity:  85,
		SecondaryEmotions: []model.EmotionScore{},
		ProcessedAt:       time.Now().UTC(),
	}
}

func TestSubmitMessage_AbusiveMessageIsFlagged(t *testing.T) {
	fx := newFixture(t, stubAnalyzer{result: abusive(85)}, time.Second)
	ctx := context.Background()

	msg, err := fx.svc.SubmitMessage(ctx, "alice", SubmitInput{Text: "you are worthless and I will kill you"})
	require.NoError(t, err)

	assert.Equal(t, model.MessageFlagged, msg.Status)
	assert.True(t, msg.Analysis.AbuseDetected)
	assert.Contains(t, []model.AbuseType{model.AbuseHarassment, model.AbuseThreats}, msg.Analysis.AbuseType)
	assert.Greater(t, msg.Analysis.ConfidenceScore, 70.0)

	flag, err := fx.store.ActiveFlagForMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FlagAuto, flag.Type)
	assert.Equal(t, model.FlagPending, flag.Status)
	assert.Equal(t, model.ReasonThreats, flag.Reason)
	assert.Equal(t, model.SeverityMedium, flag.Severity)
	assert.True(t, flag.Metadata.IntensityThresholdExceeded)

	flagged := fx.events.ofType(realtime.EventMessageFlagged)
	require.Len(t, flagged, 1)
	assert.Equal(t, "group:"+realtime.GroupModerators, flagged[0].scope)
	payload := flagged[0].event.Data.(realtime.MessageFlaggedPayload)
	assert.Equal(t, flag.ID, payload.Flag.ID)
	assert.Equal(t, model.MessageFlagged, payload.Message.Status)

	created := fx.events.ofType(realtime.EventNewMessage)
	require.Len(t, created, 1)
	assert.Equal(t, "broadcast", created[0].scope)
}

func TestSubmitMessage_HighConfidenceIsHighSeverity(t *testing.T) {
	fx := newFixture(t, stubAnalyzer{result: abusive(93)}, time.Second)

	msg, err := fx.svc.SubmitMessage(context.Background(), "alice", SubmitInput{Text: "threat"})
	require.NoError(t, err)

	flag, err := fx.store.ActiveFlagForMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SeverityHigh, flag.Severity)
}

func TestSubmitMessage_PositiveMessageStaysActive(t *testing.T) {
	engine := analysis.NewEngine(analysis.WithRandom(func() float64 { return 0.99 }))
	fx := newFixture(t, engine, time.Second)
	ctx := context.Background()

	msg, err := fx.svc.SubmitMessage(ctx, "alice", SubmitInput{Text: "have a great day, feeling happy"})
	require.NoError(t, err)

	assert.Equal(t, model.MessageActive, msg.Status)
	assert.False(t, msg.Analysis.AbuseDetected)
	assert.Equal(t, model.EmotionJoy, msg.Analysis.Emotion)
	assert.Empty(t, msg.Analysis.Error)

	_, err = fx.store.ActiveFlagForMessage(ctx, msg.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.Empty(t, fx.events.ofType(realtime.EventMessageFlagged))

	u, err := fx.store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, u.Stats.TotalMessages)
	assert.Equal(t, 0, u.Stats.FlaggedMessages)
}

func TestSubmitMessage_AnalysisTimeoutFallsBack(t *testing.T) {
	fx := newFixture(t, stubAnalyzer{block: true}, 20*time.Millisecond)

	start := time.Now()
	msg, err := fx.svc.SubmitMessage(context.Background(), "alice", SubmitInput{Text: "anyone there?"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	stored, err := fx.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	for _, m := range []*model.Message{msg, stored} {
		assert.Equal(t, model.MessageActive, m.Status)
		assert.False(t, m.Analysis.AbuseDetected)
		assert.Equal(t, model.AbuseNone, m.Analysis.AbuseType)
		assert.Equal(t, model.EmotionNeutral, m.Analysis.Emotion)
		assert.Zero(t, m.Analysis.ConfidenceScore)
		assert.Zero(t, m.Analysis.EmotionIntensity)
		assert.Equal(t, analysis.UnavailableReason, m.Analysis.Error)
	}
}

func TestSubmitMessage_AnalysisErrorFallsBack(t *testing.T) {
	fx := newFixture(t, stubAnalyzer{err: apperr.ErrAnalysisUnavailable}, time.Second)

	msg, err := fx.svc.SubmitMessage(context.Background(), "alice", SubmitInput{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, model.MessageActive, msg.Status)
	assert.Equal(t, analysis.UnavailableReason, msg.Analysis.Error)
}

func TestSubmitMessage_Private(t *testing.T) {
	fx := newFixture(t, stubAnalyzer{result: analysis.Default("", time.Now())}, time.Second)

	msg, err := fx.svc.SubmitMessage(context.Background(), "bob", SubmitInput{
		Text:        "hi alice",
		Visibility:  "private",
		RecipientID: "alice",
	})
	require.NoError(t, err)

	assert.Equal(t, model.VisibilityPrivate, msg.Visibility)
	assert.Equal(t, "private:alice:bob", msg.Room)
	assert.Equal(t, "Alice", msg.RecipientUsername)

	created := fx.events.ofType(realtime.EventNewMessage)
	require.Len(t, created, 1)
	assert.Equal(t, "direct", created[0].scope)
}

func TestSubmitMessage_Rejections(t *testing.T) {
	fx := newFixture(t, stubAnalyzer{result: analysis.Default("", time.Now())}, time.Second)
	ctx := context.Background()

	tests := []struct {
		name   string
		author string
		in     SubmitInput
		want   error
	}{
		{"empty text", "alice", SubmitInput{Text: "   "}, apperr.ErrValidation},
		{"too long", "alice", SubmitInput{Text: strings.Repeat("a", model.MaxMessageLength+1)}, apperr.ErrValidation},
		{"bad visibility", "alice", SubmitInput{Text: "hi", Visibility: "secret"}, apperr.ErrValidation},
		{"private without recipient", "alice", SubmitInput{Text: "hi", Visibility: "private"}, apperr.ErrValidation},
		{"private to self", "alice", SubmitInput{Text: "hi", Visibility: "private", RecipientID: "alice"}, apperr.ErrValidation},
		{"unknown recipient", "alice", SubmitInput{Text: "hi", Visibility: "private", RecipientID: "ghost"}, apperr.ErrNotFound},
		{"unknown author", "ghost", SubmitInput{Text: "hi"}, apperr.ErrNotFound},
		{"inactive author", "mallory", SubmitInput{Text: "hi"}, apperr.ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.SubmitMessage(ctx, tt.author, tt.in)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	assert.Empty(t, fx.events.ofType(realtime.EventNewMessage))
}

func TestSubmitMessage_MaxLengthCountsCharacters(t *testing.T) {
	fx := newFixture(t, stubAnalyzer{result: analysis.Default("", time.Now())}, time.Second)

	_, err := fx.svc.SubmitMessage(context.Background(), "alice", SubmitInput{
		Text: strings.Repeat("あ", model.MaxMessageLength),
	})
	assert.NoError(t, err)
}

func TestReanalyzeMessage_DoesNotFlag(t *testing.T) {
	stub := &switchAnalyzer{current: analysis.Default("", time.Now())}
	fx := newFixture(t, stub, time.Second)
	ctx := context.Background()

	msg, err := fx.svc.SubmitMessage(ctx, "alice", SubmitInput{Text: "borderline"})
	require.NoError(t, err)
	require.Equal(t, model.MessageActive, msg.Status)

	stub.set(abusive(95))
	got, err := fx.svc.ReanalyzeMessage(ctx, msg.ID)
	require.NoError(t, err)

	assert.True(t, got.Analysis.AbuseDetected)
	assert.Equal(t, 95.0, got.Analysis.ConfidenceScore)
	assert.Equal(t, model.MessageActive, got.Status)
	_, err = fx.store.ActiveFlagForMessage(ctx, msg.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = fx.svc.ReanalyzeMessage(ctx, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestSetMessageStatus(t *testing.T) {
	fx := newFixture(t, stubAnalyzer{result: analysis.Default("", time.Now())}, time.Second)
	ctx := context.Background()

	msg, err := fx.svc.SubmitMessage(ctx, "alice", SubmitInput{Text: "hello"})
	require.NoError(t, err)

	got, err := fx.svc.SetMessageStatus(ctx, "mod-1", msg.ID, "hidden")
	require.NoError(t, err)
	assert.Equal(t, model.MessageHidden, got.Status)

	changed := fx.events.ofType(realtime.EventMessageStatusChanged)
	require.Len(t, changed, 1)
	p := changed[0].event.Data.(realtime.MessageStatusPayload)
	assert.Equal(t, model.MessageActive, p.Previous)
	assert.Equal(t, model.MessageHidden, p.Status)
	assert.Equal(t, "mod-1", p.ChangedBy)

	_, err = fx.svc.SetMessageStatus(ctx, "mod-1", msg.ID, "archived")
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	_, err = fx.svc.SetMessageStatus(ctx, "mod-1", msg.ID, "deleted")
	require.NoError(t, err)

	// deleted からは遷移できない
	for _, status := range []string{"active", "flagged", "hidden", "deleted"} {
		_, err = fx.svc.SetMessageStatus(ctx, "mod-1", msg.ID, status)
		assert.True(t, errors.Is(err, apperr.ErrInvalidState), status)
	}
	_, err = fx.svc.ReanalyzeMessage(ctx, msg.ID)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	got, err = fx.svc.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageDeleted, got.Status)

	_, err = fx.svc.SetMessageStatus(ctx, "mod-1", "missing", "hidden")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestFlagOperations(t *testing.T) {
	fx := newFixture(t, stubAnalyzer{result: analysis.Default("", time.Now())}, time.Second)
	ctx := context.Background()

	msg, err := fx.svc.SubmitMessage(ctx, "alice", SubmitInput{Text: "hello"})
	require.NoError(t, err)

	f, err := fx.svc.CreateManualFlag(ctx, "mod-1", moderation.ManualFlagInput{MessageID: msg.ID, Reason: "spam"})
	require.NoError(t, err)

	got, err := fx.svc.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageFlagged, got.Status)

	reviewed, err := fx.svc.ReviewFlag(ctx, f.ID, "mod-2", moderation.ReviewInput{Status: "reviewed", Action: "message_removal"})
	require.NoError(t, err)
	assert.Equal(t, model.FlagReviewed, reviewed.Status)

	again, err := fx.svc.GetFlag(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActionMessageRemoval, again.ActionTaken)

	got, err = fx.svc.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageDeleted, got.Status)
}

type switchAnalyzer struct {
	mu      sync.Mutex
	current model.Analysis
}

func (s *switchAnalyzer) set(a model.Analysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = a
}

func (s *switchAnalyzer) Name() string { return "switch" }

func (s *switchAnalyzer) Analyze(context.Context, string) (model.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *switchAnalyzer) AnalyzeBatch(ctx context.Context, texts []string) ([]model.Analysis, error) {
	out := make([]model.Analysis, 0, len(texts))
	for _, text := range texts {
		a, _ := s.Analyze(ctx, text)
		out = append(out, a)
	}
	return out, nil
}
