package analysis

import (
	"context"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"safechat/internal/model"
)

type abuseCategory struct {
	Type     model.AbuseType
	Keywords []string
}

type emotionCategory struct {
	Emotion  model.Emotion
	Keywords []string
}

// Table order is significant: ties go to the earlier category.
var abuseTable = []abuseCategory{
	{model.AbuseHarassment, []string{"idiot", "stupid", "loser", "worthless", "useless"}},
	{model.AbuseHateSpeech, []string{"hate", "racist", "bigot", "nazi", "supremacist"}},
	{model.AbuseThreats, []string{"kill", "hurt", "destroy", "attack", "violence"}},
	{model.AbuseBullying, []string{"weak", "pathetic", "nobody", "freak", "reject"}},
	{model.AbuseSpam, []string{"buy now", "click here", "free money", "winner", "lottery"}},
	{model.AbuseSexualContent, []string{"xxx", "adult", "explicit", "sexual", "inappropriate"}},
}

var emotionTable = []emotionCategory{
	{model.EmotionAnger, []string{"angry", "mad", "furious", "rage", "irritated", "pissed"}},
	{model.EmotionJoy, []string{"happy", "excited", "love", "great", "awesome", "amazing"}},
	{model.EmotionSadness, []string{"sad", "depressed", "upset", "crying", "miserable", "lonely"}},
	{model.EmotionFear, []string{"scared", "afraid", "terrified", "worried", "anxious", "panic"}},
	{model.EmotionSurprise, []string{"wow", "amazing", "incredible", "shocking", "unexpected"}},
	{model.EmotionNeutral, []string{"okay", "fine", "normal", "regular", "standard"}},
}

const (
	abuseNoiseFloor      = 0.1
	abuseJitter          = 0.3
	abuseConfidenceCap   = 0.95
	abusiveThreshold     = 0.3
	falsePositiveRate    = 0.05
	falsePositiveBase    = 0.2
	falsePositiveSpread  = 0.3
	emotionJitter        = 0.2
	emotionFloor         = 0.1
	neutralBase          = 0.3
	neutralSpread        = 0.4
	secondaryThreshold   = 0.2
	maxSecondaryEmotions = 2
)

// AbuseVerdict is the abuse half of a verdict, scores in [0,1].
type AbuseVerdict struct {
	IsAbusive  bool
	Type       model.AbuseType
	Confidence float64
	Categories map[model.AbuseType]float64
}

// EmotionVerdict is the emotion half of a verdict, scores in [0,1].
type EmotionVerdict struct {
	Primary   model.Emotion
	Intensity float64
	Secondary []model.EmotionScore
	Scores    map[model.Emotion]float64
}

// Verdict is the engine's raw output.
type Verdict struct {
	Abuse   AbuseVerdict
	Emotion EmotionVerdict
}

// Engine is the built-in keyword heuristic. Its output is intentionally
// noisy: scores carry bounded random jitter and a small false positive rate.
type Engine struct {
	random func() float64
	now    func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRandom replaces the uniform [0,1) source used for jitter.
func WithRandom(fn func() float64) EngineOption {
	return func(e *Engine) { e.random = fn }
}

// WithClock replaces the clock used for ProcessedAt.
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) { e.now = fn }
}

// NewEngine creates a heuristic engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{random: rand.Float64, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name identifies the engine in logs and metrics.
func (e *Engine) Name() string { return "heuristic" }

// ModelInfo describes the built-in keyword models. They are always online.
func (e *Engine) ModelInfo(context.Context) ModelInfo {
	return ModelInfo{
		AbuseModel:   "keyword-abuse-detector-v1.0",
		EmotionModel: "keyword-emotion-analyzer-v1.0",
		Version:      "1.0.0",
		Status:       "online",
		Type:         "heuristic",
	}
}

// Analyze implements Analyzer. It never fails.
func (e *Engine) Analyze(_ context.Context, text string) (model.Analysis, error) {
	return e.toAnalysis(e.Evaluate(text)), nil
}

// AnalyzeBatch implements Analyzer.
func (e *Engine) AnalyzeBatch(ctx context.Context, texts []string) ([]model.Analysis, error) {
	out := make([]model.Analysis, len(texts))
	for i, text := range texts {
		out[i], _ = e.Analyze(ctx, text)
	}
	return out, nil
}

// Evaluate scores text on the [0,1] scale.
func (e *Engine) Evaluate(text string) Verdict {
	content := strings.ToLower(text)
	return Verdict{
		Abuse:   e.detectAbuse(content),
		Emotion: e.detectEmotion(content),
	}
}

func (e *Engine) detectAbuse(content string) AbuseVerdict {
	v := AbuseVerdict{Type: model.AbuseNone, Categories: make(map[model.AbuseType]float64, len(abuseTable))}

	var best float64
	candidate := model.AbuseNone
	for _, c := range abuseTable {
		ratio := keywordRatio(content, c.Keywords)
		v.Categories[c.Type] = ratio
		if ratio > best {
			best = ratio
			candidate = c.Type
		}
	}

	if best > abuseNoiseFloor {
		best = math.Min(abuseConfidenceCap, best+e.random()*abuseJitter)
	} else if e.random() < falsePositiveRate {
		idx := int(e.random() * float64(len(abuseTable)))
		if idx >= len(abuseTable) {
			idx = len(abuseTable) - 1
		}
		candidate = abuseTable[idx].Type
		best = falsePositiveBase + e.random()*falsePositiveSpread
	}

	v.Confidence = best
	v.IsAbusive = best > abusiveThreshold
	if v.IsAbusive {
		v.Type = candidate
	}
	return v
}

func (e *Engine) detectEmotion(content string) EmotionVerdict {
	v := EmotionVerdict{Primary: model.EmotionNeutral, Scores: make(map[model.Emotion]float64, len(emotionTable))}

	for _, c := range emotionTable {
		score := math.Min(1.0, keywordRatio(content, c.Keywords)+e.random()*emotionJitter)
		v.Scores[c.Emotion] = score
		if score > v.Intensity {
			v.Intensity = score
			v.Primary = c.Emotion
		}
	}

	if v.Intensity < emotionFloor {
		v.Primary = model.EmotionNeutral
		v.Intensity = neutralBase + e.random()*neutralSpread
		v.Scores[model.EmotionNeutral] = v.Intensity
	}

	for _, c := range emotionTable {
		if len(v.Secondary) == maxSecondaryEmotions {
			break
		}
		score := v.Scores[c.Emotion]
		if c.Emotion != v.Primary && score > secondaryThreshold {
			v.Secondary = append(v.Secondary, model.EmotionScore{Emotion: c.Emotion, Intensity: score})
		}
	}
	return v
}

func (e *Engine) toAnalysis(v Verdict) model.Analysis {
	secondary := make([]model.EmotionScore, len(v.Emotion.Secondary))
	for i, s := range v.Emotion.Secondary {
		secondary[i] = model.EmotionScore{Emotion: s.Emotion, Intensity: toPercent(s.Intensity)}
	}
	return model.Analysis{
		AbuseDetected:     v.Abuse.IsAbusive,
		AbuseType:         v.Abuse.Type,
		ConfidenceScore:   toPercent(v.Abuse.Confidence),
		Emotion:           v.Emotion.Primary,
		EmotionIntensity:  toPercent(v.Emotion.Intensity),
		SecondaryEmotions: secondary,
		ProcessedAt:       e.now(),
	}
}

func keywordRatio(content string, keywords []string) float64 {
	matches := 0
	for _, kw := range keywords {
		if strings.Contains(content, kw) {
			matches++
		}
	}
	return float64(matches) / float64(len(keywords))
}

// toPercent maps a [0,1] score to [0,100] with two decimals.
func toPercent(score float64) float64 {
	return math.Round(score*10000) / 100
}
