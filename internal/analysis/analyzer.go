// Package analysis scores message text for abuse and emotion.
//
// Two analyzers are provided: Engine, the built-in keyword heuristic, and
// Client, which calls an external analysis service over HTTP. Both return
// model.Analysis with scores on the 0-100 scale.
package analysis

import (
	"context"
	"time"

	"safechat/internal/config"
	"safechat/internal/model"
)

// Analyzer produces a verdict for message text.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, text string) (model.Analysis, error)
	AnalyzeBatch(ctx context.Context, texts []string) ([]model.Analysis, error)
}

// ModelInfo describes the models behind an analyzer.
type ModelInfo struct {
	AbuseModel   string `json:"abuse_model"`
	EmotionModel string `json:"emotion_model"`
	Version      string `json:"version"`
	Status       string `json:"status"`
	Type         string `json:"type,omitempty"`
}

// ModelReporter is implemented by analyzers that can describe their models.
type ModelReporter interface {
	ModelInfo(ctx context.Context) ModelInfo
}

// offlineModels is reported when the service cannot be asked.
var offlineModels = ModelInfo{
	AbuseModel:   "unavailable",
	EmotionModel: "unavailable",
	Version:      "unknown",
	Status:       "offline",
}

// UnavailableReason is recorded on fallback results.
const UnavailableReason = "analysis service unavailable"

// Default returns the unanalyzed result used when analysis fails.
func Default(reason string, at time.Time) model.Analysis {
	return model.Analysis{
		AbuseDetected:     false,
		AbuseType:         model.AbuseNone,
		ConfidenceScore:   0,
		Emotion:           model.EmotionNeutral,
		EmotionIntensity:  0,
		SecondaryEmotions: []model.EmotionScore{},
		ProcessedAt:       at,
		Error:             reason,
	}
}

// New selects the analyzer named by configuration.
func New(cfg config.Config) Analyzer {
	if cfg.UseMockAnalyzer {
		return NewEngine()
	}
	return NewClient(cfg.AnalysisServiceURL, cfg.AnalysisTimeout)
}
