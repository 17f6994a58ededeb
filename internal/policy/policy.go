// Package policy decides whether an analyzed message is flagged automatically.
package policy

import "safechat/internal/model"

const (
	// FlagThreshold is the confidence a detected abuse must exceed to be flagged.
	FlagThreshold = 70.0
	// HighSeverityThreshold is the confidence above which the flag is high severity.
	HighSeverityThreshold = 90.0
	// IntensityThreshold marks an emotion as intense in flag metadata.
	IntensityThreshold = 80.0
)

// Directive tells the pipeline how to create an auto flag.
type Directive struct {
	Reason                     model.FlagReason
	Severity                   model.Severity
	AIConfidence               float64
	EmotionTrigger             model.Emotion
	IntensityThresholdExceeded bool
}

// Decide returns a directive when a must be flagged. It reads nothing but a.
func Decide(a model.Analysis) (Directive, bool) {
	if !a.AbuseDetected || a.ConfidenceScore <= FlagThreshold {
		return Directive{}, false
	}

	severity := model.SeverityMedium
	if a.ConfidenceScore > HighSeverityThreshold {
		severity = model.SeverityHigh
	}

	return Directive{
		Reason:                     model.ReasonForAbuse(a.AbuseType),
		Severity:                   severity,
		AIConfidence:               a.ConfidenceScore,
		EmotionTrigger:             a.Emotion,
		IntensityThresholdExceeded: a.EmotionIntensity > IntensityThreshold,
	}, true
}
