package model

import "time"

// AbuseType is the abuse category reported by the analysis engine.
type AbuseType string

const (
	AbuseHarassment    AbuseType = "harassment"
	AbuseBullying      AbuseType = "bullying"
	AbuseHateSpeech    AbuseType = "hate_speech"
	AbuseThreats       AbuseType = "threats"
	AbuseSpam          AbuseType = "spam"
	AbuseSexualContent AbuseType = "sexual_content"
	AbuseNone          AbuseType = "none"
)

// Emotion is an emotion category.
type Emotion string

const (
	EmotionAnger    Emotion = "anger"
	EmotionJoy      Emotion = "joy"
	EmotionSadness  Emotion = "sadness"
	EmotionFear     Emotion = "fear"
	EmotionDisgust  Emotion = "disgust"
	EmotionSurprise Emotion = "surprise"
	EmotionNeutral  Emotion = "neutral"
)

// EmotionScore is a secondary emotion with its intensity (0-100).
type EmotionScore struct {
	Emotion   Emotion `json:"emotion"`
	Intensity float64 `json:"intensity"`
}

// Analysis is the verdict attached to a message. Scores are on a 0-100 scale.
type Analysis struct {
	AbuseDetected     bool           `json:"abuse_detected"`
	AbuseType         AbuseType      `json:"abuse_type"`
	ConfidenceScore   float64        `json:"confidence_score"`
	Emotion           Emotion        `json:"emotion"`
	EmotionIntensity  float64        `json:"emotion_intensity"`
	SecondaryEmotions []EmotionScore `json:"secondary_emotions"`
	ProcessedAt       time.Time      `json:"processed_at"`
	// Error is set when the result is a fallback rather than a real analysis.
	Error string `json:"error,omitempty"`
}
