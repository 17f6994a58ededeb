package analysis

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"safechat/internal/apperr"
	"safechat/internal/logging"
	"safechat/internal/model"
)

const (
	breakerFailureThreshold = 5
	breakerOpenTimeout      = 30 * time.Second
	maxResponseBytes        = 4 << 20
	modelInfoTimeout        = 5 * time.Second
)

// Client calls an external analysis service exposing /analyze and
// /batch-analyze. Every failure, including an open breaker, is reported as
// apperr.ErrAnalysisUnavailable.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// NewClient creates a client for the service at baseURL. timeout bounds a
// single request; batch requests get twice as long.
func NewClient(baseURL string, timeout time.Duration) *Client {
	settings := gobreaker.Settings{
		Name:        "analysis-service",
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("analysis circuit breaker state changed")
		},
	}

	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 2 * timeout},
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

// Name identifies the analyzer in logs and metrics.
func (c *Client) Name() string { return "remote" }

type analyzeRequest struct {
	Text string `json:"text"`
}

type batchRequest struct {
	Texts []string `json:"texts"`
}

type batchResponse struct {
	Results []model.Analysis `json:"results"`
}

// Analyze posts {text} to /analyze.
func (c *Client) Analyze(ctx context.Context, text string) (model.Analysis, error) {
	body, err := c.post(ctx, "/analyze", analyzeRequest{Text: text})
	if err != nil {
		return model.Analysis{}, err
	}

	var result model.Analysis
	if err := json.Unmarshal(body, &result); err != nil {
		return model.Analysis{}, fmt.Errorf("decode analysis: %v: %w", err, apperr.ErrAnalysisUnavailable)
	}
	normalize(&result)
	return result, nil
}

// AnalyzeBatch posts {texts} to /batch-analyze.
func (c *Client) AnalyzeBatch(ctx context.Context, texts []string) ([]model.Analysis, error) {
	body, err := c.post(ctx, "/batch-analyze", batchRequest{Texts: texts})
	if err != nil {
		return nil, err
	}

	var resp batchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode batch analysis: %v: %w", err, apperr.ErrAnalysisUnavailable)
	}
	if len(resp.Results) != len(texts) {
		return nil, fmt.Errorf("batch analysis returned %d results for %d texts: %w",
			len(resp.Results), len(texts), apperr.ErrAnalysisUnavailable)
	}
	for i := range resp.Results {
		normalize(&resp.Results[i])
	}
	return resp.Results, nil
}

// Health reports whether GET /health answers 200.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		logging.Error().Err(err).Msg("analysis service health check failed")
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ModelInfo asks GET /models/info. Any failure reports the models offline.
func (c *Client) ModelInfo(ctx context.Context) ModelInfo {
	ctx, cancel := context.WithTimeout(ctx, modelInfoTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models/info", nil)
	if err != nil {
		return offlineModels
	}
	resp, err := c.http.Do(req)
	if err != nil {
		logging.Error().Err(err).Msg("analysis service model info failed")
		return offlineModels
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logging.Warn().Int("status", resp.StatusCode).Msg("analysis service model info failed")
		return offlineModels
	}
	var info ModelInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&info); err != nil {
		logging.Warn().Err(err).Msg("failed to decode model info")
		return offlineModels
	}
	return info
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %v: %w", err, apperr.ErrAnalysisUnavailable)
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("POST %s: status %d", path, resp.StatusCode)
		}
		return data, nil
	})
	if err != nil {
		return nil, fmt.Errorf("analysis service %s: %v: %w", path, err, apperr.ErrAnalysisUnavailable)
	}
	return body, nil
}

// normalize fills fields a remote service may omit.
func normalize(a *model.Analysis) {
	if a.AbuseType == "" {
		a.AbuseType = model.AbuseNone
	}
	if a.Emotion == "" {
		a.Emotion = model.EmotionNeutral
	}
	if a.SecondaryEmotions == nil {
		a.SecondaryEmotions = []model.EmotionScore{}
	}
	if a.ProcessedAt.IsZero() {
		a.ProcessedAt = time.Now()
	}
}
