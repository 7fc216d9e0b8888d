package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"lifeline/pkg/interfaces"
	"lifeline/pkg/types"
)

// HTTPScorer calls an external risk-scoring service. The room router
// only sees the Scorer interface; whether scoring runs in-process,
// as a subprocess or behind HTTP is this package's concern.
type HTTPScorer struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// scoreResponse mirrors the scoring service's reply.
type scoreResponse struct {
	Prediction string  `json:"prediction"`
	RiskScore  float64 `json:"riskScore"`
}

// NewHTTPScorer builds a scorer with a bounded per-call timeout. The
// breaker opens after three consecutive failures so a dead scorer
// stops costing every reading its full timeout.
func NewHTTPScorer(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPScorer {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "risk-scorer",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &HTTPScorer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		breaker:  breaker,
		logger:   logger,
	}
}

// Score classifies one vitals snapshot. Every failure mode (transport
// error, non-2xx, malformed body, open breaker, timeout) maps to
// ErrScoreUnavailable; the caller appends the reading unscored.
func (s *HTTPScorer) Score(ctx context.Context, input interfaces.ScoreInput) (*types.RiskAssessment, error) {
	if input.Gender == 0 {
		input.Gender = 1 // binary indicator, male by default
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.call(ctx, input)
	})
	if err != nil {
		s.logger.Warn("risk scoring unavailable", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrScoreUnavailable, err)
	}

	return result.(*types.RiskAssessment), nil
}

func (s *HTTPScorer) call(ctx context.Context, input interfaces.ScoreInput) (*types.RiskAssessment, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("scorer returned status %d", resp.StatusCode)
	}

	var decoded scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("malformed scorer output: %w", err)
	}
	if decoded.Prediction != types.RiskHigh && decoded.Prediction != types.RiskLow {
		return nil, fmt.Errorf("unknown prediction %q", decoded.Prediction)
	}
	if decoded.RiskScore < 0 || decoded.RiskScore > 1 {
		return nil, fmt.Errorf("risk score %f out of range", decoded.RiskScore)
	}

	return &types.RiskAssessment{
		Prediction: decoded.Prediction,
		RiskScore:  decoded.RiskScore,
		Timestamp:  time.Now(),
	}, nil
}
