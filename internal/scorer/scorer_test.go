package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"lifeline/pkg/interfaces"
	"lifeline/pkg/types"
)

func testInput() interfaces.ScoreInput {
	return interfaces.ScoreInput{
		HeartRate:       120,
		BodyTemperature: 38.5,
		BloodOxygen:     91,
		Age:             61,
	}
}

func TestScoreSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		_, _ = w.Write([]byte(`{"prediction":"High Risk","riskScore":0.87}`))
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL, time.Second, zap.NewNop())
	assessment, err := s.Score(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if assessment.Prediction != types.RiskHigh {
		t.Errorf("Expected %q, got %q", types.RiskHigh, assessment.Prediction)
	}
	if assessment.RiskScore != 0.87 {
		t.Errorf("Expected score 0.87, got %v", assessment.RiskScore)
	}
	if assessment.Timestamp.IsZero() {
		t.Error("Expected assessment timestamp")
	}
}

func TestScoreDefaultsGender(t *testing.T) {
	var sawGender atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var input interfaces.ScoreInput
		_ = jsonDecode(r, &input)
		sawGender.Store(int64(input.Gender))
		_, _ = w.Write([]byte(`{"prediction":"Low Risk","riskScore":0.1}`))
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL, time.Second, zap.NewNop())
	if _, err := s.Score(context.Background(), testInput()); err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if sawGender.Load() != 1 {
		t.Errorf("Expected gender defaulted to 1, got %d", sawGender.Load())
	}
}

func TestScoreRejectsBadReplies(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"unknown prediction", `{"prediction":"Maybe","riskScore":0.5}`, http.StatusOK},
		{"score out of range", `{"prediction":"High Risk","riskScore":1.5}`, http.StatusOK},
		{"malformed body", `not json`, http.StatusOK},
		{"server error", `{}`, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			s := NewHTTPScorer(srv.URL, time.Second, zap.NewNop())
			if _, err := s.Score(context.Background(), testInput()); !errors.Is(err, ErrScoreUnavailable) {
				t.Errorf("Expected ErrScoreUnavailable, got %v", err)
			}
		})
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL, time.Second, zap.NewNop())
	for i := 0; i < 5; i++ {
		if _, err := s.Score(context.Background(), testInput()); !errors.Is(err, ErrScoreUnavailable) {
			t.Fatalf("Call %d: expected ErrScoreUnavailable, got %v", i+1, err)
		}
	}

	// After three consecutive failures the breaker is open and stops
	// reaching the service.
	if calls.Load() != 3 {
		t.Errorf("Expected 3 upstream calls before the breaker opened, got %d", calls.Load())
	}
}

func jsonDecode(r *http.Request, v interface{}) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}
