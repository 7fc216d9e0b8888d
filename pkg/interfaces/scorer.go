package interfaces

import (
	"context"

	"lifeline/pkg/types"
)

// ScoreInput is the vitals snapshot handed to the risk scorer. Gender
// is a binary indicator, 1 (male) by default.
type ScoreInput struct {
	HeartRate       float64 `json:"heartRate"`
	BodyTemperature float64 `json:"bodyTemperature"`
	BloodOxygen     float64 `json:"bloodOxygen"`
	Age             int     `json:"age"`
	Gender          int     `json:"gender"`
}

// Scorer classifies one vitals snapshot. Implementations must honor
// ctx deadlines; the room router treats a timeout like any failure and
// appends the reading unscored. The router never learns the mechanism
// behind the call.
type Scorer interface {
	Score(ctx context.Context, input ScoreInput) (*types.RiskAssessment, error)
}

// Notifier delivers an out-of-band message to a contact. Failure never
// blocks or fails the calling flow; callers log and move on.
type Notifier interface {
	Send(ctx context.Context, to, body string) error
}
