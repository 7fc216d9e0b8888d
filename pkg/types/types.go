package types

import (
	"time"
)

// Session statuses, in transition order. Transitions are monotonic:
// draft -> ongoing -> arriving -> ended, never backward.
const (
	StatusDraft    = "draft"
	StatusOngoing  = "ongoing"
	StatusArriving = "arriving"
	StatusEnded    = "ended"
)

// Monitoring modes for a session's vitals feed.
const (
	ModeAutomatic = "automatic"
	ModeManual    = "manual"
)

// Roles a room participant can join with.
const (
	RoleParamedic = "paramedic"
	RoleGuardian  = "guardian"
	RoleIoT       = "iot"
)

// Client->server room events.
const (
	EventJoinSession  = "joinSession"
	EventHealthUpdate = "health:update"
	EventChatSend     = "chat:send"
	EventStatusUpdate = "status:update"
)

// Server->room events. EventHealthUpdate is reused in both directions.
const (
	EventChatMessage   = "chat:message"
	EventStatusChanged = "status:changed"
	EventSystem        = "system"
)

// Risk classifications produced by the scorer.
const (
	RiskHigh = "High Risk"
	RiskLow  = "Low Risk"
)

// Session is one emergency transport episode from start to hospital
// arrival. The store owns the authoritative copy; everything the room
// layer holds is a working cache.
type Session struct {
	ID               string     `json:"id" db:"id"`
	AmbulanceID      string     `json:"ambulance_id" db:"ambulance_id"`
	ParamedicID      string     `json:"paramedic_id,omitempty" db:"paramedic_id"`
	ParamedicName    string     `json:"paramedic_name,omitempty" db:"paramedic_name"`
	PatientName      string     `json:"patient_name,omitempty" db:"patient_name"`
	PatientAge       int        `json:"patient_age,omitempty" db:"patient_age"`
	PatientGender    *int       `json:"patient_gender,omitempty" db:"patient_gender"`
	GuardianNIC      string     `json:"guardian_nic,omitempty" db:"guardian_nic"`
	GuardianContact  string     `json:"guardian_contact,omitempty" db:"guardian_contact"`
	Mode             string     `json:"mode" db:"mode"`
	Status           string     `json:"status" db:"status"`
	StartedAt        *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	GuardianOTP      *string    `json:"-" db:"guardian_otp"`
	GuardianVerified bool       `json:"guardian_verified" db:"guardian_verified"`
}

// HealthPoint is a single vitals reading. Immutable once appended;
// appended only by the room router after validation.
type HealthPoint struct {
	ID              string          `json:"id,omitempty"`
	SessionID       string          `json:"session_id,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	HeartRate       float64         `json:"heartRate"`
	BodyTemperature float64         `json:"bodyTemperature"`
	BloodOxygen     float64         `json:"bloodOxygen"`
	Note            string          `json:"note,omitempty"`
	RiskPrediction  *RiskAssessment `json:"riskPrediction,omitempty"`
}

// RiskAssessment is the scorer's verdict for one reading. Attached at
// most once; a failed scoring attempt is never retried.
type RiskAssessment struct {
	Prediction string    `json:"prediction"`
	RiskScore  float64   `json:"riskScore"`
	Timestamp  time.Time `json:"timestamp"`
}

// ChatMessage is one entry in the session transcript. Timestamp is
// always server-assigned.
type ChatMessage struct {
	ID        string    `json:"id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is the wire envelope for everything that crosses a room
// connection, in either direction.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// JoinPayload is the client payload for joinSession.
type JoinPayload struct {
	SessionID string `json:"sessionId"`
	Role      string `json:"role"`
}

// HealthPayload is the client payload for health:update.
type HealthPayload struct {
	SessionID string      `json:"sessionId"`
	Point     HealthPoint `json:"point"`
}

// ChatPayload is the client payload for chat:send.
type ChatPayload struct {
	SessionID string `json:"sessionId"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
}

// StatusPayload is the client payload for status:update.
type StatusPayload struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// StatusChanged is the server payload for status:changed.
type StatusChanged struct {
	Status string `json:"status"`
}

// statusRank orders statuses for the forward-only transition check.
var statusRank = map[string]int{
	StatusDraft:    0,
	StatusOngoing:  1,
	StatusArriving: 2,
	StatusEnded:    3,
}

// CanTransition reports whether moving from one status to the next is a
// strictly forward step along the lifecycle.
func CanTransition(from, to string) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}
