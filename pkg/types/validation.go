package types

import "regexp"

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Physiological bounds for accepted readings. Anything outside is a
// sensor glitch or a malformed payload, not a medical value.
const (
	minHeartRate   = 0
	maxHeartRate   = 300
	minTemperature = 20
	maxTemperature = 45
	minOxygen      = 0
	maxOxygen      = 100
)

// IsValidID checks the opaque identifier format used for sessions and
// ambulances.
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return idRegex.MatchString(id)
}

// IsValidStatus reports whether s is one of the four lifecycle statuses.
func IsValidStatus(s string) bool {
	_, ok := statusRank[s]
	return ok
}

// IsValidMode reports whether m is a known monitoring mode.
func IsValidMode(m string) bool {
	return m == ModeAutomatic || m == ModeManual
}

// IsValidRole reports whether r is a known room role.
func IsValidRole(r string) bool {
	switch r {
	case RoleParamedic, RoleGuardian, RoleIoT:
		return true
	default:
		return false
	}
}

// IsValidClientEvent reports whether e is an event clients may send.
func IsValidClientEvent(e string) bool {
	switch e {
	case EventJoinSession, EventHealthUpdate, EventChatSend, EventStatusUpdate:
		return true
	default:
		return false
	}
}

// Validate ensures a session carries the fields required before it can
// be persisted.
func (s *Session) Validate() error {
	if s.AmbulanceID == "" {
		return ErrMissingAmbulance
	}
	if !IsValidID(s.AmbulanceID) {
		return ErrInvalidSessionID
	}
	if s.Mode != "" && !IsValidMode(s.Mode) {
		return ErrInvalidMode
	}
	if s.Status != "" && !IsValidStatus(s.Status) {
		return ErrInvalidStatus
	}
	return nil
}

// Validate checks a reading against physiological bounds.
func (p *HealthPoint) Validate() error {
	if p.HeartRate < minHeartRate || p.HeartRate > maxHeartRate {
		return ErrInvalidVitals
	}
	if p.BodyTemperature < minTemperature || p.BodyTemperature > maxTemperature {
		return ErrInvalidVitals
	}
	if p.BloodOxygen < minOxygen || p.BloodOxygen > maxOxygen {
		return ErrInvalidVitals
	}
	if p.RiskPrediction != nil {
		if p.RiskPrediction.RiskScore < 0 || p.RiskPrediction.RiskScore > 1 {
			return ErrInvalidRiskScore
		}
	}
	return nil
}

// Validate checks a chat message before it enters the transcript.
func (m *ChatMessage) Validate() error {
	if m.Text == "" {
		return ErrEmptyChatText
	}
	if len(m.Text) > 2000 {
		return ErrChatTextTooLarge
	}
	return nil
}
