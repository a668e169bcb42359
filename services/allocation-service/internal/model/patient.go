package model

import "time"

type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyMedium    Urgency = "medium"
	UrgencyHigh      Urgency = "high"
	UrgencyEmergency Urgency = "emergency"
)

func ParseUrgency(raw string) (Urgency, bool) {
	switch Urgency(raw) {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyEmergency:
		return Urgency(raw), true
	case "":
		return "", true
	}
	return "", false
}

type Patient struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Age               int    `json:"age"`
	Gender            string `json:"gender"`
	District          string `json:"district"`
	PreferredLanguage string `json:"preferred_language"`
	// Denormalized recent health status; default input only, never ground
	// truth for allocation.
	LastSymptoms []string  `json:"last_symptoms,omitempty"`
	LastUrgency  Urgency   `json:"last_urgency,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// History summarizes a patient's prior consultations for continuity scoring
// and no-show risk.
type History struct {
	// PriorDoctors maps doctor id -> completed consultation count.
	PriorDoctors map[string]int
	// Specialties previously consulted.
	Specialties []string
	Total       int
	Completed   int
	NoShows     int
}

func (h History) HasSeen(doctorID string) bool {
	return h.PriorDoctors[doctorID] > 0
}
