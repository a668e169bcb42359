package model

import "time"

type OnlineStatus string

const (
	StatusOnline  OnlineStatus = "online"
	StatusBusy    OnlineStatus = "busy"
	StatusOffline OnlineStatus = "offline"
)

func (s OnlineStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusBusy, StatusOffline:
		return true
	}
	return false
}

type ConsultationMode string

const (
	ModeVideo ConsultationMode = "video"
	ModeVoice ConsultationMode = "voice"
	ModeChat  ConsultationMode = "chat"
)

// GeneralPractice is the sentinel specialty meaning "any general
// practitioner"; the candidate filter skips the specialty predicate for it.
const GeneralPractice = "General Medicine"

// Workload is owned by the doctor registry row. It is only ever mutated
// through the registry's conditional increment/decrement; nothing else may
// compute or cache it.
type Workload struct {
	CurrentPatients   int `json:"current_patients"`
	MaxPatientsPerDay int `json:"max_patients_per_day"`
}

func (w Workload) Utilization() float64 {
	if w.MaxPatientsPerDay <= 0 {
		return 1
	}
	return float64(w.CurrentPatients) / float64(w.MaxPatientsPerDay)
}

// QualityStats is updated asynchronously from consultation feedback events.
// Zero values mean "no data yet"; the scorer must tolerate that.
type QualityStats struct {
	RatingAvg          float64 `json:"rating_avg"`
	RatingCount        int     `json:"rating_count"`
	AvgResponseMinutes float64 `json:"avg_response_minutes"`
	TotalConsultations int     `json:"total_consultations"`
}

// SlotRange is one bookable range in a weekly schedule, markable
// available/unavailable independently.
type SlotRange struct {
	Start     string `json:"start"` // "09:00"
	End       string `json:"end"`   // "12:30"
	Available bool   `json:"available"`
}

// WeeklySchedule maps lowercase weekday names to slot ranges.
type WeeklySchedule map[string][]SlotRange

type Doctor struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Specialties        []string       `json:"specialties"`
	Languages          []string       `json:"languages"`
	Modes              []string       `json:"modes"`
	District           string         `json:"district"`
	ServiceRadiusKm    float64        `json:"service_radius_km"`
	EmergencyAvailable bool           `json:"emergency_available"`
	Status             OnlineStatus   `json:"status"`
	Active             bool           `json:"active"`
	Verified           bool           `json:"verified"`
	Workload           Workload       `json:"workload"`
	Quality            QualityStats   `json:"quality"`
	Fees               map[string]int `json:"fees,omitempty"` // mode -> fee
	Schedule           WeeklySchedule `json:"schedule,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

func (d Doctor) HasSpecialty(specialty string) bool {
	for _, s := range d.Specialties {
		if s == specialty {
			return true
		}
	}
	return false
}
