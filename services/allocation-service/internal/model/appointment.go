package model

import "time"

type AppointmentStatus string

const (
	AppointmentScheduled   AppointmentStatus = "scheduled"
	AppointmentConfirmed   AppointmentStatus = "confirmed"
	AppointmentInProgress  AppointmentStatus = "in_progress"
	AppointmentCompleted   AppointmentStatus = "completed"
	AppointmentCancelled   AppointmentStatus = "cancelled"
	AppointmentNoShow      AppointmentStatus = "no_show"
	AppointmentRescheduled AppointmentStatus = "rescheduled"
)

// transitions encodes the appointment state machine. Rescheduling never
// mutates the date in place; it closes the old record and creates a new one
// with a rescheduled_from back-reference.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentScheduled:  {AppointmentConfirmed, AppointmentCancelled, AppointmentNoShow, AppointmentRescheduled},
	AppointmentConfirmed:  {AppointmentInProgress, AppointmentCancelled, AppointmentNoShow, AppointmentRescheduled},
	AppointmentInProgress: {AppointmentCompleted},
}

func (s AppointmentStatus) CanTransition(to AppointmentStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s AppointmentStatus) Terminal() bool {
	switch s {
	case AppointmentCompleted, AppointmentCancelled, AppointmentNoShow, AppointmentRescheduled:
		return true
	}
	return false
}

// ReleasesSlot reports whether entering the status gives the doctor's slot
// back. Rescheduled appointments hand their slot to the replacement record,
// so the counter stays put.
func (s AppointmentStatus) ReleasesSlot() bool {
	switch s {
	case AppointmentCompleted, AppointmentCancelled, AppointmentNoShow:
		return true
	}
	return false
}

type Appointment struct {
	ID              string            `json:"id"`
	PatientID       string            `json:"patient_id"`
	DoctorID        string            `json:"doctor_id"`
	Specialty       string            `json:"specialty"`
	Mode            ConsultationMode  `json:"mode"`
	Urgency         Urgency           `json:"urgency"`
	ChiefComplaint  string            `json:"chief_complaint"`
	Symptoms        []string          `json:"symptoms,omitempty"`
	Status          AppointmentStatus `json:"status"`
	BookedAt        time.Time         `json:"booked_at"`
	StartTime       time.Time         `json:"start_time"`
	EndTime         time.Time         `json:"end_time"`
	SessionStarted  *time.Time        `json:"session_started_at,omitempty"`
	SessionEnded    *time.Time        `json:"session_ended_at,omitempty"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	CancelReason    string            `json:"cancel_reason,omitempty"`
	RescheduledFrom string            `json:"rescheduled_from,omitempty"`
	DurationMinutes int               `json:"actual_duration_minutes,omitempty"`
	WaitMinutes     int               `json:"wait_minutes,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}
