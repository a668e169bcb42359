package allocation

import (
	"errors"
	"fmt"

	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/model"
)

var (
	ErrPatientNotFound = errors.New("patient not found")
	// ErrSlotUnavailable is returned by the registry when the conditional
	// workload increment matched no row: another request won the race or the
	// doctor is at capacity.
	ErrSlotUnavailable = errors.New("doctor slot unavailable")
)

// NoEligibleDoctorError carries best-effort alternatives for the caller's
// fallback UI. Emergency no-matches are messaged differently because the UI
// treats them as high severity.
type NoEligibleDoctorError struct {
	Urgency      model.Urgency
	Alternatives []model.Doctor
	// RacesExhausted marks that candidates existed but every reservation
	// attempt lost a capacity race.
	RacesExhausted bool
}

func (e *NoEligibleDoctorError) Error() string {
	if e.Urgency == model.UrgencyEmergency {
		return "no emergency-capable doctor is available right now"
	}
	if e.RacesExhausted {
		return "all matching doctors filled up while booking; please retry"
	}
	return "no eligible doctor found for this request"
}

// PersistenceError wraps a failure after a successful workload increment.
// The increment has already been compensated by the time it is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("allocation persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
