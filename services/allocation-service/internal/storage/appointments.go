package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gramin-health/sehatsetu/libs/db"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/model"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/outbox"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/registry"
	"github.com/jackc/pgx/v5"
)

var ErrAppointmentNotFound = errors.New("appointment not found")

// InvalidTransitionError is returned when a lifecycle request asks for a
// status the current state does not admit.
type InvalidTransitionError struct {
	From model.AppointmentStatus
	To   model.AppointmentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition appointment from %s to %s", e.From, e.To)
}

// AppointmentRepository owns the appointments table and the lifecycle state
// machine. Every transition runs in one transaction: row lock, status check,
// update, outbox event, and the doctor slot release when the new status
// gives the slot back.
type AppointmentRepository struct {
	pool    *db.Pool
	outbox  *outbox.Repository
	doctors *registry.Repository
	now     func() time.Time
}

func NewAppointmentRepository(pool *db.Pool, outboxRepo *outbox.Repository, doctors *registry.Repository) *AppointmentRepository {
	return &AppointmentRepository{
		pool:    pool,
		outbox:  outboxRepo,
		doctors: doctors,
		now:     time.Now,
	}
}

const appointmentColumns = `
	id, patient_id, doctor_id, specialty, mode, urgency, chief_complaint,
	COALESCE(symptoms, '{}'), status, booked_at, start_time, end_time,
	session_started_at, session_ended_at, cancelled_at,
	COALESCE(cancel_reason, ''), COALESCE(rescheduled_from, ''),
	COALESCE(actual_duration_minutes, 0), COALESCE(wait_minutes, 0), created_at`

// CreateScheduled inserts a freshly allocated appointment together with its
// scheduled event in one transaction. The caller has already incremented the
// doctor's counter; a failure here triggers the compensating decrement
// upstream.
func (r *AppointmentRepository) CreateScheduled(ctx context.Context, appt *model.Appointment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, specialty, mode, urgency, chief_complaint,
			symptoms, status, booked_at, start_time, end_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, appt.ID, appt.PatientID, appt.DoctorID, appt.Specialty, string(appt.Mode),
		string(appt.Urgency), appt.ChiefComplaint, appt.Symptoms,
		string(appt.Status), appt.BookedAt, appt.StartTime, appt.EndTime)
	if err != nil {
		return err
	}

	if err := r.emit(ctx, tx, outbox.EventAppointmentScheduled, *appt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, ErrAppointmentNotFound
	}
	return appt, err
}

// Confirm acknowledges a scheduled appointment on the patient side.
func (r *AppointmentRepository) Confirm(ctx context.Context, id string) (model.Appointment, error) {
	return r.transition(ctx, id, model.AppointmentConfirmed, outbox.EventAppointmentConfirmed,
		func(a *model.Appointment) {})
}

// Start opens the consultation session and records how long the patient
// waited since booking.
func (r *AppointmentRepository) Start(ctx context.Context, id string) (model.Appointment, error) {
	return r.transition(ctx, id, model.AppointmentInProgress, outbox.EventAppointmentStarted,
		func(a *model.Appointment) {
			now := r.now()
			a.SessionStarted = &now
			a.WaitMinutes = int(now.Sub(a.BookedAt).Minutes())
			if a.WaitMinutes < 0 {
				a.WaitMinutes = 0
			}
		})
}

// Complete closes the session, derives the actual duration, and releases the
// doctor's slot.
func (r *AppointmentRepository) Complete(ctx context.Context, id string) (model.Appointment, error) {
	return r.transition(ctx, id, model.AppointmentCompleted, outbox.EventAppointmentCompleted,
		func(a *model.Appointment) {
			now := r.now()
			a.SessionEnded = &now
			if a.SessionStarted != nil {
				a.DurationMinutes = int(now.Sub(*a.SessionStarted).Minutes())
			}
		})
}

func (r *AppointmentRepository) Cancel(ctx context.Context, id string, reason string) (model.Appointment, error) {
	return r.transition(ctx, id, model.AppointmentCancelled, outbox.EventAppointmentCancelled,
		func(a *model.Appointment) {
			now := r.now()
			a.CancelledAt = &now
			a.CancelReason = reason
		})
}

func (r *AppointmentRepository) MarkNoShow(ctx context.Context, id string) (model.Appointment, error) {
	return r.transition(ctx, id, model.AppointmentNoShow, outbox.EventAppointmentNoShow,
		func(a *model.Appointment) {})
}

// Reschedule closes the old record and creates a replacement at the new time
// with the same doctor. The slot moves with the record, so the doctor's
// counter is untouched.
func (r *AppointmentRepository) Reschedule(ctx context.Context, id string, newStart time.Time, durationMinutes int) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	old, err := r.lockAppointment(ctx, tx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !old.Status.CanTransition(model.AppointmentRescheduled) {
		return model.Appointment{}, &InvalidTransitionError{From: old.Status, To: model.AppointmentRescheduled}
	}

	_, err = tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, old.ID, string(model.AppointmentRescheduled))
	if err != nil {
		return model.Appointment{}, err
	}

	if durationMinutes <= 0 {
		durationMinutes = int(old.EndTime.Sub(old.StartTime).Minutes())
	}
	replacement := old
	replacement.ID = uuid.NewString()
	replacement.Status = model.AppointmentScheduled
	replacement.BookedAt = r.now()
	replacement.StartTime = newStart
	replacement.EndTime = newStart.Add(time.Duration(durationMinutes) * time.Minute)
	replacement.SessionStarted = nil
	replacement.SessionEnded = nil
	replacement.CancelledAt = nil
	replacement.CancelReason = ""
	replacement.RescheduledFrom = old.ID
	replacement.DurationMinutes = 0
	replacement.WaitMinutes = 0

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, specialty, mode, urgency, chief_complaint,
			symptoms, status, booked_at, start_time, end_time, rescheduled_from
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, replacement.ID, replacement.PatientID, replacement.DoctorID, replacement.Specialty,
		string(replacement.Mode), string(replacement.Urgency), replacement.ChiefComplaint,
		replacement.Symptoms, string(replacement.Status), replacement.BookedAt,
		replacement.StartTime, replacement.EndTime, replacement.RescheduledFrom)
	if err != nil {
		return model.Appointment{}, err
	}

	if err := r.emit(ctx, tx, outbox.EventAppointmentRescheduled, replacement); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return replacement, nil
}

func (r *AppointmentRepository) ListByPatient(ctx context.Context, patientID string, limit int) ([]model.Appointment, error) {
	return r.list(ctx, "patient_id", patientID, limit)
}

func (r *AppointmentRepository) ListByDoctor(ctx context.Context, doctorID string, limit int) ([]model.Appointment, error) {
	return r.list(ctx, "doctor_id", doctorID, limit)
}

// SweepNoShows flips overdue scheduled or confirmed appointments to no_show
// once their start time is more than grace in the past. Each row goes through
// the normal transition so the slot release and the event stay consistent.
func (r *AppointmentRepository) SweepNoShows(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := r.now().Add(-grace)
	rows, err := r.pool.Query(ctx, `
		SELECT id
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed') AND start_time < $1
		ORDER BY start_time
	`, cutoff)
	if err != nil {
		return 0, err
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, id := range ids {
		if _, err := r.MarkNoShow(ctx, id); err != nil {
			// A concurrent transition is fine, everything else is not.
			var invalid *InvalidTransitionError
			if errors.As(err, &invalid) || errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			return swept, err
		}
		swept++
	}
	return swept, nil
}

func (r *AppointmentRepository) transition(ctx context.Context, id string, to model.AppointmentStatus, eventType string, mutate func(*model.Appointment)) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := r.lockAppointment(ctx, tx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !appt.Status.CanTransition(to) {
		return model.Appointment{}, &InvalidTransitionError{From: appt.Status, To: to}
	}

	appt.Status = to
	mutate(&appt)

	_, err = tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			session_started_at = $3,
			session_ended_at = $4,
			cancelled_at = $5,
			cancel_reason = NULLIF($6, ''),
			actual_duration_minutes = NULLIF($7, 0),
			wait_minutes = NULLIF($8, 0),
			updated_at = now()
		WHERE id = $1
	`, appt.ID, string(appt.Status), appt.SessionStarted, appt.SessionEnded,
		appt.CancelledAt, appt.CancelReason, appt.DurationMinutes, appt.WaitMinutes)
	if err != nil {
		return model.Appointment{}, err
	}

	if to.ReleasesSlot() {
		if err := r.doctors.ReleaseInTx(ctx, tx, appt.DoctorID); err != nil {
			return model.Appointment{}, err
		}
	}

	if err := r.emit(ctx, tx, eventType, appt); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) lockAppointment(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, ErrAppointmentNotFound
	}
	return appt, err
}

func (r *AppointmentRepository) list(ctx context.Context, column, value string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+column+` = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, value, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (r *AppointmentRepository) emit(ctx context.Context, tx pgx.Tx, eventType string, appt model.Appointment) error {
	payload, err := json.Marshal(appt)
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

func scanIDs(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var mode, urgency, status string
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Specialty,
		&mode,
		&urgency,
		&a.ChiefComplaint,
		&a.Symptoms,
		&status,
		&a.BookedAt,
		&a.StartTime,
		&a.EndTime,
		&a.SessionStarted,
		&a.SessionEnded,
		&a.CancelledAt,
		&a.CancelReason,
		&a.RescheduledFrom,
		&a.DurationMinutes,
		&a.WaitMinutes,
		&a.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Mode = model.ConsultationMode(mode)
	a.Urgency = model.Urgency(urgency)
	a.Status = model.AppointmentStatus(status)
	return a, nil
}
