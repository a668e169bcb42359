package storage

import (
	"context"
	"errors"
	"time"

	"github.com/gramin-health/sehatsetu/libs/db"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/allocation"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/model"
	"github.com/jackc/pgx/v5"
)

type PatientRepository struct {
	pool *db.Pool
}

func NewPatientRepository(pool *db.Pool) *PatientRepository {
	return &PatientRepository{pool: pool}
}

func (r *PatientRepository) Get(ctx context.Context, patientID string) (model.Patient, error) {
	var p model.Patient
	var lastUrgency string
	var createdAt time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, age, gender, district, preferred_language,
			COALESCE(last_symptoms, '{}'), COALESCE(last_urgency, ''), created_at
		FROM patients
		WHERE id = $1
	`, patientID).Scan(
		&p.ID, &p.Name, &p.Age, &p.Gender, &p.District, &p.PreferredLanguage,
		&p.LastSymptoms, &lastUrgency, &createdAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Patient{}, allocation.ErrPatientNotFound
	}
	if err != nil {
		return model.Patient{}, err
	}
	p.LastUrgency = model.Urgency(lastUrgency)
	p.CreatedAt = createdAt
	return p, nil
}

// History aggregates the patient's appointment record. PriorDoctors only
// counts completed consultations, which is what continuity scoring wants.
func (r *PatientRepository) History(ctx context.Context, patientID string) (model.History, error) {
	h := model.History{PriorDoctors: map[string]int{}}

	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'no_show')
		FROM appointments
		WHERE patient_id = $1
	`, patientID).Scan(&h.Total, &h.Completed, &h.NoShows)
	if err != nil {
		return model.History{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT doctor_id, specialty, COUNT(*)
		FROM appointments
		WHERE patient_id = $1 AND status = 'completed'
		GROUP BY doctor_id, specialty
	`, patientID)
	if err != nil {
		return model.History{}, err
	}
	defer rows.Close()

	seen := map[string]bool{}
	for rows.Next() {
		var doctorID, specialty string
		var n int
		if err := rows.Scan(&doctorID, &specialty, &n); err != nil {
			return model.History{}, err
		}
		h.PriorDoctors[doctorID] += n
		if specialty != "" && !seen[specialty] {
			seen[specialty] = true
			h.Specialties = append(h.Specialties, specialty)
		}
	}
	if rows.Err() != nil {
		return model.History{}, rows.Err()
	}
	return h, nil
}
