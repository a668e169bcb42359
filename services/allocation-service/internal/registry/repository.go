// Package registry is the doctor registry: read-heavy candidate queries plus
// the serialized workload counter. The counter is only ever mutated through
// the conditional SQL here, never read-modify-write in application code.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gramin-health/sehatsetu/libs/db"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/allocation"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/model"
	"github.com/jackc/pgx/v5"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

const doctorColumns = `
	id, name, specialties, languages, modes, district, service_radius_km,
	emergency_available, status, active, verified,
	current_patients, max_patients_per_day,
	rating_avg, rating_count, avg_response_minutes, total_consultations,
	fees, schedule, created_at`

// FindCandidates applies the structural eligibility predicates in SQL and
// returns at most q.Limit doctors in advisory order (workload asc, rating
// desc, response asc). The scorer re-ranks regardless.
func (r *Repository) FindCandidates(ctx context.Context, q allocation.CandidateQuery) ([]model.Doctor, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE active AND verified
			AND status IN ('online', 'busy')
			AND ($1 = '' OR $1 = ANY(specialties))
			AND ($2 = '' OR $2 = ANY(languages))
			AND ($3 = '' OR $3 = ANY(modes))
			AND (cardinality($4::text[]) = 0 OR district = ANY($4))
			AND (NOT $5 OR emergency_available)
			AND current_patients::float8 < $6 * max_patients_per_day
		ORDER BY current_patients ASC, rating_avg DESC, avg_response_minutes ASC
		LIMIT $7
	`, q.Specialty, q.Language, q.Mode, districtsArg(q.Districts), q.EmergencyOnly, q.CapacityCutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDoctors(rows)
}

// Alternatives is the best-effort fallback list for a no-match outcome:
// active, verified general practitioners in the same district set, capacity
// ignored. Informational only.
func (r *Repository) Alternatives(ctx context.Context, districts []string, limit int) ([]model.Doctor, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE active AND verified
			AND $1 = ANY(specialties)
			AND (cardinality($2::text[]) = 0 OR district = ANY($2))
		ORDER BY rating_avg DESC, current_patients ASC
		LIMIT $3
	`, model.GeneralPractice, districtsArg(districts), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDoctors(rows)
}

// Reserve atomically increments the doctor's workload counter, but only while
// the result stays within the daily maximum. A zero-row update means another
// request won the race (or the doctor is full) and maps to
// allocation.ErrSlotUnavailable.
func (r *Repository) Reserve(ctx context.Context, doctorID string) (model.Workload, float64, error) {
	var w model.Workload
	var avgResponse float64
	err := r.pool.QueryRow(ctx, `
		UPDATE doctors
		SET current_patients = current_patients + 1,
			updated_at = now()
		WHERE id = $1 AND current_patients < max_patients_per_day
		RETURNING current_patients, max_patients_per_day, avg_response_minutes
	`, doctorID).Scan(&w.CurrentPatients, &w.MaxPatientsPerDay, &avgResponse)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Workload{}, 0, allocation.ErrSlotUnavailable
	}
	if err != nil {
		return model.Workload{}, 0, err
	}
	return w, avgResponse, nil
}

// Release decrements the counter, floored at zero. Used both for the
// compensating decrement after a failed appointment insert and for closures.
func (r *Repository) Release(ctx context.Context, doctorID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE doctors
		SET current_patients = GREATEST(current_patients - 1, 0),
			updated_at = now()
		WHERE id = $1
	`, doctorID)
	return err
}

// ReleaseInTx is Release inside a caller-owned transaction, so appointment
// closures decrement atomically with the status change.
func (r *Repository) ReleaseInTx(ctx context.Context, tx pgx.Tx, doctorID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE doctors
		SET current_patients = GREATEST(current_patients - 1, 0),
			updated_at = now()
		WHERE id = $1
	`, doctorID)
	return err
}

func (r *Repository) Get(ctx context.Context, doctorID string) (model.Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE id = $1
	`, doctorID)
	return scanDoctor(row)
}

// SetStatus updates the online presence flag (online, busy, offline).
func (r *Repository) SetStatus(ctx context.Context, doctorID string, status model.OnlineStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE doctors
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, doctorID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ApplyFeedback folds one completed-consultation rating into the doctor's
// quality stats as running averages. Driven by the feedback consumer.
func (r *Repository) ApplyFeedback(ctx context.Context, doctorID string, rating, responseMinutes float64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE doctors
		SET rating_avg = (rating_avg * rating_count + $2) / (rating_count + 1),
			rating_count = rating_count + 1,
			avg_response_minutes = (avg_response_minutes * total_consultations + $3) / (total_consultations + 1),
			total_consultations = total_consultations + 1,
			updated_at = now()
		WHERE id = $1
	`, doctorID, rating, responseMinutes)
	return err
}

// ResetDailyWorkloads zeroes every counter; run once a day since the maximum
// is a per-day budget.
func (r *Repository) ResetDailyWorkloads(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE doctors
		SET current_patients = 0, updated_at = now()
		WHERE current_patients > 0
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DistrictStats is the per-district workload aggregate served by the
// analytics endpoint.
type DistrictStats struct {
	District       string  `json:"district"`
	Doctors        int     `json:"doctors"`
	OnlineDoctors  int     `json:"online_doctors"`
	TotalCapacity  int     `json:"total_capacity"`
	CurrentLoad    int     `json:"current_load"`
	AvgUtilization float64 `json:"avg_utilization"`
}

func (r *Repository) WorkloadStats(ctx context.Context) ([]DistrictStats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT district,
			COUNT(*),
			COUNT(*) FILTER (WHERE status IN ('online', 'busy')),
			COALESCE(SUM(max_patients_per_day), 0),
			COALESCE(SUM(current_patients), 0),
			COALESCE(AVG(current_patients::float8 / NULLIF(max_patients_per_day, 0)), 0)
		FROM doctors
		WHERE active AND verified
		GROUP BY district
		ORDER BY district
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []DistrictStats
	for rows.Next() {
		var s DistrictStats
		if err := rows.Scan(&s.District, &s.Doctors, &s.OnlineDoctors, &s.TotalCapacity, &s.CurrentLoad, &s.AvgUtilization); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return stats, nil
}

func districtsArg(districts []string) []string {
	if districts == nil {
		return []string{}
	}
	return districts
}

func scanDoctors(rows pgx.Rows) ([]model.Doctor, error) {
	var doctors []model.Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		doctors = append(doctors, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return doctors, nil
}

func scanDoctor(row pgx.Row) (model.Doctor, error) {
	var d model.Doctor
	var status string
	var fees, schedule []byte
	var createdAt time.Time
	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialties,
		&d.Languages,
		&d.Modes,
		&d.District,
		&d.ServiceRadiusKm,
		&d.EmergencyAvailable,
		&status,
		&d.Active,
		&d.Verified,
		&d.Workload.CurrentPatients,
		&d.Workload.MaxPatientsPerDay,
		&d.Quality.RatingAvg,
		&d.Quality.RatingCount,
		&d.Quality.AvgResponseMinutes,
		&d.Quality.TotalConsultations,
		&fees,
		&schedule,
		&createdAt,
	)
	if err != nil {
		return model.Doctor{}, err
	}
	d.Status = model.OnlineStatus(status)
	d.CreatedAt = createdAt
	if len(fees) > 0 {
		if err := json.Unmarshal(fees, &d.Fees); err != nil {
			return model.Doctor{}, err
		}
	}
	if len(schedule) > 0 {
		if err := json.Unmarshal(schedule, &d.Schedule); err != nil {
			return model.Doctor{}, err
		}
	}
	return d, nil
}
