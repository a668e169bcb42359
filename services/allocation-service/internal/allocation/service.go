package allocation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/model"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/observability"
)

// CandidateQuery is the structural filter evaluated by the doctor registry.
type CandidateQuery struct {
	Specialty      string   // empty means the general-practice sentinel: no specialty predicate
	Language       string   // empty: no language predicate
	Mode           string   // empty: no mode predicate
	Districts      []string // home district plus configured neighbors; nil: no locality predicate
	EmergencyOnly  bool
	CapacityCutoff float64
	Limit          int
}

// Registry is the doctor lookup and workload capability the allocator
// consumes. Reserve must be an atomic increment-with-precondition; it is the
// single serialization point of the pipeline.
type Registry interface {
	FindCandidates(ctx context.Context, q CandidateQuery) ([]model.Doctor, error)
	Alternatives(ctx context.Context, districts []string, limit int) ([]model.Doctor, error)
	Reserve(ctx context.Context, doctorID string) (model.Workload, float64, error)
	Release(ctx context.Context, doctorID string) error
}

type PatientDirectory interface {
	Get(ctx context.Context, id string) (model.Patient, error)
	History(ctx context.Context, id string) (model.History, error)
}

type AppointmentWriter interface {
	CreateScheduled(ctx context.Context, appt *model.Appointment) error
}

// TriageProvider supplies a default urgency when the request omits one.
type TriageProvider interface {
	DefaultUrgency(ctx context.Context, symptoms []string) (model.Urgency, error)
}

type Request struct {
	PatientID         string
	Specialty         string
	Urgency           model.Urgency
	PreferredLanguage string
	Mode              model.ConsultationMode
	District          string
	Symptoms          []string
}

// DoctorSummary is the doctor view returned alongside a fresh reservation.
type DoctorSummary struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	District             string   `json:"district"`
	Specialties          []string `json:"specialties"`
	RatingAvg            float64  `json:"rating_avg"`
	CurrentPatients      int      `json:"current_patients"`
	MaxPatientsPerDay    int      `json:"max_patients_per_day"`
	EstimatedWaitMinutes int      `json:"estimated_wait_minutes"`
}

type Result struct {
	Doctor      DoctorSummary     `json:"doctor"`
	Appointment model.Appointment `json:"appointment"`
}

type Service struct {
	registry     Registry
	patients     PatientDirectory
	appointments AppointmentWriter
	triage       TriageProvider
	districts    DistrictMap
	cfg          Config
	logger       *slog.Logger
	metrics      *observability.Metrics
	now          func() time.Time
}

func NewService(registry Registry, patients PatientDirectory, appointments AppointmentWriter, triage TriageProvider, districts DistrictMap, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		registry:     registry,
		patients:     patients,
		appointments: appointments,
		triage:       triage,
		districts:    districts,
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Allocate runs the full pipeline: filter, score, reserve, create. On a
// capacity race it retries against the next-best candidate up to the
// configured bound; on appointment-creation failure it compensates the
// reserved slot before returning.
func (s *Service) Allocate(ctx context.Context, req Request) (Result, error) {
	started := time.Now()

	patient, err := s.patients.Get(ctx, req.PatientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			s.count("invalid")
			return Result{}, ErrPatientNotFound
		}
		return Result{}, err
	}

	history, err := s.patients.History(ctx, req.PatientID)
	if err != nil {
		return Result{}, err
	}

	district := req.District
	if district == "" {
		district = patient.District
	}

	urgency := req.Urgency
	if urgency == "" {
		urgency = s.defaultUrgency(ctx, req.Symptoms, patient)
	}

	query := CandidateQuery{
		Language:       req.PreferredLanguage,
		Mode:           string(req.Mode),
		Districts:      s.districts.SearchSet(district),
		EmergencyOnly:  urgency == model.UrgencyEmergency,
		CapacityCutoff: s.cfg.CapacityCutoff,
		Limit:          s.cfg.MaxCandidates,
	}
	if req.Specialty != "" && req.Specialty != model.GeneralPractice {
		query.Specialty = req.Specialty
	}

	candidates, err := s.registry.FindCandidates(ctx, query)
	if err != nil {
		return Result{}, err
	}
	if s.metrics != nil {
		s.metrics.CandidatesPerRequest.Observe(float64(len(candidates)))
	}
	if len(candidates) == 0 {
		s.count("no_match")
		return Result{}, &NoEligibleDoctorError{
			Urgency:      urgency,
			Alternatives: s.alternatives(ctx, query.Districts),
		}
	}

	ranked := s.cfg.Rank(candidates, ScoreContext{
		Urgency:      urgency,
		Specialty:    req.Specialty,
		PriorDoctors: history.PriorDoctors,
	})

	attempts := s.cfg.MaxReserveAttempts
	if attempts > len(ranked) {
		attempts = len(ranked)
	}

	for i := 0; i < attempts; i++ {
		pick := ranked[i].Doctor

		workload, avgResponse, err := s.registry.Reserve(ctx, pick.ID)
		if errors.Is(err, ErrSlotUnavailable) {
			// Another request won this doctor between filtering and
			// reservation; fall through to the next-best candidate.
			if s.metrics != nil {
				s.metrics.CapacityRaces.Inc()
			}
			s.logger.Info("capacity race lost, trying next candidate",
				"doctor_id", pick.ID, "attempt", i+1)
			continue
		}
		if err != nil {
			return Result{}, err
		}

		appt, err := s.createAppointment(ctx, patient, pick, req, urgency)
		if err != nil {
			// The increment already happened; give the slot back so capacity
			// is not stranded.
			if relErr := s.registry.Release(ctx, pick.ID); relErr != nil {
				s.logger.Error("compensating decrement failed",
					"doctor_id", pick.ID, "err", relErr)
			}
			s.count("persistence_error")
			return Result{}, &PersistenceError{Op: "create appointment", Err: err}
		}

		s.count("allocated")
		if s.metrics != nil {
			s.metrics.AllocationDuration.Observe(time.Since(started).Seconds())
		}
		return Result{
			Doctor: DoctorSummary{
				ID:                   pick.ID,
				Name:                 pick.Name,
				District:             pick.District,
				Specialties:          pick.Specialties,
				RatingAvg:            pick.Quality.RatingAvg,
				CurrentPatients:      workload.CurrentPatients,
				MaxPatientsPerDay:    workload.MaxPatientsPerDay,
				EstimatedWaitMinutes: s.cfg.EstimatedWaitMinutes(workload.CurrentPatients, avgResponse),
			},
			Appointment: appt,
		}, nil
	}

	s.count("race_exhausted")
	return Result{}, &NoEligibleDoctorError{
		Urgency:        urgency,
		Alternatives:   s.alternatives(ctx, query.Districts),
		RacesExhausted: true,
	}
}

func (s *Service) createAppointment(ctx context.Context, patient model.Patient, doctor model.Doctor, req Request, urgency model.Urgency) (model.Appointment, error) {
	now := s.now()

	chiefComplaint := "General consultation"
	if len(req.Symptoms) > 0 && req.Symptoms[0] != "" {
		chiefComplaint = req.Symptoms[0]
	}

	specialty := req.Specialty
	if specialty == "" {
		specialty = model.GeneralPractice
	}

	appt := model.Appointment{
		ID:             uuid.NewString(),
		PatientID:      patient.ID,
		DoctorID:       doctor.ID,
		Specialty:      specialty,
		Mode:           req.Mode,
		Urgency:        urgency,
		ChiefComplaint: chiefComplaint,
		Symptoms:       req.Symptoms,
		Status:         model.AppointmentScheduled,
		BookedAt:       now,
		StartTime:      now.Add(s.cfg.StartBuffer),
		EndTime:        now.Add(s.cfg.StartBuffer + s.cfg.DefaultDuration),
	}

	if err := s.appointments.CreateScheduled(ctx, &appt); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (s *Service) defaultUrgency(ctx context.Context, symptoms []string, patient model.Patient) model.Urgency {
	if s.triage != nil {
		if u, err := s.triage.DefaultUrgency(ctx, symptoms); err == nil && u != "" {
			return u
		} else if err != nil {
			s.logger.Warn("triage hint failed, falling back", "err", err)
		}
	}
	if patient.LastUrgency != "" {
		return patient.LastUrgency
	}
	return model.UrgencyMedium
}

func (s *Service) alternatives(ctx context.Context, districts []string) []model.Doctor {
	alts, err := s.registry.Alternatives(ctx, districts, 5)
	if err != nil {
		s.logger.Warn("alternatives lookup failed", "err", err)
		return nil
	}
	return alts
}

func (s *Service) count(outcome string) {
	if s.metrics != nil {
		s.metrics.AllocationsTotal.WithLabelValues(outcome).Inc()
	}
}
