package allocation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/model"
)

type fakeRegistry struct {
	mu         sync.Mutex
	doctors    map[string]*model.Doctor
	candidates []string // ids returned by FindCandidates, in filter order
	alts       []model.Doctor
	releases   []string
	lastQuery  CandidateQuery
}

func (f *fakeRegistry) FindCandidates(_ context.Context, q CandidateQuery) ([]model.Doctor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	var out []model.Doctor
	for _, id := range f.candidates {
		d := f.doctors[id]
		if q.EmergencyOnly && !d.EmergencyAvailable {
			continue
		}
		if float64(d.Workload.CurrentPatients) >= q.CapacityCutoff*float64(d.Workload.MaxPatientsPerDay) {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeRegistry) Alternatives(context.Context, []string, int) ([]model.Doctor, error) {
	return f.alts, nil
}

func (f *fakeRegistry) Reserve(_ context.Context, doctorID string) (model.Workload, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.doctors[doctorID]
	if !ok {
		return model.Workload{}, 0, errors.New("unknown doctor")
	}
	if d.Workload.CurrentPatients >= d.Workload.MaxPatientsPerDay {
		return model.Workload{}, 0, ErrSlotUnavailable
	}
	d.Workload.CurrentPatients++
	return d.Workload, d.Quality.AvgResponseMinutes, nil
}

func (f *fakeRegistry) Release(_ context.Context, doctorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.doctors[doctorID]; ok && d.Workload.CurrentPatients > 0 {
		d.Workload.CurrentPatients--
	}
	f.releases = append(f.releases, doctorID)
	return nil
}

type fakePatients struct {
	patients map[string]model.Patient
	history  map[string]model.History
}

func (f *fakePatients) Get(_ context.Context, id string) (model.Patient, error) {
	p, ok := f.patients[id]
	if !ok {
		return model.Patient{}, ErrPatientNotFound
	}
	return p, nil
}

func (f *fakePatients) History(_ context.Context, id string) (model.History, error) {
	return f.history[id], nil
}

type fakeAppointments struct {
	mu      sync.Mutex
	created []model.Appointment
	fail    error
}

func (f *fakeAppointments) CreateScheduled(_ context.Context, appt *model.Appointment) error {
	if f.fail != nil {
		return f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *appt)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(reg *fakeRegistry, pats *fakePatients, appts *fakeAppointments) *Service {
	svc := NewService(reg, pats, appts, nil, DefaultDistricts(), DefaultConfig(), testLogger(), nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	return svc
}

func cardiologist(id string, current, max int, rating, response float64) *model.Doctor {
	return &model.Doctor{
		ID:                 id,
		Name:               "Dr " + id,
		Specialties:        []string{"Cardiology"},
		Languages:          []string{"Hindi"},
		Modes:              []string{"video"},
		District:           "Patiala",
		EmergencyAvailable: true,
		Status:             model.StatusOnline,
		Active:             true,
		Verified:           true,
		Workload:           model.Workload{CurrentPatients: current, MaxPatientsPerDay: max},
		Quality:            model.QualityStats{RatingAvg: rating, AvgResponseMinutes: response},
	}
}

func standardRequest() Request {
	return Request{
		PatientID: "pat-1",
		Specialty: "Cardiology",
		Urgency:   model.UrgencyMedium,
		Mode:      model.ModeVideo,
		District:  "Patiala",
		Symptoms:  []string{"chest pain", "shortness of breath"},
	}
}

func TestAllocateHappyPath(t *testing.T) {
	reg := &fakeRegistry{
		doctors: map[string]*model.Doctor{
			"doc-d": cardiologist("doc-d", 2, 10, 4.8, 5),
		},
		candidates: []string{"doc-d"},
	}
	pats := &fakePatients{patients: map[string]model.Patient{"pat-1": {ID: "pat-1", District: "Patiala"}}}
	appts := &fakeAppointments{}
	svc := newTestService(reg, pats, appts)

	res, err := svc.Allocate(context.Background(), standardRequest())
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if res.Doctor.ID != "doc-d" {
		t.Fatalf("expected doc-d, got %s", res.Doctor.ID)
	}
	if res.Appointment.Status != model.AppointmentScheduled {
		t.Fatalf("expected scheduled status, got %s", res.Appointment.Status)
	}
	if res.Appointment.ChiefComplaint != "chest pain" {
		t.Fatalf("chief complaint should come from the first symptom, got %q", res.Appointment.ChiefComplaint)
	}
	if got := reg.doctors["doc-d"].Workload.CurrentPatients; got != 3 {
		t.Fatalf("workload must be exactly one higher: got %d", got)
	}
	if !res.Appointment.StartTime.Equal(res.Appointment.BookedAt.Add(30 * time.Minute)) {
		t.Fatalf("start time must be booked_at + buffer, got %s", res.Appointment.StartTime)
	}
	// base 10 + 2*3 + 5 = 21
	if res.Doctor.EstimatedWaitMinutes != 21 {
		t.Fatalf("expected wait estimate 21, got %d", res.Doctor.EstimatedWaitMinutes)
	}
	if len(appts.created) != 1 {
		t.Fatalf("expected exactly one appointment, got %d", len(appts.created))
	}
}

func TestAllocateCapacityFilterScenario(t *testing.T) {
	// Doctor E sits at 9/10: 9 >= 0.9*10, so the filter excludes it and D
	// wins despite E's better rating and response time.
	reg := &fakeRegistry{
		doctors: map[string]*model.Doctor{
			"doc-d": cardiologist("doc-d", 2, 10, 4.8, 5),
			"doc-e": cardiologist("doc-e", 9, 10, 4.9, 3),
		},
		candidates: []string{"doc-d", "doc-e"},
	}
	pats := &fakePatients{patients: map[string]model.Patient{"pat-1": {ID: "pat-1", District: "Patiala"}}}
	svc := newTestService(reg, pats, &fakeAppointments{})

	res, err := svc.Allocate(context.Background(), standardRequest())
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if res.Doctor.ID != "doc-d" {
		t.Fatalf("expected doc-d (doc-e is over the capacity cutoff), got %s", res.Doctor.ID)
	}
}

func TestAllocatePatientNotFound(t *testing.T) {
	reg := &fakeRegistry{doctors: map[string]*model.Doctor{}}
	pats := &fakePatients{patients: map[string]model.Patient{}}
	svc := newTestService(reg, pats, &fakeAppointments{})

	_, err := svc.Allocate(context.Background(), standardRequest())
	if !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestAllocateNoEligibleDoctorWithAlternatives(t *testing.T) {
	alt := *cardiologist("doc-alt", 0, 10, 4.0, 10)
	reg := &fakeRegistry{doctors: map[string]*model.Doctor{}, alts: []model.Doctor{alt}}
	pats := &fakePatients{patients: map[string]model.Patient{"pat-1": {ID: "pat-1", District: "Patiala"}}}
	svc := newTestService(reg, pats, &fakeAppointments{})

	_, err := svc.Allocate(context.Background(), standardRequest())
	var noMatch *NoEligibleDoctorError
	if !errors.As(err, &noMatch) {
		t.Fatalf("expected NoEligibleDoctorError, got %v", err)
	}
	if len(noMatch.Alternatives) != 1 || noMatch.Alternatives[0].ID != "doc-alt" {
		t.Fatalf("expected alternatives populated, got %+v", noMatch.Alternatives)
	}
}

func TestAllocateEmergencyFiltersNonCapable(t *testing.T) {
	capable := cardiologist("doc-cap", 0, 10, 3.0, 20)
	notCapable := cardiologist("doc-no", 0, 10, 5.0, 1)
	notCapable.EmergencyAvailable = false

	reg := &fakeRegistry{
		doctors:    map[string]*model.Doctor{"doc-cap": capable, "doc-no": notCapable},
		candidates: []string{"doc-no", "doc-cap"},
	}
	pats := &fakePatients{patients: map[string]model.Patient{"pat-1": {ID: "pat-1", District: "Patiala"}}}
	svc := newTestService(reg, pats, &fakeAppointments{})

	req := standardRequest()
	req.Urgency = model.UrgencyEmergency
	res, err := svc.Allocate(context.Background(), req)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if res.Doctor.ID != "doc-cap" {
		t.Fatalf("emergency request must only see emergency-capable doctors, got %s", res.Doctor.ID)
	}
}

func TestAllocateRetriesNextCandidateOnRace(t *testing.T) {
	// full starts at capacity, so Reserve fails even though the (stale)
	// filter snapshot admitted it.
	full := cardiologist("doc-full", 10, 10, 5.0, 1)
	backup := cardiologist("doc-backup", 0, 10, 3.0, 25)

	reg := &fakeRegistry{
		doctors:    map[string]*model.Doctor{"doc-full": full, "doc-backup": backup},
		candidates: []string{"doc-full", "doc-backup"},
	}
	// Bypass the capacity filter to simulate the race window.
	reg.doctors["doc-full"].Workload.MaxPatientsPerDay = 10
	pats := &fakePatients{patients: map[string]model.Patient{"pat-1": {ID: "pat-1", District: "Patiala"}}}
	svc := newTestService(reg, pats, &fakeAppointments{})
	svc.cfg.CapacityCutoff = 1.1 // let the stale snapshot through

	res, err := svc.Allocate(context.Background(), standardRequest())
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if res.Doctor.ID != "doc-backup" {
		t.Fatalf("expected fallback to next-best candidate, got %s", res.Doctor.ID)
	}
}

func TestAllocateRaceExhausted(t *testing.T) {
	full := cardiologist("doc-full", 10, 10, 5.0, 1)
	reg := &fakeRegistry{
		doctors:    map[string]*model.Doctor{"doc-full": full},
		candidates: []string{"doc-full"},
	}
	pats := &fakePatients{patients: map[string]model.Patient{"pat-1": {ID: "pat-1", District: "Patiala"}}}
	svc := newTestService(reg, pats, &fakeAppointments{})
	svc.cfg.CapacityCutoff = 1.1

	_, err := svc.Allocate(context.Background(), standardRequest())
	var noMatch *NoEligibleDoctorError
	if !errors.As(err, &noMatch) {
		t.Fatalf("expected NoEligibleDoctorError after exhausted races, got %v", err)
	}
	if !noMatch.RacesExhausted {
		t.Fatal("expected RacesExhausted to be set")
	}
}

func TestAllocateCompensatesFailedCreate(t *testing.T) {
	reg := &fakeRegistry{
		doctors:    map[string]*model.Doctor{"doc-d": cardiologist("doc-d", 2, 10, 4.8, 5)},
		candidates: []string{"doc-d"},
	}
	pats := &fakePatients{patients: map[string]model.Patient{"pat-1": {ID: "pat-1", District: "Patiala"}}}
	appts := &fakeAppointments{fail: errors.New("insert failed")}
	svc := newTestService(reg, pats, appts)

	_, err := svc.Allocate(context.Background(), standardRequest())
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if got := reg.doctors["doc-d"].Workload.CurrentPatients; got != 2 {
		t.Fatalf("workload must be compensated back to 2, got %d", got)
	}
	if len(reg.releases) != 1 || reg.releases[0] != "doc-d" {
		t.Fatalf("expected one compensating release for doc-d, got %v", reg.releases)
	}
}

func TestAllocateContinuityPrefersSeenDoctor(t *testing.T) {
	seen := cardiologist("doc-seen", 2, 10, 4.0, 10)
	fresh := cardiologist("doc-fresh", 2, 10, 4.0, 10)
	reg := &fakeRegistry{
		doctors:    map[string]*model.Doctor{"doc-seen": seen, "doc-fresh": fresh},
		candidates: []string{"doc-fresh", "doc-seen"},
	}
	pats := &fakePatients{
		patients: map[string]model.Patient{"pat-1": {ID: "pat-1", District: "Patiala"}},
		history:  map[string]model.History{"pat-1": {PriorDoctors: map[string]int{"doc-seen": 3}}},
	}
	svc := newTestService(reg, pats, &fakeAppointments{})

	res, err := svc.Allocate(context.Background(), standardRequest())
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if res.Doctor.ID != "doc-seen" {
		t.Fatalf("continuity bonus should break the tie toward doc-seen, got %s", res.Doctor.ID)
	}
}

func TestConcurrentAllocationNeverOvershoots(t *testing.T) {
	// Sole eligible doctor one short of capacity: exactly one of two
	// concurrent requests may win.
	sole := cardiologist("doc-sole", 9, 10, 4.0, 10)
	reg := &fakeRegistry{
		doctors:    map[string]*model.Doctor{"doc-sole": sole},
		candidates: []string{"doc-sole"},
	}
	pats := &fakePatients{patients: map[string]model.Patient{"pat-1": {ID: "pat-1", District: "Patiala"}}}
	svc := newTestService(reg, pats, &fakeAppointments{})
	svc.cfg.CapacityCutoff = 1.0 // admit the 9/10 doctor into both snapshots

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Allocate(context.Background(), standardRequest())
		}(i)
	}
	wg.Wait()

	var wins, noMatches int
	for _, err := range results {
		var noMatch *NoEligibleDoctorError
		switch {
		case err == nil:
			wins++
		case errors.As(err, &noMatch):
			noMatches++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || noMatches != 1 {
		t.Fatalf("expected exactly one winner and one no-match, got %d/%d", wins, noMatches)
	}
	if got := reg.doctors["doc-sole"].Workload.CurrentPatients; got != 10 {
		t.Fatalf("capacity overshoot: current=%d max=10", got)
	}
}

func TestAllocateDefaultsUrgencyFromPatientStatus(t *testing.T) {
	reg := &fakeRegistry{
		doctors:    map[string]*model.Doctor{"doc-d": cardiologist("doc-d", 2, 10, 4.8, 5)},
		candidates: []string{"doc-d"},
	}
	pats := &fakePatients{patients: map[string]model.Patient{
		"pat-1": {ID: "pat-1", District: "Patiala", LastUrgency: model.UrgencyHigh},
	}}
	svc := newTestService(reg, pats, &fakeAppointments{})

	req := standardRequest()
	req.Urgency = ""
	res, err := svc.Allocate(context.Background(), req)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if res.Appointment.Urgency != model.UrgencyHigh {
		t.Fatalf("expected urgency defaulted from recent health status, got %s", res.Appointment.Urgency)
	}
}

func TestAllocateEmptySymptomsPlaceholderComplaint(t *testing.T) {
	reg := &fakeRegistry{
		doctors:    map[string]*model.Doctor{"doc-d": cardiologist("doc-d", 2, 10, 4.8, 5)},
		candidates: []string{"doc-d"},
	}
	pats := &fakePatients{patients: map[string]model.Patient{"pat-1": {ID: "pat-1", District: "Patiala"}}}
	svc := newTestService(reg, pats, &fakeAppointments{})

	req := standardRequest()
	req.Symptoms = nil
	res, err := svc.Allocate(context.Background(), req)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if res.Appointment.ChiefComplaint != "General consultation" {
		t.Fatalf("expected placeholder complaint, got %q", res.Appointment.ChiefComplaint)
	}
}

func TestGeneralMedicineSkipsSpecialtyPredicate(t *testing.T) {
	// A general-consultation request must not filter by specialty: any
	// eligible doctor may take it, including a specialist.
	reg := &fakeRegistry{
		doctors:    map[string]*model.Doctor{"doc-d": cardiologist("doc-d", 2, 10, 4.8, 5)},
		candidates: []string{"doc-d"},
	}
	pats := &fakePatients{patients: map[string]model.Patient{"pat-1": {ID: "pat-1", District: "Patiala"}}}
	svc := newTestService(reg, pats, &fakeAppointments{})

	req := standardRequest()
	req.Specialty = model.GeneralPractice
	res, err := svc.Allocate(context.Background(), req)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if reg.lastQuery.Specialty != "" {
		t.Fatalf("sentinel specialty leaked into the filter: %q", reg.lastQuery.Specialty)
	}
	if res.Doctor.ID != "doc-d" {
		t.Fatalf("expected doc-d, got %s", res.Doctor.ID)
	}
	if res.Appointment.Specialty != model.GeneralPractice {
		t.Fatalf("appointment specialty = %q, want %q", res.Appointment.Specialty, model.GeneralPractice)
	}
}

func TestGeneralMedicineNoMatchSuggestsDistrictGPs(t *testing.T) {
	gp := model.Doctor{
		ID:          "gp-1",
		Name:        "Dr gp-1",
		Specialties: []string{model.GeneralPractice},
		District:    "Patiala",
	}
	reg := &fakeRegistry{doctors: map[string]*model.Doctor{}, alts: []model.Doctor{gp}}
	pats := &fakePatients{patients: map[string]model.Patient{"pat-1": {ID: "pat-1", District: "Patiala"}}}
	svc := newTestService(reg, pats, &fakeAppointments{})

	req := standardRequest()
	req.Specialty = model.GeneralPractice
	_, err := svc.Allocate(context.Background(), req)

	var noMatch *NoEligibleDoctorError
	if !errors.As(err, &noMatch) {
		t.Fatalf("expected NoEligibleDoctorError, got %v", err)
	}
	if len(noMatch.Alternatives) != 1 || noMatch.Alternatives[0].ID != "gp-1" {
		t.Fatalf("expected the district GP as alternative: %+v", noMatch.Alternatives)
	}
	if reg.lastQuery.Specialty != "" {
		t.Fatalf("sentinel specialty leaked into the filter: %q", reg.lastQuery.Specialty)
	}
}
