package allocation

import (
	"sort"

	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/model"
)

// ScoreContext carries the pre-fetched inputs the scorer needs. The scorer
// does no I/O; it is a pure function over candidates and this context.
type ScoreContext struct {
	Urgency      model.Urgency
	Specialty    string
	PriorDoctors map[string]int // doctor id -> completed consultations with this patient
}

// Score computes a candidate's score on the 0-100 scale, plus the additive
// continuity bonus (uncapped by the scale).
func (c Config) Score(d model.Doctor, sc ScoreContext) float64 {
	w := c.Weights
	var score float64

	// Availability headroom.
	if d.Workload.MaxPatientsPerDay > 0 {
		score += (1 - float64(d.Workload.CurrentPatients)/float64(d.Workload.MaxPatientsPerDay)) * w.Availability
	}

	// Rating on a 5-point scale; missing stats contribute 0.
	score += d.Quality.RatingAvg / 5 * w.Rating

	// Responsiveness, clamped so response times at or beyond the ceiling
	// contribute nothing.
	if c.ResponseCeiling > 0 && d.Quality.AvgResponseMinutes < c.ResponseCeiling {
		score += (c.ResponseCeiling - d.Quality.AvgResponseMinutes) / c.ResponseCeiling * w.ResponseTime
	}

	// Exact specialty match.
	if sc.Specialty != "" && d.HasSpecialty(sc.Specialty) {
		score += w.SpecialtyMatch
	}

	// Emergency readiness only counts for emergency requests.
	if sc.Urgency == model.UrgencyEmergency && d.EmergencyAvailable {
		score += w.EmergencyReady
	}

	// Continuity of care.
	if sc.PriorDoctors[d.ID] > 0 {
		score += w.ContinuityBonus
	}

	return score
}

type Scored struct {
	Doctor model.Doctor
	Score  float64
}

// Rank scores and orders candidates best-first. Ties resolve by lower current
// workload, then ascending doctor id, so selection is reproducible.
func (c Config) Rank(candidates []model.Doctor, sc ScoreContext) []Scored {
	ranked := make([]Scored, 0, len(candidates))
	for _, d := range candidates {
		ranked = append(ranked, Scored{Doctor: d, Score: c.Score(d, sc)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Doctor.Workload.CurrentPatients != b.Doctor.Workload.CurrentPatients {
			return a.Doctor.Workload.CurrentPatients < b.Doctor.Workload.CurrentPatients
		}
		return a.Doctor.ID < b.Doctor.ID
	})
	return ranked
}

// SelectBest returns the top-ranked candidate. Callers are responsible for
// the empty case.
func (c Config) SelectBest(candidates []model.Doctor, sc ScoreContext) (model.Doctor, bool) {
	if len(candidates) == 0 {
		return model.Doctor{}, false
	}
	return c.Rank(candidates, sc)[0].Doctor, true
}
