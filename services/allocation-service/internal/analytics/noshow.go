// Package analytics derives read-only signals from appointment history.
package analytics

import "github.com/gramin-health/sehatsetu/services/allocation-service/internal/model"

type RiskBand string

const (
	RiskLow    RiskBand = "low"
	RiskMedium RiskBand = "medium"
	RiskHigh   RiskBand = "high"
)

// NoShowRisk estimates how likely the patient is to miss the next
// appointment, as a smoothed no-show rate over their history. Laplace
// smoothing keeps new patients near the population prior instead of 0 or 1.
type NoShowRisk struct {
	Score  float64  `json:"score"`
	Band   RiskBand `json:"band"`
	Total  int      `json:"appointments"`
	Missed int      `json:"no_shows"`
}

// prior of roughly one miss in ten, weighted as two virtual appointments
const (
	priorMisses = 0.2
	priorTotal  = 2.0
)

func AssessNoShowRisk(h model.History) NoShowRisk {
	score := (float64(h.NoShows) + priorMisses) / (float64(h.Total) + priorTotal)
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return NoShowRisk{
		Score:  score,
		Band:   band(score),
		Total:  h.Total,
		Missed: h.NoShows,
	}
}

func band(score float64) RiskBand {
	switch {
	case score >= 0.4:
		return RiskHigh
	case score >= 0.2:
		return RiskMedium
	default:
		return RiskLow
	}
}
