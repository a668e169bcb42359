package allocation

import (
	"time"

	"github.com/gramin-health/sehatsetu/libs/config"
)

// Weights are the scoring weights on the 0-100 scale. ContinuityBonus is
// additive on top of the scale and deliberately configurable; the default +3
// is a heuristic, not a business rule.
type Weights struct {
	Availability    float64
	Rating          float64
	ResponseTime    float64
	SpecialtyMatch  float64
	EmergencyReady  float64
	ContinuityBonus float64
}

func DefaultWeights() Weights {
	return Weights{
		Availability:    40,
		Rating:          25,
		ResponseTime:    20,
		SpecialtyMatch:  10,
		EmergencyReady:  5,
		ContinuityBonus: 3,
	}
}

type Config struct {
	Weights Weights

	// ResponseCeiling is the response time at which the responsiveness
	// contribution reaches zero.
	ResponseCeiling float64
	// CapacityCutoff excludes doctors at or above this share of their daily
	// maximum. Kept below 1.0 so true emergencies arriving moments later
	// still find headroom.
	CapacityCutoff float64
	// MaxCandidates bounds how many filtered doctors reach the scorer.
	MaxCandidates int
	// MaxReserveAttempts bounds the capacity-race retry loop across the
	// ranked candidate list.
	MaxReserveAttempts int

	// StartBuffer is the gap between allocation and the computed start time.
	StartBuffer time.Duration
	// DefaultDuration is the slot length.
	DefaultDuration time.Duration

	BaseWaitMinutes int
	MinWaitMinutes  int
}

func DefaultConfig() Config {
	return Config{
		Weights:            DefaultWeights(),
		ResponseCeiling:    30,
		CapacityCutoff:     0.9,
		MaxCandidates:      10,
		MaxReserveAttempts: 3,
		StartBuffer:        30 * time.Minute,
		DefaultDuration:    30 * time.Minute,
		BaseWaitMinutes:    10,
		MinWaitMinutes:     5,
	}
}

func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.Weights.ContinuityBonus = config.Float("ALLOC_CONTINUITY_BONUS", cfg.Weights.ContinuityBonus)
	cfg.CapacityCutoff = config.Float("ALLOC_CAPACITY_CUTOFF", cfg.CapacityCutoff)
	cfg.MaxCandidates = config.Int("ALLOC_MAX_CANDIDATES", cfg.MaxCandidates)
	cfg.MaxReserveAttempts = config.Int("ALLOC_MAX_RESERVE_ATTEMPTS", cfg.MaxReserveAttempts)
	cfg.StartBuffer = config.Duration("ALLOC_START_BUFFER", cfg.StartBuffer)
	cfg.DefaultDuration = config.Duration("ALLOC_DEFAULT_DURATION", cfg.DefaultDuration)
	cfg.BaseWaitMinutes = config.Int("ALLOC_BASE_WAIT_MINUTES", cfg.BaseWaitMinutes)
	cfg.MinWaitMinutes = config.Int("ALLOC_MIN_WAIT_MINUTES", cfg.MinWaitMinutes)
	return cfg
}

// EstimatedWaitMinutes is the wait estimate surfaced with a reservation:
// base + 2 per patient already in the doctor's queue + the doctor's average
// response time, floored at the configured minimum.
func (c Config) EstimatedWaitMinutes(currentPatients int, avgResponseMinutes float64) int {
	wait := c.BaseWaitMinutes + 2*currentPatients + int(avgResponseMinutes)
	if wait < c.MinWaitMinutes {
		return c.MinWaitMinutes
	}
	return wait
}
