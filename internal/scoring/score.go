package scoring

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/subradar/subradar-backend/pkg/config"
	"github.com/subradar/subradar-backend/pkg/db/models"
	"github.com/subradar/subradar-backend/pkg/enums"
)

const (
	MaxScore = 100.0
	MinScore = 0.0

	activeThreshold = 70.0
	atRiskThreshold = 30.0

	day = 24 * time.Hour
)

// Curve names a decay function from signal age to score.
type Curve string

const (
	// CurveLinear loses one point per day of inactivity.
	CurveLinear Curve = "linear"
	// CurveExponential halves the score every half-life.
	CurveExponential Curve = "exponential"
)

// Model configures how signal age maps to a score.
type Model struct {
	Curve    Curve
	HalfLife time.Duration
}

// DefaultModel is the linear one-point-per-day decay.
var DefaultModel = Model{Curve: CurveLinear, HalfLife: 30 * day}

// ModelFromConfig validates the scoring settings.
func ModelFromConfig(cfg config.ScoringConfig) (Model, error) {
	curve := Curve(strings.ToLower(strings.TrimSpace(cfg.Curve)))
	switch curve {
	case "":
		curve = CurveLinear
	case CurveLinear, CurveExponential:
	default:
		return Model{}, fmt.Errorf("unknown scoring curve %q", cfg.Curve)
	}
	halfLife := time.Duration(cfg.HalfLifeDays * float64(day))
	if curve == CurveExponential && halfLife <= 0 {
		return Model{}, fmt.Errorf("scoring half-life must be positive, got %v days", cfg.HalfLifeDays)
	}
	if halfLife <= 0 {
		halfLife = DefaultModel.HalfLife
	}
	return Model{Curve: curve, HalfLife: halfLife}, nil
}

// Anchor returns the most recent of the record's signals, or nil when none was observed.
func Anchor(rec *models.UsageRecord) *time.Time {
	if rec == nil {
		return nil
	}
	var latest *time.Time
	for _, ts := range []*time.Time{rec.LastEmailDate, rec.LastAPIUse, rec.LastLogin} {
		if ts == nil {
			continue
		}
		if latest == nil || ts.After(*latest) {
			latest = ts
		}
	}
	return latest
}

// Score computes the 0-100 health score of rec at now. A record without any signal scores 0.
func Score(rec *models.UsageRecord, now time.Time, m Model) float64 {
	anchor := Anchor(rec)
	if anchor == nil {
		return MinScore
	}
	ageDays := now.Sub(*anchor).Hours() / 24

	var raw float64
	switch m.Curve {
	case CurveExponential:
		halfLifeDays := m.HalfLife.Hours() / 24
		if halfLifeDays <= 0 {
			halfLifeDays = DefaultModel.HalfLife.Hours() / 24
		}
		raw = MaxScore * math.Pow(0.5, ageDays/halfLifeDays)
	default:
		raw = MaxScore - ageDays
	}
	return clamp(raw)
}

// Classify buckets a score: above 70 is ACTIVE, above 30 AT_RISK, anything else UNUSED.
func Classify(score float64) enums.UsageClassification {
	switch {
	case score > activeThreshold:
		return enums.UsageClassificationActive
	case score > atRiskThreshold:
		return enums.UsageClassificationAtRisk
	default:
		return enums.UsageClassificationUnused
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return MinScore
	}
	return math.Max(MinScore, math.Min(MaxScore, v))
}
