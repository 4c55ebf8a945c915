package ethics

import "math"

// Sub-score ceilings. They add up to a possible 75; the level thresholds
// below are applied to the sum.
const (
	MaxVerification = 30.0
	MaxAccuracy     = 25.0
	MaxTransparency = 20.0
)

// Level is the compliance band a total falls in.
type Level string

const (
	LevelMaxCompliance  Level = "maximum_compliance"
	LevelApproved       Level = "approved"
	LevelReviewRequired Level = "review_required"
	LevelRejected       Level = "rejected"
)

// ActionImmediateCorrection is always present when the total is below the
// approval threshold.
const ActionImmediateCorrection = "immediate correction required"

// Input is the evidence an external reviewer records in the plan.
type Input struct {
	ClaimsVerified       int       `json:"claims_verified"`
	TotalClaims          int       `json:"total_claims"`
	ScopeAccuracies      []float64 `json:"scope_accuracies"`
	LimitationsDisclosed bool      `json:"limitations_disclosed"`
	UncertaintiesNoted   bool      `json:"uncertainties_noted"`
	BoundariesClarified  bool      `json:"boundaries_clarified"`
}

// Score is the result of Evaluate.
type Score struct {
	Total           float64  `json:"total"`
	Verification    float64  `json:"verification"`
	Accuracy        float64  `json:"accuracy"`
	Transparency    float64  `json:"transparency"`
	Level           Level    `json:"level"`
	RequiredActions []string `json:"required_actions"`
}

// Evaluate computes the compliance score for in.
func Evaluate(in Input) Score {
	verification := clamp(MaxVerification*float64(in.ClaimsVerified)/float64(max(1, in.TotalClaims)), 0, MaxVerification)

	accuracy := MaxAccuracy
	if len(in.ScopeAccuracies) > 0 {
		var sum float64
		for _, a := range in.ScopeAccuracies {
			sum += a
		}
		accuracy = clamp(MaxAccuracy*sum/float64(len(in.ScopeAccuracies)), 0, MaxAccuracy)
	}

	// Weights 0.4/0.3/0.3 in tenths so a full disclosure lands exactly on 20.
	tenths := 0
	if in.LimitationsDisclosed {
		tenths += 4
	}
	if in.UncertaintiesNoted {
		tenths += 3
	}
	if in.BoundariesClarified {
		tenths += 3
	}
	transparency := clamp(MaxTransparency*float64(tenths)/10, 0, MaxTransparency)

	total := clamp(round6(verification+accuracy+transparency), 0, 100)
	score := Score{
		Total:           total,
		Verification:    round6(verification),
		Accuracy:        round6(accuracy),
		Transparency:    round6(transparency),
		Level:           LevelFor(total),
		RequiredActions: []string{},
	}
	if total < 75 {
		score.RequiredActions = requiredActions(in, score)
	}
	return score
}

// LevelFor maps a total onto its band. Lower bounds are inclusive.
func LevelFor(total float64) Level {
	switch {
	case total >= 90:
		return LevelMaxCompliance
	case total >= 75:
		return LevelApproved
	case total >= 50:
		return LevelReviewRequired
	default:
		return LevelRejected
	}
}

func requiredActions(in Input, s Score) []string {
	actions := []string{ActionImmediateCorrection}
	if s.Verification < MaxVerification {
		actions = append(actions, "verify outstanding claims")
	}
	if s.Accuracy < MaxAccuracy {
		actions = append(actions, "review scope accuracy")
	}
	if !in.LimitationsDisclosed {
		actions = append(actions, "disclose limitations")
	}
	if !in.UncertaintiesNoted {
		actions = append(actions, "note uncertainties")
	}
	if !in.BoundariesClarified {
		actions = append(actions, "clarify boundaries")
	}
	return actions
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
