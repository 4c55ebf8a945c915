package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPlanVersion   = "1.0.0"
	DefaultHarmonyTarget = 99.7
	DefaultAllocated     = 750
)

// DefaultBuckets is the initial budget split. The allocations sum to DefaultAllocated.
var DefaultBuckets = map[string]int64{
	"infrastructure": 300,
	"api_validation": 190,
	"ai_processing":  100,
	"ethical_buffer": 160,
}

// NewExecutionID returns a fresh id of the form plan_<YYYYMMDD>_<8 hex>.
func NewExecutionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("plan_%s_%s", now.UTC().Format("20060102"), suffix)
}

// Default builds the skeleton used when no plan file exists yet.
func Default(now time.Time) *State {
	now = now.UTC().Round(0)
	buckets := make(map[string]Bucket, len(DefaultBuckets))
	for name, alloc := range DefaultBuckets {
		buckets[name] = Bucket{Allocated: alloc}
	}
	return &State{
		ExecutionID:   NewExecutionID(now),
		PlanVersion:   DefaultPlanVersion,
		InitiatedAt:   now,
		LastUpdatedAt: now,
		OverallStatus: StatusInitialized,
		CurrentPhase:  "phase_0",
		ProgressPct:   0,
		Phases: Phases{
			{ID: "phase_0", Record: PhaseRecord{
				Name:                   "planning",
				Status:                 PhasePending,
				RequiredAuthorization:  AuthNone,
				EstimatedDurationHours: 2,
				SuccessCriteria:        map[string]float64{"plan_documents_complete": 1},
			}},
			{ID: "phase_1", Record: PhaseRecord{
				Name:                   "infrastructure_deployment",
				Status:                 PhasePending,
				RequiredAuthorization:  AuthOperatorApproval,
				EstimatedDurationHours: 8,
				SuccessCriteria:        map[string]float64{"services_healthy": 1},
			}},
			{ID: "phase_2", Record: PhaseRecord{
				Name:                   "validation",
				Status:                 PhasePending,
				RequiredAuthorization:  AuthOperatorApproval,
				EstimatedDurationHours: 12,
				SuccessCriteria:        map[string]float64{"min_acceptable_harmony": 95},
			}},
			{ID: "phase_3", Record: PhaseRecord{
				Name:                   "scaling",
				Status:                 PhasePending,
				RequiredAuthorization:  AuthOperatorApproval,
				EstimatedDurationHours: 24,
				SuccessCriteria:        map[string]float64{"target_users": 100},
			}},
		},
		Harmony: Harmony{Target: DefaultHarmonyTarget},
		Cost: Cost{
			Allocated: DefaultAllocated,
			ByBucket:  buckets,
		},
		Health: map[string]bool{},
	}
}
