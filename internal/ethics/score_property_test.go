//go:build property

package ethics

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestEvaluateProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("total stays within 0..100", prop.ForAll(
		func(verified, total int, acc []float64, l, u, b bool) bool {
			s := Evaluate(Input{
				ClaimsVerified:       verified,
				TotalClaims:          total,
				ScopeAccuracies:      acc,
				LimitationsDisclosed: l,
				UncertaintiesNoted:   u,
				BoundariesClarified:  b,
			})
			return s.Total >= 0 && s.Total <= 100
		},
		gen.IntRange(-5, 50),
		gen.IntRange(0, 50),
		gen.SliceOf(gen.Float64Range(-1, 2)),
		gen.Bool(), gen.Bool(), gen.Bool(),
	))

	properties.Property("more verified claims never lowers the total", prop.ForAll(
		func(verified, extra, total int) bool {
			base := Evaluate(Input{ClaimsVerified: verified, TotalClaims: total})
			more := Evaluate(Input{ClaimsVerified: verified + extra, TotalClaims: total})
			return more.Total >= base.Total
		},
		gen.IntRange(0, 20),
		gen.IntRange(0, 20),
		gen.IntRange(0, 40),
	))

	properties.Property("higher accuracy never lowers the total", prop.ForAll(
		func(a, delta float64) bool {
			base := Evaluate(Input{ScopeAccuracies: []float64{a}})
			more := Evaluate(Input{ScopeAccuracies: []float64{a + delta}})
			return more.Total >= base.Total
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.Property("adding a disclosure never lowers the total", prop.ForAll(
		func(l, u bool) bool {
			base := Evaluate(Input{LimitationsDisclosed: l, UncertaintiesNoted: u})
			more := Evaluate(Input{LimitationsDisclosed: l, UncertaintiesNoted: u, BoundariesClarified: true})
			return more.Total >= base.Total
		},
		gen.Bool(), gen.Bool(),
	))

	properties.Property("totals below approval always carry an action", prop.ForAll(
		func(verified, total int, l bool) bool {
			s := Evaluate(Input{ClaimsVerified: verified, TotalClaims: total, LimitationsDisclosed: l})
			if s.Total >= 75 {
				return true
			}
			return len(s.RequiredActions) > 0 && s.RequiredActions[0] == ActionImmediateCorrection
		},
		gen.IntRange(0, 10),
		gen.IntRange(0, 10),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
