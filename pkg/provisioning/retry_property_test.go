//go:build property
// +build property

// Package provisioning_test contains property-based tests for the backoff
// and scope-policy laws.
package provisioning_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/halyard/pkg/provisioning"
)

// TestBackoffMonotonicity verifies that for any sane policy the backoff never
// decreases with the attempt index and never exceeds the cap.
// Property: Backoff(n) <= Backoff(n+1) <= max_backoff_ms
func TestBackoffMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("backoff is monotone and capped", prop.ForAll(
		func(n int, initialMs int64, maxMs int64, multTenths int) bool {
			if maxMs < initialMs {
				initialMs, maxMs = maxMs, initialMs
			}
			policy := provisioning.RetryPolicy{
				MaxRetries:       5,
				InitialBackoffMs: initialMs,
				MaxBackoffMs:     maxMs,
				Multiplier:       1.0 + float64(multTenths)/10.0,
			}

			lo := provisioning.Backoff(n, policy)
			hi := provisioning.Backoff(n+1, policy)
			ceiling := time.Duration(maxMs) * time.Millisecond

			return lo <= hi && lo <= ceiling && hi <= ceiling
		},
		gen.IntRange(0, 64),
		gen.Int64Range(1, 10_000),
		gen.Int64Range(1, 600_000),
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t)
}

// TestRequiredScopesUnionLaw verifies RequiredScopes distributes over union
// for arbitrary operation subsets.
// Property: RequiredScopes(A ∪ B) == RequiredScopes(A) ∪ RequiredScopes(B)
func TestRequiredScopesUnionLaw(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	opGen := gen.SliceOf(gen.IntRange(0, len(provisioning.AllOperations)-1).
		Map(func(i int) provisioning.OperationKind { return provisioning.AllOperations[i] }))

	properties.Property("RequiredScopes distributes over union", prop.ForAll(
		func(a, b []provisioning.OperationKind) bool {
			union := provisioning.RequiredScopes(append(append([]provisioning.OperationKind{}, a...), b...))

			set := map[string]struct{}{}
			for _, s := range provisioning.RequiredScopes(a) {
				set[s] = struct{}{}
			}
			for _, s := range provisioning.RequiredScopes(b) {
				set[s] = struct{}{}
			}
			if len(union) != len(set) {
				return false
			}
			for _, s := range union {
				if _, ok := set[s]; !ok {
					return false
				}
			}
			return true
		},
		opGen,
		opGen,
	))

	properties.TestingRun(t)
}
