// Package score computes the composite 0-100 health score from a canonical
// record under a configurable weight table.
//
// Each signal maps to [0,1] through a documented monotonic curve, then the
// final value is the weighted mean of the sub-scores:
//
//	recency    exp(-ln(20) * age/horizon), 0 past the horizon
//	frequency  f / (f + 3), saturating above ~12 releases/year
//	community  0.6*(1 - exp(-contributors/10)) + 0.4*(1 - openIssueRatio)
//	security   1 / (1 + knownVulnerabilityCount)
//	license    permissive 1.0, weak-copyleft 0.7, strong-copyleft 0.4,
//	           unknown 0.5 (a data gap, deliberately not a penalty)
//
// A signal the normalizer defaulted contributes a neutral 0.5 sub-score at
// half its configured weight, so data gaps depress confidence without being
// punished as hard as genuinely poor signals. The adjustment is recorded in
// the breakdown for auditability.
package score

import (
	"math"
	"time"

	"github.com/stackscout/stackscout/internal/core"
)

// DefaultStalenessHorizon is the release age at which the recency sub-score
// reaches zero.
const DefaultStalenessHorizon = 730 * 24 * time.Hour

// recencyLambda makes the exponential decay hit ~0.05 at the horizon, so
// scores stay sensitive near "fresh" and flat near "dead".
var recencyLambda = math.Log(20)

// defaultedSubScore is the neutral sub-score used for defaulted signals.
const defaultedSubScore = 0.5

const defaultedNote = "signal missing from source; neutral sub-score, weight halved"

// WeightTable holds the per-signal weights. All weights must be
// non-negative and at least one must be positive.
type WeightTable struct {
	Recency   float64
	Frequency float64
	Community float64
	Security  float64
	License   float64
}

// DefaultWeights returns the shipped weight table. These are a policy
// starting point, not a contract; deployments tune them through config.
func DefaultWeights() WeightTable {
	return WeightTable{
		Recency:   0.30,
		Frequency: 0.15,
		Community: 0.20,
		Security:  0.25,
		License:   0.10,
	}
}

var tierSubScores = map[core.LicenseRiskTier]float64{
	core.TierPermissive:     1.0,
	core.TierWeakCopyleft:   0.7,
	core.TierStrongCopyleft: 0.4,
	core.TierUnknown:        0.5,
}

// Scorer computes health scores. It is immutable after construction and safe
// for concurrent use.
type Scorer struct {
	weights WeightTable
	horizon time.Duration
	now     func() time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithHorizon sets the staleness horizon for the recency curve.
func WithHorizon(d time.Duration) Option {
	return func(s *Scorer) {
		if d > 0 {
			s.horizon = d
		}
	}
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) {
		s.now = now
	}
}

// New validates the weight table once and returns a Scorer.
func New(w WeightTable, opts ...Option) (*Scorer, error) {
	if err := validate(w); err != nil {
		return nil, err
	}
	s := &Scorer{
		weights: w,
		horizon: DefaultStalenessHorizon,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func validate(w WeightTable) error {
	for _, v := range []float64{w.Recency, w.Frequency, w.Community, w.Security, w.License} {
		if v < 0 {
			return &core.InvalidWeightsError{Reason: "weights must be non-negative"}
		}
	}
	if w.Recency+w.Frequency+w.Community+w.Security+w.License == 0 {
		return &core.InvalidWeightsError{Reason: "all weights are zero"}
	}
	return nil
}

// Score computes the health score for a record. The score is always derived
// from the record passed in; a record with no usable signals still scores
// (every signal falls back to its neutral default).
func (s *Scorer) Score(rec core.PackageRecord) core.HealthScore {
	sig := rec.Signals

	entries := []struct {
		name      core.SignalName
		weight    float64
		defaulted bool
		sub       func() float64
	}{
		{core.SignalRecency, s.weights.Recency, sig.Defaulted.Recency, func() float64 {
			return s.recencySubScore(sig.LastReleaseAge)
		}},
		{core.SignalFrequency, s.weights.Frequency, sig.Defaulted.Frequency, func() float64 {
			return frequencySubScore(sig.ReleaseFrequency)
		}},
		{core.SignalCommunity, s.weights.Community, sig.Defaulted.Community, func() float64 {
			return communitySubScore(sig.ContributorCount, sig.OpenIssueRatio)
		}},
		{core.SignalSecurity, s.weights.Security, sig.Defaulted.Security, func() float64 {
			return securitySubScore(sig.KnownVulnerabilityCount)
		}},
		{core.SignalLicense, s.weights.License, sig.Defaulted.License, func() float64 {
			return licenseSubScore(sig.LicenseRiskTier)
		}},
	}

	breakdown := make([]core.SignalContribution, 0, len(entries))
	var weightedSum, weightSum float64

	for _, e := range entries {
		weight := e.weight
		sub := e.sub()
		note := ""
		if e.defaulted {
			weight /= 2
			sub = defaultedSubScore
			note = defaultedNote
		}
		weightedSum += weight * sub
		weightSum += weight
		breakdown = append(breakdown, core.SignalContribution{
			Signal:   e.name,
			SubScore: sub,
			Weight:   weight,
			Note:     note,
		})
	}

	value := 0
	if weightSum > 0 {
		value = int(math.Round(100 * weightedSum / weightSum))
	}
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}

	return core.HealthScore{
		Value:      value,
		Breakdown:  breakdown,
		ComputedAt: s.now().UTC(),
	}
}

func (s *Scorer) recencySubScore(age time.Duration) float64 {
	if age <= 0 {
		return 1.0
	}
	if age >= s.horizon {
		return 0.0
	}
	return math.Exp(-recencyLambda * float64(age) / float64(s.horizon))
}

func frequencySubScore(perYear float64) float64 {
	if perYear <= 0 {
		return 0.0
	}
	return perYear / (perYear + 3)
}

func communitySubScore(contributors int, openIssueRatio float64) float64 {
	contrib := 1 - math.Exp(-float64(contributors)/10)
	issues := 1 - clamp01(openIssueRatio)
	return 0.6*contrib + 0.4*issues
}

func securitySubScore(vulnerabilities int) float64 {
	if vulnerabilities < 0 {
		vulnerabilities = 0
	}
	return 1 / (1 + float64(vulnerabilities))
}

func licenseSubScore(tier core.LicenseRiskTier) float64 {
	if v, ok := tierSubScores[tier]; ok {
		return v
	}
	return tierSubScores[core.TierUnknown]
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
