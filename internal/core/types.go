// Package core provides the canonical record model, the error taxonomy,
// and the connector registration system shared by all ecosystem connectors.
package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/git-pkgs/purl"
)

// Source identifies an upstream package registry.
type Source string

const (
	SourcePyPI  Source = "pypi"
	SourceNPM   Source = "npm"
	SourceMaven Source = "maven"
	SourceNuGet Source = "nuget"
)

// Unknown is the canonical value for free-text fields a source did not
// provide. Absent is always made explicit, never an empty string.
const Unknown = "unknown"

// ID is the stable identity of a package: an (ecosystem, name) pair.
// Names are never reused across ecosystems.
type ID struct {
	Source Source
	Name   string
}

func (id ID) String() string {
	return string(id.Source) + "/" + id.Name
}

// PURL renders the identity as a Package URL, e.g. "pkg:npm/left-pad".
func (id ID) PURL() string {
	return fmt.Sprintf("pkg:%s/%s", id.Source, id.Name)
}

// ParseID parses an identity from either "pkg:npm/left-pad" PURL form or
// the plain "npm/left-pad" form used in request paths.
func ParseID(s string) (ID, error) {
	if strings.HasPrefix(s, "pkg:") {
		p, err := purl.Parse(s)
		if err != nil {
			return ID{}, &InvalidArgumentError{Reason: fmt.Sprintf("bad package id %q: %v", s, err)}
		}
		name := p.Name
		if p.Namespace != "" {
			switch p.Type {
			case "maven":
				name = p.Namespace + ":" + p.Name
			default:
				name = p.Namespace + "/" + p.Name
			}
		}
		return ID{Source: Source(p.Type), Name: name}, nil
	}

	source, name, ok := strings.Cut(s, "/")
	if !ok || source == "" || name == "" {
		return ID{}, &InvalidArgumentError{Reason: fmt.Sprintf("bad package id %q", s)}
	}
	return ID{Source: Source(source), Name: name}, nil
}

// LicenseRiskTier buckets a license by the obligations it imposes.
type LicenseRiskTier string

const (
	TierPermissive     LicenseRiskTier = "permissive"
	TierWeakCopyleft   LicenseRiskTier = "weak-copyleft"
	TierStrongCopyleft LicenseRiskTier = "strong-copyleft"
	TierUnknown        LicenseRiskTier = "unknown"
)

// RecordStatus tracks a record through the stale-then-evict lifecycle.
type RecordStatus string

const (
	StatusFresh   RecordStatus = "fresh"
	StatusStale   RecordStatus = "stale"
	StatusEvicted RecordStatus = "evicted"
)

// RawRecord is the loosely-typed shape a connector produces before
// normalization. Optional fields are pointers so "the source did not say"
// is distinguishable from a zero value.
type RawRecord struct {
	Name        string
	Version     string
	Description string
	License     string
	Homepage    string
	Repository  string

	LastReleaseAt    *time.Time
	ReleasesLastYear *int
	OpenIssueRatio   *float64
	Contributors     *int
	Vulnerabilities  *int
}

// DefaultedSignals flags which scoring signals the normalizer had to fill
// with defaults because the source did not report them. The scorer halves
// the weight of defaulted signals.
type DefaultedSignals struct {
	Recency   bool
	Frequency bool
	Community bool
	Security  bool
	License   bool
}

// Any reports whether at least one signal was defaulted.
func (d DefaultedSignals) Any() bool {
	return d.Recency || d.Frequency || d.Community || d.Security || d.License
}

// Signals are the structured metrics feeding the health scorer.
type Signals struct {
	LastReleaseAge          time.Duration
	ReleaseFrequency        float64 // releases per trailing year
	OpenIssueRatio          float64
	ContributorCount        int
	KnownVulnerabilityCount int
	LicenseRiskTier         LicenseRiskTier

	Defaulted DefaultedSignals
}

// PackageRecord is the canonical, immutable snapshot of one package as of
// one ingestion cycle.
type PackageRecord struct {
	ID          ID
	Name        string
	Version     string
	Source      Source
	Description string
	License     string
	Homepage    string
	Repository  string
	Signals     Signals
	FetchedAt   time.Time
}

// SignalName identifies one scoring signal in a breakdown.
type SignalName string

const (
	SignalRecency   SignalName = "recency"
	SignalFrequency SignalName = "frequency"
	SignalCommunity SignalName = "community"
	SignalSecurity  SignalName = "security"
	SignalLicense   SignalName = "license"
)

// SignalContribution is one signal's share of a health score.
type SignalContribution struct {
	Signal   SignalName
	SubScore float64 // normalized to [0,1]
	Weight   float64 // effective weight after any confidence reduction
	Note     string  // set when a policy adjusted this signal
}

// HealthScore is the composite 0-100 trust metric with its explanation.
type HealthScore struct {
	Value      int
	Breakdown  []SignalContribution
	ComputedAt time.Time
}

// ScoredRecord pairs a canonical record with the score computed from that
// exact snapshot. It is the unit stored in the index and returned to callers.
type ScoredRecord struct {
	PackageRecord
	Score HealthScore

	// Lifecycle bookkeeping maintained by the index store.
	Status       RecordStatus
	MissedCycles int
}

// AggregateStats are the incrementally-maintained index aggregates.
type AggregateStats struct {
	TotalLibraries     int
	AverageHealthScore float64 // mean over non-stale records
	Sources            map[Source]int
	StaleCount         int
}
