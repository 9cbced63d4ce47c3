// Package normalize maps connector raw records into the canonical record
// shape. It is pure: no I/O, and the same raw input, source, and cycle time
// always produce an identical canonical record.
package normalize

import (
	"strings"
	"time"

	"github.com/stackscout/stackscout/internal/core"
	"github.com/stackscout/stackscout/internal/license"
)

// Normalize converts one raw record into a canonical PackageRecord.
//
// now is the ingestion cycle's start time and becomes FetchedAt; passing it
// in keeps the function deterministic. Missing fields resolve to documented
// defaults and flag the affected signal as defaulted so the scorer can apply
// reduced-confidence weighting:
//
//   - description, license: core.Unknown
//   - lastReleaseAge, releaseFrequency, openIssueRatio, contributorCount,
//     knownVulnerabilityCount: zero value, signal flagged
//
// It fails with MalformedRecordError only when the name is unrecoverable.
func Normalize(raw core.RawRecord, source core.Source, now time.Time) (core.PackageRecord, error) {
	name := canonicalName(raw.Name, source)
	if name == "" {
		return core.PackageRecord{}, &core.MalformedRecordError{
			Source: source,
			Reason: "record has no name",
		}
	}

	rec := core.PackageRecord{
		ID:          core.ID{Source: source, Name: name},
		Name:        name,
		Version:     orUnknown(raw.Version),
		Source:      source,
		Description: orUnknown(strings.TrimSpace(raw.Description)),
		Homepage:    strings.TrimSpace(raw.Homepage),
		Repository:  strings.TrimSpace(raw.Repository),
		FetchedAt:   now,
	}

	normalized := license.Normalize(raw.License)
	rec.License = normalized

	var sig core.Signals

	if raw.LastReleaseAt != nil && !raw.LastReleaseAt.IsZero() {
		age := now.Sub(*raw.LastReleaseAt)
		if age < 0 {
			age = 0
		}
		sig.LastReleaseAge = age
	} else {
		sig.Defaulted.Recency = true
	}

	if raw.ReleasesLastYear != nil {
		sig.ReleaseFrequency = float64(*raw.ReleasesLastYear)
	} else {
		sig.Defaulted.Frequency = true
	}

	// Community is one signal fed by two inputs; it is defaulted only when
	// both are missing.
	hasRatio := raw.OpenIssueRatio != nil
	hasContribs := raw.Contributors != nil
	if hasRatio {
		sig.OpenIssueRatio = clamp01(*raw.OpenIssueRatio)
	}
	if hasContribs && *raw.Contributors > 0 {
		sig.ContributorCount = *raw.Contributors
	}
	if !hasRatio && !hasContribs {
		sig.Defaulted.Community = true
	}

	if raw.Vulnerabilities != nil {
		if *raw.Vulnerabilities > 0 {
			sig.KnownVulnerabilityCount = *raw.Vulnerabilities
		}
	} else {
		sig.Defaulted.Security = true
	}

	sig.LicenseRiskTier = license.Tier(normalized)
	if !license.Recognized(normalized) {
		sig.Defaulted.License = true
		sig.LicenseRiskTier = core.TierUnknown
	}

	rec.Signals = sig
	return rec, nil
}

// canonicalName applies per-ecosystem name canonicalization. PyPI names are
// case-insensitive with interchangeable separators (PEP 503); the other
// ecosystems are case-sensitive as published.
func canonicalName(name string, source core.Source) string {
	name = strings.TrimSpace(name)
	if source == core.SourcePyPI {
		name = strings.ToLower(name)
		name = strings.ReplaceAll(name, "_", "-")
		name = strings.ReplaceAll(name, ".", "-")
	}
	return name
}

func orUnknown(s string) string {
	if s == "" {
		return core.Unknown
	}
	return s
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
