// Package license normalizes free-text license declarations to SPDX
// identifiers and buckets them into risk tiers.
package license

import (
	"strings"

	"github.com/github/go-spdx/v2/spdxexp"

	"github.com/stackscout/stackscout/internal/core"
)

// aliases maps the license spellings registries actually serve to SPDX ids.
// Sources are wildly inconsistent here; classifiers, full names, and short
// names all show up in the same field.
var aliases = map[string]string{
	"mit":                         "MIT",
	"mit license":                 "MIT",
	"the mit license":             "MIT",
	"expat":                       "MIT",
	"apache":                      "Apache-2.0",
	"apache 2":                    "Apache-2.0",
	"apache 2.0":                  "Apache-2.0",
	"apache-2":                    "Apache-2.0",
	"apache license":              "Apache-2.0",
	"apache license 2.0":          "Apache-2.0",
	"apache license, version 2.0": "Apache-2.0",
	"apache software license":     "Apache-2.0",
	"bsd":                         "BSD-3-Clause",
	"bsd license":                 "BSD-3-Clause",
	"new bsd license":             "BSD-3-Clause",
	"bsd 3-clause":                "BSD-3-Clause",
	`bsd 3-clause "new" or "revised" license`: "BSD-3-Clause",
	"bsd 2-clause":                           "BSD-2-Clause",
	"simplified bsd license":                 "BSD-2-Clause",
	"isc license":                            "ISC",
	"gpl":                                    "GPL-3.0-only",
	"gplv2":                                  "GPL-2.0-only",
	"gplv3":                                  "GPL-3.0-only",
	"gnu general public license v2.0":        "GPL-2.0-only",
	"gnu general public license v3.0":        "GPL-3.0-only",
	"lgpl":                                   "LGPL-3.0-only",
	"lgplv2.1":                               "LGPL-2.1-only",
	"lgplv3":                                 "LGPL-3.0-only",
	"gnu lesser general public license v2.1": "LGPL-2.1-only",
	"gnu lesser general public license v3.0": "LGPL-3.0-only",
	"agpl":                                   "AGPL-3.0-only",
	"agplv3":                                 "AGPL-3.0-only",
	"mozilla public license 2.0":             "MPL-2.0",
	"mpl 2.0":                                "MPL-2.0",
	"eclipse public license 2.0":             "EPL-2.0",
	"the unlicense":                          "Unlicense",
	"public domain":                          "Unlicense",
	"python software foundation license":     "PSF-2.0",
	"zlib license":                           "Zlib",
}

// Tier tables keyed by SPDX id prefix. The prefix match absorbs the
// -only/-or-later and versioned variants.
var (
	permissivePrefixes = []string{
		"MIT", "Apache-2.0", "BSD-2-Clause", "BSD-3-Clause", "ISC",
		"0BSD", "Unlicense", "Zlib", "PSF-2.0", "CC0-1.0", "WTFPL",
		"Artistic-2.0", "BSL-1.0",
	}
	weakCopyleftPrefixes = []string{
		"LGPL", "MPL", "EPL", "CDDL", "CPL", "EUPL", "OSL",
	}
	strongCopyleftPrefixes = []string{
		"GPL", "AGPL", "SSPL", "CC-BY-SA",
	}
)

// Normalize maps a raw license declaration to an SPDX identifier where one
// is recognizable, and to core.Unknown when the field is blank. Unrecognized
// but non-blank values pass through trimmed so they remain visible.
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return core.Unknown
	}
	if id, ok := aliases[strings.ToLower(trimmed)]; ok {
		return id
	}
	// Strip the PyPI classifier path down to its last segment.
	if strings.HasPrefix(trimmed, "License ::") {
		parts := strings.Split(trimmed, " :: ")
		return Normalize(parts[len(parts)-1])
	}
	return trimmed
}

// Recognized reports whether a normalized declaration is a license the
// engine can reason about: either one of our alias targets or a valid SPDX
// expression. Unrecognized declarations are treated as a data gap by the
// normalizer, not as a risk signal.
func Recognized(normalized string) bool {
	if normalized == "" || normalized == core.Unknown {
		return false
	}
	valid, _ := spdxexp.ValidateLicenses([]string{normalized})
	return valid
}

// Tier buckets a normalized license into a risk tier. Expressions are
// handled conservatively: OR takes the most permissive branch (the consumer
// may choose it), AND the most restrictive.
func Tier(normalized string) core.LicenseRiskTier {
	if normalized == "" || normalized == core.Unknown {
		return core.TierUnknown
	}

	if orParts := splitExpr(normalized, " OR "); len(orParts) > 1 {
		best := core.TierStrongCopyleft
		for _, p := range orParts {
			if t := Tier(p); risk(t) < risk(best) {
				best = t
			}
		}
		return best
	}
	if andParts := splitExpr(normalized, " AND "); len(andParts) > 1 {
		worst := core.TierPermissive
		for _, p := range andParts {
			if t := Tier(p); risk(t) > risk(worst) {
				worst = t
			}
		}
		return worst
	}

	id := strings.TrimSpace(normalized)
	for _, p := range strongCopyleftPrefixes {
		if strings.HasPrefix(id, p) {
			return core.TierStrongCopyleft
		}
	}
	for _, p := range weakCopyleftPrefixes {
		if strings.HasPrefix(id, p) {
			return core.TierWeakCopyleft
		}
	}
	for _, p := range permissivePrefixes {
		if strings.HasPrefix(id, p) {
			return core.TierPermissive
		}
	}
	return core.TierUnknown
}

func splitExpr(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i, p := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(p), "()")
	}
	return parts
}

// risk orders tiers from least to most restrictive for expression folding.
func risk(t core.LicenseRiskTier) int {
	switch t {
	case core.TierPermissive:
		return 0
	case core.TierWeakCopyleft:
		return 1
	case core.TierUnknown:
		return 2
	case core.TierStrongCopyleft:
		return 3
	default:
		return 2
	}
}
