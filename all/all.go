// Package all imports all supported source connectors.
//
// Import this package for its side effects to register every ecosystem:
//
//	import (
//		"github.com/stackscout/stackscout"
//		_ "github.com/stackscout/stackscout/all"
//	)
//
//	// Now all sources are available
//	sources := stackscout.SupportedSources()
//	// ["maven", "npm", "nuget", "pypi"]
package all

import (
	_ "github.com/stackscout/stackscout/internal/maven"
	_ "github.com/stackscout/stackscout/internal/npm"
	_ "github.com/stackscout/stackscout/internal/nuget"
	_ "github.com/stackscout/stackscout/internal/pypi"
)
