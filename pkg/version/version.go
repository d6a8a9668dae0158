// Package version identifies a running atlas build. The commit hash comes
// from -ldflags when the build pipeline injects one, from the module's VCS
// stamp otherwise, and falls back to "dev" for test binaries and builds
// outside a checkout.
package version

import (
	"runtime/debug"
	"sync"
)

// app prefixes rendered version strings.
const app = "atlas"

// commit is injected via
// -ldflags "-X github.com/atlasops/atlas/pkg/version.commit=<sha>"
// in container builds that carry no .git directory.
var commit string

// shortLen is how much of the revision hash is kept.
const shortLen = 8

// Commit returns the short revision hash of this build, or "dev" when no
// revision is known.
var Commit = sync.OnceValue(func() string {
	if commit != "" {
		return short(commit)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
})

// Full renders "atlas/<commit>" for startup logs and user-agent strings.
func Full() string {
	return app + "/" + Commit()
}

func short(rev string) string {
	if len(rev) > shortLen {
		return rev[:shortLen]
	}
	return rev
}
