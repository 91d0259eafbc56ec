// Package version carries build identification stamped in via ldflags:
//
//	go build -ldflags "-X github.com/joonwoo-kim/upbit-feed/internal/version.Version=1.0.0 \
//	                   -X github.com/joonwoo-kim/upbit-feed/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/joonwoo-kim/upbit-feed/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Unstamped binaries report "dev".
package version

var (
	// Version is the semantic version of the binary.
	Version = "dev"

	// Commit is the short git hash the binary was built from.
	Commit = "unknown"

	// BuildTime is the UTC build timestamp in RFC 3339.
	BuildTime = "unknown"
)

// String renders the full build identity for startup logs.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}

// UserAgent is the User-Agent value sent on outbound Upbit requests.
func UserAgent() string {
	return "upbit-feed/" + Version
}
