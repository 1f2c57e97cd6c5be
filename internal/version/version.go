// Package version holds build identification for evalbot.
package version

// Version is the bot release. Overridden at link time with
// -ldflags "-X github.com/roach88/evalbot/internal/version.Version=...".
var Version = "0.3.0"

const (
	// Name is the program name reported by /about.
	Name = "evalbot"

	// Homepage is linked from /about.
	Homepage = "https://github.com/roach88/evalbot"

	// RecordFormat is the version stamped into the persisted record document.
	RecordFormat = 1
)

// String returns "name version".
func String() string {
	return Name + " " + Version
}
