// Package version holds the release identity stamped into logs and the
// operator API.
package version

import "fmt"

const (
	Major = 0
	Minor = 3
	Patch = 0
	Meta  = "unstable"
)

// String returns the canonical semver string.
func String() string {
	v := fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
	if Meta != "" {
		v += "-" + Meta
	}
	return v
}
