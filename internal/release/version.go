// Package release models the OpenWrt release identifiers accepted on the command line.
package release

import "strings"

// Snapshot selects the rolling snapshot tree instead of a dated release.
const Snapshot Version = "snapshot"

// Version is a normalized (lower-case) release name such as "23.05.0" or "snapshot".
type Version string

// Normalize lower-cases a raw version argument.
func Normalize(raw string) Version {
	return Version(strings.ToLower(raw))
}

// IsSnapshot reports whether v refers to the snapshot tree.
func (v Version) IsSnapshot() bool {
	return v == Snapshot
}

// BasePath returns the targets directory for v relative to the site root.
// It always starts and ends with a slash.
func (v Version) BasePath() string {
	if v.IsSnapshot() {
		return "/snapshots/targets/"
	}
	return "/releases/" + string(v) + "/targets/"
}

func (v Version) String() string {
	return string(v)
}
