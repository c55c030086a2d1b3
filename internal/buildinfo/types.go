// Package buildinfo discovers the targets, subtargets and kernel metadata of
// one OpenWrt version by walking the download site's directory index.
package buildinfo

import (
	"slices"

	"github.com/n0n1m/amneziawg-openwrt/internal/kernel"
	"github.com/n0n1m/amneziawg-openwrt/internal/release"
)

// Filter is an allow-list of names. An empty Filter allows every name.
// Matching is exact and case-sensitive.
type Filter []string

// Allows reports whether name passes the filter.
func (f Filter) Allows(name string) bool {
	return len(f) == 0 || slices.Contains(f, name)
}

// Filters holds the allow-lists of the target and subtarget phases.
type Filters struct {
	Targets    Filter
	Subtargets Filter
}

// Subtarget is a variant of a target together with its kernel metadata.
type Subtarget struct {
	Name   string
	Kernel kernel.Info
}

// Target is a platform family and the subtargets that passed the filters,
// in listing order.
type Target struct {
	Name       string
	Subtargets []Subtarget
}

// Info is the discovery result for one version. Targets keep listing order.
type Info struct {
	Version release.Version
	Targets []Target
}

// Target returns the named target.
func (i *Info) Target(name string) (*Target, bool) {
	for idx := range i.Targets {
		if i.Targets[idx].Name == name {
			return &i.Targets[idx], true
		}
	}
	return nil, false
}

// Subtarget returns the named subtarget.
func (t *Target) Subtarget(name string) (*Subtarget, bool) {
	for idx := range t.Subtargets {
		if t.Subtargets[idx].Name == name {
			return &t.Subtargets[idx], true
		}
	}
	return nil, false
}

// SubtargetCount returns the number of (target, subtarget) pairs.
func (i *Info) SubtargetCount() int {
	n := 0
	for _, t := range i.Targets {
		n += len(t.Subtargets)
	}
	return n
}
