// Package matrix turns discovered build information into the CI job matrix.
package matrix

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/n0n1m/amneziawg-openwrt/internal/buildinfo"
	"github.com/n0n1m/amneziawg-openwrt/internal/metrics"
	"github.com/n0n1m/amneziawg-openwrt/internal/release"
)

// Job is one CI build: a (version, target, subtarget) triple plus the kernel
// metadata needed to build modules for it. Vermagic and Pkgarch encode as
// null when no kernel package was found.
type Job struct {
	Tag       string  `json:"tag"`
	Target    string  `json:"target"`
	Subtarget string  `json:"subtarget"`
	Vermagic  *string `json:"vermagic"`
	Pkgarch   *string `json:"pkgarch"`
}

// Runner discovers the build information of one version.
type Runner interface {
	Run(ctx context.Context) (*buildinfo.Info, error)
}

// RunnerFactory returns the Runner for a version.
type RunnerFactory func(version release.Version) Runner

// Builder drives discovery for each requested version in turn.
type Builder struct {
	newRunner RunnerFactory
	logger    *zap.Logger
}

// NewBuilder creates a Builder. A nil logger discards output.
func NewBuilder(newRunner RunnerFactory, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{newRunner: newRunner, logger: logger}
}

// Build processes the distinct versions of rawVersions sequentially and
// returns their jobs in request order. The first failing version aborts the
// build and no jobs are returned.
func (b *Builder) Build(ctx context.Context, rawVersions []string) ([]Job, error) {
	jobs := []Job{}
	for _, version := range NormalizeVersions(rawVersions, b.logger) {
		info, err := b.newRunner(version).Run(ctx)
		if err != nil {
			metrics.ObserveVersion(metrics.OutcomeError)
			return nil, fmt.Errorf("version %s: %w", version, err)
		}
		metrics.ObserveVersion(metrics.OutcomeSuccess)

		versionJobs := Flatten(info)
		metrics.ObserveJobs(version.String(), len(versionJobs))
		b.logger.Info("version processed",
			zap.String("version", version.String()),
			zap.Int("jobs", len(versionJobs)),
		)
		jobs = append(jobs, versionJobs...)
	}
	return jobs, nil
}

// NormalizeVersions lower-cases the requested versions and drops repeats,
// keeping the first occurrence. Each repeat is logged as a warning.
func NormalizeVersions(raw []string, logger *zap.Logger) []release.Version {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make([]release.Version, 0, len(raw))
	seen := make(map[release.Version]struct{}, len(raw))
	for _, r := range raw {
		v := release.Normalize(r)
		if _, dup := seen[v]; dup {
			logger.Warn("duplicate version ignored", zap.String("version", r))
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Flatten emits one Job per subtarget of info, in discovery order.
func Flatten(info *buildinfo.Info) []Job {
	if info == nil {
		return []Job{}
	}
	jobs := make([]Job, 0, info.SubtargetCount())
	for _, t := range info.Targets {
		for _, s := range t.Subtargets {
			jobs = append(jobs, Job{
				Tag:       info.Version.String(),
				Target:    t.Name,
				Subtarget: s.Name,
				Vermagic:  s.Kernel.Vermagic,
				Pkgarch:   s.Kernel.Pkgarch,
			})
		}
	}
	return jobs
}

// Encode serializes jobs as a compact JSON array. A nil or empty slice
// encodes as [].
func Encode(jobs []Job) ([]byte, error) {
	if jobs == nil {
		jobs = []Job{}
	}
	data, err := json.Marshal(jobs)
	if err != nil {
		return nil, fmt.Errorf("encode job matrix: %w", err)
	}
	return data, nil
}
