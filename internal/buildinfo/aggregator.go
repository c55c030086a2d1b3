package buildinfo

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/n0n1m/amneziawg-openwrt/internal/fetcher"
	"github.com/n0n1m/amneziawg-openwrt/internal/kernel"
	"github.com/n0n1m/amneziawg-openwrt/internal/listing"
	"github.com/n0n1m/amneziawg-openwrt/internal/metrics"
	"github.com/n0n1m/amneziawg-openwrt/internal/release"
)

// Discovery phases, also used as metric labels.
const (
	PhaseTargets    = "targets"
	PhaseSubtargets = "subtargets"
	PhaseDetails    = "details"
)

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithExtractor replaces the default regex kernel extractor.
func WithExtractor(e kernel.Extractor) Option {
	return func(a *Aggregator) {
		if e != nil {
			a.extractor = e
		}
	}
}

// WithMaxParallel caps the number of in-flight requests per phase. Zero or
// less means no cap.
func WithMaxParallel(n int) Option {
	return func(a *Aggregator) {
		a.maxParallel = n
	}
}

// Aggregator runs the three discovery phases (targets, subtargets, details)
// for one version. Phases run in order; requests within a phase run
// concurrently.
type Aggregator struct {
	version     release.Version
	opener      fetcher.Opener
	filters     Filters
	extractor   kernel.Extractor
	maxParallel int
	logger      *zap.Logger
}

// New creates an Aggregator for version.
func New(version release.Version, opener fetcher.Opener, filters Filters, opts ...Option) *Aggregator {
	a := &Aggregator{
		version:   version,
		opener:    opener,
		filters:   filters,
		extractor: kernel.NewRegexExtractor(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("version", version.String()))
	return a
}

// Run opens a fetch session, runs all phases and closes the session. Any
// fetch failure aborts the run; no partial Info is returned.
func (a *Aggregator) Run(ctx context.Context) (*Info, error) {
	session, err := a.opener.Open(a.version.BasePath())
	if err != nil {
		return nil, fmt.Errorf("open session for %s: %w", a.version, err)
	}
	defer session.Close()

	info := &Info{Version: a.version}
	if err := a.discoverTargets(ctx, session, info); err != nil {
		return nil, err
	}
	if err := a.discoverSubtargets(ctx, session, info); err != nil {
		return nil, err
	}
	if err := a.discoverDetails(ctx, session, info); err != nil {
		return nil, err
	}
	return info, nil
}

func (a *Aggregator) discoverTargets(ctx context.Context, session fetcher.Fetcher, info *Info) error {
	a.logger.Info("fetching targets")

	page, err := a.fetch(ctx, session, PhaseTargets, "/")
	if err != nil {
		return fmt.Errorf("fetch targets: %w", err)
	}
	for _, name := range a.filtered(listing.ParseDirectoryNames(page), a.filters.Targets) {
		info.Targets = append(info.Targets, Target{Name: name})
	}
	a.logger.Debug("targets discovered", zap.Int("count", len(info.Targets)))
	return nil
}

func (a *Aggregator) discoverSubtargets(ctx context.Context, session fetcher.Fetcher, info *Info) error {
	a.logger.Info("fetching subtargets")

	paths := make([]string, len(info.Targets))
	for i, t := range info.Targets {
		paths[i] = t.Name + "/"
	}
	pages, err := a.fetchAll(ctx, session, PhaseSubtargets, paths)
	if err != nil {
		return fmt.Errorf("fetch subtargets: %w", err)
	}

	for i := range info.Targets {
		target := &info.Targets[i]
		for _, name := range a.filtered(listing.ParseDirectoryNames(pages[i]), a.filters.Subtargets) {
			target.Subtargets = append(target.Subtargets, Subtarget{Name: name})
		}
	}
	a.logger.Debug("subtargets discovered", zap.Int("count", info.SubtargetCount()))
	return nil
}

type subtargetRef struct {
	target    int
	subtarget int
}

func (a *Aggregator) discoverDetails(ctx context.Context, session fetcher.Fetcher, info *Info) error {
	a.logger.Info("fetching details")

	var (
		refs  []subtargetRef
		paths []string
	)
	for ti, t := range info.Targets {
		for si, s := range t.Subtargets {
			refs = append(refs, subtargetRef{target: ti, subtarget: si})
			paths = append(paths, t.Name+"/"+s.Name+"/packages/")
		}
	}
	pages, err := a.fetchAll(ctx, session, PhaseDetails, paths)
	if err != nil {
		return fmt.Errorf("fetch details: %w", err)
	}

	a.logger.Info("parsing details")
	for i, ref := range refs {
		target := &info.Targets[ref.target]
		subtarget := &target.Subtargets[ref.subtarget]
		subtarget.Kernel = a.extractor.Extract(pages[i])

		fields := []zap.Field{zap.String("target", target.Name), zap.String("subtarget", subtarget.Name)}
		if !subtarget.Kernel.Found() {
			metrics.ObserveKernelMiss(a.version.String())
			a.logger.Debug("no kernel package found", fields...)
			continue
		}
		a.logger.Debug("found kernel", append(fields, zap.String("package", subtarget.Kernel.Package))...)
	}
	return nil
}

// fetchAll requests every path concurrently and returns the pages in the
// order of paths. The first failure is returned; the remaining requests see
// a canceled context and their pages are dropped.
func (a *Aggregator) fetchAll(ctx context.Context, session fetcher.Fetcher, phase string, paths []string) ([]string, error) {
	pages := make([]string, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	if a.maxParallel > 0 {
		g.SetLimit(a.maxParallel)
	}
	for i, path := range paths {
		g.Go(func() error {
			page, err := a.fetch(gctx, session, phase, path)
			if err != nil {
				return err
			}
			pages[i] = page
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

func (a *Aggregator) fetch(ctx context.Context, session fetcher.Fetcher, phase, path string) (string, error) {
	start := time.Now()
	page, err := session.Fetch(ctx, path)
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveFetch(phase, metrics.OutcomeError, 0, elapsed)
		a.logger.Debug("fetch failed",
			zap.String("phase", phase),
			zap.String("path", path),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return "", err
	}
	metrics.ObserveFetch(phase, metrics.OutcomeSuccess, len(page), elapsed)
	a.logger.Debug("fetched page",
		zap.String("phase", phase),
		zap.String("path", path),
		zap.Int("bytes", len(page)),
		zap.Duration("duration", elapsed),
	)
	return page, nil
}

// filtered applies allow to names, keeping the first occurrence of a name
// that is listed twice.
func (a *Aggregator) filtered(names []string, allow Filter) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if !allow.Allows(name) {
			a.logger.Debug("skipping filtered entry", zap.String("name", name))
			continue
		}
		out = append(out, name)
	}
	return out
}
