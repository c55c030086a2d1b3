package buildinfo

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/n0n1m/amneziawg-openwrt/internal/fetcher"
	"github.com/n0n1m/amneziawg-openwrt/internal/kernel"
	"github.com/n0n1m/amneziawg-openwrt/internal/mirrortest"
)

const base = "/releases/23.05.0/targets/"

// fakeOpener serves pages from a map keyed by the path handed to Fetch.
type fakeOpener struct {
	pages  map[string]string
	errs   map[string]error
	delays map[string]time.Duration

	mu        sync.Mutex
	basePaths []string
	fetched   []string
	closed    atomic.Int32
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		pages:  map[string]string{},
		errs:   map[string]error{},
		delays: map[string]time.Duration{},
	}
}

func (o *fakeOpener) Open(basePath string) (fetcher.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.basePaths = append(o.basePaths, basePath)
	return &fakeSession{opener: o}, nil
}

func (o *fakeOpener) fetchedPaths() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.fetched...)
}

type fakeSession struct {
	opener *fakeOpener
}

func (s *fakeSession) Fetch(ctx context.Context, path string) (string, error) {
	o := s.opener
	n := o.inFlight.Add(1)
	defer o.inFlight.Add(-1)
	for {
		cur := o.maxFlight.Load()
		if n <= cur || o.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	o.mu.Lock()
	o.fetched = append(o.fetched, path)
	page, ok := o.pages[path]
	err := o.errs[path]
	delay := o.delays[path]
	o.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", fetcher.NewTransportError(path, path, ctx.Err())
		}
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fetcher.NewStatusError(path, path, http.StatusNotFound)
	}
	return page, nil
}

func (s *fakeSession) Close() {
	s.opener.closed.Add(1)
}

type failingOpener struct{}

func (failingOpener) Open(string) (fetcher.Session, error) {
	return nil, errors.New("no network")
}

func indexPage(dirs ...string) string {
	return mirrortest.RenderIndex("/", dirs, nil)
}

func packagesPage(files ...string) string {
	return mirrortest.RenderIndex("/", nil, files)
}

func standardOpener() *fakeOpener {
	o := newFakeOpener()
	o.pages["/"] = indexPage("ath79", "ramips")
	o.pages["ath79/"] = indexPage("generic", "nand", "tiny")
	o.pages["ramips/"] = indexPage("mt7621")
	o.pages["ath79/generic/packages/"] = packagesPage(
		"base-files_1562-r23630_mips_24kc.ipk",
		"kernel_5.15.137-1-3ad5d8f3c6a8c8b0f2dd1e4e5d5b2e71_mips_24kc.ipk",
	)
	o.pages["ath79/nand/packages/"] = packagesPage("kernel_5.15.137-1~9f3a2b1c-r1_mips_24kc.ipk")
	o.pages["ath79/tiny/packages/"] = packagesPage()
	o.pages["ramips/mt7621/packages/"] = packagesPage("kernel_5.15.137-1-abcdef_mipsel_24kc.ipk")
	return o
}

func TestFilterAllows(t *testing.T) {
	t.Parallel()

	assert.True(t, Filter(nil).Allows("anything"))
	assert.True(t, Filter{"ath79"}.Allows("ath79"))
	assert.False(t, Filter{"ath79"}.Allows("ATH79"))
	assert.False(t, Filter{"ath79"}.Allows("ramips"))
}

func TestRunTargetFilter(t *testing.T) {
	t.Parallel()

	o := standardOpener()
	info, err := New("23.05.0", o, Filters{Targets: Filter{"ath79"}}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, info.Targets, 1)
	assert.Equal(t, "ath79", info.Targets[0].Name)
	assert.NotContains(t, o.fetchedPaths(), "ramips/")
	assert.Equal(t, []string{base}, o.basePaths)
	assert.EqualValues(t, 1, o.closed.Load())
}

func TestRunAllPhases(t *testing.T) {
	t.Parallel()

	o := standardOpener()
	info, err := New("23.05.0", o, Filters{}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, info.Targets, 2)
	assert.Equal(t, "ath79", info.Targets[0].Name)
	assert.Equal(t, "ramips", info.Targets[1].Name)
	assert.Equal(t, 4, info.SubtargetCount())

	ath79, ok := info.Target("ath79")
	require.True(t, ok)
	names := []string{}
	for _, s := range ath79.Subtargets {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"generic", "nand", "tiny"}, names)

	generic, ok := ath79.Subtarget("generic")
	require.True(t, ok)
	require.True(t, generic.Kernel.Found())
	assert.Equal(t, "3ad5d8f3c6a8c8b0f2dd1e4e5d5b2e71", *generic.Kernel.Vermagic)
	assert.Equal(t, "mips_24kc", *generic.Kernel.Pkgarch)

	nand, _ := ath79.Subtarget("nand")
	assert.Equal(t, "9f3a2b1c", *nand.Kernel.Vermagic)

	tiny, _ := ath79.Subtarget("tiny")
	assert.Nil(t, tiny.Kernel.Vermagic)
	assert.Nil(t, tiny.Kernel.Pkgarch)

	ramips, _ := info.Target("ramips")
	mt7621, ok := ramips.Subtarget("mt7621")
	require.True(t, ok)
	assert.Equal(t, "mipsel_24kc", *mt7621.Kernel.Pkgarch)

	_, ok = info.Target("x86")
	assert.False(t, ok)
}

func TestRunSubtargetFilter(t *testing.T) {
	t.Parallel()

	o := standardOpener()
	filters := Filters{Targets: Filter{"ath79"}, Subtargets: Filter{"generic", "nand"}}
	info, err := New("23.05.0", o, filters).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, info.Targets, 1)
	require.Len(t, info.Targets[0].Subtargets, 2)
	assert.NotContains(t, o.fetchedPaths(), "ath79/tiny/packages/")
}

func TestRunSubtargetFailureAbortsVersion(t *testing.T) {
	t.Parallel()

	o := standardOpener()
	delete(o.pages, "ramips/")
	info, err := New("23.05.0", o, Filters{}).Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, info)

	var fe *fetcher.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fetcher.KindStatus, fe.Kind())
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Contains(t, err.Error(), "fetch subtargets")
	assert.Contains(t, err.Error(), "ramips/")

	for _, p := range o.fetchedPaths() {
		assert.NotContains(t, p, "packages/", "details must not start after a failed subtarget phase")
	}
	assert.EqualValues(t, 1, o.closed.Load())
}

func TestRunDetailFailureAbortsVersion(t *testing.T) {
	t.Parallel()

	o := standardOpener()
	o.errs["ath79/nand/packages/"] = fetcher.NewTransportError("ath79/nand/packages/", "", errors.New("connection reset"))
	o.delays["ath79/generic/packages/"] = time.Second

	start := time.Now()
	info, err := New("23.05.0", o, Filters{}).Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, info)
	assert.Contains(t, err.Error(), "fetch details")
	assert.Contains(t, err.Error(), "connection reset")
	assert.Less(t, time.Since(start), time.Second, "siblings should observe cancellation")
	assert.EqualValues(t, 1, o.closed.Load())
}

func TestRunTargetFailure(t *testing.T) {
	t.Parallel()

	o := newFakeOpener()
	info, err := New("snapshot", o, Filters{}).Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, info)
	assert.Contains(t, err.Error(), "fetch targets")
	assert.Equal(t, []string{"/snapshots/targets/"}, o.basePaths)
	assert.EqualValues(t, 1, o.closed.Load())
}

func TestRunOpenFailure(t *testing.T) {
	t.Parallel()

	_, err := New("23.05.0", failingOpener{}, Filters{}).Run(context.Background())
	assert.ErrorContains(t, err, "no network")
}

func TestRunResultsMatchedByPosition(t *testing.T) {
	t.Parallel()

	o := standardOpener()
	// ath79 answers last; its subtargets must still land on ath79.
	o.delays["ath79/"] = 50 * time.Millisecond
	o.delays["ath79/generic/packages/"] = 30 * time.Millisecond

	info, err := New("23.05.0", o, Filters{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ath79", info.Targets[0].Name)
	require.Len(t, info.Targets[0].Subtargets, 3)
	assert.Equal(t, "mt7621", info.Targets[1].Subtargets[0].Name)
	assert.Equal(t, "mips_24kc", *info.Targets[0].Subtargets[0].Kernel.Pkgarch)
	assert.Equal(t, "mipsel_24kc", *info.Targets[1].Subtargets[0].Kernel.Pkgarch)
}

func TestRunMaxParallel(t *testing.T) {
	t.Parallel()

	o := standardOpener()
	for p := range o.pages {
		o.delays[p] = 10 * time.Millisecond
	}
	_, err := New("23.05.0", o, Filters{}, WithMaxParallel(1)).Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, o.maxFlight.Load())
}

func TestRunDuplicateListingEntries(t *testing.T) {
	t.Parallel()

	o := standardOpener()
	o.pages["/"] = indexPage("ath79", "ath79")
	info, err := New("23.05.0", o, Filters{}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, info.Targets, 1)
}

func TestRunWithDocumentExtractorAndLogging(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	o := standardOpener()
	info, err := New("23.05.0", o, Filters{Targets: Filter{"ath79"}},
		WithExtractor(kernel.NewDocumentExtractor()),
		WithLogger(zap.New(core)),
	).Run(context.Background())
	require.NoError(t, err)

	generic, _ := info.Targets[0].Subtarget("generic")
	assert.Equal(t, "mips_24kc", *generic.Kernel.Pkgarch)

	for _, msg := range []string{"fetching targets", "fetching subtargets", "fetching details", "parsing details"} {
		assert.Equal(t, 1, logs.FilterMessage(msg).Len(), msg)
	}
	found := logs.FilterMessage("found kernel").All()
	require.Len(t, found, 2)
	assert.Equal(t, "23.05.0", found[0].ContextMap()["version"])
	assert.Equal(t, 1, logs.FilterMessage("no kernel package found").Len())
}

func TestRunAgainstMirror(t *testing.T) {
	t.Parallel()

	m := mirrortest.New(t)
	m.AddListing(base, []string{"ath79", "ramips"}, "sha256sums")
	m.AddListing(base+"ath79/", []string{"generic", "nand"})
	m.AddListing(base+"ath79/generic/packages/", nil,
		"kernel_5.15.150-1~9f3a2b1c-r1_aarch64_cortex-a53.ipk")
	m.AddListing(base+"ath79/nand/packages/", nil, "base-files_1.ipk")

	opener := newMirrorOpener(t, m.URL())
	info, err := New("23.05.0", opener, Filters{Targets: Filter{"ath79"}}).Run(context.Background())
	require.NoError(t, err)

	generic, _ := info.Targets[0].Subtarget("generic")
	assert.Equal(t, "9f3a2b1c", *generic.Kernel.Vermagic)
	assert.Equal(t, "aarch64_cortex-a53", *generic.Kernel.Pkgarch)
	nand, _ := info.Targets[0].Subtarget("nand")
	assert.False(t, nand.Kernel.Found())
	assert.False(t, m.Requested(base+"ramips/"))
}
