package buildinfo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	collyfetcher "github.com/n0n1m/amneziawg-openwrt/internal/fetcher/colly"
)

func newMirrorOpener(t *testing.T, siteURL string) *collyfetcher.Client {
	t.Helper()
	client, err := collyfetcher.New(collyfetcher.Config{SiteURL: siteURL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return client
}
