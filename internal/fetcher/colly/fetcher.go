// Package collyfetcher implements fetcher.Opener using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/n0n1m/amneziawg-openwrt/internal/fetcher"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	SiteURL      string
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Client opens fetch sessions against one download site.
type Client struct {
	cfg  Config
	root *url.URL
}

// New builds a Client for cfg.SiteURL.
func New(cfg Config) (*Client, error) {
	root, err := url.Parse(cfg.SiteURL)
	if err != nil {
		return nil, fmt.Errorf("parse site url: %w", err)
	}
	if root.Scheme == "" || root.Host == "" {
		return nil, fmt.Errorf("site url %q must be absolute", cfg.SiteURL)
	}
	return &Client{cfg: cfg, root: root}, nil
}

// Open acquires a Session with its own connection pool.
func (c *Client) Open(basePath string) (fetcher.Session, error) {
	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	}
	if c.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(c.cfg.UserAgent))
	}
	if c.cfg.MaxBodyBytes > 0 {
		opts = append(opts, colly.MaxBodySize(c.cfg.MaxBodyBytes))
	}
	base := colly.NewCollector(opts...)

	transport := newHTTPTransport()
	base.WithTransport(transport)
	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	base.SetRequestTimeout(timeout)

	return &Session{
		root:          c.root,
		basePath:      basePath,
		transport:     transport,
		baseCollector: base,
	}, nil
}

// Session implements fetcher.Session. Requests issued concurrently share the
// session's transport.
type Session struct {
	root          *url.URL
	basePath      string
	transport     *http.Transport
	baseCollector *colly.Collector
	closed        atomic.Bool
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchResult struct {
	status   int
	body     []byte
	received bool
	err      error
}

// Fetch executes a single HTTP GET for path below the session base path.
func (s *Session) Fetch(ctx context.Context, path string) (string, error) {
	target := s.resolveURL(path)
	if s.closed.Load() {
		return "", fetcher.NewTransportError(path, target, fetcher.ErrSessionClosed)
	}

	collector := s.baseCollector.Clone()
	collector.Context = ctx
	var result fetchResult
	configureCollectorHooks(collector, &result)

	if err := collector.Visit(target); err != nil && result.err == nil {
		result.err = err
	}
	switch {
	case result.err != nil:
		return "", fetcher.NewTransportError(path, target, result.err)
	case !result.received:
		return "", fetcher.NewTransportError(path, target, errors.New("colly fetch produced no response"))
	case !fetcher.IsSuccess(result.status):
		return "", fetcher.NewStatusError(path, target, result.status)
	}
	return string(result.body), nil
}

// Close releases idle connections. Further Fetch calls fail.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.transport.CloseIdleConnections()
}

func (s *Session) resolveURL(path string) string {
	u := *s.root
	u.Path = strings.TrimSuffix(s.root.Path, "/") + fetcher.ResolvePath(s.basePath, path)
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func configureCollectorHooks(hooks collectorHooks, result *fetchResult) {
	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
		result.received = true
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		result.err = err
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}
