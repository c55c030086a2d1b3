// Package mirrortest serves a fake OpenWrt download site for tests.
package mirrortest

import (
	"html"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Mirror is an in-process download site. Pages are keyed by absolute path
// (e.g. "/releases/23.05.0/targets/ath79/").
type Mirror struct {
	server *httptest.Server

	mu       sync.Mutex
	pages    map[string]string
	statuses map[string]int
	requests []string
}

// New starts a Mirror that is shut down when t finishes.
func New(t testing.TB) *Mirror {
	t.Helper()
	m := &Mirror{
		pages:    make(map[string]string),
		statuses: make(map[string]int),
	}
	r := chi.NewRouter()
	r.Use(m.record)
	r.Get("/*", m.serve)
	m.server = httptest.NewServer(r)
	t.Cleanup(m.server.Close)
	return m
}

// URL returns the site root with a trailing slash.
func (m *Mirror) URL() string {
	return m.server.URL + "/"
}

// AddListing serves a directory index at path listing dirs as
// subdirectories and files as plain entries.
func (m *Mirror) AddListing(path string, dirs []string, files ...string) {
	m.AddPage(path, RenderIndex(path, dirs, files))
}

// AddPage serves body verbatim at path.
func (m *Mirror) AddPage(path, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[path] = body
}

// Fail makes path answer with status.
func (m *Mirror) Fail(path string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[path] = status
}

// Requests returns the paths requested so far, in arrival order.
func (m *Mirror) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

// Requested reports whether path was requested at least once.
func (m *Mirror) Requested(path string) bool {
	for _, p := range m.Requests() {
		if p == path {
			return true
		}
	}
	return false
}

func (m *Mirror) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests = append(m.requests, r.URL.Path)
		m.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (m *Mirror) serve(w http.ResponseWriter, r *http.Request) {
	path := "/" + chi.URLParam(r, "*")
	m.mu.Lock()
	status, failed := m.statuses[path]
	body, ok := m.pages[path]
	m.mu.Unlock()

	switch {
	case failed:
		http.Error(w, http.StatusText(status), status)
	case !ok:
		http.NotFound(w, r)
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}

// RenderIndex renders a directory index in the layout used by
// downloads.openwrt.org.
func RenderIndex(path string, dirs, files []string) string {
	var b strings.Builder
	title := html.EscapeString(path)
	b.WriteString("<html><head><title>Index of " + title + "</title></head><body>\n")
	b.WriteString("<h1>Index of " + title + "</h1>\n<hr><table>\n")
	b.WriteString(`<tr><th class="n">File Name</th><th class="s">File Size</th><th class="d">Date</th></tr>` + "\n")
	b.WriteString(`<tr><td class="n"><a href="../">../</a></td><td class="s">-</td><td class="d">-</td></tr>` + "\n")
	for _, d := range dirs {
		name := html.EscapeString(d)
		b.WriteString(`<tr><td class="n"><a href="` + name + `/">` + name + `</a>/</td><td class="s">-</td><td class="d">Fri Oct 13 11:28:06 2023</td></tr>` + "\n")
	}
	for _, f := range files {
		name := html.EscapeString(f)
		b.WriteString(`<tr><td class="n"><a href="` + name + `">` + name + `</a></td><td class="s">4.2 KB</td><td class="d">Fri Oct 13 11:28:06 2023</td></tr>` + "\n")
	}
	b.WriteString("</table></body></html>\n")
	return b.String()
}
