// Package fetcher defines how the discovery pipeline retrieves index pages
// and the error it reports when a page cannot be retrieved.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrSessionClosed is returned by a Session used after Close.
var ErrSessionClosed = errors.New("session closed")

// Fetcher retrieves the text of a page below a session's base path.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (string, error)
}

// Session is a Fetcher bound to one base path and one set of network
// resources. Close releases those resources.
type Session interface {
	Fetcher
	Close()
}

// Opener acquires a Session rooted at basePath (e.g. "/releases/23.05.0/targets/").
type Opener interface {
	Open(basePath string) (Session, error)
}

// ErrorKind classifies a FetchError.
type ErrorKind int

// Fetch failure kinds.
const (
	KindTransport ErrorKind = iota + 1
	KindStatus
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	default:
		return "unknown"
	}
}

// FetchError reports a failed GET: either a non-2xx status or a transport failure.
type FetchError struct {
	Path       string
	URL        string
	StatusCode int
	Err        error
}

// NewStatusError builds a FetchError for an unexpected HTTP status.
func NewStatusError(path, url string, status int) *FetchError {
	return &FetchError{Path: path, URL: url, StatusCode: status}
}

// NewTransportError builds a FetchError wrapping a transport failure.
func NewTransportError(path, url string, err error) *FetchError {
	return &FetchError{Path: path, URL: url, Err: err}
}

// Kind reports whether the failure came from the HTTP status or the transport.
func (e *FetchError) Kind() ErrorKind {
	if e.StatusCode != 0 {
		return KindStatus
	}
	return KindTransport
}

func (e *FetchError) Error() string {
	if e.Kind() == KindStatus {
		return fmt.Sprintf("error fetching %s: HTTP %d %s", e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("error fetching %s: %v", e.Path, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsSuccess reports whether status is in the 2xx range.
func IsSuccess(status int) bool {
	return status >= 200 && status <= 299
}

// ResolvePath joins a request path onto basePath. A single leading slash on
// path is dropped so "ath79/" and "/ath79/" resolve alike; trailing slashes
// are preserved.
func ResolvePath(basePath, path string) string {
	if !strings.HasSuffix(basePath, "/") {
		basePath += "/"
	}
	return basePath + strings.TrimPrefix(path, "/")
}
