package spider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/peruprices/crawler/parser"
)

// ErrMissingIdentity indicates a node without the identity attribute.
type ErrMissingIdentity struct {
	Attr string
}

func (e ErrMissingIdentity) Error() string {
	return fmt.Sprintf("missing identity attribute %q", e.Attr)
}

// ErrNoData indicates a node that carried an identity attribute but no
// descriptive fields at all. Such nodes are not products.
type ErrNoData struct {
	ID string
}

func (e ErrNoData) Error() string {
	return fmt.Sprintf("no data extracted for node %q", e.ID)
}

// ErrInvalidSelector indicates a CSS selector that failed to compile.
type ErrInvalidSelector struct {
	Selector string
	Err      error
}

func (e ErrInvalidSelector) Error() string {
	return fmt.Sprintf("invalid selector %q: %v", e.Selector, e.Err)
}

func (e ErrInvalidSelector) Unwrap() error {
	return e.Err
}

// ErrFetch indicates the document for a subroute could not be fetched.
type ErrFetch struct {
	URL string
	Err error
}

func (e ErrFetch) Error() string {
	return fmt.Errorf("fetch %s: %w", e.URL, e.Err).Error()
}

func (e ErrFetch) Unwrap() error {
	return e.Err
}

// ErrNavigation indicates the browser session failed to reach a URL.
type ErrNavigation struct {
	URL string
	Err error
}

func (e ErrNavigation) Error() string {
	return fmt.Errorf("navigate to %s: %w", e.URL, e.Err).Error()
}

func (e ErrNavigation) Unwrap() error {
	return e.Err
}

// ErrWaitTimeout indicates no matching node appeared within the wait bound.
type ErrWaitTimeout struct {
	Selector string
	Err      error
}

func (e ErrWaitTimeout) Error() string {
	return fmt.Errorf("wait for %q: %w", e.Selector, e.Err).Error()
}

func (e ErrWaitTimeout) Unwrap() error {
	return e.Err
}

// ErrMarkup indicates the rendered markup could not be read back.
type ErrMarkup struct {
	Err error
}

func (e ErrMarkup) Error() string {
	return fmt.Errorf("read markup: %w", e.Err).Error()
}

func (e ErrMarkup) Unwrap() error {
	return e.Err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var missing ErrMissingIdentity
	if errors.As(err, &missing) {
		return "missing_identity"
	}
	var noData ErrNoData
	if errors.As(err, &noData) {
		return "no_data"
	}
	var price parser.ErrPriceParse
	if errors.As(err, &price) {
		return "price_parse"
	}
	var fetch ErrFetch
	if errors.As(err, &fetch) {
		return "fetch"
	}
	var nav ErrNavigation
	if errors.As(err, &nav) {
		return "navigation"
	}
	var wait ErrWaitTimeout
	if errors.As(err, &wait) {
		return "wait_timeout"
	}
	var markup ErrMarkup
	if errors.As(err, &markup) {
		return "markup"
	}
	return "other"
}

// CauseChain renders an error followed by every underlying cause, one
// per line, for log output.
func CauseChain(err error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(err.Error())
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		b.WriteString("\ncaused by: ")
		b.WriteString(cause.Error())
	}
	return b.String()
}
