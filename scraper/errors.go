package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-figures/models"
)

// FetchFailedError is a transient fetch failure; the same page may be retried.
type FetchFailedError struct {
	Source     models.SourceKind
	URL        string
	StatusCode int
	Kind       string
	Err        error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("fetch failed (%s) %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchFailedError) Unwrap() error {
	return e.Err
}

// FetchRejectedError is a permanent failure: the upstream answered with
// something that violates its contract. Retrying will not help.
type FetchRejectedError struct {
	Source     models.SourceKind
	URL        string
	StatusCode int
	Kind       string
	Err        error
}

func (e *FetchRejectedError) Error() string {
	return fmt.Sprintf("fetch rejected (%s) %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchRejectedError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a FetchFailedError.
func IsRetryable(err error) bool {
	var failed *FetchFailedError
	return errors.As(err, &failed)
}

// ErrorLabel returns a low-cardinality label for metrics and logs.
func ErrorLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var failed *FetchFailedError
	if errors.As(err, &failed) {
		return failed.Kind
	}
	var rejected *FetchRejectedError
	if errors.As(err, &rejected) {
		return rejected.Kind
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "other"
}

func rejected(source models.SourceKind, url, kind string, err error) error {
	return &FetchRejectedError{Source: source, URL: url, Kind: kind, Err: err}
}

// classifyError sorts a transport outcome into the failed/rejected taxonomy.
func classifyError(source models.SourceKind, url string, err error, statusCode int) error {
	if err == nil && statusCode < http.StatusBadRequest {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("http status %d", statusCode)
	}
	failed := func(kind string) error {
		return &FetchFailedError{Source: source, URL: url, StatusCode: statusCode, Kind: kind, Err: err}
	}

	if statusCode != 0 {
		switch {
		case statusCode == http.StatusTooManyRequests:
			return failed("rate_limited")
		case statusCode == http.StatusForbidden:
			return failed("forbidden")
		case statusCode == http.StatusRequestTimeout:
			return failed("timeout")
		case statusCode >= http.StatusInternalServerError:
			return failed("server")
		case statusCode == http.StatusNotFound:
			return &FetchRejectedError{Source: source, URL: url, StatusCode: statusCode, Kind: "not_found", Err: err}
		case statusCode >= http.StatusBadRequest:
			return &FetchRejectedError{Source: source, URL: url, StatusCode: statusCode, Kind: "client", Err: err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return failed("timeout")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failed("timeout")
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return failed("connection")
	}
	if errors.Is(err, colly.ErrForbiddenDomain) || errors.Is(err, colly.ErrMissingURL) {
		return &FetchRejectedError{Source: source, URL: url, Kind: "invalid_request", Err: err}
	}
	return failed("other")
}
