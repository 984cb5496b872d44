package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// ErrAuth marks failures caused by missing or rejected credentials.
var ErrAuth = errors.New("authentication failed")

// FetchError reports a page that could not be fetched within the retry budget.
type FetchError struct {
	Page       int
	Rounds     int
	MessageIDs []string
	Err        error
}

func (e *FetchError) Error() string {
	if len(e.MessageIDs) > 0 {
		return fmt.Sprintf("fetching page %d failed after %d retry rounds (%d messages pending: %s): %v",
			e.Page, e.Rounds, len(e.MessageIDs), strings.Join(e.MessageIDs, ","), e.Err)
	}
	return fmt.Sprintf("fetching page %d failed after %d retry rounds: %v", e.Page, e.Rounds, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type authError struct {
	err error
}

func (e *authError) Error() string { return fmt.Sprintf("%s: %v", ErrAuth, e.err) }

func (e *authError) Unwrap() []error { return []error{ErrAuth, e.err} }

var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
}

func isAuth(err error) bool {
	if errors.Is(err, ErrAuth) {
		return true
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return true
	}

	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// isTransient reports whether err is worth another round. Errors that did not come back as an
// HTTP response (connection resets, timeouts) are treated as transient.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if isAuth(err) {
		return false
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return true
	}

	switch apiErr.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	case http.StatusForbidden:
		for _, item := range apiErr.Errors {
			if rateLimitReasons[item.Reason] {
				return true
			}
		}
	}

	return false
}

// classify turns a non-transient error into the error returned to callers.
func classify(err error) error {
	if isAuth(err) && !errors.Is(err, ErrAuth) {
		return &authError{err: err}
	}
	return err
}
