package marketplace

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrRateLimited matches any error caused by a 429 response.
var ErrRateLimited = errors.New("marketplace: too many requests")

// ErrLoginFailed is returned by a session that already failed to log in.
var ErrLoginFailed = errors.New("marketplace: login failed")

const maxErrorBody = 512

// APIError is a non-success response from the marketplace API.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	if e.RateLimited() {
		return fmt.Sprintf("marketplace api error %d: too many requests, try again later", e.StatusCode)
	}
	return fmt.Sprintf("marketplace api error %d: %s", e.StatusCode, body)
}

// RateLimited reports whether the API answered 429.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Is makes errors.Is(err, ErrRateLimited) match rate-limited responses.
func (e *APIError) Is(target error) bool {
	return target == ErrRateLimited && e.RateLimited()
}

// LoginError reports a rejected or malformed login exchange. It is not retryable.
type LoginError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *LoginError) Error() string {
	msg := "marketplace login failed"
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoginError) Unwrap() error {
	return e.Err
}

// Is makes every LoginError match ErrLoginFailed.
func (e *LoginError) Is(target error) bool {
	return target == ErrLoginFailed
}

// PollingError reports that the emailed login link was not confirmed in time.
type PollingError struct {
	Attempts int
	Waited   time.Duration
}

func (e *PollingError) Error() string {
	return fmt.Sprintf("max retries (%d seconds) reached, try again", int(e.Waited.Seconds()))
}

// Is makes every PollingError match ErrLoginFailed.
func (e *PollingError) Is(target error) bool {
	return target == ErrLoginFailed
}

// IsRateLimited reports whether err was caused by a 429 response.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
