package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCode is returned when the callback carried no authorization code.
	ErrMissingCode = errors.New("tiktok: authorization code is empty")

	// ErrMissingRefreshToken is returned by Refresh without a network call.
	ErrMissingRefreshToken = errors.New("tiktok: refresh token is empty")

	// ErrMalformedResponse wraps bodies that could not be decoded or lack
	// required fields. It is the only provider failure treated as unexpected.
	ErrMalformedResponse = errors.New("tiktok: malformed response")
)

// TransportError reports a network failure or a non-2xx HTTP status from the
// provider.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tiktok: %s request failed with status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("tiktok: %s request failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProviderError is an error object reported by TikTok inside a 2xx body.
type ProviderError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return "tiktok: provider error " + e.Code
	}
	return fmt.Sprintf("tiktok: provider error %s: %s", e.Code, e.Message)
}

// isSuccess reports whether the object is TikTok's success marker rather
// than an actual error. The user info endpoint always sends an error object
// and uses code "ok" on success.
func (e *ProviderError) isSuccess() bool {
	return e == nil || e.Code == "" || e.Code == "ok"
}

// AsProviderError unwraps err into a *ProviderError.
func AsProviderError(err error) (*ProviderError, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}
