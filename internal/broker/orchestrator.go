package broker

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/purdue-af/tiktok-auth-broker/internal/auth"
	"github.com/purdue-af/tiktok-auth-broker/internal/logging"
	"github.com/purdue-af/tiktok-auth-broker/internal/session"
	"github.com/purdue-af/tiktok-auth-broker/internal/types"
)

// maxRefreshes bounds the refresh-then-retry path of Me.
const maxRefreshes = 1

// Outcome is the terminal state of a profile lookup.
type Outcome int

const (
	// Authenticated: the profile was fetched.
	Authenticated Outcome = iota
	// Unauthenticated: no session, or the refresh failed. The user must log
	// in again.
	Unauthenticated
	// ProviderRejected: the retry after a refresh still got an error object
	// from TikTok.
	ProviderRejected
	// Failed: transport failure after the retry, an unexpected response, or
	// a request cancelled by the client.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	case ProviderRejected:
		return "provider_error"
	default:
		return "failed"
	}
}

// HTTPStatus maps the outcome onto the /me response status.
func (o Outcome) HTTPStatus() int {
	switch o {
	case Authenticated:
		return http.StatusOK
	case Unauthenticated:
		return http.StatusUnauthorized
	case ProviderRejected:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// MeResult is what Me resolved to. Err is for logs only and must not be
// sent to the browser.
type MeResult struct {
	Outcome       Outcome
	Profile       *types.UserProfile
	ProviderError *auth.ProviderError
	Err           error

	// Refreshed reports whether a refresh was attempted.
	Refreshed bool
}

// Me returns the profile of the session owner.
//
// A failed fetch triggers at most one refresh followed by one retry. Refresh
// failures end as Unauthenticated; a failed retry ends as ProviderRejected
// when TikTok sent an error object and Failed otherwise. Malformed responses
// and cancelled requests end as Failed immediately, without a refresh.
func (s *Service) Me(c *gin.Context) MeResult {
	ctx := c.Request.Context()

	accessToken, ok := s.store.ReadAccess(c)
	if !ok {
		return s.finish(c, MeResult{Outcome: Unauthenticated, Err: session.ErrNoSession})
	}

	refreshes := 0
	for {
		profile, err := s.provider.FetchProfile(ctx, accessToken)
		if err == nil {
			return s.finish(c, MeResult{Outcome: Authenticated, Profile: profile, Refreshed: refreshes > 0})
		}

		if errors.Is(err, auth.ErrMalformedResponse) {
			return s.finish(c, MeResult{Outcome: Failed, Refreshed: refreshes > 0, Err: err})
		}

		// The browser went away. Refreshing now would spend the refresh token
		// on a response nobody reads.
		if ctx.Err() != nil {
			return s.finish(c, MeResult{Outcome: Failed, Refreshed: refreshes > 0, Err: err})
		}

		if refreshes >= maxRefreshes {
			if perr, ok := auth.AsProviderError(err); ok {
				return s.finish(c, MeResult{Outcome: ProviderRejected, ProviderError: perr, Refreshed: true, Err: err})
			}
			return s.finish(c, MeResult{Outcome: Failed, Refreshed: true, Err: err})
		}

		logging.Infow(ctx, "broker: profile fetch failed, refreshing session", "reason", failureReason(err))
		refreshes++

		pair, rerr := s.Refresh(c)
		if rerr != nil {
			return s.finish(c, MeResult{Outcome: Unauthenticated, Refreshed: true, Err: rerr})
		}
		accessToken = pair.AccessToken
	}
}

func (s *Service) finish(c *gin.Context, res MeResult) MeResult {
	s.metrics.ObserveOutcome(res.Outcome.String())

	fields := []interface{}{"outcome", res.Outcome.String(), "refreshed", res.Refreshed}
	if res.Err != nil {
		fields = append(fields, "reason", failureReason(res.Err))
	}
	if res.ProviderError != nil {
		fields = append(fields, "code", res.ProviderError.Code, "log_id", res.ProviderError.LogID)
	}

	ctx := c.Request.Context()
	switch res.Outcome {
	case Failed:
		logging.Errorw(ctx, "broker: profile lookup failed", fields...)
	case ProviderRejected:
		logging.Warnw(ctx, "broker: profile lookup rejected", fields...)
	default:
		logging.Infow(ctx, "broker: profile lookup finished", fields...)
	}
	return res
}

// failureReason classifies err for logs without including provider bodies.
func failureReason(err error) string {
	var terr *auth.TransportError
	switch {
	case errors.Is(err, session.ErrNoSession):
		return "no_session"
	case errors.Is(err, auth.ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &terr):
		if terr.StatusCode != 0 {
			return "http_" + strconv.Itoa(terr.StatusCode)
		}
		return "transport"
	}
	if perr, ok := auth.AsProviderError(err); ok {
		return "provider_" + perr.Code
	}
	return "unexpected"
}
