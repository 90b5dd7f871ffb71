package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purdue-af/tiktok-auth-broker/internal/auth"
	"github.com/purdue-af/tiktok-auth-broker/internal/metrics"
	"github.com/purdue-af/tiktok-auth-broker/internal/session"
	"github.com/purdue-af/tiktok-auth-broker/internal/tiktoktest"
	"github.com/purdue-af/tiktok-auth-broker/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// browser replays Set-Cookie headers the way a cookie jar would.
type browser struct {
	cookies map[string]*http.Cookie
}

func newBrowser(cookies ...*http.Cookie) *browser {
	b := &browser{cookies: make(map[string]*http.Cookie)}
	for _, c := range cookies {
		b.cookies[c.Name] = c
	}
	return b
}

func (b *browser) context() (*gin.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/me", nil)
	for _, cookie := range b.cookies {
		c.Request.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	return c, rec
}

func (b *browser) absorb(rec *httptest.ResponseRecorder) {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.MaxAge < 0 || cookie.Value == "" {
			delete(b.cookies, cookie.Name)
			continue
		}
		b.cookies[cookie.Name] = cookie
	}
}

func (b *browser) value(name string) string {
	if c, ok := b.cookies[name]; ok {
		return c.Value
	}
	return ""
}

func newFakeService(t *testing.T) (*Service, *tiktoktest.Server, *metrics.Metrics) {
	t.Helper()
	srv := tiktoktest.NewServer()
	t.Cleanup(srv.Close)

	provider := auth.NewTikTokProvider(auth.TikTokConfig{
		ClientKey:    tiktoktest.ClientKey,
		ClientSecret: tiktoktest.ClientSecret,
		RedirectURI:  tiktoktest.RedirectURI,
		Scopes:       []string{"user.info.basic"},
		AuthorizeURL: tiktoktest.AuthorizeURL,
		TokenURL:     srv.TokenURL(),
		UserInfoURL:  srv.UserInfoURL(),
	})

	m := metrics.New(nil)
	store := session.NewCookieStore(false)
	svc := NewService(provider, store,
		WithMetrics(m),
		WithStateVerification(auth.NewStateSigner(tiktoktest.ClientSecret, time.Minute), store),
	)
	return svc, srv, m
}

// funcProvider lets a test script individual provider answers.
type funcProvider struct {
	fetch   func(token string) (*types.UserProfile, error)
	refresh func(refreshToken string) (*types.TokenPair, error)

	fetchCalls   int32
	refreshCalls int32
}

func (p *funcProvider) AuthURL(state string) (string, error) {
	return "https://example.test/authorize?state=" + url.QueryEscape(state), nil
}

func (p *funcProvider) Exchange(ctx context.Context, code string) (*types.TokenPair, error) {
	return nil, fmt.Errorf("unexpected exchange")
}

func (p *funcProvider) Refresh(ctx context.Context, refreshToken string) (*types.TokenPair, error) {
	atomic.AddInt32(&p.refreshCalls, 1)
	return p.refresh(refreshToken)
}

func (p *funcProvider) FetchProfile(ctx context.Context, accessToken string) (*types.UserProfile, error) {
	atomic.AddInt32(&p.fetchCalls, 1)
	return p.fetch(accessToken)
}

func TestService_CompleteLogin(t *testing.T) {
	svc, srv, _ := newFakeService(t)
	srv.AddCode("abc123", types.TokenPair{
		AccessToken:      "AT1",
		RefreshToken:     "RT1",
		AccessExpiresIn:  86400,
		RefreshExpiresIn: 31536000,
	})

	b := newBrowser()
	c, rec := b.context()
	require.NoError(t, svc.CompleteLogin(c, "abc123"))
	b.absorb(rec)

	assert.Equal(t, "AT1", b.value(session.AccessCookie))
	assert.Equal(t, "RT1", b.value(session.RefreshCookie))
	assert.Equal(t, 86400, b.cookies[session.AccessCookie].MaxAge)
	assert.Equal(t, 31536000, b.cookies[session.RefreshCookie].MaxAge)

	// The code is spent.
	c, rec = newBrowser().context()
	assert.Error(t, svc.CompleteLogin(c, "abc123"))
	assert.Empty(t, rec.Result().Cookies())
}

func TestService_MeNoSession(t *testing.T) {
	svc, srv, m := newFakeService(t)

	c, _ := newBrowser(&http.Cookie{Name: session.RefreshCookie, Value: "RT1"}).context()
	res := svc.Me(c)

	assert.Equal(t, Unauthenticated, res.Outcome)
	assert.Equal(t, http.StatusUnauthorized, res.Outcome.HTTPStatus())
	assert.ErrorIs(t, res.Err, session.ErrNoSession)
	assert.Zero(t, srv.TotalCalls())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MeOutcomes.WithLabelValues("unauthenticated")))
}

func TestService_MeValidSessionNeverRefreshes(t *testing.T) {
	svc, srv, _ := newFakeService(t)
	srv.AddProfile("AT1", types.UserProfile{OpenID: "u1"})
	b := newBrowser(
		&http.Cookie{Name: session.AccessCookie, Value: "AT1"},
		&http.Cookie{Name: session.RefreshCookie, Value: "RT1"},
	)

	for i := 0; i < 3; i++ {
		c, rec := b.context()
		res := svc.Me(c)

		require.Equal(t, Authenticated, res.Outcome)
		assert.Equal(t, "u1", res.Profile.OpenID)
		assert.False(t, res.Refreshed)
		assert.Empty(t, rec.Result().Cookies())
	}

	assert.Equal(t, 3, srv.ProfileCalls())
	assert.Zero(t, srv.RefreshCalls())
}

func TestService_MeRefreshesExpiredToken(t *testing.T) {
	svc, srv, _ := newFakeService(t)
	srv.AddRefreshToken("RT1", types.TokenPair{AccessToken: "AT2", RefreshToken: "RT2"})
	srv.AddProfile("AT2", types.UserProfile{OpenID: "u1", FollowerCount: 500})

	b := newBrowser(
		&http.Cookie{Name: session.AccessCookie, Value: "expired"},
		&http.Cookie{Name: session.RefreshCookie, Value: "RT1"},
	)
	c, rec := b.context()
	res := svc.Me(c)
	b.absorb(rec)

	require.Equal(t, Authenticated, res.Outcome)
	assert.True(t, res.Refreshed)
	assert.Equal(t, "u1", res.Profile.OpenID)
	assert.EqualValues(t, 500, res.Profile.FollowerCount)

	assert.Equal(t, "AT2", b.value(session.AccessCookie))
	assert.Equal(t, "RT2", b.value(session.RefreshCookie))
	assert.Equal(t, 2, srv.ProfileCalls())
	assert.Equal(t, 1, srv.RefreshCalls())
}

func TestService_MeSingleRetryBound(t *testing.T) {
	tests := []struct {
		name     string
		fetchErr error
		want     Outcome
		wantPerr bool
	}{
		{
			name:     "transport failure",
			fetchErr: &auth.TransportError{Op: metrics.OpProfile, StatusCode: http.StatusUnauthorized},
			want:     Failed,
		},
		{
			name:     "provider error",
			fetchErr: &auth.ProviderError{Code: "access_token_invalid", Message: "invalid", LogID: "L1"},
			want:     ProviderRejected,
			wantPerr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &funcProvider{
				fetch: func(string) (*types.UserProfile, error) { return nil, tt.fetchErr },
				refresh: func(string) (*types.TokenPair, error) {
					return &types.TokenPair{AccessToken: "AT-new", RefreshToken: "RT-new"}, nil
				},
			}
			svc := NewService(provider, session.NewCookieStore(false))

			c, _ := newBrowser(
				&http.Cookie{Name: session.AccessCookie, Value: "AT1"},
				&http.Cookie{Name: session.RefreshCookie, Value: "RT1"},
			).context()
			res := svc.Me(c)

			assert.Equal(t, tt.want, res.Outcome)
			assert.True(t, res.Refreshed)
			assert.Equal(t, tt.wantPerr, res.ProviderError != nil)
			assert.EqualValues(t, 2, atomic.LoadInt32(&provider.fetchCalls))
			assert.EqualValues(t, 1, atomic.LoadInt32(&provider.refreshCalls))
		})
	}
}

func TestService_MeRetryStatuses(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, Failed.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, ProviderRejected.HTTPStatus())
	assert.Equal(t, http.StatusOK, Authenticated.HTTPStatus())
}

func TestService_MeRefreshFails(t *testing.T) {
	t.Run("no refresh cookie", func(t *testing.T) {
		svc, srv, _ := newFakeService(t)

		c, _ := newBrowser(&http.Cookie{Name: session.AccessCookie, Value: "expired"}).context()
		res := svc.Me(c)

		assert.Equal(t, Unauthenticated, res.Outcome)
		assert.ErrorIs(t, res.Err, session.ErrNoSession)
		assert.True(t, res.Refreshed)
		assert.Equal(t, 1, srv.ProfileCalls())
		assert.Zero(t, srv.RefreshCalls())
	})

	t.Run("refresh rejected", func(t *testing.T) {
		svc, srv, _ := newFakeService(t)

		b := newBrowser(
			&http.Cookie{Name: session.AccessCookie, Value: "expired"},
			&http.Cookie{Name: session.RefreshCookie, Value: "revoked"},
		)
		c, rec := b.context()
		res := svc.Me(c)

		assert.Equal(t, Unauthenticated, res.Outcome)
		assert.True(t, res.Refreshed)
		assert.Equal(t, 1, srv.ProfileCalls())
		assert.Equal(t, 1, srv.RefreshCalls())
		assert.Empty(t, rec.Result().Cookies())
	})
}

func TestService_MeMalformedIsUnexpected(t *testing.T) {
	provider := &funcProvider{
		fetch: func(string) (*types.UserProfile, error) {
			return nil, fmt.Errorf("%w: user info: bad json", auth.ErrMalformedResponse)
		},
	}
	svc := NewService(provider, session.NewCookieStore(false))

	c, _ := newBrowser(
		&http.Cookie{Name: session.AccessCookie, Value: "AT1"},
		&http.Cookie{Name: session.RefreshCookie, Value: "RT1"},
	).context()
	res := svc.Me(c)

	assert.Equal(t, Failed, res.Outcome)
	assert.False(t, res.Refreshed)
	assert.Zero(t, atomic.LoadInt32(&provider.refreshCalls))
}

func TestService_MeCancelledRequestKeepsSession(t *testing.T) {
	svc, srv, m := newFakeService(t)
	srv.AddProfile("AT1", types.UserProfile{OpenID: "u1"})
	srv.AddRefreshToken("RT1", types.TokenPair{AccessToken: "AT2", RefreshToken: "RT2"})

	b := newBrowser(
		&http.Cookie{Name: session.AccessCookie, Value: "AT1"},
		&http.Cookie{Name: session.RefreshCookie, Value: "RT1"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c, rec := b.context()
	c.Request = c.Request.WithContext(ctx)

	res := svc.Me(c)

	assert.Equal(t, Failed, res.Outcome)
	assert.False(t, res.Refreshed)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Zero(t, srv.RefreshCalls())
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, "canceled", failureReason(res.Err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MeOutcomes.WithLabelValues("failed")))

	// The same cookies still work on the next request.
	c, _ = b.context()
	res = svc.Me(c)
	require.Equal(t, Authenticated, res.Outcome)
	assert.False(t, res.Refreshed)
	assert.Zero(t, srv.RefreshCalls())
}

func TestService_LogoutThenMe(t *testing.T) {
	svc, srv, _ := newFakeService(t)
	b := newBrowser(
		&http.Cookie{Name: session.AccessCookie, Value: "AT1"},
		&http.Cookie{Name: session.RefreshCookie, Value: "RT1"},
	)

	c, rec := b.context()
	svc.Logout(c)
	b.absorb(rec)
	assert.Empty(t, b.cookies)

	c, _ = b.context()
	res := svc.Me(c)
	assert.Equal(t, Unauthenticated, res.Outcome)
	assert.Zero(t, srv.TotalCalls())
}

func TestService_LoginURLAndVerifyState(t *testing.T) {
	svc, _, _ := newFakeService(t)

	b := newBrowser()
	c, rec := b.context()
	raw, err := svc.LoginURL(c, "")
	require.NoError(t, err)
	b.absorb(rec)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	require.NotEmpty(t, b.value(session.StateCookie))

	t.Run("mismatch", func(t *testing.T) {
		c, _ := b.context()
		assert.ErrorIs(t, svc.VerifyState(c, "forged"), auth.ErrStateMismatch)
	})

	t.Run("missing", func(t *testing.T) {
		c, _ := b.context()
		assert.ErrorIs(t, svc.VerifyState(c, ""), ErrStateRequired)
	})

	t.Run("no cookie", func(t *testing.T) {
		c, _ := newBrowser().context()
		assert.ErrorIs(t, svc.VerifyState(c, state), auth.ErrStateInvalid)
	})

	t.Run("match consumes cookie", func(t *testing.T) {
		c, rec := b.context()
		require.NoError(t, svc.VerifyState(c, state))
		assert.Contains(t, rec.Header().Get("Set-Cookie"), session.StateCookie+"=;")
	})
}

func TestService_VerifyStateDisabled(t *testing.T) {
	provider := &funcProvider{}
	svc := NewService(provider, session.NewCookieStore(false))

	c, rec := newBrowser().context()
	raw, err := svc.LoginURL(c, "mystate")
	require.NoError(t, err)
	assert.Contains(t, raw, "state=mystate")
	assert.Empty(t, rec.Result().Cookies())

	c, _ = newBrowser().context()
	assert.NoError(t, svc.VerifyState(c, "anything"))
}

func TestService_ConcurrentRefreshSharesProviderCall(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	provider := &funcProvider{
		refresh: func(string) (*types.TokenPair, error) {
			once.Do(func() { close(entered) })
			<-release
			return &types.TokenPair{AccessToken: "AT2", RefreshToken: "RT2"}, nil
		},
	}
	svc := NewService(provider, session.NewCookieStore(false))
	b := newBrowser(&http.Cookie{Name: session.RefreshCookie, Value: "RT1"})

	var wg sync.WaitGroup
	recs := make([]*httptest.ResponseRecorder, 2)
	errs := make([]error, 2)
	for i := range recs {
		c, rec := b.context()
		recs[i] = rec
		wg.Add(1)
		go func(i int, c *gin.Context) {
			defer wg.Done()
			_, errs[i] = svc.Refresh(c)
		}(i, c)
		if i == 0 {
			<-entered
		}
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&provider.refreshCalls))
	for i, rec := range recs {
		require.NoError(t, errs[i])
		jar := newBrowser()
		jar.absorb(rec)
		assert.Equal(t, "AT2", jar.value(session.AccessCookie))
		assert.Equal(t, "RT2", jar.value(session.RefreshCookie))
	}
}
