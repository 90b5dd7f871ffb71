package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/purdue-af/tiktok-auth-broker/internal/logging"
	"github.com/purdue-af/tiktok-auth-broker/internal/session"
	"github.com/purdue-af/tiktok-auth-broker/internal/types"
)

// Refresh trades the stored refresh token for a new pair and overwrites both
// cookies with it. Without a refresh cookie it fails with
// session.ErrNoSession and makes no network call. It never retries.
func (s *Service) Refresh(c *gin.Context) (*types.TokenPair, error) {
	ctx := c.Request.Context()

	refreshToken, ok := s.store.ReadRefresh(c)
	if !ok {
		return nil, session.ErrNoSession
	}

	pair, err := s.refreshShared(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	if err := s.store.Write(c, pair); err != nil {
		return nil, fmt.Errorf("failed to store refreshed session: %w", err)
	}

	logging.Infow(ctx, "broker: session refreshed", "access_max_age", pair.AccessMaxAge())
	return pair, nil
}

// refreshShared coalesces concurrent refreshes of the same token inside this
// process, so a rotating refresh token is only spent once. Each caller still
// writes its own cookies.
func (s *Service) refreshShared(ctx context.Context, refreshToken string) (*types.TokenPair, error) {
	sum := sha256.Sum256([]byte(refreshToken))
	key := hex.EncodeToString(sum[:])

	// Detached from the caller's cancellation: other requests may be waiting
	// on this call. The provider client timeout still bounds it.
	shared := context.WithoutCancel(ctx)

	v, err, wasShared := s.refreshes.Do(key, func() (interface{}, error) {
		return s.provider.Refresh(shared, refreshToken)
	})
	if wasShared {
		logging.Debugw(ctx, "broker: joined in-flight refresh")
	}
	if err != nil {
		return nil, err
	}
	return v.(*types.TokenPair), nil
}
