package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aethra/domus/internal/config"
	"github.com/aethra/domus/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *JWTService {
	return NewJWTService(config.AuthConfig{
		JWTSecret:     "test-secret",
		Issuer:        "domus-test",
		AccessExpiry:  time.Hour,
		RefreshExpiry: 24 * time.Hour,
	})
}

func TestTokenPairRoundTrip(t *testing.T) {
	svc := newTestService()
	pair, err := svc.GenerateTokenPair(Subject{ID: "CLT-2026-0001", Email: "ana@example.com", Role: models.RoleTenant})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)

	claims, err := svc.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "CLT-2026-0001", claims.SubjectID)
	assert.Equal(t, models.RoleTenant, claims.Role)
	assert.NotEmpty(t, claims.ID)

	_, err = svc.ValidateAccessToken(pair.RefreshToken)
	assert.Error(t, err, "refresh token used as access token")

	refresh, err := svc.ValidateRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, TokenRefresh, refresh.TokenType)

	_, err = svc.ValidateRefreshToken(pair.AccessToken)
	assert.Error(t, err)
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := newTestService()
	pair, err := svc.GenerateTokenPair(Subject{ID: "ADM-001", Role: models.RoleAdmin})
	require.NoError(t, err)

	other := NewJWTService(config.AuthConfig{JWTSecret: "another-secret", Issuer: "domus-test"})
	_, err = other.ValidateToken(pair.AccessToken)
	assert.Error(t, err, "wrong secret")

	foreign := NewJWTService(config.AuthConfig{JWTSecret: "test-secret", Issuer: "someone-else"})
	_, err = foreign.ValidateToken(pair.AccessToken)
	assert.Error(t, err, "wrong issuer")

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.ValidateAccessToken(pair.AccessToken)
	assert.Error(t, err, "expired")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{SubjectID: "ADM-001", Role: models.RoleAdmin, TokenType: TokenAccess})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = newTestService().ValidateToken(unsigned)
	assert.Error(t, err, "alg none")
}

func TestPasswords(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword("correct horse", hash))
	assert.False(t, CheckPassword("wrong horse", hash))
	assert.False(t, CheckPassword("anything", ""))
}

func TestCan(t *testing.T) {
	assert.True(t, Can(models.RoleAdmin, ResourceSettings, ActionEdit))
	assert.True(t, Can(models.RoleAdmin, ResourceBuildings, ActionDelete))

	assert.True(t, Can(models.RoleManager, ResourceApplications, ActionEdit))
	assert.True(t, Can(models.RoleManager, ResourcePayments, ActionExport))
	assert.False(t, Can(models.RoleManager, ResourceBuildings, ActionDelete))
	assert.False(t, Can(models.RoleManager, ResourceSettings, ActionView))
	assert.False(t, Can(models.RoleManager, ResourceBuildings, ActionImport))

	assert.False(t, Can(models.RoleTenant, ResourceBuildings, ActionView))
	assert.False(t, Can("", ResourceDashboard, ActionView))

	assert.Len(t, Permissions(models.RoleAdmin, ResourceLeases), 6)
	assert.Equal(t, []Action{ActionView, ActionCreate, ActionEdit, ActionExport}, Permissions(models.RoleManager, ResourceLeases))
	assert.True(t, IsStaff(models.RoleManager))
	assert.False(t, IsStaff(models.RoleTenant))
}

func TestMemoryRevoker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewMemoryRevoker()
	r.now = func() time.Time { return now }

	require.NoError(t, r.Revoke(ctx, "jti-1", time.Minute))
	require.NoError(t, r.Revoke(ctx, "jti-expired", 0))

	revoked, err := r.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, _ = r.IsRevoked(ctx, "jti-expired")
	assert.False(t, revoked)

	now = now.Add(2 * time.Minute)
	revoked, _ = r.IsRevoked(ctx, "jti-1")
	assert.False(t, revoked)
}

func TestMemoryRevokerConsume(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewMemoryRevoker()
	r.now = func() time.Time { return now }

	ok, err := r.Consume(ctx, "jti-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.Consume(ctx, "jti-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a token is consumed once")

	revoked, _ := r.IsRevoked(ctx, "jti-1")
	assert.True(t, revoked)

	ok, _ = r.Consume(ctx, "jti-expired", 0)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = r.Consume(ctx, "jti-1", time.Minute)
	assert.True(t, ok, "expired entries are forgotten")
}

func TestMemoryRevokerConsumeConcurrently(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRevoker()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := r.Consume(ctx, "jti-race", time.Minute)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
