package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzwager/backend/internal/config"
	"github.com/blitzwager/backend/internal/middleware"
	"github.com/blitzwager/backend/internal/testutil"
)

func authRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", middleware.AuthRequired(cfg), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"player_id":   c.GetInt("player_id"),
			"identity_id": c.GetString("identity_id"),
		})
	})
	return r
}

func TestTokenRoundTrip(t *testing.T) {
	cfg := testutil.Config()
	token, err := middleware.GenerateToken(cfg, 42, "identity-42")
	require.NoError(t, err)

	claims, err := middleware.ParseToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, 42, claims.PlayerID)
	assert.Equal(t, "identity-42", claims.IdentityID)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	cfg := testutil.Config()
	token, err := middleware.GenerateToken(cfg, 42, "identity-42")
	require.NoError(t, err)

	other := testutil.Config()
	other.JWTSecret = "a-different-secret"
	_, err = middleware.ParseToken(other, token)
	assert.ErrorIs(t, err, middleware.ErrInvalidToken)
}

func TestParseRejectsGarbage(t *testing.T) {
	cfg := testutil.Config()
	_, err := middleware.ParseToken(cfg, "not.a.jwt")
	assert.ErrorIs(t, err, middleware.ErrInvalidToken)
}

func TestAuthRequiredAcceptsBearerHeader(t *testing.T) {
	cfg := testutil.Config()
	token, err := middleware.GenerateToken(cfg, 7, "identity-7")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	authRouter(cfg).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"player_id":7`)
}

func TestAuthRequiredAcceptsQueryToken(t *testing.T) {
	cfg := testutil.Config()
	token, err := middleware.GenerateToken(cfg, 7, "identity-7")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me?token="+token, nil)
	authRouter(cfg).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequiredRejectsMissingToken(t *testing.T) {
	cfg := testutil.Config()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	authRouter(cfg).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRequiredRejectsBadToken(t *testing.T) {
	cfg := testutil.Config()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	authRouter(cfg).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
