package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/dropwatch/internal/domain"
	"go.uber.org/zap"
)

func signToken(t *testing.T, key *rsa.PrivateKey, scopes map[string]bool, exp time.Time) string {
	t.Helper()
	claims := domain.OperatorClaims{
		UserID: "op-1",
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func newServer(t *testing.T) (*rsa.PrivateKey, http.Handler) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, found := ClaimsFromContext(r.Context())
		require.True(t, found)
		w.Header().Set("X-User", c.UserID)
		w.WriteHeader(http.StatusNoContent)
	})
	mw := NewMiddleware(NewBaseValidator(&key.PublicKey), zap.NewNop())
	return key, mw(RequireScope(domain.ScopeRulesWrite)(ok))
}

func TestMiddleware(t *testing.T) {
	key, h := newServer(t)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	cases := map[string]struct {
		header string
		code   int
	}{
		"missing header": {"", http.StatusUnauthorized},
		"garbage":        {"Bearer nope", http.StatusUnauthorized},
		"expired":        {"Bearer " + signToken(t, key, map[string]bool{domain.ScopeRulesWrite: true}, time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		"foreign key":    {"Bearer " + signToken(t, other, map[string]bool{domain.ScopeRulesWrite: true}, time.Now().Add(time.Hour)), http.StatusUnauthorized},
		"no scope":       {"Bearer " + signToken(t, key, map[string]bool{domain.ScopeMonitorsWrite: true}, time.Now().Add(time.Hour)), http.StatusForbidden},
		"scoped":         {"Bearer " + signToken(t, key, map[string]bool{domain.ScopeRulesWrite: true}, time.Now().Add(time.Hour)), http.StatusNoContent},
		"admin":          {"Bearer " + signToken(t, key, map[string]bool{domain.ScopeAdmin: true}, time.Now().Add(time.Hour)), http.StatusNoContent},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/rules", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestRequireScopeWithoutAuth(t *testing.T) {
	h := RequireScope(domain.ScopeAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParseRSAPublicKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	pub, err := ParseRSAPublicKey(pemBytes)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(pub))

	// Ключ из PEM проверяет токены, подписанные парным приватным ключом
	claims, err := NewBaseValidator(pub).VerifyToken(signToken(t, key, nil, time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "op-1", claims.UserID)

	_, err = ParseRSAPublicKey(nil)
	assert.Error(t, err)
	_, err = ParseRSAPublicKey([]byte("not a pem"))
	assert.Error(t, err)
}
