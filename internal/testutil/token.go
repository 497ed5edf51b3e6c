package testutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// Key the fake backend signs tokens with
const TokenSecret = "stocksim-test-secret"

// Claims shaped the same way the backend issues them
type TokenClaims struct {
	jwt.RegisteredClaims
	UserID       int64  `json:"user_id,omitempty"`
	Username     string `json:"username,omitempty"`
	Role         string `json:"role,omitempty"`
	TokenVersion int    `json:"token_version,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

func MintToken(t testing.TB, claims TokenClaims) string {
	t.Helper()
	return MintTokenWithKey(t, TokenSecret, claims)
}

func MintTokenWithKey(t testing.TB, key string, claims TokenClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err, "failed to sign test token")
	return token
}

// Access token of a trader expiring at expiresAt
func MintExpiringToken(t testing.TB, expiresAt time.Time) string {
	t.Helper()

	return MintToken(t, TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:    1,
		Username:  "trader",
		Role:      "trader",
		TokenType: "access",
	})
}
