package tokenclock_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/stocksim/internal/apperrors"
	"github.com/nkiryanov/stocksim/internal/testutil"
	"github.com/nkiryanov/stocksim/internal/tokenclock"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

func TestDecode(t *testing.T) {
	t.Run("claims", func(t *testing.T) {
		expiresAt := mustParseTime("2030-01-01 12:00:00Z")
		token := testutil.MintToken(t, testutil.TokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "42",
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			UserID:       42,
			Username:     "abebe",
			Role:         "trader",
			TokenVersion: 3,
		})

		claims, err := tokenclock.Decode(token)

		require.NoError(t, err)
		require.Equal(t, "42", claims.Subject)
		require.Equal(t, int64(42), claims.UserID)
		require.Equal(t, "abebe", claims.Username)
		require.Equal(t, "trader", claims.Role)
		require.Equal(t, 3, claims.TokenVersion)
		require.True(t, claims.HasExpiry)
		require.WithinDuration(t, expiresAt, claims.ExpiresAt, 0)
	})

	t.Run("signature not verified", func(t *testing.T) {
		token := testutil.MintTokenWithKey(t, "some-other-key", testutil.TokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
			Username:         "abebe",
		})

		claims, err := tokenclock.Decode(token)

		require.NoError(t, err, "client has no key and must trust claims as is")
		require.Equal(t, "abebe", claims.Username)
	})

	t.Run("no expiry", func(t *testing.T) {
		token := testutil.MintToken(t, testutil.TokenClaims{Username: "abebe"})

		claims, err := tokenclock.Decode(token)

		require.NoError(t, err)
		require.False(t, claims.HasExpiry)
	})

	t.Run("malformed", func(t *testing.T) {
		tests := []struct {
			name  string
			token string
		}{
			{"empty", ""},
			{"not a jwt", "invalid token"},
			{"two segments", "aGVhZGVy.cGF5bG9hZA"},
			{"payload not json", "eyJhbGciOiJIUzI1NiJ9.bm90LWpzb24.c2ln"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := tokenclock.Decode(tt.token)

				require.Error(t, err)
				require.ErrorIs(t, err, apperrors.ErrMalformedToken)
			})
		}
	})
}

func TestExpired(t *testing.T) {
	now := mustParseTime("2025-06-01 10:00:00Z")

	tests := []struct {
		name     string
		token    string
		expected bool
	}{
		{"future", testutil.MintExpiringToken(t, now.Add(time.Second)), false},
		{"exactly now", testutil.MintExpiringToken(t, now), true},
		{"past", testutil.MintExpiringToken(t, now.Add(-time.Hour)), true},
		{"no expiry", testutil.MintToken(t, testutil.TokenClaims{}), true},
		{"malformed", "garbage", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tokenclock.Expired(tt.token, now))
		})
	}
}
