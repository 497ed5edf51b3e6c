package tokenclock

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nkiryanov/stocksim/internal/apperrors"
	"github.com/nkiryanov/stocksim/internal/models"
)

// Claims the backend puts into access token
type accessClaims struct {
	jwt.RegisteredClaims
	RawUserID    any    `json:"user_id"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	TokenVersion int    `json:"token_version"`
}

var parser = jwt.NewParser()

// Decode extracts claims from access token
//
// The signature is NOT verified: the client has no key and trusts the claims at face value.
// Any token that can't be parsed as JWT returns apperrors.ErrMalformedToken.
func Decode(token string) (models.Claims, error) {
	var claims accessClaims

	_, _, err := parser.ParseUnverified(token, &claims)
	if err != nil {
		return models.Claims{}, fmt.Errorf("%w: %w", apperrors.ErrMalformedToken, err)
	}

	c := models.Claims{
		Subject:      claims.Subject,
		UserID:       userID(claims.RawUserID),
		Username:     claims.Username,
		Role:         claims.Role,
		TokenVersion: claims.TokenVersion,
	}
	if claims.ExpiresAt != nil {
		c.ExpiresAt = claims.ExpiresAt.Time
		c.HasExpiry = true
	}

	return c, nil
}

// Backend issues user_id as number, but be tolerant to string ids
func userID(raw any) int64 {
	switch v := raw.(type) {
	case float64:
		return int64(v)
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return id
	default:
		return 0
	}
}

// Expired reports whether token must not be used at moment now
// Malformed tokens and tokens without 'exp' are expired
func Expired(token string, now time.Time) bool {
	c, err := Decode(token)
	if err != nil || !c.HasExpiry {
		return true
	}
	return !c.ExpiresAt.After(now)
}
