package models

import (
	"time"
)

// Keys of values kept in the token store
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"

	// Epoch millis of the latest login, used as a cross-context signal only
	KeyLastLogin = "lastLogin"
)

type State int

const (
	StateAnonymous State = iota
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// Why session was terminated
type LogoutReason int

const (
	ReasonUser LogoutReason = iota
	ReasonExpired
	ReasonUnauthorized
	ReasonOtherSession
	ReasonRefreshFailed
)

func (r LogoutReason) String() string {
	switch r {
	case ReasonUser:
		return "user"
	case ReasonExpired:
		return "expired"
	case ReasonUnauthorized:
		return "unauthorized"
	case ReasonOtherSession:
		return "other_session"
	case ReasonRefreshFailed:
		return "refresh_failed"
	default:
		return "unknown"
	}
}

// Involuntary logouts are reported to the user
func (r LogoutReason) Involuntary() bool {
	return r != ReasonUser
}

// Claims decoded from the access token
// Signature is not verified on the client, so claims are trusted at face value
type Claims struct {
	Subject      string
	UserID       int64
	Username     string
	Role         string
	TokenVersion int
	ExpiresAt    time.Time

	// False when token has no 'exp' claim at all
	HasExpiry bool
}

// Token pair as returned by the backend
type TokenPair struct {
	Access  string
	Refresh string
}

// User-visible notification
type Notice struct {
	Title   string
	Message string
}
