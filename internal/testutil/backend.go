package testutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/stocksim/internal/models"
)

// Endpoints served by FakeBackend, relative to the API address
const (
	PathLogin   = "/users/login/"
	PathRefresh = "/users/token/refresh/"
	PathLogout  = "/users/logout/"
	PathStocks  = "/stocks/stocks/"
	PathOrders  = "/stocks/user/orders/"
)

type fakeUser struct {
	password string
	profile  models.Profile
}

type forcedResponse struct {
	status int
	body   string
}

// FakeBackend imitates the stock trading REST API
//
// It issues HS256 tokens signed with TokenSecret and bumps user's token version on every login,
// so tokens issued by previous logins are rejected by protected endpoints.
type FakeBackend struct {
	URL    string
	Server *httptest.Server

	Stocks []models.Stock
	Orders []models.Order

	mu         sync.Mutex
	now        func() time.Time
	accessTTL  time.Duration
	refreshTTL time.Duration
	rotate     bool
	users      map[string]*fakeUser
	forced     map[string]forcedResponse
	calls      map[string]int
	auth       map[string]string
}

// Start fake backend, it's closed on test cleanup
// now is the time source for issued and validated tokens, time.Now if nil
func NewFakeBackend(t *testing.T, now func() time.Time) *FakeBackend {
	t.Helper()

	if now == nil {
		now = time.Now
	}

	b := &FakeBackend{
		now:        now,
		accessTTL:  5 * time.Minute,
		refreshTTL: 24 * time.Hour,
		users:      make(map[string]*fakeUser),
		forced:     make(map[string]forcedResponse),
		calls:      make(map[string]int),
		auth:       make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api"+PathLogin, b.record(PathLogin, b.login))
	mux.HandleFunc("POST /api"+PathRefresh, b.record(PathRefresh, b.refresh))
	mux.HandleFunc("POST /api"+PathLogout, b.record(PathLogout, b.logout))
	mux.HandleFunc("GET /api"+PathStocks, b.record(PathStocks, b.protected(func(w http.ResponseWriter) {
		writeJSON(w, http.StatusOK, b.Stocks)
	})))
	mux.HandleFunc("GET /api"+PathOrders, b.record(PathOrders, b.protected(func(w http.ResponseWriter) {
		writeJSON(w, http.StatusOK, b.Orders)
	})))

	b.Server = httptest.NewServer(mux)
	b.URL = b.Server.URL + "/api"
	t.Cleanup(b.Server.Close)

	return b
}

// Register user that may log in
func (b *FakeBackend) AddUser(username, password string, profile models.Profile) {
	b.mu.Lock()
	defer b.mu.Unlock()

	profile.Username = username
	b.users[username] = &fakeUser{password: password, profile: profile}
}

// Lifetime of issued access token
func (b *FakeBackend) SetAccessTTL(ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accessTTL = ttl
}

// Issue new refresh token on every refresh
func (b *FakeBackend) SetRotateRefresh(rotate bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rotate = rotate
}

// Respond to path with given status and body regardless of request
// Zero status restores normal behavior
func (b *FakeBackend) Respond(path string, status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if status == 0 {
		delete(b.forced, path)
		return
	}
	b.forced[path] = forcedResponse{status: status, body: body}
}

// Number of requests received by path
func (b *FakeBackend) Calls(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[path]
}

// Authorization header of the latest request to path
func (b *FakeBackend) Authorization(path string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.auth[path]
}

func (b *FakeBackend) record(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.calls[path]++
		b.auth[path] = r.Header.Get("Authorization")
		forced, ok := b.forced[path]
		b.mu.Unlock()

		if ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(forced.status)
			_, _ = w.Write([]byte(forced.body))
			return
		}

		next(w, r)
	}
}

func (b *FakeBackend) login(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed request body.")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	u, ok := b.users[creds.Username]
	if !ok || u.password != creds.Password {
		writeDetail(w, http.StatusUnauthorized, "No active account found with the given credentials")
		return
	}
	if !u.profile.KYCVerified {
		writeDetail(w, http.StatusForbidden, "KYC not verified. Please wait for approval.")
		return
	}

	u.profile.TokenVersion++

	access, err := b.issueLocked(u.profile, "access", b.accessTTL)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	refresh, err := b.issueLocked(u.profile, "refresh", b.refreshTTL)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, struct {
		models.Profile
		Access  string `json:"access_token"`
		Refresh string `json:"refresh"`
	}{Profile: u.profile, Access: access, Refresh: refresh})
}

func (b *FakeBackend) refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Refresh == "" {
		writeDetail(w, http.StatusBadRequest, "This field is required.")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	u, err := b.verifyLocked(body.Refresh, "refresh")
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Token is invalid or expired")
		return
	}

	access, err := b.issueLocked(u.profile, "access", b.accessTTL)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]string{"access": access}
	if b.rotate {
		refresh, err := b.issueLocked(u.profile, "refresh", b.refreshTTL)
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["refresh"] = refresh
	}

	writeJSON(w, http.StatusOK, resp)
}

func (b *FakeBackend) logout(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.verifyLocked(bearer(r), "access"); err != nil {
		writeDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
		return
	}
	w.WriteHeader(http.StatusResetContent)
}

func (b *FakeBackend) protected(next func(w http.ResponseWriter)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		_, err := b.verifyLocked(bearer(r), "access")
		b.mu.Unlock()

		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Given token not valid for any token type")
			return
		}
		next(w)
	}
}

func (b *FakeBackend) issueLocked(p models.Profile, tokenType string, ttl time.Duration) (string, error) {
	now := b.now()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(p.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:       p.ID,
		Username:     p.Username,
		Role:         p.Role,
		TokenVersion: p.TokenVersion,
		TokenType:    tokenType,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(TokenSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token. Err: %w", err)
	}
	return token, nil
}

func (b *FakeBackend) verifyLocked(token string, tokenType string) (*fakeUser, error) {
	var claims TokenClaims

	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(TokenSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(b.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}

	if claims.TokenType != tokenType {
		return nil, errors.New("wrong token type")
	}

	u, ok := b.users[claims.Username]
	if !ok {
		return nil, errors.New("user not found")
	}
	if u.profile.TokenVersion != claims.TokenVersion {
		return nil, errors.New("token version outdated")
	}

	return u, nil
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
