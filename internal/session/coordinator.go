package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/stocksim/internal/apperrors"
	"github.com/nkiryanov/stocksim/internal/backend"
	"github.com/nkiryanov/stocksim/internal/logger"
	"github.com/nkiryanov/stocksim/internal/models"
	"github.com/nkiryanov/stocksim/internal/tokenclock"
	"github.com/nkiryanov/stocksim/internal/tokenstore"
)

const DefaultLoginPath = "/login"

// Authentication endpoints of the backend
type AuthAPI interface {
	Login(ctx context.Context, creds models.Credentials) (backend.LoginResponse, error)
	Refresh(ctx context.Context, refresh string) (backend.RefreshResponse, error)
	Logout(ctx context.Context, access string) error
}

type Config struct {
	// Interval of the recurring stored token check, tokenclock.DefaultCheckInterval if zero
	CheckInterval time.Duration

	// Where user is sent after logout, DefaultLoginPath if empty
	LoginPath string
}

type Deps struct {
	Store    tokenstore.Store
	Clock    *tokenclock.Clock
	Auth     AuthAPI
	Router   Router
	Notifier Notifier
	Logger   logger.Logger
}

// Coordinator owns session of one browsing context
//
// Several coordinators may share one storage backend. A login in any of them
// terminates the sessions of the others.
type Coordinator struct {
	cfg      Config
	store    tokenstore.Store
	clock    *tokenclock.Clock
	auth     AuthAPI
	router   Router
	notifier Notifier
	logger   logger.Logger
	validate *validator.Validate

	// Serializes changes of the stored session (login, refresh, logout, close)
	// Taken before mu. Store I/O happens under writeMu only, never under mu.
	writeMu sync.Mutex

	mu     sync.Mutex
	state  models.State
	token  string // access token of the current or the latest session
	claims models.Claims
	closed bool

	// Bumped on every login and logout
	// Async work (timers, refresh responses) started in one epoch is dropped in another
	epoch uint64

	unsubscribe []func()
	stopWatch   func()
}

// New restores session from the store and starts listening to other contexts
func New(ctx context.Context, cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Store == nil || deps.Clock == nil || deps.Auth == nil {
		return nil, errors.New("store, clock and auth must not be nil")
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}
	if deps.Router == nil {
		deps.Router = noopRouter{}
	}
	if deps.Notifier == nil {
		deps.Notifier = noopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoOpLogger()
	}

	c := &Coordinator{
		cfg:      cfg,
		store:    deps.Store,
		clock:    deps.Clock,
		auth:     deps.Auth,
		router:   deps.Router,
		notifier: deps.Notifier,
		logger:   deps.Logger.With("component", "session", "origin", deps.Store.Origin()),
		validate: newValidator(),
	}

	c.unsubscribe = append(c.unsubscribe,
		c.store.Subscribe(models.KeyLastLogin, c.onLastLogin),
		c.store.Subscribe(models.KeyAccessToken, c.onAccessToken),
	)
	c.stopWatch = c.clock.Watch(cfg.CheckInterval, c.currentToken, c.onWatchExpired)

	c.restore(ctx)
	return c, nil
}

func (c *Coordinator) restore(ctx context.Context) {
	c.writeMu.Lock()
	token, ok := c.store.Get(ctx, models.KeyAccessToken)
	if !ok {
		c.writeMu.Unlock()
		return
	}

	claims, err := tokenclock.Decode(token)
	if err != nil || c.clock.Expired(token) {
		c.logger.Info("Stored token is not valid, clear it", "error", err)
		c.clearOwned(ctx, token)
		c.writeMu.Unlock()
		return
	}

	c.mu.Lock()
	c.state = models.StateAuthenticated
	c.token = token
	c.claims = claims
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()
	c.writeMu.Unlock()

	c.logger.Info("Session restored", "username", claims.Username, "expires_at", claims.ExpiresAt)
	c.clock.Schedule(token, c.expireFunc(epoch))
}

// Login authenticates user and starts new session
// Stored state is not touched on failure
func (c *Coordinator) Login(ctx context.Context, creds models.Credentials) (models.Profile, error) {
	if err := c.validate.Struct(creds); err != nil {
		return models.Profile{}, fmt.Errorf("%w: required fields missing: %s", apperrors.ErrInvalidCredentials, invalidFields(err))
	}

	lr, err := c.auth.Login(ctx, creds)
	if err != nil {
		c.logger.Info("Login failed", "username", creds.Username, "error", err)
		return models.Profile{}, err
	}

	claims, err := tokenclock.Decode(lr.Access)
	if err != nil {
		c.logger.Warn("Login returned malformed token", "username", creds.Username)
		return models.Profile{}, err
	}
	if c.clock.Expired(lr.Access) {
		c.logger.Warn("Login returned expired token", "username", creds.Username)
		return models.Profile{}, fmt.Errorf("login returned unusable token: %w", apperrors.ErrSessionExpired)
	}

	c.writeMu.Lock()
	if c.isClosed() {
		c.writeMu.Unlock()
		return models.Profile{}, apperrors.ErrSessionClosed
	}

	err = c.storeSession(ctx, models.TokenPair{Access: lr.Access, Refresh: lr.Refresh}, lr.Profile)
	if err != nil {
		c.writeMu.Unlock()
		c.logger.Error("Failed to store session", "username", creds.Username, "error", err)
		return models.Profile{}, err
	}

	c.mu.Lock()
	c.state = models.StateAuthenticated
	c.token = lr.Access
	c.claims = claims
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()
	c.writeMu.Unlock()

	c.clock.Schedule(lr.Access, c.expireFunc(epoch))

	// Written last: other contexts react to it by terminating their sessions
	lastLogin := strconv.FormatInt(c.clock.Now().UnixMilli(), 10)
	if err := c.store.Set(ctx, models.KeyLastLogin, lastLogin); err != nil {
		c.logger.Warn("Failed to record last login, other contexts won't be signed out", "error", err)
	}

	c.logger.Info("Logged in", "username", lr.Username, "role", lr.Role, "expires_at", claims.ExpiresAt)
	return lr.Profile, nil
}

// Stored key and its value, absent value means the key is cleared
type storedValue struct {
	key     string
	value   string
	present bool
}

// Keys of a session in write order
// Access token goes last: it is the one restore and other contexts look at
func sessionValues(pair models.TokenPair, p models.Profile) []storedValue {
	var companyID string
	if p.CompanyID != nil {
		companyID = strconv.FormatInt(*p.CompanyID, 10)
	}

	return []storedValue{
		// Refresh token of the previous session must not outlive it
		{key: models.KeyRefreshToken, value: pair.Refresh, present: pair.Refresh != ""},
		{key: models.KeyUsername, value: p.Username, present: true},
		{key: models.KeyRole, value: p.Role, present: true},
		{key: models.KeyEmail, value: p.Email, present: true},
		{key: models.KeyUserID, value: strconv.FormatInt(p.ID, 10), present: true},
		{key: models.KeyKYCVerified, value: strconv.FormatBool(p.KYCVerified), present: true},
		{key: models.KeyAccountBalance, value: p.AccountBalance.String(), present: true},
		{key: models.KeyProfitBalance, value: p.ProfitBalance.String(), present: true},
		{key: models.KeyCompanyID, value: companyID, present: p.CompanyID != nil},
		{key: models.KeyAccessToken, value: pair.Access, present: true},
	}
}

// Write session keys, on failure put back what was stored before
// Must be called with writeMu held
func (c *Coordinator) storeSession(ctx context.Context, pair models.TokenPair, p models.Profile) error {
	values := sessionValues(pair, p)

	previous := make([]storedValue, 0, len(values))
	for _, v := range values {
		old, ok := c.store.Get(ctx, v.key)
		previous = append(previous, storedValue{key: v.key, value: old, present: ok})
	}

	for i, v := range values {
		if err := c.put(ctx, v); err != nil {
			c.rollback(ctx, previous[:i+1])
			return fmt.Errorf("failed to store %s: %w", v.key, err)
		}
	}

	return nil
}

func (c *Coordinator) rollback(ctx context.Context, previous []storedValue) {
	for i := len(previous) - 1; i >= 0; i-- {
		if err := c.put(ctx, previous[i]); err != nil {
			c.logger.Error("Failed to restore stored value", "key", previous[i].key, "error", err)
		}
	}
}

func (c *Coordinator) put(ctx context.Context, v storedValue) error {
	if v.present {
		return c.store.Set(ctx, v.key, v.value)
	}
	return c.store.Clear(ctx, v.key)
}

// Logout terminates session, it never fails
//
// Only the first call after a session was established has visible effects:
// server notification, navigation and notice. Subsequent calls re-clear storage only.
func (c *Coordinator) Logout(ctx context.Context, notifyServer bool, reason models.LogoutReason) {
	c.writeMu.Lock()
	c.mu.Lock()
	first := c.state == models.StateAuthenticated
	token := c.token
	if first {
		c.state = models.StateAnonymous
		c.claims = models.Claims{}
		c.epoch++
	}
	c.clock.Cancel()
	c.mu.Unlock()

	c.clearOwned(ctx, token)
	c.writeMu.Unlock()

	if !first {
		c.logger.Debug("Already logged out, storage re-cleared", "reason", reason)
		return
	}

	c.logger.Info("Logged out", "reason", reason, "notify_server", notifyServer)

	if notifyServer && token != "" {
		if err := c.auth.Logout(ctx, token); err != nil {
			c.logger.Warn("Failed to notify server about logout", "error", err)
		}
	}

	if reason.Involuntary() {
		c.notifier.Notify(noticeFor(reason))
	}
	c.router.Navigate(c.cfg.LoginPath)
}

// Clear stored session unless another context has replaced it with its own
// Storage has no compare-and-swap, so it's best effort only. Must be called with writeMu held.
func (c *Coordinator) clearOwned(ctx context.Context, token string) {
	stored, ok := c.store.Get(ctx, models.KeyAccessToken)
	if ok && stored != token {
		c.logger.Debug("Stored session belongs to another context, keep it")
		return
	}

	keys := append([]string{models.KeyAccessToken, models.KeyRefreshToken}, models.Profile{}.StorageKeys()...)
	if err := c.store.Clear(ctx, keys...); err != nil {
		c.logger.Error("Failed to clear stored session", "error", err)
	}
}

// Refresh exchanges refresh token for a new access token
//
// Only an established session is refreshed, so refresh never starts one.
// Rejection by the server ends the session. Transient failures keep it.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	if !c.current(epoch) {
		c.logger.Info("No session to refresh")
		return apperrors.ErrSessionClosed
	}

	refresh, ok := c.store.Get(ctx, models.KeyRefreshToken)
	if !ok || refresh == "" {
		c.logger.Info("No refresh token stored")
		c.logoutIfEpoch(ctx, epoch, models.ReasonRefreshFailed)
		return apperrors.ErrNoRefreshToken
	}

	rr, err := c.auth.Refresh(ctx, refresh)
	if err != nil {
		if errors.Is(err, apperrors.ErrAuthRejected) {
			c.logoutIfEpoch(ctx, epoch, models.ReasonRefreshFailed)
			return err
		}
		c.logger.Warn("Refresh failed, session kept", "error", err)
		return err
	}

	claims, err := tokenclock.Decode(rr.Access)
	if err != nil {
		c.logger.Warn("Refresh returned malformed token")
		c.logoutIfEpoch(ctx, epoch, models.ReasonRefreshFailed)
		return &apperrors.AuthRejectedError{Status: 200, Detail: "refresh returned malformed token"}
	}

	c.writeMu.Lock()
	if !c.current(epoch) {
		c.writeMu.Unlock()
		c.logger.Info("Session changed while refreshing, response dropped")
		return apperrors.ErrSessionClosed
	}

	// Rotated refresh token first: stored access token stays usable if it fails
	if rr.Refresh != "" {
		if err := c.store.Set(ctx, models.KeyRefreshToken, rr.Refresh); err != nil {
			c.writeMu.Unlock()
			c.logger.Warn("Failed to store rotated refresh token, session kept", "error", err)
			return fmt.Errorf("failed to store refresh token: %w", err)
		}
	}
	if err := c.store.Set(ctx, models.KeyAccessToken, rr.Access); err != nil {
		c.writeMu.Unlock()
		c.logger.Warn("Failed to store refreshed access token, session kept", "error", err)
		return fmt.Errorf("failed to store access token: %w", err)
	}

	c.mu.Lock()
	c.token = rr.Access
	c.claims = claims
	c.mu.Unlock()
	c.writeMu.Unlock()

	c.clock.Schedule(rr.Access, c.expireFunc(epoch))

	c.logger.Info("Access token refreshed", "expires_at", claims.ExpiresAt, "rotated", rr.Refresh != "")
	return nil
}

// Session of the epoch is still alive
func (c *Coordinator) current(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch && c.state == models.StateAuthenticated && !c.closed
}

func (c *Coordinator) logoutIfEpoch(ctx context.Context, epoch uint64, reason models.LogoutReason) {
	if !c.current(epoch) {
		c.logger.Info("Session changed while refreshing, rejection ignored")
		return
	}
	c.Logout(ctx, true, reason)
}

// HandleUnauthorized is called when the server refused request made with usedToken
// Rejection of a token that is not current anymore is stale and ignored
func (c *Coordinator) HandleUnauthorized(ctx context.Context, usedToken string) {
	c.mu.Lock()
	authenticated := c.state == models.StateAuthenticated
	current := c.token
	c.mu.Unlock()

	if authenticated && usedToken != current {
		c.logger.Debug("Rejection of stale token ignored")
		return
	}

	c.Logout(ctx, true, models.ReasonUnauthorized)
}

// IsAuthenticated tells whether the session is alive and stored token is usable
func (c *Coordinator) IsAuthenticated(ctx context.Context) bool {
	if c.State() != models.StateAuthenticated {
		return false
	}

	token, ok := c.store.Get(ctx, models.KeyAccessToken)
	return ok && !c.clock.Expired(token)
}

func (c *Coordinator) State() models.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Claims of the current session, false if there is none
func (c *Coordinator) Claims() (models.Claims, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claims, c.state == models.StateAuthenticated
}

// Close stops timers and listening to other contexts
// Stored session is kept, so it may be restored later
func (c *Coordinator) Close() {
	c.writeMu.Lock()
	c.mu.Lock()
	closed := c.closed
	c.closed = true
	c.mu.Unlock()
	c.writeMu.Unlock()

	if closed {
		return
	}

	c.stopWatch()
	c.clock.Cancel()
	for _, unsubscribe := range c.unsubscribe {
		unsubscribe()
	}
}

func (c *Coordinator) expireFunc(epoch uint64) func() {
	return func() {
		if !c.current(epoch) {
			return
		}
		c.logger.Info("Access token expired")
		c.Logout(context.Background(), true, models.ReasonExpired)
	}
}

// Token checked by the periodic watch, only while session is alive
func (c *Coordinator) currentToken() (string, bool) {
	if c.State() != models.StateAuthenticated {
		return "", false
	}
	return c.store.Get(context.Background(), models.KeyAccessToken)
}

func (c *Coordinator) onWatchExpired() {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	c.expireFunc(epoch)()
}

// Another context logged in
func (c *Coordinator) onLastLogin(ch tokenstore.Change) {
	if ch.Deleted {
		return
	}
	if c.isClosed() {
		return
	}

	c.logger.Info("Login in another context detected")
	c.Logout(context.Background(), false, models.ReasonOtherSession)
}

// Another context changed access token
// Removal means it logged out. Token of the same login (same user and token version)
// means it refreshed the shared session, so the new token is adopted.
func (c *Coordinator) onAccessToken(ch tokenstore.Change) {
	c.mu.Lock()
	if c.closed || c.state != models.StateAuthenticated {
		c.mu.Unlock()
		return
	}

	if ch.Deleted {
		c.mu.Unlock()
		c.logger.Info("Logout in another context detected")
		c.Logout(context.Background(), false, models.ReasonOtherSession)
		return
	}

	claims, err := tokenclock.Decode(ch.Value)
	if err != nil || !sameLogin(c.claims, claims) {
		// New login elsewhere is handled by lastLogin change
		c.mu.Unlock()
		return
	}

	c.token = ch.Value
	c.claims = claims
	epoch := c.epoch
	c.mu.Unlock()

	c.logger.Debug("Adopted token refreshed in another context", "expires_at", claims.ExpiresAt)
	c.clock.Schedule(ch.Value, c.expireFunc(epoch))
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Backend bumps token version on every login, refresh keeps it
func sameLogin(a, b models.Claims) bool {
	return a.UserID == b.UserID && a.Username == b.Username && a.TokenVersion == b.TokenVersion
}
