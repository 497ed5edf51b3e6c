package backend

import (
	"context"
	"net/http"

	"github.com/nkiryanov/stocksim/internal/apperrors"
	"github.com/nkiryanov/stocksim/internal/logger"
	"github.com/nkiryanov/stocksim/internal/middleware"
	"github.com/nkiryanov/stocksim/internal/models"
)

type LoginResponse struct {
	models.Profile

	Access  string `json:"access_token"`
	Refresh string `json:"refresh"` // may be absent
}

type RefreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"` // present when backend rotates refresh tokens
}

// AuthClient calls authentication endpoints
//
// It never attaches stored credentials and never reports rejections to the session,
// so failed login or refresh can't log the user out as a side effect.
type AuthClient struct {
	client
}

func NewAuthClient(addr string, l logger.Logger, interceptors ...middleware.Interceptor) *AuthClient {
	l = l.With("component", "auth_client")
	return &AuthClient{
		client: client{
			addr:   addr,
			http:   &http.Client{Transport: middleware.Chain(nil, interceptors...)},
			logger: l,
		},
	}
}

func (c *AuthClient) Login(ctx context.Context, creds models.Credentials) (LoginResponse, error) {
	var lr LoginResponse

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, "/users/login/", creds, nil)
	if err != nil {
		return lr, err
	}
	defer resp.Body.Close() // nolint:errcheck

	if err := c.checkAuthStatus(resp); err != nil {
		return lr, err
	}

	if err := c.decode(resp, &lr); err != nil {
		return lr, err
	}
	if lr.Access == "" {
		return lr, &apperrors.AuthRejectedError{Status: resp.StatusCode, Detail: "login response has no access token"}
	}

	c.logger.Debug("Logged in", "username", lr.Username, "role", lr.Role)
	return lr, nil
}

func (c *AuthClient) Refresh(ctx context.Context, refresh string) (RefreshResponse, error) {
	var rr RefreshResponse

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, "/users/token/refresh/", map[string]string{"refresh": refresh}, nil)
	if err != nil {
		return rr, err
	}
	defer resp.Body.Close() // nolint:errcheck

	if err := c.checkAuthStatus(resp); err != nil {
		return rr, err
	}

	if err := c.decode(resp, &rr); err != nil {
		return rr, err
	}
	if rr.Access == "" {
		return rr, &apperrors.AuthRejectedError{Status: resp.StatusCode, Detail: "refresh response has no access token"}
	}

	return rr, nil
}

// Logout tells the backend that access token is not used anymore
func (c *AuthClient) Logout(ctx context.Context, access string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	header := http.Header{}
	if access != "" {
		header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.do(ctx, http.MethodPost, "/users/logout/", struct{}{}, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode >= 300 {
		return &apperrors.StatusError{Status: resp.StatusCode, Body: readDetail(resp)}
	}
	return nil
}

// Map rejection statuses to AuthRejectedError, other failures to StatusError
func (c *AuthClient) checkAuthStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		detail := readDetail(resp)
		c.logger.Info("Authentication rejected", "status_code", resp.StatusCode, "detail", detail)
		return &apperrors.AuthRejectedError{Status: resp.StatusCode, Detail: detail}
	default:
		c.logger.Warn("Unexpected auth response", "status_code", resp.StatusCode)
		return &apperrors.StatusError{Status: resp.StatusCode, Body: readDetail(resp)}
	}
}
