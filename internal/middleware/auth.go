package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/nkiryanov/stocksim/internal/models"
)

type tokenSource interface {
	Get(ctx context.Context, key string) (string, bool)
}

// Rejector is told about requests the server refused with 401 or 403
type Rejector interface {
	HandleUnauthorized(ctx context.Context, usedToken string)
}

type authInterceptor struct {
	tokens   tokenSource
	rejector Rejector
}

// Auth attaches stored access token as bearer and reports 401/403 responses to rejector
// The response is passed to caller unchanged and the request is never retried
func Auth(tokens tokenSource, rejector Rejector) Interceptor {
	return &authInterceptor{tokens: tokens, rejector: rejector}
}

func (a *authInterceptor) BeforeSend(r *http.Request) *http.Request {
	token, ok := a.tokens.Get(r.Context(), models.KeyAccessToken)
	if !ok || token == "" {
		return r
	}

	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func (a *authInterceptor) OnResponse(r *http.Request, resp *http.Response, err error) {
	if err != nil || resp == nil {
		return
	}

	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return
	}

	// Request context may be cancelled right after response is read, logout must complete anyway
	usedToken := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	a.rejector.HandleUnauthorized(context.WithoutCancel(r.Context()), usedToken)
}
