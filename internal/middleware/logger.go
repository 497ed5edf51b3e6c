package middleware

import (
	"context"
	"net/http"
	"time"
)

type logger interface {
	Info(msg string, args ...any)
}

type startKey struct{}

type loggerInterceptor struct {
	l logger
}

func Logger(l logger) Interceptor {
	return &loggerInterceptor{l: l}
}

func (li *loggerInterceptor) BeforeSend(r *http.Request) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), startKey{}, time.Now()))
}

func (li *loggerInterceptor) OnResponse(r *http.Request, resp *http.Response, err error) {
	var duration time.Duration
	if start, ok := r.Context().Value(startKey{}).(time.Time); ok {
		duration = time.Since(start)
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	args := []any{
		"method", r.Method,
		"url", r.URL.String(),
		"duration", duration,
		"status", status,
	}
	if err != nil {
		args = append(args, "error", err)
	}

	li.l.Info("sent HTTP request", args...)
}
