package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/MrEthical07/opentoken"
)

// Authenticator is the part of *opentoken.Engine the guards call.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*opentoken.Principal, error)
}

// RequireSignature rejects requests without a valid session signature and
// attaches the verified caller to the request context.
func RequireSignature(engine Authenticator) func(http.Handler) http.Handler {
	return guard(engine, false)
}

// OptionalSignature lets unsigned requests through anonymously. A request
// that carries an Authorization header must still verify.
func OptionalSignature(engine Authenticator) func(http.Handler) http.Handler {
	return guard(engine, true)
}

func guard(engine Authenticator, optional bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := opentoken.WithClientIP(r.Context(), clientIP(r))

			if optional && r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			principal, err := engine.Authenticate(ctx, r)
			if err != nil {
				status := Status(err)
				http.Error(w, http.StatusText(status), status)
				return
			}

			ctx = opentoken.WithPrincipal(ctx, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Status maps an engine error onto an HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, opentoken.ErrTokenTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, opentoken.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, opentoken.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, opentoken.ErrNotFound) && !errors.Is(err, opentoken.ErrAuthentication):
		return http.StatusNotFound
	case errors.Is(err, opentoken.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, opentoken.ErrStorage), errors.Is(err, opentoken.ErrMail), errors.Is(err, opentoken.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
