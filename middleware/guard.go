package middleware

import (
	"context"
	"net/http"
	"strings"

	authcore "github.com/stef9github/ReactDjango-Hub-sub008"
)

type validationContextKey struct{}

// ValidationFromContext returns the token validation injected by [Guard],
// if the request passed through it.
func ValidationFromContext(ctx context.Context) (authcore.TokenValidation, bool) {
	v, ok := ctx.Value(validationContextKey{}).(authcore.TokenValidation)
	return v, ok
}

// Guard returns middleware that authenticates requests with a bearer access
// token. The validated claims are injected into the request context for
// downstream handlers; requests without a valid token get 401.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			validation, err := engine.Validate(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), validationContextKey{}, validation)
			ctx = authcore.WithClientIP(ctx, clientIP(r))
			ctx = authcore.WithUserAgent(ctx, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

// clientIP strips the port; RemoteAddr is host:port for TCP listeners.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[:i]
	}
	return addr
}
