package middleware

import (
	"net/http"

	authcore "github.com/stef9github/ReactDjango-Hub-sub008"
)

// RequirePermission returns middleware that enforces one permission on top
// of [Guard]. The wrapped handler runs only when the authenticated principal
// is allowed action on resource within its organization scope; an explicit
// deny assignment rejects with 403 even when a role grants the permission.
//
// Must be mounted inside Guard: a request with no validation in context is
// rejected with 401.
func RequirePermission(engine *authcore.Engine, resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			validation, ok := ValidationFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			err := engine.Authorize(r.Context(), validation.PrincipalID, validation.OrgScope, resource, action)
			if err != nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
