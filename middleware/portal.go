package middleware

import (
	"net/http"

	goSentinel "github.com/MrEthical07/goSentinel"
	"github.com/MrEthical07/goSentinel/portal"
)

// RequirePortal rejects principals whose session was opened on a portal
// outside allowed. It must run after Guard.
func RequirePortal(allowed ...portal.Portal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := goSentinel.PrincipalFromContext(r.Context())
			if !ok {
				defaultErrorWriter(w, r, goSentinel.ErrTokenInvalid)
				return
			}
			for _, a := range allowed {
				if p.Portal == a {
					next.ServeHTTP(w, r)
					return
				}
			}
			defaultErrorWriter(w, r, goSentinel.ErrPortalDenied)
		})
	}
}
