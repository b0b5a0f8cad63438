package middleware

import (
	"net/http"
	"strings"

	goSentinel "github.com/MrEthical07/goSentinel"
	"github.com/MrEthical07/goSentinel/jwt"
)

// ErrorWriter renders a rejected request. The default writes the public
// message with the status from goSentinel.HTTPStatus.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Option configures Guard.
type Option func(*guardOptions)

type guardOptions struct {
	onError ErrorWriter
}

// WithErrorWriter replaces the default rejection writer.
func WithErrorWriter(fn ErrorWriter) Option {
	return func(o *guardOptions) {
		if fn != nil {
			o.onError = fn
		}
	}
}

func defaultErrorWriter(w http.ResponseWriter, _ *http.Request, err error) {
	http.Error(w, goSentinel.PublicMessage(err), goSentinel.HTTPStatus(err))
}

// Guard requires a valid bearer access token. The verified principal is
// available downstream through goSentinel.PrincipalFromContext.
func Guard(engine *goSentinel.Engine, opts ...Option) func(http.Handler) http.Handler {
	o := guardOptions{onError: defaultErrorWriter}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				o.onError(w, r, goSentinel.ErrEngineNotReady)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				o.onError(w, r, goSentinel.ErrTokenInvalid)
				return
			}

			principal, err := engine.Verify(r.Context(), token, jwt.KindAccess)
			if err != nil {
				o.onError(w, r, err)
				return
			}

			ctx := goSentinel.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
