package middleware

import (
	"net"
	"net/http"
	"strings"

	goSentinel "github.com/MrEthical07/goSentinel"
)

// RequestMeta attaches goSentinel.RequestMeta to every request. When
// trustProxy is set the first X-Forwarded-For entry wins over RemoteAddr.
func RequestMeta(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			meta := goSentinel.RequestMeta{
				IP:        clientIP(r, trustProxy),
				UserAgent: r.UserAgent(),
				Method:    r.Method,
				Path:      r.URL.Path,
			}
			next.ServeHTTP(w, r.WithContext(goSentinel.WithRequestMeta(r.Context(), meta)))
		})
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
