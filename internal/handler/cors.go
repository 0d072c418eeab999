package handler

import (
	"net/http"
	"slices"
	"strings"

	"github.com/rs/cors"
)

// NewCORS returns the cross-origin policy of the HTTP surface. An origin
// of "*", or no origin at all, allows every caller.
//
// With allowCredentials, a wildcard policy echoes the caller's origin
// instead of "*", which browsers refuse on credentialed requests.
func NewCORS(origins []string, allowCredentials bool) *cors.Cors {
	origins = slices.DeleteFunc(slices.Clone(origins), func(o string) bool {
		return strings.TrimSpace(o) == ""
	})
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	opts := cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: allowCredentials,
		MaxAge:           600,
	}
	if allowCredentials && slices.Contains(origins, "*") {
		opts.AllowedOrigins = nil
		opts.AllowOriginFunc = func(string) bool { return true }
	}
	return cors.New(opts)
}

// OriginChecker returns a WebSocket CheckOrigin function applying the same
// policy as c. Requests without an Origin header do not come from a
// browser and are always allowed.
func OriginChecker(c *cors.Cors) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if r.Header.Get("Origin") == "" {
			return true
		}
		return c.OriginAllowed(r)
	}
}
