package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/cors"
)

// CORS answers preflights with 204 and echoes allowed origins with
// credentials enabled. An origin entry may contain one `*`
// (`http://localhost:*`). Requests from an origin not on the list get no
// CORS headers, so the browser blocks the response.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			allowed = append(allowed, o)
		}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:       []string{"Authorization", "Content-Type"},
		AllowCredentials:     true,
		MaxAge:               600,
		OptionsSuccessStatus: http.StatusNoContent,
	})
	return c.Handler
}
