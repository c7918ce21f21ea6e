package middleware

import (
	"net/http"
	"slices"

	"github.com/rs/cors"
)

// NewCORS returns middleware that lets browsers on allowedOrigins call the
// public endpoints. Credentials are only allowed for explicit origins.
func NewCORS(allowedOrigins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: !slices.Contains(allowedOrigins, "*"),
		MaxAge:           300, // 5 minutes
	})

	return c.Handler
}
