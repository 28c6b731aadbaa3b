package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows browser clients from any origin to call the JSON API.
var CORS = cors.Handler(cors.Options{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
	ExposedHeaders: []string{"X-Request-Id"},
	MaxAge:         300,
})
