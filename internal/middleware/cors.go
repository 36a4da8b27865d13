package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/PigStep/Vibe-BPMN-studio/internal/model/diagram"
)

// CORS allows the configured origins to call the API with a session header.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", diagram.SessionHeader},
		ExposedHeaders:   []string{diagram.SessionHeader},
		AllowCredentials: false,
		MaxAge:           300,
	})
}
