package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/snapstash/snapstash/internal/auth"
	"github.com/snapstash/snapstash/internal/proxy"
	"github.com/snapstash/snapstash/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes.
func (h *Handler) SetupRoutes(authn *auth.Authenticator, proxyServer *proxy.Server, limiter *ratelimit.Limiter, requestsPerMinute int, log zerolog.Logger) *mux.Router {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(h.MethodNotAllowed)

	r.HandleFunc("/healthz", h.Health).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()
	api.MethodNotAllowedHandler = http.HandlerFunc(h.MethodNotAllowed)
	api.Use(AuthMiddleware(authn, log))
	api.Use(RateLimitMiddleware(limiter, requestsPerMinute))

	// Capture surface: POST submits, GET is the reserved read path, every
	// other method is rejected by the MethodNotAllowed handler.
	api.HandleFunc("/capture", h.Capture).Methods("POST")
	api.HandleFunc("/capture", h.CapturePlaceholder).Methods("GET")

	api.HandleFunc("/captures", h.ListCaptures).Methods("GET")
	api.HandleFunc("/session", h.SessionInfo).Methods("GET")
	api.HandleFunc("/session/debug", func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserFromContext(r.Context())
		proxyServer.HandleDebugConnection(w, r, userID)
	}).Methods("GET")

	r.Use(RequestLogger(log))
	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Api-Key, X-User-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
