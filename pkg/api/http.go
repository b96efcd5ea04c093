package api

import (
	"net/http"

	"chatsync/pkg/api/handlers"
	"chatsync/pkg/auth"
	"chatsync/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins  []string
	DefaultPageSize int
	MaxPageSize     int
}

// Handler builds the full router: health and metrics unauthenticated,
// everything under /v1 behind identity verification and rate limiting.
func Handler(deps handlers.Deps, opts Options) http.Handler {
	deps.DefaultPageSize = opts.DefaultPageSize
	deps.MaxPageSize = opts.MaxPageSize

	root := mux.NewRouter()
	root.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	root.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := mux.NewRouter().PathPrefix("/v1").Subrouter()
	deps.RegisterConversations(v1)
	deps.RegisterMessages(v1)
	deps.RegisterStream(v1)

	chain := requestLog(cors(opts.AllowedOrigins, auth.RequireIdentity(v1)))
	root.PathPrefix("/v1").Handler(chain)
	return root
}

// requestLog emits one safe summary line per request.
func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.LogRequest(r)
		next.ServeHTTP(w, r)
	})
}

// cors applies the configured allowed origins; an empty list disables
// cross-origin access entirely.
func cors(origins []string, next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if _, ok := allowed[origin]; ok || wildcard {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID, X-User-Signature, X-User-Name, X-User-Avatar")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
