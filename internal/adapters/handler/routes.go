package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the API router. All versioned endpoints live
// under /{apiVersion}; the response sender strips that prefix again
// when logging.
func SetupRoutes(manager *ManagerHandler, rules *RulesHandler, apiVersion string, logStream http.HandlerFunc) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(wrapWriter)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check (unversioned)
	r.Get("/", manager.Health)

	r.Route("/"+apiVersion, func(r chi.Router) {
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", rules.GetRules)
			r.Get("/groups", rules.GetGroups)
			r.Get("/pci", rules.GetPCI)
			r.Get("/files", rules.GetRuleFiles)
			r.Get("/files/{file}", rules.DownloadRuleFile)
		})

		r.Get("/manager/status", manager.GetStatus)
	})

	// Admin log stream (secret-gated inside the hub)
	if logStream != nil {
		r.Get("/ws/logs", logStream)
	}

	return r
}

// wrapWriter wraps the ResponseWriter so the sender can detect whether
// headers were already written before it runs
func wrapWriter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
	})
}
