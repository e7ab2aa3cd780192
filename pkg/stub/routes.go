package stub

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRouter initializes the Chi router exposing the emulated endpoints
// under the same paths the real services use, so pipeline clients can be
// pointed at the stub with nothing but a base-URL change.
func SetupRouter(s *Server, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	// Permissive CORS: the stub only ever runs on a developer machine.
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Atlassian-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	r.Use(corsMiddleware.Handler)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(StructuredRequestLogger(s.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	// Result import service (async job protocol)
	r.Route("/api/v2/automation", func(r chi.Router) {
		r.Post("/import-test-results", s.handleSubmitImport)
		r.Get("/import-status/{jobId}", s.handleImportStatus)
	})

	// Issue tracker
	r.Route("/rest/api/3/issue", func(r chi.Router) {
		r.Post("/", s.handleCreateIssue)
		r.Post("/{issueKey}/attachments", s.handleIssueAttachment)
	})

	// Wiki
	r.Route("/rest/api/content", func(r chi.Router) {
		r.Post("/", s.handleCreatePage)
		r.Route("/{pageId}", func(r chi.Router) {
			r.Get("/", s.handleGetPage)
			r.Put("/", s.handleUpdatePage)
			r.Post("/child/attachment", s.handlePageAttachment)
		})
	})

	return r
}
