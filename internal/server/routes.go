// -----------------------------------------------------------------------
// Last Modified: Friday, 21st August 2026 5:14:40 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package server

import (
	"net/http"

	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Ingestion
	mux.HandleFunc("/api/documents", s.app.IngestHandler.UploadHandler) // POST - accept a document for processing

	// API routes - Jobs
	mux.HandleFunc("/api/jobs/", s.app.StatusHandler.GetJobHandler) // GET /{id} - job status and result

	// API routes - System
	mux.HandleFunc("/api/health", s.app.HealthHandler.HealthCheckHandler)
	mux.HandleFunc("/api/version", s.versionHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.notFoundHandler)

	return mux
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	if !handlers.RequireMethod(w, r, http.MethodGet) {
		return
	}
	handlers.WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.Build,
	})
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, http.StatusNotFound, "not found")
}
