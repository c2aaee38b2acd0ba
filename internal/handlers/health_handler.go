package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
)

// HealthHandler reports service liveness, queue depth, and the state of
// the inference backend.
type HealthHandler struct {
	broker interfaces.Broker
	llm    interfaces.LLMService
	logger arbor.ILogger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(broker interfaces.Broker, llm interfaces.LLMService, logger arbor.ILogger) *HealthHandler {
	return &HealthHandler{broker: broker, llm: llm, logger: logger}
}

// HealthCheckHandler handles GET /api/health. A degraded LLM backend
// reports as such without failing the endpoint; the pipeline degrades
// rather than stops when inference is down.
func (h *HealthHandler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	response := map[string]any{
		"status":  "ok",
		"version": common.GetVersion(),
	}

	if depth, err := h.broker.Len(r.Context()); err == nil {
		response["queue_depth"] = depth
	} else {
		response["status"] = "degraded"
		response["queue_error"] = err.Error()
	}

	if err := h.llm.HealthCheck(r.Context()); err == nil {
		response["llm"] = "ok"
	} else {
		response["status"] = "degraded"
		response["llm"] = err.Error()
	}

	WriteJSON(w, http.StatusOK, response)
}
