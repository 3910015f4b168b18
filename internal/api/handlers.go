package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/captrace/captrace/internal/aggregate"
	"github.com/captrace/captrace/internal/export"
)

// TabController is the hub surface the REST handlers drive: export triggers
// and tab teardown.
type TabController interface {
	ExportTab(tabID, reason string, clear bool)
	CloseTab(tabID string)
}

// Handler holds dependencies for the REST handlers.
type Handler struct {
	agg    *aggregate.Manager
	tabs   TabController
	logger *zap.SugaredLogger
}

func NewHandler(agg *aggregate.Manager, tabs TabController, logger *zap.SugaredLogger) *Handler {
	return &Handler{agg: agg, tabs: tabs, logger: logger}
}

// GetStatus handles GET /v1/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	tabs, activated := h.agg.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"tabs":          tabs,
		"activatedTabs": activated,
	})
}

// GetAggregate handles GET /v1/tabs/{id}/aggregate.
func (h *Handler) GetAggregate(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["id"]
	data, err := h.agg.AggregatedData(tabID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// GetImages handles GET /v1/tabs/{id}/images. Payloads are included; this
// is the REST twin of the get-captured-images message.
func (h *Handler) GetImages(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["id"]
	writeJSON(w, http.StatusOK, h.agg.Images(tabID))
}

// ExportTab handles POST /v1/tabs/{id}/export. The clear query parameter
// marks the export as a session boundary.
func (h *Handler) ExportTab(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["id"]
	clear := r.URL.Query().Get("clear") == "true"

	images := h.agg.Images(tabID)
	if len(images) == 0 {
		// Export precondition failure is reported, not thrown.
		writeJSON(w, http.StatusPreconditionFailed, map[string]string{
			"error": export.ErrNoImages.Error(),
		})
		return
	}

	h.logger.Infow("export requested", "tab", tabID, "clear", clear)
	h.tabs.ExportTab(tabID, "rest", clear)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"exported": true,
		"cleared":  clear,
	})
}

// DeleteTab handles DELETE /v1/tabs/{id}: the tab-close teardown path.
func (h *Handler) DeleteTab(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["id"]
	h.tabs.CloseTab(tabID)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
