package api

import (
	"net/http"

	"github.com/okian/fplcache/internal/domain/model"
	"github.com/okian/fplcache/pkg/logger"
)

// SyncHandler serves the sync control endpoints.
type SyncHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(deps Dependencies, log logger.Logger) *SyncHandler {
	return &SyncHandler{deps: deps, logger: log}
}

type syncAccepted struct {
	RunID string          `json:"run_id"`
	State model.SyncState `json:"state"`
}

// HandleRequestSync handles POST /api/v1/sync.
func (h *SyncHandler) HandleRequestSync(w http.ResponseWriter, r *http.Request) {
	run, err := h.deps.RequestSync(r.Context(), r.Header.Get(HeaderAPIKey))
	if err != nil {
		fail(w, r, h.logger, Wrap("request sync", err))
		return
	}
	h.logger.Info(r.Context(), "sync accepted",
		logger.String("run_id", run.ID),
		logger.String("remote", r.RemoteAddr),
	)
	w.Header().Set("Location", "/api/v1/sync/runs/"+run.ID)
	writeJSON(w, http.StatusAccepted, syncAccepted{RunID: run.ID, State: run.State})
}

// HandleListRuns handles GET /api/v1/sync/runs. Newest first.
func (h *SyncHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.deps.SyncRuns(r.Context())
	if runs == nil {
		runs = []model.SyncRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// HandleGetRun handles GET /api/v1/sync/runs/{id}.
func (h *SyncHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.deps.SyncRun(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, r, h.logger, Wrap("get sync run", err))
		return
	}
	writeJSON(w, http.StatusOK, run)
}
