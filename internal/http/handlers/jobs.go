package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brightline-ai/concierge/internal/conversation"
	"github.com/brightline-ai/concierge/pkg/logging"
)

// JobStatusHandler lets the webhook layer poll the outcome of a submitted
// turn while the worker chews on it.
type JobStatusHandler struct {
	jobs   conversation.JobRecorder
	logger *logging.Logger
}

func NewJobStatusHandler(jobs conversation.JobRecorder, logger *logging.Logger) *JobStatusHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &JobStatusHandler{jobs: jobs, logger: logger}
}

// GetJob handles GET /jobs/{jobID}.
func (h *JobStatusHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "jobID required")
		return
	}
	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, conversation.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("job lookup failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}
