package handlers

import (
	"net/http"

	"github.com/brightline-ai/concierge/internal/memory"
)

// InstanceLister reports which egress instances this process is consuming.
// *whatsapp.Manager satisfies it.
type InstanceLister interface {
	Instances() []string
}

// StatusHandler serves GET /admin/status: the live worker roster and the
// memory-writer snapshot for a quick look without a metrics backend.
type StatusHandler struct {
	instances InstanceLister
	recorder  *memory.Recorder
}

func NewStatusHandler(instances InstanceLister, recorder *memory.Recorder) *StatusHandler {
	return &StatusHandler{instances: instances, recorder: recorder}
}

func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{}
	if h.instances != nil {
		resp["instances"] = h.instances.Instances()
	}
	resp["memory"] = h.recorder.Snapshot()
	writeJSON(w, http.StatusOK, resp)
}
