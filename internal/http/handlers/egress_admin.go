package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/brightline-ai/concierge/internal/whatsapp"
	"github.com/brightline-ai/concierge/pkg/logging"
)

const defaultClaimMinIdle = 30 * time.Second

type EgressAdminConfig struct {
	Admin  *whatsapp.Admin
	Redis  *redis.Client
	Logger *logging.Logger
}

// EgressAdminHandler exposes the recovery operations on instance streams:
// group resets, bulk claims of orphaned entries, and the health report.
type EgressAdminHandler struct {
	admin  *whatsapp.Admin
	redis  *redis.Client
	logger *logging.Logger
}

func NewEgressAdminHandler(cfg EgressAdminConfig) *EgressAdminHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &EgressAdminHandler{admin: cfg.Admin, redis: cfg.Redis, logger: cfg.Logger}
}

// ResetGroup handles POST /admin/egress/{instance}/reset?to=tail|head.
func (h *EgressAdminHandler) ResetGroup(w http.ResponseWriter, r *http.Request) {
	instance := chi.URLParam(r, "instance")
	if instance == "" {
		writeError(w, http.StatusBadRequest, "instance required")
		return
	}
	to := r.URL.Query().Get("to")
	if to == "" {
		to = "tail"
	}

	var err error
	switch to {
	case "tail":
		err = h.admin.ResetGroupToTail(r.Context(), instance)
	case "head":
		err = h.admin.ResetGroupToHead(r.Context(), instance)
	default:
		writeError(w, http.StatusBadRequest, "to must be tail or head")
		return
	}
	if err != nil {
		h.logger.Error("egress group reset failed", "instance", instance, "to", to, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"instance": instance, "reset_to": to})
}

// RecreateGroup handles POST /admin/egress/{instance}/recreate.
func (h *EgressAdminHandler) RecreateGroup(w http.ResponseWriter, r *http.Request) {
	instance := chi.URLParam(r, "instance")
	if instance == "" {
		writeError(w, http.StatusBadRequest, "instance required")
		return
	}
	if err := h.admin.RecreateGroup(r.Context(), instance); err != nil {
		h.logger.Error("egress group recreate failed", "instance", instance, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"instance": instance, "group": "recreated"})
}

type claimRequest struct {
	Consumer  string `json:"consumer"`
	MinIdleMS int64  `json:"min_idle_ms"`
}

// ClaimPending handles POST /admin/egress/{instance}/claim. The body is
// optional; without one the entries go to a synthetic rescue consumer.
func (h *EgressAdminHandler) ClaimPending(w http.ResponseWriter, r *http.Request) {
	instance := chi.URLParam(r, "instance")
	if instance == "" {
		writeError(w, http.StatusBadRequest, "instance required")
		return
	}

	req := claimRequest{Consumer: "admin-rescue"}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if req.Consumer == "" {
		req.Consumer = "admin-rescue"
	}
	minIdle := defaultClaimMinIdle
	if req.MinIdleMS > 0 {
		minIdle = time.Duration(req.MinIdleMS) * time.Millisecond
	}

	claimed, err := h.admin.ClaimPending(r.Context(), instance, req.Consumer, minIdle)
	if err != nil {
		h.logger.Error("egress bulk claim failed", "instance", instance, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instance": instance,
		"consumer": req.Consumer,
		"claimed":  claimed,
	})
}

// Health handles GET /admin/egress/{instance}/health.
func (h *EgressAdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	instance := chi.URLParam(r, "instance")
	if instance == "" {
		writeError(w, http.StatusBadRequest, "instance required")
		return
	}
	report, err := h.admin.Health(r.Context(), instance)
	if err != nil {
		h.logger.Error("egress health report failed", "instance", instance, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// PublishInstance handles POST /admin/instances: announce an added or
// removed WhatsApp instance so every worker process adjusts its consumers.
func (h *EgressAdminHandler) PublishInstance(w http.ResponseWriter, r *http.Request) {
	var evt whatsapp.InstanceEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if evt.InstanceName == "" {
		writeError(w, http.StatusBadRequest, "instance_name required")
		return
	}
	if evt.Action != "added" && evt.Action != "removed" {
		writeError(w, http.StatusBadRequest, "action must be added or removed")
		return
	}
	if err := whatsapp.PublishInstanceEvent(r.Context(), h.redis, evt); err != nil {
		h.logger.Error("instance event publish failed", "instance", evt.InstanceName, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"instance": evt.InstanceName,
		"action":   evt.Action,
	})
}
