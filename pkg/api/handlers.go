package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fleetsim/fleetsim/pkg/device"
	"github.com/fleetsim/fleetsim/pkg/engine"
	"github.com/fleetsim/fleetsim/pkg/httputil"
	"github.com/fleetsim/fleetsim/pkg/model"
)

// decodeBody parses a JSON request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid JSON in request body")
		return false
	}
	return true
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.Stats()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:             "healthy",
		Version:            s.version,
		UptimeSeconds:      s.Uptime(),
		DeviceCount:        stats.TotalDevices,
		RunningDeviceCount: stats.RunningDevices,
	})
}

// handleReady handles GET /ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleListModels handles GET /api/v1/models.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Registry().List())
}

// handleGetModel handles GET /api/v1/models/{id}.
func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	m := s.manager.Registry().Get(r.PathValue("id"))
	if m == nil {
		writeError(w, http.StatusNotFound, "not_found", "model not found: "+r.PathValue("id"))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleRegisterModel handles POST /api/v1/models.
func (s *Server) handleRegisterModel(w http.ResponseWriter, r *http.Request) {
	var m model.DeviceModel
	if !decodeBody(w, r, &m) {
		return
	}
	if existing := s.manager.Registry().Get(m.ID); existing != nil {
		writeError(w, http.StatusConflict, "already_exists", "model already exists: "+m.ID)
		return
	}
	if err := s.manager.Registry().Register(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, &m)
}

// handleListDevices handles GET /api/v1/devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := engine.ListFilter{
		Status:  model.DeviceStatus(q.Get("status")),
		GroupID: q.Get("groupId"),
		ModelID: q.Get("modelId"),
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PageSize, _ = strconv.Atoi(q.Get("pageSize"))
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 1000 {
		filter.PageSize = 100
	}

	devices, total := s.manager.ListDevices(filter)
	items := make([]device.Snapshot, 0, len(devices))
	for _, dev := range devices {
		items = append(items, dev.Snapshot())
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:    items,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
		HasMore:  filter.Page*filter.PageSize < total,
	})
}

// handleCreateDevice handles POST /api/v1/devices.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req CreateDeviceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ModelID == "" {
		writeError(w, http.StatusBadRequest, "invalid_argument", "modelId is required")
		return
	}

	dev, err := s.manager.CreateDevice(req.ModelID, req.DeviceID, req.GroupID, req.OverrideConnection)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dev.Snapshot())
}

// handleGetDevice handles GET /api/v1/devices/{id}.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.manager.GetDevice(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev.Snapshot())
}

// handleDeleteDevice handles DELETE /api/v1/devices/{id}.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteDevice(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// handleStartDevice handles POST /api/v1/devices/{id}/start. A start failure
// surfaces as 500 with the device left in the error state.
func (s *Server) handleStartDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	dev, err := s.manager.GetDevice(deviceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := dev.Start(r.Context()); err != nil {
		if err == device.ErrNotStartable {
			writeDomainError(w, err)
			return
		}
		writeError(w, http.StatusInternalServerError, "connection_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dev.Snapshot())
}

// handleStopDevice handles POST /api/v1/devices/{id}/stop.
func (s *Server) handleStopDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.manager.GetDevice(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := dev.Stop(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev.Snapshot())
}

// handleDeviceMetrics handles GET /api/v1/devices/{id}/metrics.
func (s *Server) handleDeviceMetrics(w http.ResponseWriter, r *http.Request) {
	dev, err := s.manager.GetDevice(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev.Metrics())
}

// handleBindDevice handles POST /api/v1/devices/{id}/bind.
func (s *Server) handleBindDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	var req BindRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Config.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	webhookURL, err := s.manager.Bind(r.Context(), deviceID, req.Config)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	binding, _ := s.manager.BindingStatus(deviceID)
	writeJSON(w, http.StatusOK, BindResponse{
		DeviceID:   deviceID,
		Status:     "bound",
		Binding:    &binding,
		WebhookURL: webhookURL,
	})
}

// handleUnbindDevice handles POST /api/v1/devices/{id}/unbind.
func (s *Server) handleUnbindDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	if err := s.manager.Unbind(r.Context(), deviceID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BindResponse{DeviceID: deviceID, Status: "unbound"})
}

// handleGetBinding handles GET /api/v1/devices/{id}/binding.
func (s *Server) handleGetBinding(w http.ResponseWriter, r *http.Request) {
	binding, err := s.manager.BindingStatus(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, binding)
}

// handleCreateGroup handles POST /api/v1/groups.
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ModelID == "" {
		writeError(w, http.StatusBadRequest, "invalid_argument", "modelId is required")
		return
	}
	if req.Count < 1 || req.Count > 100000 {
		writeError(w, http.StatusBadRequest, "invalid_argument", "count must be between 1 and 100000")
		return
	}

	groupID, devices, err := s.manager.CreateGroup(r.Context(), req.ModelID, req.Count, req.GroupID, req.IDPattern, req.StaggerMs)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, GroupResponse{
		GroupID:        groupID,
		DeviceCount:    len(devices),
		DevicesCreated: len(devices),
		Status:         "created",
	})
}

// handleStartGroup handles POST /api/v1/groups/{id}/start. An optional JSON
// body carries a LaunchConfig; a staggerMs query parameter alone implies a
// linear launch.
func (s *Server) handleStartGroup(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	staggerMs, _ := strconv.Atoi(r.URL.Query().Get("staggerMs"))

	var launch *model.LaunchConfig
	if r.ContentLength > 0 {
		var cfg model.LaunchConfig
		if !decodeBody(w, r, &cfg) {
			return
		}
		launch = &cfg
	}

	started, err := s.manager.StartGroup(r.Context(), groupID, staggerMs, launch)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	size, _ := s.manager.GroupSize(groupID)
	writeJSON(w, http.StatusOK, GroupResponse{
		GroupID:        groupID,
		DeviceCount:    size,
		DevicesCreated: size,
		DevicesStarted: started,
		Status:         "started",
	})
}

// handleStopGroup handles POST /api/v1/groups/{id}/stop.
func (s *Server) handleStopGroup(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	stopped, err := s.manager.StopGroup(r.Context(), groupID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	size, _ := s.manager.GroupSize(groupID)
	writeJSON(w, http.StatusOK, GroupResponse{
		GroupID:        groupID,
		DeviceCount:    size,
		DevicesCreated: size,
		DevicesStopped: stopped,
		Status:         "stopped",
	})
}

// handleDeleteGroup handles DELETE /api/v1/groups/{id}.
func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if _, err := s.manager.DeleteGroup(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// handleDropout handles POST /api/v1/groups/{id}/dropout.
func (s *Server) handleDropout(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")

	var cfg model.DropoutConfig
	if !decodeBody(w, r, &cfg) {
		return
	}

	dropped, estimatedMs, err := s.manager.SimulateDropouts(r.Context(), groupID, cfg)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DropoutResponse{
		GroupID:             groupID,
		DevicesAffected:     dropped,
		DropoutStrategy:     string(cfg.Normalize().Strategy),
		Status:              "completed",
		EstimatedDurationMs: estimatedMs,
	})
}

// handleStats handles GET /api/v1/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.Stats()
	writeJSON(w, http.StatusOK, StatsResponse{
		TotalDevices:     stats.TotalDevices,
		RunningDevices:   stats.RunningDevices,
		RunningSimulated: stats.RunningSimulated,
		RunningPhysical:  stats.RunningPhysical,
		TotalGroups:      stats.TotalGroups,
		ActiveGroups:     stats.ActiveGroups,
		TotalModels:      stats.TotalModels,
		TotalMessages:    stats.TotalMessages,
		TotalBytes:       stats.TotalBytes,
	})
}

// handleWebhook handles POST /api/v1/webhooks/{id}: it routes one inbound
// payload to the proxy device bound to that id.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	handler := s.manager.Webhooks().Lookup(deviceID)
	if handler == nil {
		writeError(w, http.StatusNotFound, "not_found", "no webhook handler for device: "+deviceID)
		return
	}

	var payload map[string]any
	if !decodeBody(w, r, &payload) {
		return
	}

	handler(payload)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "accepted",
		"deviceId": deviceID,
	})
}
