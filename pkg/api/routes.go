// Route registration for the control API.

package api

import "net/http"

// registerRoutes sets up all API routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health and exposition
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	if s.expo != nil {
		mux.Handle("GET /metrics", s.expo.Handler())
	}

	// Device models
	mux.HandleFunc("GET /api/v1/models", s.handleListModels)
	mux.HandleFunc("POST /api/v1/models", s.handleRegisterModel)
	mux.HandleFunc("GET /api/v1/models/{id}", s.handleGetModel)

	// Devices
	mux.HandleFunc("GET /api/v1/devices", s.handleListDevices)
	mux.HandleFunc("POST /api/v1/devices", s.handleCreateDevice)
	mux.HandleFunc("GET /api/v1/devices/{id}", s.handleGetDevice)
	mux.HandleFunc("DELETE /api/v1/devices/{id}", s.handleDeleteDevice)
	mux.HandleFunc("POST /api/v1/devices/{id}/start", s.handleStartDevice)
	mux.HandleFunc("POST /api/v1/devices/{id}/stop", s.handleStopDevice)
	mux.HandleFunc("GET /api/v1/devices/{id}/metrics", s.handleDeviceMetrics)

	// Proxy device bindings
	mux.HandleFunc("POST /api/v1/devices/{id}/bind", s.handleBindDevice)
	mux.HandleFunc("POST /api/v1/devices/{id}/unbind", s.handleUnbindDevice)
	mux.HandleFunc("GET /api/v1/devices/{id}/binding", s.handleGetBinding)

	// Groups
	mux.HandleFunc("POST /api/v1/groups", s.handleCreateGroup)
	mux.HandleFunc("POST /api/v1/groups/{id}/start", s.handleStartGroup)
	mux.HandleFunc("POST /api/v1/groups/{id}/stop", s.handleStopGroup)
	mux.HandleFunc("DELETE /api/v1/groups/{id}", s.handleDeleteGroup)
	mux.HandleFunc("POST /api/v1/groups/{id}/dropout", s.handleDropout)

	// Stats
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)

	// Inbound webhooks for HTTP-bound proxy devices
	mux.HandleFunc("POST /api/v1/webhooks/{id}", s.handleWebhook)
}
