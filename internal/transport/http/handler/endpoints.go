package handler

import (
	"encoding/json"
	"net/http"

	"github.com/concert-notifier/internal/application/registration"
	"github.com/concert-notifier/internal/domain"
)

// EndpointHandler registers and removes device push endpoints.
type EndpointHandler struct {
	svc registration.Service
}

func NewEndpointHandler(svc registration.Service) *EndpointHandler {
	return &EndpointHandler{svc: svc}
}

func (h *EndpointHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ep, err := h.svc.Register(r.Context(), req)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, EndpointEnvelope{Endpoint: ep})
}

func (h *EndpointHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	var req domain.UnregisterEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.Unregister(r.Context(), req); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EndpointEnvelope{Message: "endpoint removed"})
}
