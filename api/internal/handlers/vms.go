package handlers

import (
	"net/http"

	"vm-request-platform/api/internal/projections"
	"vm-request-platform/api/internal/vm"
	"vm-request-platform/shared/httpx"
)

type VMsHandler struct {
	Service *vm.Service
	Views   *projections.VMsRepo
}

func (h *VMsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/vms", h.list)
	mux.HandleFunc("GET /api/v1/vms/{id}", h.get)
	mux.HandleFunc("POST /api/v1/vms/{id}/start", h.start)
	mux.HandleFunc("POST /api/v1/vms/{id}/stop", h.stop)
	mux.HandleFunc("DELETE /api/v1/vms/{id}", h.remove)
}

func (h *VMsHandler) list(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)
	result, err := h.Views.List(r.Context(), page, size)
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *VMsHandler) get(w http.ResponseWriter, r *http.Request) {
	vmID, ok := pathID(w, r)
	if !ok {
		return
	}
	view, found, err := h.Views.FindByID(r.Context(), vmID)
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	if !found {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *VMsHandler) start(w http.ResponseWriter, r *http.Request) {
	vmID, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.Service.Start(r.Context(), vm.StartCommand{
		VMID:          vmID,
		StartedBy:     actor(r),
		CorrelationID: httpx.CorrelationIDFromContext(r.Context()),
	})
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *VMsHandler) stop(w http.ResponseWriter, r *http.Request) {
	vmID, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.Service.Stop(r.Context(), vm.StopCommand{
		VMID:          vmID,
		StoppedBy:     actor(r),
		CorrelationID: httpx.CorrelationIDFromContext(r.Context()),
	})
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *VMsHandler) remove(w http.ResponseWriter, r *http.Request) {
	vmID, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.Service.Delete(r.Context(), vm.DeleteCommand{
		VMID:          vmID,
		DeletedBy:     actor(r),
		CorrelationID: httpx.CorrelationIDFromContext(r.Context()),
	})
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}
