package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"vm-request-platform/api/internal/projections"
	"vm-request-platform/api/internal/vmrequest"
	"vm-request-platform/shared/authx"
	"vm-request-platform/shared/httpx"
	"vm-request-platform/shared/waitx"
)

// VMRequestViews is the query surface the handler reads. Satisfied by
// *projections.VMRequestsRepo.
type VMRequestViews interface {
	FindByID(ctx context.Context, requestID uuid.UUID) (projections.VMRequestView, bool, error)
	FindByStatus(ctx context.Context, status vmrequest.Status, page int, size int) (projections.Page[projections.VMRequestView], error)
	FindByRequester(ctx context.Context, requesterID string, page int, size int) (projections.Page[projections.VMRequestView], error)
	List(ctx context.Context, page int, size int) (projections.Page[projections.VMRequestView], error)
}

type VMRequestsHandler struct {
	Service      *vmrequest.Service
	Views        VMRequestViews
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

func (h *VMRequestsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/vm-requests", h.create)
	mux.HandleFunc("GET /api/v1/vm-requests", h.list)
	mux.HandleFunc("GET /api/v1/vm-requests/{id}", h.get)
	mux.HandleFunc("POST /api/v1/vm-requests/{id}/approve", h.approve)
	mux.HandleFunc("POST /api/v1/vm-requests/{id}/reject", h.reject)
	mux.HandleFunc("POST /api/v1/vm-requests/{id}/cancel", h.cancel)
}

func actor(r *http.Request) string {
	if auth, ok := authx.FromContext(r.Context()); ok {
		return auth.Subject
	}
	return ""
}

type createRequestBody struct {
	Name       string `json:"name"`
	TemplateID string `json:"template_id"`
	CPUCores   int    `json:"cpu_cores"`
	MemoryMB   int    `json:"memory_mb"`
	DiskGB     int    `json:"disk_gb"`
	Reason     string `json:"reason"`
}

func (h *VMRequestsHandler) create(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "malformed request body", nil)
		return
	}
	if body.Name == "" || body.TemplateID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "name and template_id are required", nil)
		return
	}

	result, err := h.Service.Create(r.Context(), vmrequest.CreateCommand{
		RequesterID: actor(r),
		Spec: vmrequest.VMSpec{
			Name:       body.Name,
			TemplateID: body.TemplateID,
			CPUCores:   body.CPUCores,
			MemoryMB:   body.MemoryMB,
			DiskGB:     body.DiskGB,
		},
		Reason:        body.Reason,
		CorrelationID: httpx.CorrelationIDFromContext(r.Context()),
	})
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, result)
}

type approveBody struct {
	Comment         *string `json:"comment"`
	ExpectedVersion *int64  `json:"expected_version"`
}

func (h *VMRequestsHandler) approve(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r)
	if !ok {
		return
	}
	var body approveBody
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "malformed request body", nil)
			return
		}
	}

	result, err := h.Service.Approve(r.Context(), vmrequest.ApproveCommand{
		RequestID:       requestID,
		AdminID:         actor(r),
		Comment:         body.Comment,
		ExpectedVersion: body.ExpectedVersion,
		CorrelationID:   httpx.CorrelationIDFromContext(r.Context()),
	})
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

type rejectBody struct {
	Reason          string `json:"reason"`
	ExpectedVersion *int64 `json:"expected_version"`
}

func (h *VMRequestsHandler) reject(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r)
	if !ok {
		return
	}
	var body rejectBody
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "malformed request body", nil)
			return
		}
	}

	result, err := h.Service.Reject(r.Context(), vmrequest.RejectCommand{
		RequestID:       requestID,
		AdminID:         actor(r),
		Reason:          body.Reason,
		ExpectedVersion: body.ExpectedVersion,
		CorrelationID:   httpx.CorrelationIDFromContext(r.Context()),
	})
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *VMRequestsHandler) cancel(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.Service.Cancel(r.Context(), vmrequest.CancelCommand{
		RequestID:     requestID,
		CancelledBy:   actor(r),
		CorrelationID: httpx.CorrelationIDFromContext(r.Context()),
	})
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

// get serves the read model. With min_version the response is delayed via
// bounded polling until the projection catches up with a version the
// caller just wrote, or 404s after the wait budget. Without it the lookup
// is a single query: an absent row 404s immediately instead of burning the
// wait budget.
func (h *VMRequestsHandler) get(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r)
	if !ok {
		return
	}

	raw := r.URL.Query().Get("min_version")
	if raw == "" {
		view, found, err := h.Views.FindByID(r.Context(), requestID)
		if err != nil {
			writeCommandError(w, r, err)
			return
		}
		if !found {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, view)
		return
	}

	minVersion, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "malformed min_version", nil)
		return
	}

	view, err := waitx.Await(r.Context(), waitx.Options{
		Timeout:     h.WaitTimeout,
		Interval:    h.PollInterval,
		AggregateID: requestID.String(),
	}, func(ctx context.Context) (projections.VMRequestView, bool, error) {
		v, found, err := h.Views.FindByID(ctx, requestID)
		if err != nil {
			return projections.VMRequestView{}, false, err
		}
		return v, found && v.Version >= minVersion, nil
	})
	if err != nil {
		var timeout *waitx.TimeoutError
		if errors.As(err, &timeout) {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
			return
		}
		writeCommandError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *VMRequestsHandler) list(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)

	var (
		result projections.Page[projections.VMRequestView]
		err    error
	)
	switch {
	case r.URL.Query().Get("status") != "":
		status := vmrequest.NormalizeStatus(r.URL.Query().Get("status"))
		if !status.Valid() {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "unknown status", nil)
			return
		}
		result, err = h.Views.FindByStatus(r.Context(), status, page, size)
	case r.URL.Query().Get("requester_id") != "":
		result, err = h.Views.FindByRequester(r.Context(), r.URL.Query().Get("requester_id"), page, size)
	default:
		result, err = h.Views.List(r.Context(), page, size)
	}
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "malformed id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	return projections.Normalize(page, size)
}
