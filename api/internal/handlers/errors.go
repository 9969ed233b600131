// Package handlers exposes the command and query surface over HTTP. Routes
// assume the auth and tenant middleware already ran: every request context
// carries a verified identity and a bound tenant.
package handlers

import (
	"errors"
	"net/http"

	"vm-request-platform/api/internal/es"
	"vm-request-platform/api/internal/vm"
	"vm-request-platform/api/internal/vmrequest"
	"vm-request-platform/shared/httpx"
)

// writeCommandError maps the command error taxonomy onto HTTP. Not-found
// and cross-tenant access render identically upstream of this function
// already; conflicts and invalid states carry enough detail to retry.
func writeCommandError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		requestNotFound *vmrequest.NotFoundError
		vmNotFound      *vm.NotFoundError
		forbidden       *vmrequest.ForbiddenError
		invalidRequest  *vmrequest.InvalidStateError
		invalidVM       *vm.InvalidStateError
		conflict        *es.ConflictError
		storage         *es.StorageError
	)
	switch {
	case errors.As(err, &requestNotFound), errors.As(err, &vmNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	case errors.As(err, &forbidden):
		httpx.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", forbidden.Reason, nil)
	case errors.As(err, &invalidRequest):
		httpx.WriteError(w, r, http.StatusConflict, "INVALID_STATE", "command not valid in current state",
			map[string]any{"current_state": invalidRequest.Current})
	case errors.As(err, &invalidVM):
		httpx.WriteError(w, r, http.StatusConflict, "INVALID_STATE", "command not valid in current state",
			map[string]any{"current_state": invalidVM.Current})
	case errors.As(err, &conflict):
		httpx.WriteError(w, r, http.StatusConflict, "CONCURRENCY_CONFLICT", "version conflict, reload and retry",
			map[string]any{"expected_version": conflict.ExpectedVersion, "actual_version": conflict.ActualVersion})
	case errors.Is(err, es.ErrTenantNotBound):
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "missing tenant", nil)
	case errors.As(err, &storage):
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "persistence failure", nil)
	default:
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "unexpected error", nil)
	}
}
