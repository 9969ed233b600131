package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"vm-request-platform/api/internal/projections"
	"vm-request-platform/api/internal/vmrequest"
)

// stubViews serves one view after a configurable number of misses and
// counts FindByID calls.
type stubViews struct {
	view      projections.VMRequestView
	available bool
	missFirst int
	calls     int
}

func (s *stubViews) FindByID(_ context.Context, _ uuid.UUID) (projections.VMRequestView, bool, error) {
	s.calls++
	if !s.available || s.calls <= s.missFirst {
		return projections.VMRequestView{}, false, nil
	}
	return s.view, true, nil
}

func (s *stubViews) FindByStatus(context.Context, vmrequest.Status, int, int) (projections.Page[projections.VMRequestView], error) {
	return projections.Page[projections.VMRequestView]{}, nil
}

func (s *stubViews) FindByRequester(context.Context, string, int, int) (projections.Page[projections.VMRequestView], error) {
	return projections.Page[projections.VMRequestView]{}, nil
}

func (s *stubViews) List(context.Context, int, int) (projections.Page[projections.VMRequestView], error) {
	return projections.Page[projections.VMRequestView]{}, nil
}

func newGetTestServer(views *stubViews) *http.ServeMux {
	mux := http.NewServeMux()
	h := &VMRequestsHandler{
		Views:        views,
		WaitTimeout:  200 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}
	h.Register(mux)
	return mux
}

func TestGetWithoutMinVersionQueriesOnce(t *testing.T) {
	views := &stubViews{}
	mux := newGetTestServer(views)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/vm-requests/"+uuid.NewString(), nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if views.calls != 1 {
		t.Fatalf("absent row without min_version queried %d times, want 1", views.calls)
	}
}

func TestGetWithMinVersionPollsUntilVisible(t *testing.T) {
	requestID := uuid.New()
	views := &stubViews{
		view:      projections.VMRequestView{RequestID: requestID, Status: "APPROVED", Version: 2},
		available: true,
		missFirst: 2,
	}
	mux := newGetTestServer(views)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/vm-requests/"+requestID.String()+"?min_version=2", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if views.calls < 3 {
		t.Fatalf("expected polling past the misses, got %d calls", views.calls)
	}
	var got projections.VMRequestView
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Version != 2 || got.RequestID != requestID {
		t.Fatalf("unexpected view: %+v", got)
	}
}

func TestGetWithMinVersionTimesOutAsNotFound(t *testing.T) {
	views := &stubViews{}
	mux := newGetTestServer(views)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/vm-requests/"+uuid.NewString()+"?min_version=1", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if views.calls < 2 {
		t.Fatalf("wait path should poll, got %d calls", views.calls)
	}
}

func TestGetRejectsMalformedMinVersion(t *testing.T) {
	views := &stubViews{}
	mux := newGetTestServer(views)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/vm-requests/"+uuid.NewString()+"?min_version=abc", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if views.calls != 0 {
		t.Fatalf("malformed min_version reached the store: %d calls", views.calls)
	}
}
