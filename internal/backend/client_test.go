package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/readiness-wizard/internal/domain"
)

func TestFetchReferenceData(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodGet || r.URL.Path != "/api/roles-departments" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hierarchical":[{"id":1,"name":"Engineering","children":[{"id":2,"name":"Platform","parentId":1}]}],"roles":[{"id":7,"title":"Engineer","departmentId":2}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	ref, err := c.FetchReferenceData(context.Background())
	if err != nil {
		t.Fatalf("FetchReferenceData failed: %v", err)
	}
	if len(ref.Hierarchical) != 1 || len(ref.Hierarchical[0].Children) != 1 {
		t.Fatalf("unexpected hierarchy: %+v", ref.Hierarchical)
	}
	if len(ref.Roles) != 1 || ref.Roles[0].Title != "Engineer" || *ref.Roles[0].DepartmentID != 2 {
		t.Fatalf("unexpected roles: %+v", ref.Roles)
	}

	if _, err := c.FetchReferenceData(context.Background()); err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected cached second fetch, server saw %d calls", got)
	}
}

func TestFetchReferenceData_EmptyListsAreNotNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ref, err := NewClient(srv.URL, time.Second).FetchReferenceData(context.Background())
	if err != nil {
		t.Fatalf("FetchReferenceData failed: %v", err)
	}
	if ref.Hierarchical == nil || ref.Roles == nil {
		t.Errorf("expected empty, non-nil lists, got %+v", ref)
	}
}

func TestFetchReferenceData_ConcurrentCallersShareRequest(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"hierarchical":[],"roles":[{"id":1,"title":"Analyst"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.FetchReferenceData(context.Background())
			errs <- err
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("fetch failed: %v", err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected one upstream request, got %d", got)
	}
}

func TestFetchReferenceData_RefetchesAfterTTL(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"hierarchical":[],"roles":[]}`))
	}))
	defer srv.Close()

	now := time.Now()
	c := NewClient(srv.URL, time.Second, WithReferenceTTL(time.Minute))
	c.now = func() time.Time { return now }

	_, _ = c.FetchReferenceData(context.Background())
	now = now.Add(2 * time.Minute)
	_, _ = c.FetchReferenceData(context.Background())

	if got := calls.Load(); got != 2 {
		t.Errorf("expected refetch after ttl, got %d calls", got)
	}
}

func TestFetchReferenceData_ErrorIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"database offline"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).FetchReferenceData(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusServiceUnavailable || apiErr.Message != "database offline" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
	if want := "fetch reference data: assessment api: 503 database offline"; err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestCreateAssessment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/assessments" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %q", ct)
		}
		var in AssessmentInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if in.Title != "Q1" || in.StepData["basics"]["companyName"] != "Acme" {
			t.Errorf("unexpected body: %+v", in)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"asmt-1","title":"Q1","status":"draft"}`))
	}))
	defer srv.Close()

	a, err := NewClient(srv.URL, time.Second).CreateAssessment(context.Background(), AssessmentInput{
		Title:    "Q1",
		StepData: map[string]domain.StepData{"basics": {"companyName": "Acme"}},
	})
	if err != nil {
		t.Fatalf("CreateAssessment failed: %v", err)
	}
	if a.ID != "asmt-1" || a.Status != "draft" {
		t.Errorf("unexpected assessment: %+v", a)
	}
}

func TestUpdateAssessmentStep(t *testing.T) {
	var got StepUpdate
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/assessments/asmt-1/step" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, time.Second).UpdateAssessmentStep(context.Background(), "asmt-1", StepUpdate{
		Step:      "adoption",
		StepIndex: 5,
		Data:      domain.StepData{"changeReadiness": 6},
	})
	if err != nil {
		t.Fatalf("UpdateAssessmentStep failed: %v", err)
	}
	if got.Step != "adoption" || got.StepIndex != 5 || got.Data["changeReadiness"] != float64(6) {
		t.Errorf("unexpected update: %+v", got)
	}
}

func TestGenerateReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/reports/assessment/asmt-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":"rep-9"}`))
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL, time.Second).GenerateReport(context.Background(), "asmt-1")
	if err != nil {
		t.Fatalf("GenerateReport failed: %v", err)
	}
	if id != "rep-9" {
		t.Errorf("expected rep-9, got %q", id)
	}
}

func TestGenerateReport_MissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, time.Second).GenerateReport(context.Background(), "asmt-1"); err == nil {
		t.Fatal("expected error for response without id")
	}
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 20*time.Millisecond).GenerateReport(context.Background(), "asmt-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestErrorMessage_FallsBackToText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).CreateAssessment(context.Background(), AssessmentInput{Title: "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "bad gateway" {
		t.Errorf("expected text message, got %v", err)
	}
}
