package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware("test"))
	r.Get("/api/records/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("test", http.MethodGet, "/api/records/{id}", "404"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/records/42", nil))

	after := testutil.ToFloat64(RequestsTotal.WithLabelValues("test", http.MethodGet, "/api/records/{id}", "404"))
	if after-before != 1 {
		t.Fatalf("want one request recorded, got %v", after-before)
	}
}

func TestObserveJob(t *testing.T) {
	before := testutil.ToFloat64(JobsTotal.WithLabelValues("completed"))
	ObserveJob("completed", 20*time.Millisecond)
	if got := testutil.ToFloat64(JobsTotal.WithLabelValues("completed")); got-before != 1 {
		t.Fatalf("want counter incremented, got delta %v", got-before)
	}
}
