package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestMiddlewareLabelsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/kyc/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/kyc/documents/abc", nil))

	want := `xamila_http_requests_total{method="GET",route="/kyc/documents/{id}",status="404"} 1`
	if body := scrape(t); !strings.Contains(body, want) {
		t.Fatalf("expected %q in exposition", want)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveVerification("mock", "document", errors.New("x"), time.Now())
	OTPIssued.WithLabelValues("registration").Inc()

	body := scrape(t)
	for _, name := range []string{"xamila_otp_issued_total", "xamila_kyc_verification_duration_seconds"} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in exposition", name)
		}
	}
}
