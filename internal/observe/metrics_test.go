package observe_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/echovoice/echo/internal/observe"
)

func TestNewMetricsCreatesAllInstruments(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.EventsIngested == nil || m.EventsDropped == nil ||
		m.NarrationsEmitted == nil || m.Playbacks == nil ||
		m.ResponsesDispatched == nil {
		t.Error("counter instrument not initialised")
	}
	if m.TTSDuration == nil || m.STTDuration == nil ||
		m.LLMDuration == nil || m.HTTPRequestDuration == nil {
		t.Error("histogram instrument not initialised")
	}
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	if observe.DefaultMetrics() != observe.DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}

func TestMiddlewareRecordsAndPassesThrough(t *testing.T) {
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	handler := observe.Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want passthrough 418", rec.Code)
	}
}
