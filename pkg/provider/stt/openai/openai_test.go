package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/echovoice/echo/pkg/provider/stt/openai"
)

// fakeAPI serves the two endpoints the provider touches: the models listing
// used as a health probe and the transcription upload.
type fakeAPI struct {
	srv        *httptest.Server
	probes     atomic.Int64
	transcript string
	probeFail  atomic.Bool
}

func newFakeAPI(t *testing.T, transcript string) *fakeAPI {
	t.Helper()
	f := &fakeAPI{transcript: transcript}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		f.probes.Add(1)
		// 401 is not retried by the client, keeping probe counts exact.
		if f.probeFail.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": []any{}})
	})
	mux.HandleFunc("POST /v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		file.Close()
		if r.FormValue("model") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"text": f.transcript})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func TestTranscribeTrimsResult(t *testing.T) {
	api := newFakeAPI(t, "  option two \n")
	p := openai.New("sk-test", openai.WithBaseURL(api.srv.URL))

	text, err := p.Transcribe(context.Background(), []byte("RIFFfakewav"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "option two" {
		t.Errorf("text = %q, want %q", text, "option two")
	}
}

func TestNoAPIKeyDisablesProvider(t *testing.T) {
	api := newFakeAPI(t, "unused")
	p := openai.New("", openai.WithBaseURL(api.srv.URL))

	if p.Available(context.Background()) {
		t.Error("Available = true without an API key")
	}
	text, err := p.Transcribe(context.Background(), []byte("wav"))
	if err != nil || text != "" {
		t.Errorf("Transcribe = (%q, %v), want silent empty result", text, err)
	}
	if api.probes.Load() != 0 {
		t.Errorf("probed %d times without a key, want 0", api.probes.Load())
	}
}

func TestAvailabilityIsCachedWhileHealthy(t *testing.T) {
	api := newFakeAPI(t, "ok")
	p := openai.New("sk-test", openai.WithBaseURL(api.srv.URL))

	for i := 0; i < 3; i++ {
		if !p.Available(context.Background()) {
			t.Fatalf("Available = false on call %d", i+1)
		}
	}
	if got := api.probes.Load(); got != 1 {
		t.Errorf("probed %d times while healthy, want 1", got)
	}
}

func TestRecheckIntervalWhileDown(t *testing.T) {
	api := newFakeAPI(t, "ok")
	api.probeFail.Store(true)
	p := openai.New("sk-test",
		openai.WithBaseURL(api.srv.URL),
		openai.WithRecheckInterval(50*time.Millisecond))

	if p.Available(context.Background()) {
		t.Fatal("Available = true while the API is failing")
	}
	if p.Available(context.Background()) {
		t.Fatal("Available = true inside the recheck interval")
	}
	if got := api.probes.Load(); got != 1 {
		t.Fatalf("probed %d times inside the interval, want 1", got)
	}

	api.probeFail.Store(false)
	time.Sleep(60 * time.Millisecond)
	if !p.Available(context.Background()) {
		t.Error("Available = false after recovery and interval expiry")
	}
	if got := api.probes.Load(); got != 2 {
		t.Errorf("probed %d times after recovery, want 2", got)
	}
}

func TestName(t *testing.T) {
	p := openai.New("")
	if p.Name() != "openai" {
		t.Errorf("Name = %q, want openai", p.Name())
	}
}
