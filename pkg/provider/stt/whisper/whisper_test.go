package whisper_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/echovoice/echo/pkg/audio"
	"github.com/echovoice/echo/pkg/provider/stt/whisper"
)

// newServer wires a fake whisper.cpp server answering GET / (reachability)
// and POST /inference with the given transcript.
func newServer(t *testing.T, transcript string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "whisper server")
	})
	mux.HandleFunc("POST /inference", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		if hdr.Filename != "audio.wav" {
			t.Errorf("filename = %q, want audio.wav", hdr.Filename)
		}
		data, _ := io.ReadAll(f)
		if len(data) < 44 || string(data[0:4]) != "RIFF" {
			t.Error("uploaded file is not a WAV container")
		}
		if lang := r.FormValue("language"); lang != "en" {
			t.Errorf("language = %q, want en", lang)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": transcript})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestTranscribe(t *testing.T) {
	srv := newServer(t, "  yes allow it  ")

	p := whisper.New(srv.URL)
	wav := audio.EncodeWAV(make([]byte, 3200), 16000)
	got, err := p.Transcribe(context.Background(), wav)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "yes allow it" {
		t.Errorf("transcript = %q, want trimmed %q", got, "yes allow it")
	}
}

func TestEmptyServerURLDisablesProvider(t *testing.T) {
	p := whisper.New("")
	if p.Available(context.Background()) {
		t.Error("Available = true without a server URL")
	}
	text, err := p.Transcribe(context.Background(), nil)
	if err != nil || text != "" {
		t.Errorf("Transcribe = (%q, %v), want (\"\", nil)", text, err)
	}
}

func TestUnreachableServer(t *testing.T) {
	srv := newServer(t, "hi")
	url := srv.URL
	srv.Close()

	p := whisper.New(url)
	if p.Available(context.Background()) {
		t.Error("Available = true against a closed server")
	}
	text, err := p.Transcribe(context.Background(), nil)
	if err != nil || text != "" {
		t.Errorf("Transcribe = (%q, %v), want silent nil result", text, err)
	}
}

func TestName(t *testing.T) {
	if got := whisper.New("http://localhost:8080").Name(); got != "whisper" {
		t.Errorf("Name = %q", got)
	}
}
