package transcriber

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"ewintr.nl/scribe/model"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testEngine(t *testing.T, maxUpload int64, handler http.Handler) *OpenAI {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewOpenAI(Config{
		APIKey:         "test-key",
		BaseURL:        server.URL + "/v1",
		MaxUploadBytes: maxUpload,
	}, discard)
}

func audioArtifact(t *testing.T, name string, size int) *model.AudioArtifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}

	return model.NewAudioArtifact(path, 0, "test audio", func() {})
}

func TestTranscribe(t *testing.T) {
	var gotLanguage, gotModel string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("exp transcription path, got %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Fatal(err)
		}
		gotLanguage = r.FormValue("language")
		gotModel = r.FormValue("model")

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"task": "transcribe",
			"language": "english",
			"duration": 7.5,
			"segments": [
				{"id": 0, "start": 0, "end": 2.5, "text": " hello"},
				{"id": 1, "start": 2.5, "end": 5, "text": " big"},
				{"id": 2, "start": 5, "end": 7.5, "text": " world"}
			],
			"text": "hello big world"
		}`)
	})
	engine := testEngine(t, 0, handler)

	transcript, err := engine.Transcribe(context.Background(), audioArtifact(t, "sound.mp3", 100), Options{Language: "en"})
	if err != nil {
		t.Fatalf("exp no error, got %v", err)
	}

	if gotModel != "whisper-1" {
		t.Errorf("exp whisper-1, got %q", gotModel)
	}
	if gotLanguage != "en" {
		t.Errorf("exp language to be forwarded, got %q", gotLanguage)
	}
	if len(transcript.Segments) != 3 {
		t.Fatalf("exp 3 segments, got %d", len(transcript.Segments))
	}
	if transcript.Text != "hello big world" {
		t.Errorf("exp rebuilt text, got %q", transcript.Text)
	}
	if transcript.Language != "english" {
		t.Errorf("exp language, got %q", transcript.Language)
	}
	if transcript.Duration != 7.5 {
		t.Errorf("exp duration 7.5, got %v", transcript.Duration)
	}
	if transcript.Segments[1].Start != 2.5 || transcript.Segments[1].End != 5 {
		t.Errorf("exp segment timestamps to survive, got %+v", transcript.Segments[1])
	}
}

func TestTranscribeSynthesizesSegment(t *testing.T) {
	for _, tc := range []struct {
		name     string
		duration float64
		expEnd   float64
	}{
		{name: "engine knows the duration", duration: 42.5, expEnd: 42.5},
		{name: "engine does not", duration: 0, expEnd: 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprintf(w, `{"task":"transcribe","language":"english","duration":%g,"segments":[],"text":" all in one piece "}`, tc.duration)
			})
			engine := testEngine(t, 0, handler)

			transcript, err := engine.Transcribe(context.Background(), audioArtifact(t, "sound.mp3", 100), Options{})
			if err != nil {
				t.Fatalf("exp no error, got %v", err)
			}
			if len(transcript.Segments) != 1 {
				t.Fatalf("exp 1 synthesized segment, got %d", len(transcript.Segments))
			}
			seg := transcript.Segments[0]
			if seg.Start != 0 || seg.End != tc.expEnd {
				t.Errorf("exp segment 0..%g, got %g..%g", tc.expEnd, seg.Start, seg.End)
			}
			if seg.Text != "all in one piece" || transcript.Text != seg.Text {
				t.Errorf("exp trimmed text in segment and full text, got %q / %q", seg.Text, transcript.Text)
			}
		})
	}
}

func TestTranscribeTruncates(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"task": "transcribe",
			"language": "english",
			"duration": 90,
			"segments": [
				{"id": 0, "start": 0, "end": 30, "text": " first"},
				{"id": 1, "start": 30, "end": 60, "text": " second"},
				{"id": 2, "start": 60, "end": 90, "text": " third"}
			],
			"text": "first second third"
		}`)
	})
	engine := testEngine(t, 0, handler)

	transcript, err := engine.Transcribe(context.Background(), audioArtifact(t, "sound.mp3", 100), Options{MaxDuration: 45})
	if err != nil {
		t.Fatalf("exp no error, got %v", err)
	}
	if len(transcript.Segments) != 2 {
		t.Fatalf("exp 2 segments after truncation, got %d", len(transcript.Segments))
	}
	if transcript.Text != "first second" {
		t.Errorf("exp truncated text, got %q", transcript.Text)
	}
	if end := transcript.Segments[1].End; end != 45 {
		t.Errorf("exp clamped end 45, got %v", end)
	}
}

func TestTranscribeErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		status  int
		expKind model.Kind
	}{
		{name: "bad key", status: http.StatusUnauthorized, expKind: model.KindInvalidCredentials},
		{name: "engine quota", status: http.StatusTooManyRequests, expKind: model.KindEngineQuotaExceeded},
		{name: "too large", status: http.StatusRequestEntityTooLarge, expKind: model.KindFileTooLarge},
		{name: "bad request", status: http.StatusBadRequest, expKind: model.KindUnsupportedFormat},
		{name: "engine broke", status: http.StatusInternalServerError, expKind: model.KindTranscriptionFailed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				fmt.Fprint(w, `{"error":{"message":"nope","type":"invalid_request_error"}}`)
			})
			engine := testEngine(t, 0, handler)

			_, err := engine.Transcribe(context.Background(), audioArtifact(t, "sound.mp3", 100), Options{})
			if err == nil {
				t.Fatal("exp an error")
			}
			if got := model.KindOf(err); got != tc.expKind {
				t.Errorf("exp kind %q, got %q", tc.expKind, got)
			}
		})
	}
}

func TestTranscribePrechecks(t *testing.T) {
	var hits int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	})

	t.Run("file too large", func(t *testing.T) {
		engine := testEngine(t, 64, handler)

		_, err := engine.Transcribe(context.Background(), audioArtifact(t, "sound.mp3", 200), Options{})
		if got := model.KindOf(err); got != model.KindFileTooLarge {
			t.Errorf("exp kind %q, got %q", model.KindFileTooLarge, got)
		}
	})

	t.Run("extension not allowed", func(t *testing.T) {
		engine := testEngine(t, 0, handler)

		_, err := engine.Transcribe(context.Background(), audioArtifact(t, "sound.aac", 100), Options{})
		if got := model.KindOf(err); got != model.KindUnsupportedFormat {
			t.Errorf("exp kind %q, got %q", model.KindUnsupportedFormat, got)
		}
	})

	if hits != 0 {
		t.Errorf("exp prechecks to fail before any request, got %d requests", hits)
	}
}

func TestAvailable(t *testing.T) {
	t.Run("up", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/models" {
				t.Errorf("exp models path, got %q", r.URL.Path)
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"object":"list","data":[{"id":"whisper-1","object":"model"}]}`)
		})
		engine := testEngine(t, 0, handler)

		if !engine.Available(context.Background()) {
			t.Error("exp available")
		}
	})

	t.Run("down", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		engine := testEngine(t, 0, handler)

		if engine.Available(context.Background()) {
			t.Error("exp not available")
		}
	})
}
