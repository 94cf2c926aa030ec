package faceenc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/missing-persons/internal/config"
)

func TestRemoteEncoder_PicksHighestScore(t *testing.T) {
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotContentType = header.Header.Get("Content-Type")
		io.Copy(io.Discard, file)

		json.NewEncoder(w).Encode(map[string]any{
			"faces_count": 2,
			"model":       "buffalo_l",
			"faces": []map[string]any{
				{"face_index": 0, "dim": 3, "embedding": []float32{1, 1, 1}, "det_score": 0.4},
				{"face_index": 1, "dim": 3, "embedding": []float32{2, 2, 2}, "det_score": 0.9},
			},
		})
	}))
	defer server.Close()

	enc := NewRemoteEncoder(server.URL + "/")
	if enc.Name() != "remote" {
		t.Errorf("Name() before first request = %q, want remote", enc.Name())
	}
	got, err := enc.Encode(context.Background(), []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(got) != 3 || got[0] != 2 {
		t.Errorf("expected embedding of the best face, got %v", got)
	}
	if gotContentType != "image/jpeg" {
		t.Errorf("expected image/jpeg part, got %q", gotContentType)
	}
	if enc.Name() != "remote:buffalo_l" {
		t.Errorf("Name() = %q, want remote:buffalo_l", enc.Name())
	}
}

func TestRemoteEncoder_NoFace(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"faces_count": 0, "faces": [], "model": "buffalo_l"}`))
	}))
	defer server.Close()

	_, err := NewRemoteEncoder(server.URL).Encode(context.Background(), []byte("jpeg"))
	if !errors.Is(err, ErrNoFace) {
		t.Errorf("expected ErrNoFace, got %v", err)
	}
}

func TestRemoteEncoder_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewRemoteEncoder(server.URL).Encode(context.Background(), []byte("jpeg"))
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("expected status error, got %v", err)
	}
	if errors.Is(err, ErrNoFace) {
		t.Error("server errors must not look like a missing face")
	}
}

func TestNew(t *testing.T) {
	enc, err := New(&config.FaceConfig{Encoder: "remote", URL: "http://encoder:8000"})
	if err != nil {
		t.Fatalf("New(remote) error = %v", err)
	}
	if enc.Name() != "remote" {
		t.Errorf("expected remote encoder, got %s", enc.Name())
	}

	if _, err := New(&config.FaceConfig{Encoder: "magic"}); err == nil {
		t.Error("expected error for unknown encoder")
	}
}
