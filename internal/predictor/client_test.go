package predictor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dermatrack/api/config"
)

func newTestClient(url string) *Client {
	return NewClient(config.PredictorConfig{URL: url, Timeout: 5 * time.Second}, zap.NewNop())
}

func TestClassify_Success(t *testing.T) {
	var gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predict" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("missing image field: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotFilename = header.Filename
		if _, err := io.Copy(io.Discard, file); err != nil {
			t.Errorf("reading image: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"prediction": "Malignant"}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Classify(context.Background(), "lesion.png", strings.NewReader("pixels"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Malignant" {
		t.Errorf("expected prediction Malignant, got %q", got)
	}
	if gotFilename != "lesion.png" {
		t.Errorf("expected filename lesion.png, got %q", gotFilename)
	}
}

func TestClassify_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Classify(context.Background(), "a.png", strings.NewReader("x"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClassify_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Classify(context.Background(), "a.png", strings.NewReader("x"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClassify_EmptyPrediction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"prediction": ""}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Classify(context.Background(), "a.png", strings.NewReader("x"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClassify_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).Classify(context.Background(), "a.png", strings.NewReader("x"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
