package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aozora-works/kousei-engine/pkg/types"
)

func TestIsAvailable(t *testing.T) {
	t.Run("live engine", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/healthz" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		if !New(srv.URL).IsAvailable(context.Background()) {
			t.Error("live engine reported unavailable")
		}
	})

	t.Run("nothing listening", func(t *testing.T) {
		if New("http://127.0.0.1:1").IsAvailable(context.Background()) {
			t.Error("dead address reported available")
		}
	})
}

func TestModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"data": []types.ModelInfo{
				{ID: "m1", Status: types.StatusReady},
				{ID: "m2", Status: types.StatusNotDownloaded},
			},
		})
	}))
	defer srv.Close()

	models, err := New(srv.URL).Models(context.Background())
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if len(models) != 2 || models[0].ID != "m1" || models[0].Status != types.StatusReady {
		t.Errorf("unexpected models: %+v", models)
	}
}

func TestInfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req types.InferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Prompt != "校正" || req.MaxTokens != 64 {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"data":   types.InferResult{ID: "r1", Text: "done", TokenCount: 12},
		})
	}))
	defer srv.Close()

	res, err := New(srv.URL).Infer(context.Background(), types.InferRequest{Prompt: "校正", MaxTokens: 64})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if res.Text != "done" || res.TokenCount != 12 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestErrorKindSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{
			"message": "hash verification failed",
			"kind":    "integrity",
		})
	}))
	defer srv.Close()

	err := New(srv.URL).Download(context.Background(), "m1")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "engine error (integrity): hash verification failed" {
		t.Errorf("unexpected error text: %s", got)
	}
}

func TestDownloadWithProgress(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/models/m1/progress", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, p := range []int{25, 50, 100} {
			data, _ := json.Marshal(types.DownloadProgressEvent{ModelID: "m1", Percent: p})
			w.Write([]byte("data: " + string(data) + "\n\n"))
			flusher.Flush()
		}
	})
	downloadDone := make(chan struct{})
	mux.HandleFunc("/api/v1/models/m1/download", func(w http.ResponseWriter, r *http.Request) {
		<-downloadDone
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var got []int
	progressSeen := make(chan struct{})
	go func() {
		// Let the progress stream deliver before the download call returns.
		<-progressSeen
		close(downloadDone)
	}()

	err := New(srv.URL).DownloadWithProgress(context.Background(), "m1", func(ev types.DownloadProgressEvent) {
		got = append(got, ev.Percent)
		if ev.Percent == 100 {
			close(progressSeen)
		}
	})
	if err != nil {
		t.Fatalf("DownloadWithProgress: %v", err)
	}
	if len(got) != 3 || got[2] != 100 {
		t.Errorf("unexpected progress: %v", got)
	}
}

func TestUnavailableStub(t *testing.T) {
	var c EngineClient = NewUnavailable()
	ctx := context.Background()

	if c.IsAvailable(ctx) {
		t.Error("stub reported available")
	}
	if _, err := c.Models(ctx); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("Models: expected ErrEngineUnavailable, got %v", err)
	}
	if err := c.Download(ctx, "m"); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("Download: expected ErrEngineUnavailable, got %v", err)
	}
	if _, err := c.Infer(ctx, types.InferRequest{Prompt: "p"}); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("Infer: expected ErrEngineUnavailable, got %v", err)
	}
	if err := c.Load(ctx, "m"); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("Load: expected ErrEngineUnavailable, got %v", err)
	}
}
