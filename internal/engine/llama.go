package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/aozora-works/kousei-engine/internal/config"
)

const (
	llamaContextSize = 4096
	llamaReadyPolls  = 240
	llamaPollEvery   = 500 * time.Millisecond
)

// llamaRuntime hosts one model at a time in a llama-server subprocess and
// talks to it over loopback HTTP. The subprocess is the "native handle":
// killing it is how the model's memory is reclaimed.
type llamaRuntime struct {
	bin    string
	port   int
	logger *zap.Logger
	client *http.Client
}

// NewLlamaRuntime resolves the llama-server binary from config or PATH.
// When neither resolves, the unavailable stub is returned instead, so
// callers always get a Runtime they can feature-detect with Available.
func NewLlamaRuntime(cfg *config.Config, logger *zap.Logger) Runtime {
	bin := cfg.LlamaServerBin
	if bin == "" {
		if found, err := exec.LookPath("llama-server"); err == nil {
			bin = found
		}
	}
	if bin == "" {
		logger.Warn("llama-server binary not found, inference will be unavailable")
		return NewUnavailableRuntime()
	}

	return &llamaRuntime{
		bin:    bin,
		port:   cfg.LlamaServerPort,
		logger: logger.Named("llama"),
		client: &http.Client{Timeout: 0},
	}
}

func (r *llamaRuntime) Available() bool {
	return true
}

func (r *llamaRuntime) Load(ctx context.Context, modelPath string) (Session, error) {
	args := []string{
		"-m", modelPath,
		"--port", fmt.Sprintf("%d", r.port),
		"--host", "127.0.0.1",
		"-c", fmt.Sprintf("%d", llamaContextSize),
		// One parallel sequence: the execution context exposes a single
		// slot, and the queue upstream serializes against it.
		"-np", "1",
		"--no-warmup",
	}

	cmd := exec.Command(r.bin, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start llama-server: %w", err)
	}

	r.logger.Info("llama-server starting",
		zap.String("model_path", modelPath),
		zap.Int("port", r.port),
	)

	if err := r.waitForReady(ctx); err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
			cmd.Wait()
		}
		return nil, err
	}

	return &llamaSession{
		cmd:    cmd,
		port:   r.port,
		client: r.client,
		logger: r.logger,
	}, nil
}

// waitForReady polls /health until the server reports the model loaded.
// llama-server answers 503 while still loading weights.
func (r *llamaRuntime) waitForReady(ctx context.Context) error {
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", r.port)

	for i := 0; i < llamaReadyPolls; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(llamaPollEvery):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
		if err != nil {
			return err
		}
		resp, err := r.client.Do(req)
		if err != nil {
			continue // not listening yet
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
	}

	return fmt.Errorf("llama-server did not become ready in time")
}

type llamaSession struct {
	cmd    *exec.Cmd
	port   int
	client *http.Client
	logger *zap.Logger
}

type llamaCompletionRequest struct {
	Prompt      string  `json:"prompt"`
	NPredict    int     `json:"n_predict"`
	Temperature float64 `json:"temperature"`
	CachePrompt bool    `json:"cache_prompt"`
}

type llamaCompletionResponse struct {
	Content         string `json:"content"`
	TokensPredicted int    `json:"tokens_predicted"`
}

func (s *llamaSession) Generate(ctx context.Context, prompt string, maxTokens int) (Result, error) {
	body, err := json.Marshal(llamaCompletionRequest{
		Prompt:      prompt,
		NPredict:    maxTokens,
		Temperature: 0.3,
		CachePrompt: false,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode completion request: %w", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/completion", s.port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("completion failed with status %d: %s", resp.StatusCode, string(data))
	}

	var completion llamaCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return Result{}, fmt.Errorf("failed to decode completion response: %w", err)
	}

	return Result{
		Text:       completion.Content,
		TokenCount: completion.TokensPredicted,
	}, nil
}

// Close kills the subprocess, which releases the execution context and the
// model weights together.
func (s *llamaSession) Close() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}

	if err := s.cmd.Process.Kill(); err != nil {
		s.logger.Warn("error killing llama-server", zap.Error(err))
	}
	s.cmd.Wait()

	// Give the OS a moment to release the port before a subsequent load
	// binds it again.
	time.Sleep(500 * time.Millisecond)

	s.logger.Info("llama-server stopped", zap.Int("port", s.port))
	return nil
}
