package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aozora-works/kousei-engine/pkg/types"
)

// ErrEngineUnavailable is returned by every operation when no engine
// process is reachable in this environment.
var ErrEngineUnavailable = errors.New("client: proofreading engine unavailable in this environment")

// EngineClient is what the editor programs against. The desktop build gets
// the HTTP client below; the web build gets Unavailable. UI code never
// branches on environment, only on this interface.
type EngineClient interface {
	IsAvailable(ctx context.Context) bool
	Models(ctx context.Context) ([]types.ModelInfo, error)
	Download(ctx context.Context, id string) error
	DownloadWithProgress(ctx context.Context, id string, onProgress func(types.DownloadProgressEvent)) error
	Delete(ctx context.Context, id string) error
	Load(ctx context.Context, id string) error
	Unload(ctx context.Context) error
	LoadedModel(ctx context.Context) (types.LoadedModel, error)
	Infer(ctx context.Context, req types.InferRequest) (types.InferResult, error)
	StorageUsage(ctx context.Context) (types.StorageUsage, error)
}

// Client talks to a running engine process over its loopback HTTP boundary.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Downloads and inference block for a long time; individual calls
		// bound themselves with contexts instead of a client-wide timeout.
		http:   &http.Client{Timeout: 0},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsAvailable feature-detects a live engine behind the base URL.
func (c *Client) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) Models(ctx context.Context) ([]types.ModelInfo, error) {
	var models []types.ModelInfo
	if err := c.getJSON(ctx, "/api/v1/models", &models); err != nil {
		return nil, err
	}
	return models, nil
}

func (c *Client) Download(ctx context.Context, id string) error {
	return c.postJSON(ctx, "/api/v1/models/"+id+"/download", nil, nil)
}

// DownloadWithProgress starts the download and consumes the SSE progress
// stream concurrently, invoking onProgress per event until the stream ends.
func (c *Client) DownloadWithProgress(ctx context.Context, id string, onProgress func(types.DownloadProgressEvent)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		if err := c.streamProgress(ctx, id, onProgress); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Debug("progress stream ended", zap.Error(err))
		}
	}()

	err := c.Download(ctx, id)
	cancel()
	<-progressDone
	return err
}

func (c *Client) streamProgress(ctx context.Context, id string, onProgress func(types.DownloadProgressEvent)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/models/"+id+"/progress", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("progress stream failed with status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		var event types.DownloadProgressEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			// The END marker and other non-progress messages land here.
			continue
		}
		if onProgress != nil {
			onProgress(event)
		}
	}
	return scanner.Err()
}

func (c *Client) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v1/models/"+id, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) Load(ctx context.Context, id string) error {
	return c.postJSON(ctx, "/api/v1/models/"+id+"/load", nil, nil)
}

func (c *Client) Unload(ctx context.Context) error {
	return c.postJSON(ctx, "/api/v1/models/unload", nil, nil)
}

func (c *Client) LoadedModel(ctx context.Context) (types.LoadedModel, error) {
	var loaded types.LoadedModel
	if err := c.getJSON(ctx, "/api/v1/models/loaded", &loaded); err != nil {
		return types.LoadedModel{}, err
	}
	return loaded, nil
}

func (c *Client) Infer(ctx context.Context, request types.InferRequest) (types.InferResult, error) {
	var result types.InferResult
	if err := c.postJSON(ctx, "/api/v1/infer", request, &result); err != nil {
		return types.InferResult{}, err
	}
	return result, nil
}

func (c *Client) StorageUsage(ctx context.Context) (types.StorageUsage, error) {
	var usage types.StorageUsage
	if err := c.getJSON(ctx, "/api/v1/storage", &usage); err != nil {
		return types.StorageUsage{}, err
	}
	return usage, nil
}

// envelope is the boundary's uniform response shape.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("engine request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read engine response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode engine response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if env.Kind != "" {
			return fmt.Errorf("engine error (%s): %s", env.Kind, env.Message)
		}
		return fmt.Errorf("engine error: %s", env.Message)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode engine response data: %w", err)
		}
	}
	return nil
}
