package engine

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aozora-works/kousei-engine/internal/config"
	"github.com/aozora-works/kousei-engine/internal/downloader"
	"github.com/aozora-works/kousei-engine/internal/mq"
	"github.com/aozora-works/kousei-engine/internal/registry"
	"github.com/aozora-works/kousei-engine/internal/storage"
	"github.com/aozora-works/kousei-engine/pkg/types"
)

const (
	// DefaultMaxTokens bounds generation when the caller does not.
	DefaultMaxTokens = 512

	// MaxTokensCeiling is the hard upper bound a caller-supplied value is
	// clamped into.
	MaxTokensCeiling = 4096
)

// Engine owns the full model lifecycle: catalog, downloads, the resident
// model, and the serialized inference queue. One instance exists per engine
// process; the transport layer receives it explicitly rather than reaching
// for package state.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger
	events mq.MQ

	files  *downloader.Downloader
	loader *Loader
	queue  *Queue
}

func New(cfg *config.Config, logger *zap.Logger, events mq.MQ) *Engine {
	return NewWithRuntime(cfg, logger, events, NewLlamaRuntime(cfg, logger))
}

// NewWithRuntime wires the engine around an explicit runtime. Tests use it
// to substitute a fake; production code goes through New.
func NewWithRuntime(cfg *config.Config, logger *zap.Logger, events mq.MQ, rt Runtime) *Engine {
	e := &Engine{
		cfg:    cfg,
		logger: logger.Named("engine"),
		events: events,
	}

	e.files = downloader.New(cfg.ModelsDir, logger, events)
	e.loader = NewLoader(rt, e.files, logger)
	e.queue = NewQueue(e.loader, cfg.MaxQueueDepth, logger)
	e.queue.onEvent = e.publishInferenceEvent
	e.queue.Start()

	return e
}

// Close drains nothing: queued requests are failed by the stopping queue,
// then the resident model is released.
func (e *Engine) Close() {
	e.queue.Stop()
	e.loader.Unload()
	e.logger.Info("engine closed")
}

// RuntimeAvailable reports whether inference can work in this environment.
func (e *Engine) RuntimeAvailable() bool {
	_, _, ok := e.loader.Current()
	if ok {
		return true
	}
	return e.loader.runtime.Available()
}

// Models returns every catalog entry with its derived status.
func (e *Engine) Models() []types.ModelInfo {
	entries := registry.List()
	infos := make([]types.ModelInfo, 0, len(entries))
	for _, entry := range entries {
		infos = append(infos, types.ModelInfo{
			ID:           entry.ID,
			Name:         entry.Name,
			Filename:     entry.Filename,
			SizeBytes:    entry.SizeBytes,
			Quantization: entry.Quantization,
			MinRAMGB:     entry.MinRAMGB,
			Recommended:  entry.Recommended,
			Status:       e.Status(entry.ID),
		})
	}
	return infos
}

// Status derives the model's state from the two ground-truth sources: the
// filesystem and the loader. Nothing stores a status, so nothing can drift.
func (e *Engine) Status(id string) types.ModelStatus {
	if loadedID, ok := e.loader.LoadedModel(); ok && loadedID == id {
		return types.StatusLoaded
	}
	if loadingID, ok := e.loader.LoadingModel(); ok && loadingID == id {
		return types.StatusLoading
	}

	downloaded, err := e.files.IsDownloaded(id)
	if err != nil {
		return types.StatusError
	}
	if downloaded {
		return types.StatusReady
	}
	// A partial file reads as "downloading" even when no transfer is
	// actually in flight (for example after a crash). Known limitation of
	// deriving the state from disk alone.
	if e.files.HasPartial(id) {
		return types.StatusDownloading
	}
	return types.StatusNotDownloaded
}

// Download acquires the model file. Progress goes to the callback and to
// the per-model event topic.
func (e *Engine) Download(ctx context.Context, id string, onProgress downloader.ProgressFunc) error {
	return e.files.Download(ctx, id, onProgress)
}

// Delete removes the model from disk, unloading it first if resident.
func (e *Engine) Delete(id string) error {
	if loadedID, ok := e.loader.LoadedModel(); ok && loadedID == id {
		e.loader.Unload()
	}
	return e.files.Delete(id)
}

// Load makes the model resident, superseding whatever was loaded before.
func (e *Engine) Load(ctx context.Context, id string) error {
	return e.loader.Load(ctx, id)
}

// Unload releases the resident model.
func (e *Engine) Unload() {
	e.loader.Unload()
}

// LoadedModel reports what is resident right now.
func (e *Engine) LoadedModel() types.LoadedModel {
	id, ok := e.loader.LoadedModel()
	return types.LoadedModel{Loaded: ok, ModelID: id}
}

// Infer queues one generation and waits for its result. maxTokens of zero
// gets the default bound; anything else is clamped into [1, MaxTokensCeiling].
func (e *Engine) Infer(ctx context.Context, prompt string, maxTokens int) (types.InferResult, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	} else if maxTokens > MaxTokensCeiling {
		maxTokens = MaxTokensCeiling
	}

	id := uuid.NewString()
	return e.queue.Infer(ctx, id, prompt, maxTokens)
}

// StorageUsage reports per-model on-disk usage.
func (e *Engine) StorageUsage() types.StorageUsage {
	return storage.Report(e.cfg.ModelsDir)
}

// PrefetchRecommended downloads the recommended models for first-run setup.
func (e *Engine) PrefetchRecommended(ctx context.Context) error {
	return e.files.PrefetchRecommended(ctx)
}

func (e *Engine) publishInferenceEvent(ev types.InferenceEvent) {
	if e.events == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := e.events.Publish(context.Background(), config.InferenceTopic, data); err != nil {
		e.logger.Debug("failed to publish inference event", zap.Error(err))
	}
}
