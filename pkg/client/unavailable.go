package client

import (
	"context"

	"github.com/aozora-works/kousei-engine/pkg/types"
)

// Unavailable is the EngineClient for environments without a local engine
// process, such as the browser build. Every operation fails fast with
// ErrEngineUnavailable so feature gates stay honest without nil checks.
type Unavailable struct{}

var _ EngineClient = Unavailable{}

func NewUnavailable() Unavailable {
	return Unavailable{}
}

func (Unavailable) IsAvailable(ctx context.Context) bool { return false }

func (Unavailable) Models(ctx context.Context) ([]types.ModelInfo, error) {
	return nil, ErrEngineUnavailable
}

func (Unavailable) Download(ctx context.Context, id string) error {
	return ErrEngineUnavailable
}

func (Unavailable) DownloadWithProgress(ctx context.Context, id string, onProgress func(types.DownloadProgressEvent)) error {
	return ErrEngineUnavailable
}

func (Unavailable) Delete(ctx context.Context, id string) error {
	return ErrEngineUnavailable
}

func (Unavailable) Load(ctx context.Context, id string) error {
	return ErrEngineUnavailable
}

func (Unavailable) Unload(ctx context.Context) error {
	return ErrEngineUnavailable
}

func (Unavailable) LoadedModel(ctx context.Context) (types.LoadedModel, error) {
	return types.LoadedModel{}, ErrEngineUnavailable
}

func (Unavailable) Infer(ctx context.Context, req types.InferRequest) (types.InferResult, error) {
	return types.InferResult{}, ErrEngineUnavailable
}

func (Unavailable) StorageUsage(ctx context.Context) (types.StorageUsage, error) {
	return types.StorageUsage{}, ErrEngineUnavailable
}
