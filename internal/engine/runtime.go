package engine

import (
	"context"
	"errors"
)

var (
	// ErrRuntimeUnavailable means no inference runtime exists in this
	// environment. Every runtime operation fails fast with it so the
	// editor can degrade gracefully instead of branching on environment.
	ErrRuntimeUnavailable = errors.New("engine: inference runtime unavailable in this environment")

	// ErrNoModelLoaded means infer was called with nothing resident.
	ErrNoModelLoaded = errors.New("engine: no model loaded")

	// ErrModelNotDownloaded means load was called before download. The
	// loader never downloads implicitly; layering is explicit.
	ErrModelNotDownloaded = errors.New("engine: model file not on disk, download it first")
)

// Result is the outcome of one generation.
type Result struct {
	Text       string
	TokenCount int
}

// Session is a resident model plus its execution context. The context
// exposes exactly one sequence slot: acquiring a second concurrently is a
// hard error in the underlying engine, so all Generate calls must be
// serialized by the caller (the inference queue).
type Session interface {
	// Generate runs one bounded completion. Implementations must be safe
	// to call repeatedly but never concurrently.
	Generate(ctx context.Context, prompt string, maxTokens int) (Result, error)

	// Close releases the execution context and the model, in that order.
	Close() error
}

// Runtime is the capability interface over the native execution engine.
// Two implementations exist: the llama-server subprocess runtime, and an
// unavailable stub used where no binary is present.
type Runtime interface {
	// Available reports whether this runtime can actually load models.
	Available() bool

	// Load makes the model at path resident and returns its session.
	Load(ctx context.Context, modelPath string) (Session, error)
}

// unavailableRuntime fails every operation fast with a fixed error.
type unavailableRuntime struct{}

func NewUnavailableRuntime() Runtime {
	return unavailableRuntime{}
}

func (unavailableRuntime) Available() bool {
	return false
}

func (unavailableRuntime) Load(ctx context.Context, modelPath string) (Session, error) {
	return nil, ErrRuntimeUnavailable
}
