package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/aozora-works/kousei-engine/internal/downloader"
	"github.com/aozora-works/kousei-engine/internal/registry"
)

// Loader is the sole owner of the resident model. At most one model is in
// memory at a time: loading a different one always fully supersedes the
// previous load, and nothing else may hold the session.
type Loader struct {
	runtime Runtime
	files   *downloader.Downloader
	logger  *zap.Logger

	// loadMu serializes whole load operations. runtime.Load is slow and
	// runs outside mu; without this, two concurrent Loads both pass the
	// unlocked window and the loser's session leaks.
	loadMu sync.Mutex

	mu        sync.Mutex
	session   Session
	modelID   string
	loadingID string
}

func NewLoader(rt Runtime, files *downloader.Downloader, logger *zap.Logger) *Loader {
	return &Loader{
		runtime: rt,
		files:   files,
		logger:  logger.Named("loader"),
	}
}

// Load makes the model resident. Loading the already-loaded model is a
// no-op; loading a different one unloads the current model first. The file
// must already be on disk; Load never triggers a download.
func (l *Loader) Load(ctx context.Context, id string) error {
	entry, err := registry.Get(id)
	if err != nil {
		return err
	}

	if !l.runtime.Available() {
		return ErrRuntimeUnavailable
	}

	if done, err := l.files.IsDownloaded(id); err != nil {
		return err
	} else if !done {
		return fmt.Errorf("%w: %s", ErrModelNotDownloaded, id)
	}

	l.loadMu.Lock()
	defer l.loadMu.Unlock()

	l.mu.Lock()
	if l.modelID == id && l.session != nil {
		l.mu.Unlock()
		l.logger.Debug("model already loaded", zap.String("model_id", id))
		return nil
	}

	if l.session != nil {
		l.unloadLocked()
	}
	l.loadingID = id
	l.mu.Unlock()

	l.logger.Info("loading model", zap.String("model_id", id))

	session, err := l.runtime.Load(ctx, l.files.FinalPath(entry))

	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadingID = ""

	if err != nil {
		return fmt.Errorf("failed to load model %s: %w", id, err)
	}

	l.session = session
	l.modelID = id

	l.logger.Info("model loaded", zap.String("model_id", id))
	return nil
}

// Unload releases the resident model, if any. Safe to call when nothing is
// loaded.
func (l *Loader) Unload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unloadLocked()
}

func (l *Loader) unloadLocked() {
	if l.session == nil {
		return
	}

	id := l.modelID
	if err := l.session.Close(); err != nil {
		l.logger.Warn("error closing session",
			zap.String("model_id", id),
			zap.Error(err),
		)
	}
	l.session = nil
	l.modelID = ""

	// The weights lived outside the Go heap; nudge the runtime to hand
	// freed memory back to the OS promptly.
	debug.FreeOSMemory()

	l.logger.Info("model unloaded", zap.String("model_id", id))
}

// Current returns the resident session and its model id. The session is
// only valid until the next Load or Unload; the inference queue borrows it
// for exactly one serialized generation at a time.
func (l *Loader) Current() (Session, string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil {
		return nil, "", false
	}
	return l.session, l.modelID, true
}

// LoadedModel returns the id of the resident model, if any.
func (l *Loader) LoadedModel() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil {
		return "", false
	}
	return l.modelID, true
}

// LoadingModel returns the id of a load in progress, if any. Feeds the
// derived "loading" status.
func (l *Loader) LoadingModel() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loadingID == "" {
		return "", false
	}
	return l.loadingID, true
}
