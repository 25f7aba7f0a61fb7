package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gammazero/workerpool"
	"go.uber.org/zap"

	"github.com/aozora-works/kousei-engine/internal/config"
	"github.com/aozora-works/kousei-engine/internal/mq"
	"github.com/aozora-works/kousei-engine/internal/registry"
	"github.com/aozora-works/kousei-engine/internal/utils/hashutil"
	"github.com/aozora-works/kousei-engine/pkg/types"
)

const (
	// PartSuffix marks an in-flight download. A file carrying it is never a
	// usable model; only the final rename makes a model visible.
	PartSuffix = ".part"

	copyBufferSize = 32 * 1024

	prefetchWorkers = 2

	// defaultStallTimeout bounds how long a transfer may go without a single
	// byte arriving before the attempt is aborted and retried.
	defaultStallTimeout = 2 * time.Minute
)

var (
	// ErrHashMismatch means the completed transfer did not match the
	// catalog digest. The partial file is deleted; resuming would only
	// reproduce the corruption, so a retry must start from zero.
	ErrHashMismatch = errors.New("downloader: hash verification failed")

	// ErrUnexpectedStatus means the remote answered outside the expected
	// 200/206 set. The partial file is kept for a later resume.
	ErrUnexpectedStatus = errors.New("downloader: unexpected response status")
)

// ProgressFunc receives the integer percent (0-100) of a running download.
type ProgressFunc func(percent int)

// Downloader acquires model files into the models directory. It is the only
// writer of that directory; the loader reads it concurrently, which is why
// completed files appear only via atomic rename.
type Downloader struct {
	modelsDir    string
	client       *http.Client
	logger       *zap.Logger
	queue        mq.MQ
	stallTimeout time.Duration
}

func New(modelsDir string, logger *zap.Logger, queue mq.MQ) *Downloader {
	return &Downloader{
		modelsDir:    modelsDir,
		logger:       logger.Named("downloader"),
		queue:        queue,
		stallTimeout: defaultStallTimeout,
		client: &http.Client{
			Timeout: 0, // no total timeout; model files take a while
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 60 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   60 * time.Second,
				ResponseHeaderTimeout: 60 * time.Second,
				IdleConnTimeout:       60 * time.Second,
			},
		},
	}
}

// FinalPath is where the completed model file lives.
func (d *Downloader) FinalPath(entry registry.ModelEntry) string {
	return filepath.Join(d.modelsDir, entry.Filename)
}

// PartPath is the temporary sibling a transfer streams into. The name is
// keyed by the source URL so a partial file is never resumed against a
// different remote after a catalog update.
func (d *Downloader) PartPath(entry registry.ModelEntry) string {
	urlTag := hashutil.Blake3Hash([]byte(entry.URL))[:8]
	return filepath.Join(d.modelsDir, entry.Filename+"."+urlTag+PartSuffix)
}

// IsDownloaded reports whether the final file exists with non-zero size.
func (d *Downloader) IsDownloaded(id string) (bool, error) {
	entry, err := registry.Get(id)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(d.FinalPath(entry))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Size() > 0, nil
}

// HasPartial reports whether an interrupted transfer left a partial file
// behind. Note this is a heuristic: a crashed download with no process
// resuming it looks the same as an active one.
func (d *Downloader) HasPartial(id string) bool {
	entry, err := registry.Get(id)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(d.PartPath(entry))
	return statErr == nil
}

// Download fetches the model, resuming any partial transfer, and promotes
// the file atomically once its content is verified. Calling it for an
// already-downloaded model is a no-op. Network failures are retried with
// exponential backoff; integrity failures are permanent.
func (d *Downloader) Download(ctx context.Context, id string, onProgress ProgressFunc) error {
	entry, err := registry.Get(id)
	if err != nil {
		return err
	}

	if done, err := d.IsDownloaded(id); err != nil {
		return err
	} else if done {
		d.logger.Info("model already downloaded", zap.String("model_id", id))
		d.notify(ctx, entry.ID, 100, onProgress)
		d.publishEnd(ctx, entry.ID)
		return nil
	}

	if err := os.MkdirAll(d.modelsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 5 * time.Minute
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 30 * time.Second

	err = backoff.Retry(func() error {
		return d.downloadWithResume(ctx, entry, onProgress)
	}, backoff.WithContext(b, ctx))
	if err != nil {
		d.logger.Error("download failed",
			zap.String("model_id", id),
			zap.Error(err),
		)
		return err
	}

	d.publishEnd(ctx, entry.ID)
	d.logger.Info("model downloaded",
		zap.String("model_id", id),
		zap.String("path", d.FinalPath(entry)),
	)
	return nil
}

func (d *Downloader) downloadWithResume(ctx context.Context, entry registry.ModelEntry, onProgress ProgressFunc) error {
	finalPath := d.FinalPath(entry)
	partPath := d.PartPath(entry)

	// A partial file's size is the resume offset.
	var offset int64
	if info, err := os.Stat(partPath); err == nil {
		offset = info.Size()
	}

	// The watchdog cancels the request when no bytes arrive for stallTimeout.
	// Without it a hung connection blocks inside resp.Body.Read forever; the
	// transport's ResponseHeaderTimeout only covers the time before the body.
	reqCtx, cancelReq := context.WithCancel(ctx)
	defer cancelReq()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, entry.URL, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case offset > 0 && resp.StatusCode == http.StatusPartialContent:
		// resuming; keep offset
	case offset > 0 && resp.StatusCode == http.StatusOK:
		// Server ignored the range request; start over.
		d.logger.Warn("server does not support resume, restarting download",
			zap.String("model_id", entry.ID),
		)
		offset = 0
	case offset == 0 && resp.StatusCode == http.StatusOK:
		// fresh download
	default:
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	totalSize := offset + resp.ContentLength
	if resp.ContentLength <= 0 {
		totalSize = entry.SizeBytes
	}

	flag := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}

	f, err := os.OpenFile(partPath, flag, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open partial file: %w", err)
	}
	defer f.Close()

	d.logger.Info("downloading model",
		zap.String("model_id", entry.ID),
		zap.Int64("offset", offset),
		zap.Int64("total", totalSize),
	)

	downloaded := offset
	lastPercent := -1
	buf := make([]byte, copyBufferSize)

	watchdog := time.AfterFunc(d.stallTimeout, cancelReq)
	defer watchdog.Stop()

	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			watchdog.Reset(d.stallTimeout)

			// The blocking write is the backpressure coupling: the next
			// network read cannot start until the disk accepted this chunk,
			// so a slow disk throttles a fast network instead of growing
			// memory.
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write failed: %w", werr)
			}

			downloaded += int64(n)

			if totalSize > 0 {
				percent := int(math.Round(float64(downloaded) / float64(totalSize) * 100))
				if percent > 100 {
					percent = 100
				}
				if percent != lastPercent {
					lastPercent = percent
					d.notify(ctx, entry.ID, percent, onProgress)
				}
			}
		}

		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if reqCtx.Err() != nil && ctx.Err() == nil {
				return fmt.Errorf("download stalled: no data for %s", d.stallTimeout)
			}
			return fmt.Errorf("read failed: %w", rerr)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to flush partial file: %w", err)
	}

	if totalSize > 0 && downloaded != totalSize {
		return fmt.Errorf("download size mismatch: expected %d, got %d", totalSize, downloaded)
	}

	// Verify content before the file can ever be observed as ready. A
	// corrupt partial is deleted, not kept: resuming it would reproduce
	// the same bad bytes.
	if entry.SHA256 != "" {
		sum, err := hashutil.FileSHA256(partPath)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to verify download: %w", err))
		}
		if !strings.EqualFold(sum, entry.SHA256) {
			os.Remove(partPath)
			return backoff.Permanent(fmt.Errorf("%w: model %s", ErrHashMismatch, entry.ID))
		}
	}

	// Atomic rename is what makes the model visible. A crash before this
	// point leaves only the partial file, never a half-written "ready" one.
	if err := os.Rename(partPath, finalPath); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to promote downloaded file: %w", err))
	}

	return nil
}

// Delete removes the final file and any partial left behind. Missing files
// are not an error.
func (d *Downloader) Delete(id string) error {
	entry, err := registry.Get(id)
	if err != nil {
		return err
	}

	for _, path := range []string{d.FinalPath(entry), d.PartPath(entry)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}
	}

	d.logger.Info("model deleted", zap.String("model_id", id))
	return nil
}

// PrefetchRecommended downloads every recommended model that is not on disk
// yet, a bounded number at a time. Used by first-run setup.
func (d *Downloader) PrefetchRecommended(ctx context.Context) error {
	entries := registry.Recommended()
	if len(entries) == 0 {
		return nil
	}

	wp := workerpool.New(prefetchWorkers)

	var (
		mu   sync.Mutex
		errs []error
	)
	for _, entry := range entries {
		id := entry.ID
		wp.Submit(func() {
			if err := d.Download(ctx, id, nil); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("prefetch %s: %w", id, err))
				mu.Unlock()
			}
		})
	}
	wp.StopWait()

	return errors.Join(errs...)
}

// notify fans a progress update out to the caller's callback and the event
// topic the SSE relay reads from.
func (d *Downloader) notify(ctx context.Context, id string, percent int, onProgress ProgressFunc) {
	if onProgress != nil {
		onProgress(percent)
	}

	if d.queue == nil {
		return
	}
	event := types.DownloadProgressEvent{ModelID: id, Percent: percent}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := d.queue.Publish(ctx, config.DownloadTopicPrefix+id, data); err != nil {
		d.logger.Debug("failed to publish progress event",
			zap.String("model_id", id),
			zap.Error(err),
		)
	}
}

func (d *Downloader) publishEnd(ctx context.Context, id string) {
	if d.queue == nil {
		return
	}
	if err := d.queue.Publish(ctx, config.DownloadTopicPrefix+id, []byte("END")); err != nil {
		d.logger.Debug("failed to publish end event",
			zap.String("model_id", id),
			zap.Error(err),
		)
	}
}
