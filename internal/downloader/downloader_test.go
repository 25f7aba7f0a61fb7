package downloader

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aozora-works/kousei-engine/internal/registry"
)

func testPayload(t *testing.T, size int) ([]byte, string) {
	t.Helper()
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("failed to generate payload: %v", err)
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:])
}

// rangeHandler serves payload honoring Range requests the way a normal
// static file host does.
func rangeHandler(payload []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			w.Write(payload)
			return
		}

		offsetStr := strings.TrimSuffix(strings.TrimPrefix(rangeHeader, "bytes="), "-")
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset >= len(payload) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}

		w.Header().Set("Content-Length", strconv.Itoa(len(payload)-offset))
		w.Header().Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", offset, len(payload)-1, len(payload)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload[offset:])
	}
}

func testEntry(url string, size int64, sha string) registry.ModelEntry {
	return registry.ModelEntry{
		ID:        "test-model",
		Name:      "Test Model",
		URL:       url,
		Filename:  "test-model.gguf",
		SizeBytes: size,
		SHA256:    sha,
	}
}

func TestDownloadFresh(t *testing.T) {
	payload, sha := testPayload(t, 256*1024)
	srv := httptest.NewServer(rangeHandler(payload))
	defer srv.Close()

	dir := t.TempDir()
	d := New(dir, zap.NewNop(), nil)
	entry := testEntry(srv.URL, int64(len(payload)), sha)

	var percents []int
	err := d.downloadWithResume(context.Background(), entry, func(p int) {
		percents = append(percents, p)
	})
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}

	got, err := os.ReadFile(d.FinalPath(entry))
	if err != nil {
		t.Fatalf("final file missing: %v", err)
	}
	if len(got) != len(payload) {
		t.Errorf("final file has %d bytes, want %d", len(got), len(payload))
	}

	if _, err := os.Stat(d.PartPath(entry)); !os.IsNotExist(err) {
		t.Error("partial file still present after promotion")
	}

	if len(percents) == 0 || percents[len(percents)-1] != 100 {
		t.Errorf("progress did not reach 100: %v", percents)
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Errorf("progress went backwards at %d: %v", i, percents)
			break
		}
	}
}

func TestDownloadResume(t *testing.T) {
	payload, sha := testPayload(t, 128*1024)
	half := len(payload) / 2

	var sawRange bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			sawRange = true
		}
		rangeHandler(payload)(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := New(dir, zap.NewNop(), nil)
	entry := testEntry(srv.URL, int64(len(payload)), sha)

	if err := os.WriteFile(d.PartPath(entry), payload[:half], 0o644); err != nil {
		t.Fatalf("failed to seed partial file: %v", err)
	}

	if err := d.downloadWithResume(context.Background(), entry, nil); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if !sawRange {
		t.Error("expected a Range request for the seeded partial file")
	}

	got, err := os.ReadFile(d.FinalPath(entry))
	if err != nil {
		t.Fatalf("final file missing: %v", err)
	}
	gotSum := sha256.Sum256(got)
	if hex.EncodeToString(gotSum[:]) != sha {
		t.Error("resumed file content does not match source")
	}
}

func TestDownloadRestartWhenResumeUnsupported(t *testing.T) {
	payload, sha := testPayload(t, 64*1024)

	// Serves the whole payload regardless of Range.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := New(dir, zap.NewNop(), nil)
	entry := testEntry(srv.URL, int64(len(payload)), sha)

	// Seed a partial with garbage; the 200 response must overwrite it.
	if err := os.WriteFile(d.PartPath(entry), []byte("stale garbage"), 0o644); err != nil {
		t.Fatalf("failed to seed partial file: %v", err)
	}

	if err := d.downloadWithResume(context.Background(), entry, nil); err != nil {
		t.Fatalf("restart failed: %v", err)
	}

	got, err := os.ReadFile(d.FinalPath(entry))
	if err != nil {
		t.Fatalf("final file missing: %v", err)
	}
	gotSum := sha256.Sum256(got)
	if hex.EncodeToString(gotSum[:]) != sha {
		t.Error("restarted file content does not match source")
	}
}

func TestDownloadHashMismatch(t *testing.T) {
	payload, _ := testPayload(t, 32*1024)
	srv := httptest.NewServer(rangeHandler(payload))
	defer srv.Close()

	dir := t.TempDir()
	d := New(dir, zap.NewNop(), nil)
	entry := testEntry(srv.URL, int64(len(payload)), strings.Repeat("ab", 32))

	err := d.downloadWithResume(context.Background(), entry, nil)
	if !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected ErrHashMismatch, got %v", err)
	}

	// A corrupt partial must not survive: resuming it would reproduce the
	// same bad bytes.
	if _, err := os.Stat(d.PartPath(entry)); !os.IsNotExist(err) {
		t.Error("corrupt partial file was kept")
	}
	if _, err := os.Stat(d.FinalPath(entry)); !os.IsNotExist(err) {
		t.Error("corrupt file was promoted to final path")
	}
}

func TestDownloadAbortsWhenStalled(t *testing.T) {
	payload, _ := testPayload(t, 64*1024)

	// Sends half the payload and then hangs until the client gives up.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.Write(payload[:len(payload)/2])
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := New(dir, zap.NewNop(), nil)
	d.stallTimeout = 50 * time.Millisecond
	entry := testEntry(srv.URL, int64(len(payload)), "")

	err := d.downloadWithResume(context.Background(), entry, nil)
	if err == nil {
		t.Fatal("expected the stalled transfer to fail")
	}
	if !strings.Contains(err.Error(), "stalled") {
		t.Errorf("expected a stall error, got %v", err)
	}

	// The partial stays for a later resume.
	if _, err := os.Stat(d.PartPath(entry)); err != nil {
		t.Errorf("partial file missing after stall: %v", err)
	}
}

func TestDownloadUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := New(dir, zap.NewNop(), nil)
	entry := testEntry(srv.URL, 1024, "")

	err := d.downloadWithResume(context.Background(), entry, nil)
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("expected ErrUnexpectedStatus, got %v", err)
	}
}

func TestDownloadAlreadyDownloaded(t *testing.T) {
	dir := t.TempDir()
	d := New(dir, zap.NewNop(), nil)

	entry, err := registry.Get("gemma-2-2b-jpn-it-q4")
	if err != nil {
		t.Fatalf("registry.Get: %v", err)
	}
	if err := os.WriteFile(d.FinalPath(entry), []byte("weights"), 0o644); err != nil {
		t.Fatalf("failed to seed final file: %v", err)
	}

	var percents []int
	if err := d.Download(context.Background(), entry.ID, func(p int) {
		percents = append(percents, p)
	}); err != nil {
		t.Fatalf("expected no-op download, got %v", err)
	}
	if len(percents) != 1 || percents[0] != 100 {
		t.Errorf("expected a single 100%% notification, got %v", percents)
	}
}

func TestDownloadUnknownModel(t *testing.T) {
	d := New(t.TempDir(), zap.NewNop(), nil)

	err := d.Download(context.Background(), "no-such-model", nil)
	if !errors.Is(err, registry.ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
}

func TestIsDownloadedIgnoresEmptyFile(t *testing.T) {
	dir := t.TempDir()
	d := New(dir, zap.NewNop(), nil)

	entry, err := registry.Get("gemma-2-2b-jpn-it-q4")
	if err != nil {
		t.Fatalf("registry.Get: %v", err)
	}
	if err := os.WriteFile(d.FinalPath(entry), nil, 0o644); err != nil {
		t.Fatalf("failed to create empty file: %v", err)
	}

	done, err := d.IsDownloaded(entry.ID)
	if err != nil {
		t.Fatalf("IsDownloaded: %v", err)
	}
	if done {
		t.Error("zero-byte file must not count as downloaded")
	}
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	d := New(dir, zap.NewNop(), nil)

	entry, err := registry.Get("gemma-2-2b-jpn-it-q4")
	if err != nil {
		t.Fatalf("registry.Get: %v", err)
	}
	for _, path := range []string{d.FinalPath(entry), d.PartPath(entry)} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("failed to seed %s: %v", path, err)
		}
	}

	if err := d.Delete(entry.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if entries, _ := filepath.Glob(filepath.Join(dir, "*")); len(entries) != 0 {
		t.Errorf("files left behind after delete: %v", entries)
	}

	// Deleting again is not an error.
	if err := d.Delete(entry.ID); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}
