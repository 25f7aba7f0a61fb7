package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aozora-works/kousei-engine/internal/registry"
)

func TestReportEmptyDir(t *testing.T) {
	usage := Report(t.TempDir())
	if usage.UsedBytes != 0 {
		t.Errorf("empty dir reports %d bytes", usage.UsedBytes)
	}
	if len(usage.Models) != 0 {
		t.Errorf("empty dir reports models: %v", usage.Models)
	}
}

func TestReportCountsOnlyFinalFiles(t *testing.T) {
	dir := t.TempDir()

	entry, err := registry.Get("gemma-2-2b-jpn-it-q4")
	if err != nil {
		t.Fatalf("registry.Get: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, entry.Filename), make([]byte, 1000), 0o644); err != nil {
		t.Fatalf("failed to seed final file: %v", err)
	}
	// Partials and strangers must not count.
	if err := os.WriteFile(filepath.Join(dir, entry.Filename+".deadbeef.part"), make([]byte, 500), 0o644); err != nil {
		t.Fatalf("failed to seed partial file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "unrelated.bin"), make([]byte, 700), 0o644); err != nil {
		t.Fatalf("failed to seed unrelated file: %v", err)
	}

	usage := Report(dir)
	if usage.UsedBytes != 1000 {
		t.Errorf("UsedBytes = %d, want 1000", usage.UsedBytes)
	}
	if len(usage.Models) != 1 || usage.Models[0].ID != entry.ID {
		t.Errorf("unexpected models: %v", usage.Models)
	}
}

func TestReportMissingDir(t *testing.T) {
	usage := Report(filepath.Join(t.TempDir(), "does-not-exist"))
	if usage.UsedBytes != 0 || len(usage.Models) != 0 {
		t.Errorf("missing dir reports usage: %+v", usage)
	}
}
