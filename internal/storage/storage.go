package storage

import (
	"os"
	"path/filepath"

	"github.com/aozora-works/kousei-engine/internal/registry"
	"github.com/aozora-works/kousei-engine/pkg/types"
)

// Report walks the catalog and stats each model's final file in modelsDir.
// Models not on disk contribute zero bytes; absence is never an error.
// Partial downloads are excluded; they are not usable models.
func Report(modelsDir string) types.StorageUsage {
	usage := types.StorageUsage{Models: []types.ModelUsage{}}

	for _, entry := range registry.List() {
		info, err := os.Stat(filepath.Join(modelsDir, entry.Filename))
		if err != nil {
			continue
		}

		usage.UsedBytes += info.Size()
		usage.Models = append(usage.Models, types.ModelUsage{
			ID:        entry.ID,
			SizeBytes: info.Size(),
		})
	}

	return usage
}
