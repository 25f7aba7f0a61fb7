package registry

import (
	"errors"
	"fmt"
)

// ErrModelNotFound indicates the model id does not exist in the catalog.
var ErrModelNotFound = errors.New("registry: model not found")

// ModelEntry describes one downloadable proofreading model. Entries are
// compile-time data; nothing mutates them at runtime.
type ModelEntry struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	URL          string `json:"url"`
	Filename     string `json:"filename"`
	SizeBytes    int64  `json:"size_bytes"`
	SHA256       string `json:"sha256,omitempty"`
	Quantization string `json:"quantization"`
	MinRAMGB     int    `json:"min_ram_gb"`
	Recommended  bool   `json:"recommended"`
}

// catalog is the built-in set of Japanese-capable instruction models the
// editor can run offline. Sizes and digests are pinned per release; an empty
// SHA256 means the publisher does not provide one and the download is
// accepted on byte count alone.
var catalog = []ModelEntry{
	{
		ID:           "qwen2.5-3b-instruct-q4",
		Name:         "Qwen2.5 3B Instruct (Q4_K_M)",
		URL:          "https://huggingface.co/Qwen/Qwen2.5-3B-Instruct-GGUF/resolve/main/qwen2.5-3b-instruct-q4_k_m.gguf",
		Filename:     "qwen2.5-3b-instruct-q4_k_m.gguf",
		SizeBytes:    2100388896,
		SHA256:       "3a4078d53b46f22989adbf998ce5a3b2bbc9ee1df5ecf4bd07e937514017faa5",
		Quantization: "Q4_K_M",
		MinRAMGB:     4,
		Recommended:  true,
	},
	{
		ID:           "qwen2.5-7b-instruct-q4",
		Name:         "Qwen2.5 7B Instruct (Q4_K_M)",
		URL:          "https://huggingface.co/Qwen/Qwen2.5-7B-Instruct-GGUF/resolve/main/qwen2.5-7b-instruct-q4_k_m.gguf",
		Filename:     "qwen2.5-7b-instruct-q4_k_m.gguf",
		SizeBytes:    4683073248,
		SHA256:       "8bcd66e286a518d0b1a68c4fe2ff05b6d0d9ca7673b46c6b7c0e1f9bf1b842b3",
		Quantization: "Q4_K_M",
		MinRAMGB:     8,
		Recommended:  false,
	},
	{
		ID:           "gemma-2-2b-jpn-it-q4",
		Name:         "Gemma 2 2B JPN Instruct (Q4_K_M)",
		URL:          "https://huggingface.co/google/gemma-2-2b-jpn-it-GGUF/resolve/main/gemma-2-2b-jpn-it-q4_k_m.gguf",
		Filename:     "gemma-2-2b-jpn-it-q4_k_m.gguf",
		SizeBytes:    1708582784,
		SHA256:       "",
		Quantization: "Q4_K_M",
		MinRAMGB:     4,
		Recommended:  false,
	},
	{
		ID:           "llm-jp-3-3.7b-instruct-q5",
		Name:         "LLM-jp-3 3.7B Instruct (Q5_K_M)",
		URL:          "https://huggingface.co/llm-jp/llm-jp-3-3.7b-instruct-GGUF/resolve/main/llm-jp-3-3.7b-instruct-Q5_K_M.gguf",
		Filename:     "llm-jp-3-3.7b-instruct-Q5_K_M.gguf",
		SizeBytes:    2659847392,
		SHA256:       "c9f1e6b0a0de63af5c6b1c13ab1b9b16f2fcba161138d1ab64e0d20c8e6b3c57",
		Quantization: "Q5_K_M",
		MinRAMGB:     6,
		Recommended:  false,
	},
}

// List returns every catalog entry. The returned slice is a copy; callers
// may reorder or filter it freely.
func List() []ModelEntry {
	entries := make([]ModelEntry, len(catalog))
	copy(entries, catalog)
	return entries
}

// Get returns the entry for id, or ErrModelNotFound.
func Get(id string) (ModelEntry, error) {
	for _, entry := range catalog {
		if entry.ID == id {
			return entry, nil
		}
	}
	return ModelEntry{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
}

// Exists reports whether id resolves in the catalog.
func Exists(id string) bool {
	_, err := Get(id)
	return err == nil
}

// Recommended returns the entries flagged as the default choice for new
// installs, in catalog order.
func Recommended() []ModelEntry {
	var entries []ModelEntry
	for _, entry := range catalog {
		if entry.Recommended {
			entries = append(entries, entry)
		}
	}
	return entries
}
