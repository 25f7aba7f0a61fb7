package types

// ModelStatus is derived on every query from the two ground-truth sources:
// the models directory on disk and the loader's in-memory state. It is never
// stored, so it cannot drift.
type ModelStatus string

const (
	StatusNotDownloaded ModelStatus = "not-downloaded"
	StatusDownloading   ModelStatus = "downloading"
	StatusReady         ModelStatus = "ready"
	StatusLoading       ModelStatus = "loading"
	StatusLoaded        ModelStatus = "loaded"
	StatusError         ModelStatus = "error"
)

// ModelInfo is a catalog entry combined with its derived status, as reported
// to the editor process.
type ModelInfo struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Filename     string      `json:"filename"`
	SizeBytes    int64       `json:"size_bytes"`
	Quantization string      `json:"quantization"`
	MinRAMGB     int         `json:"min_ram_gb"`
	Recommended  bool        `json:"recommended"`
	Status       ModelStatus `json:"status"`
}

// InferRequest is what the editor sends to /infer. ID is assigned
// server-side.
type InferRequest struct {
	Prompt    string `json:"prompt" msgpack:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty" msgpack:"max_tokens,omitempty"`
}

type InferResult struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
}

// DownloadProgressEvent is pushed over the per-model download topic while a
// transfer is in flight. Percent is 0-100.
type DownloadProgressEvent struct {
	ModelID string `json:"model_id"`
	Percent int    `json:"percent"`
}

// InferenceEvent marks the start and end of one generation, so the editor
// can show a busy indicator without polling.
type InferenceEvent struct {
	ID    string `json:"id"`
	Phase string `json:"phase"` // "started" or "finished"
	Error string `json:"error,omitempty"`
}

type ModelUsage struct {
	ID        string `json:"id"`
	SizeBytes int64  `json:"size_bytes"`
}

type StorageUsage struct {
	UsedBytes int64        `json:"used_bytes"`
	Models    []ModelUsage `json:"models"`
}

type LoadedModel struct {
	Loaded  bool   `json:"loaded"`
	ModelID string `json:"model_id,omitempty"`
}
