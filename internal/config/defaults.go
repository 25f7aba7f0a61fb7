package config

import "errors"

const (
	DefaultKouseiHome = "~/.kousei"
	DefaultHost       = "localhost"
	DefaultPort       = 8885

	DefaultLlamaServerPort = 42820
	DefaultMaxQueueDepth   = 64
)

var (
	// DownloadTopicPrefix is the event topic carrying download progress,
	// keyed per model id: kousei/downloads/<model-id>.
	DownloadTopicPrefix = "kousei/downloads/"

	// InferenceTopic carries inference start/end notifications.
	InferenceTopic = "kousei/inference"
)

var (
	ErrKouseiHomeNotSet       = errors.New("kousei home directory is not set")
	ErrKouseiHomeExpandFailed = errors.New("failed to expand kousei home directory")
)
