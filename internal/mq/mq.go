package mq

import (
	"context"
	"errors"
)

var (
	ErrTopicNotExists = errors.New("topic does not exist")
	ErrQueueFull      = errors.New("queue is full")
	ErrQueueClosed    = errors.New("queue closed")
	ErrTopicClosed    = errors.New("topic closed")
)

// MQ is the in-process event channel between the engine and the transport
// boundary. Download progress and inference lifecycle events are published
// here and relayed to clients over SSE; topics are cheap and closed when the
// operation they describe finishes.
type MQ interface {
	Publish(ctx context.Context, topic string, message []byte) error
	Receive(ctx context.Context, topic string) ([]byte, error)
	CloseTopic(topic string) error
	Close() error
}

func NewMQ() (MQ, error) {
	return NewInMemoryMQ(16)
}
