package mq

import (
	"context"
	"sync"
)

type InMemoryMQ struct {
	maxSize int
	topics  sync.Map
	closeCh chan struct{}
}

func NewInMemoryMQ(maxSize int) (*InMemoryMQ, error) {
	return &InMemoryMQ{
		maxSize: maxSize,
		closeCh: make(chan struct{}),
	}, nil
}

func (q *InMemoryMQ) Publish(ctx context.Context, topic string, message []byte) error {
	value, _ := q.topics.LoadOrStore(topic, make(chan []byte, q.maxSize))
	ch := value.(chan []byte)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeCh:
		return ErrQueueClosed
	case ch <- message:
		return nil
	default:
		// Progress events are advisory; a slow consumer drops the oldest
		// update rather than stalling the publisher.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- message:
			return nil
		default:
			return ErrQueueFull
		}
	}
}

func (q *InMemoryMQ) Receive(ctx context.Context, topic string) ([]byte, error) {
	value, _ := q.topics.LoadOrStore(topic, make(chan []byte, q.maxSize))
	ch := value.(chan []byte)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.closeCh:
		return nil, ErrQueueClosed
	case data, ok := <-ch:
		if !ok {
			return nil, ErrTopicClosed
		}
		return data, nil
	}
}

// CloseTopic closes the topic's channel and forgets the topic. Topic names
// repeat across download attempts of the same model, so a later Publish must
// get a fresh channel instead of the closed one.
func (q *InMemoryMQ) CloseTopic(topic string) error {
	value, ok := q.topics.LoadAndDelete(topic)
	if !ok {
		return ErrTopicNotExists
	}

	close(value.(chan []byte))
	return nil
}

func (q *InMemoryMQ) Close() error {
	close(q.closeCh)
	return nil
}
