// Package mq abstracts the partitioned log the dispatch nodes share.
//
// Drivers guarantee that records with the same key land on the same
// partition and that a partition is drained by a single worker at a time.
// A Handler returning nil acknowledges the record; returning an error leaves
// it unacknowledged and the driver redelivers it, in order, before anything
// after it on the same partition.
package mq

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("mq: closed")

// Message is an outgoing record. A nil Key spreads records across partitions.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// Delivery reports where a published record was stored.
type Delivery struct {
	Topic     string
	Partition int
	Offset    int64
}

// Completion runs once per SendAsync call on a driver-owned goroutine. It must
// not block beyond logging.
type Completion func(Delivery, error)

// Producer publishes without blocking the caller.
type Producer interface {
	SendAsync(ctx context.Context, msg Message, done Completion)
	Close() error
}

// Record is an incoming record handed to a Handler.
type Record struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
}

type Handler func(ctx context.Context, rec Record) error

// Subscription describes one consumer group on one topic.
type Subscription struct {
	Topic       string
	Group       string
	Concurrency int
}

// Subscriber runs a worker pool for sub until ctx is cancelled. It blocks and
// returns nil on cancellation.
type Subscriber interface {
	Subscribe(ctx context.Context, sub Subscription, h Handler) error
	Close() error
}
