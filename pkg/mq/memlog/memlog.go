// Package memlog is an in-process partitioned log for single-node runs and
// tests. It keys records onto partitions with the same hash balancer the
// kafka driver uses, keeps committed offsets per consumer group and
// redelivers an unacknowledged record before anything behind it.
package memlog

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lzyats/im-dispatch/pkg/mq"
)

type Options struct {
	Partitions      int
	RedeliveryDelay time.Duration
	Logger          *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Partitions <= 0 {
		o.Partitions = 8
	}
	if o.RedeliveryDelay <= 0 {
		o.RedeliveryDelay = 50 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Log implements both mq.Producer and mq.Subscriber. Run at most one
// Subscribe per (group, topic) pair.
type Log struct {
	opts     Options
	balancer *kafka.Hash
	parts    []int

	mu      sync.Mutex
	topics  map[string][][]mq.Record
	offsets map[string][]int64
	notify  chan struct{}
	closed  bool
	done    chan struct{}
}

func New(opts Options) *Log {
	opts = opts.withDefaults()
	parts := make([]int, opts.Partitions)
	for i := range parts {
		parts[i] = i
	}
	return &Log{
		opts:     opts,
		balancer: &kafka.Hash{},
		parts:    parts,
		topics:   make(map[string][][]mq.Record),
		offsets:  make(map[string][]int64),
		notify:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// PartitionFor returns the partition a key maps to.
func (l *Log) PartitionFor(key []byte) int {
	return l.balancer.Balance(kafka.Message{Key: key}, l.parts...)
}

func (l *Log) SendAsync(_ context.Context, msg mq.Message, done mq.Completion) {
	p := l.PartitionFor(msg.Key)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		if done != nil {
			go done(mq.Delivery{}, mq.ErrClosed)
		}
		return
	}
	parts := l.topicLocked(msg.Topic)
	rec := mq.Record{
		Topic:     msg.Topic,
		Partition: p,
		Offset:    int64(len(parts[p])),
		Key:       msg.Key,
		Value:     msg.Value,
	}
	parts[p] = append(parts[p], rec)
	close(l.notify)
	l.notify = make(chan struct{})
	l.mu.Unlock()

	if done != nil {
		go done(mq.Delivery{Topic: rec.Topic, Partition: rec.Partition, Offset: rec.Offset}, nil)
	}
}

func (l *Log) Subscribe(ctx context.Context, sub mq.Subscription, h mq.Handler) error {
	n := sub.Concurrency
	if n <= 0 {
		n = 1
	}
	key := sub.Group + "\x00" + sub.Topic

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return mq.ErrClosed
	}
	l.topicLocked(sub.Topic)
	if _, ok := l.offsets[key]; !ok {
		l.offsets[key] = make([]int64, l.opts.Partitions)
	}
	l.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		var owned []int
		for p := i; p < l.opts.Partitions; p += n {
			owned = append(owned, p)
		}
		if len(owned) == 0 {
			continue
		}
		g.Go(func() error {
			l.work(gctx, key, sub, owned, h)
			return nil
		})
	}
	return g.Wait()
}

func (l *Log) work(ctx context.Context, key string, sub mq.Subscription, owned []int, h mq.Handler) {
	log := l.opts.Logger.With(zap.String("topic", sub.Topic), zap.String("group", sub.Group))
	retryAt := make(map[int]time.Time)

	for {
		wake := l.waitCh()
		progressed := false
		now := time.Now()
		var nextRetry time.Time

		for _, p := range owned {
			if at, ok := retryAt[p]; ok && now.Before(at) {
				if nextRetry.IsZero() || at.Before(nextRetry) {
					nextRetry = at
				}
				continue
			}
			rec, ok := l.next(key, sub.Topic, p)
			if !ok {
				continue
			}
			if err := h(ctx, rec); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Debug("record not acknowledged, redelivering",
					zap.Int("partition", p), zap.Int64("offset", rec.Offset), zap.Error(err))
				at := time.Now().Add(l.opts.RedeliveryDelay)
				retryAt[p] = at
				if nextRetry.IsZero() || at.Before(nextRetry) {
					nextRetry = at
				}
				continue
			}
			delete(retryAt, p)
			l.commit(key, p, rec.Offset+1)
			progressed = true
		}

		if progressed {
			continue
		}
		var timer <-chan time.Time
		if !nextRetry.IsZero() {
			timer = time.After(time.Until(nextRetry))
		}
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-wake:
		case <-timer:
		}
	}
}

// Committed returns the committed offsets of group on topic, one per partition.
func (l *Log) Committed(group, topic string) []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int64, l.opts.Partitions)
	copy(out, l.offsets[group+"\x00"+topic])
	return out
}

// Len returns the number of records stored for topic.
func (l *Log) Len(topic string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, p := range l.topics[topic] {
		n += len(p)
	}
	return n
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.done)
	return nil
}

func (l *Log) topicLocked(topic string) [][]mq.Record {
	parts, ok := l.topics[topic]
	if !ok {
		parts = make([][]mq.Record, l.opts.Partitions)
		l.topics[topic] = parts
	}
	return parts
}

func (l *Log) next(key, topic string, p int) (mq.Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	off := l.offsets[key][p]
	recs := l.topics[topic][p]
	if off >= int64(len(recs)) {
		return mq.Record{}, false
	}
	return recs[off], true
}

func (l *Log) commit(key string, p int, off int64) {
	l.mu.Lock()
	l.offsets[key][p] = off
	l.mu.Unlock()
}

func (l *Log) waitCh() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notify
}
