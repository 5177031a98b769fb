// Package kafka implements the mq driver on Apache Kafka via segmentio/kafka-go.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lzyats/im-dispatch/pkg/mq"
)

// Config holds the broker settings shared by producer and consumers.
type Config struct {
	Brokers           []string
	ClientID          string
	BatchTimeout      time.Duration
	RedeliveryBackoff time.Duration
	MaxWait           time.Duration
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "im-dispatch"
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
	if c.RedeliveryBackoff <= 0 {
		c.RedeliveryBackoff = time.Second
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 500 * time.Millisecond
	}
	return c
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka: at least one broker address is required")
	}
	return nil
}

// Producer writes asynchronously; per-message completions travel in
// kafka.Message.WriterData.
type Producer struct {
	writer *kafka.Writer
	log    *zap.Logger

	mu     sync.RWMutex
	closed bool
}

func NewProducer(cfg Config, log *zap.Logger) (*Producer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	p := &Producer{log: log}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion:   p.complete,
		Transport:    &kafka.Transport{ClientID: cfg.ClientID},
	}
	return p, nil
}

func (p *Producer) SendAsync(ctx context.Context, msg mq.Message, done mq.Completion) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		if done != nil {
			go done(mq.Delivery{}, mq.ErrClosed)
		}
		return
	}
	m := kafka.Message{
		Topic:      msg.Topic,
		Key:        msg.Key,
		Value:      msg.Value,
		WriterData: done,
	}
	// In async mode WriteMessages only fails on invalid input.
	if err := p.writer.WriteMessages(ctx, m); err != nil && done != nil {
		go done(mq.Delivery{Topic: msg.Topic}, err)
	}
}

func (p *Producer) complete(messages []kafka.Message, err error) {
	for _, m := range messages {
		done, ok := m.WriterData.(mq.Completion)
		if !ok || done == nil {
			continue
		}
		done(mq.Delivery{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset}, err)
	}
}

func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.writer.Close()
}

var errRedeliver = errors.New("kafka: record not acknowledged")

// reader is the part of *kafka.Reader a worker drives.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// GroupName derives the broker consumer group of one topic, so a rebalance
// on one channel leaves the others alone.
func GroupName(group, topic string) string {
	return group + "_" + topic
}

// Subscriber runs Concurrency readers in one consumer group per topic.
// Offsets are committed only after the handler succeeds. On handler failure
// the reader leaves the group and rejoins, so the broker hands the
// uncommitted record out again.
type Subscriber struct {
	cfg       Config
	log       *zap.Logger
	newReader func(kafka.ReaderConfig) reader

	mu      sync.Mutex
	readers map[reader]struct{}
	closed  bool
}

func NewSubscriber(cfg Config, log *zap.Logger) (*Subscriber, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriber{
		cfg:       cfg.withDefaults(),
		log:       log,
		newReader: func(rc kafka.ReaderConfig) reader { return kafka.NewReader(rc) },
		readers:   make(map[reader]struct{}),
	}, nil
}

func (s *Subscriber) Subscribe(ctx context.Context, sub mq.Subscription, h mq.Handler) error {
	if sub.Group == "" || sub.Topic == "" {
		return fmt.Errorf("kafka: subscription needs topic and group")
	}
	n := sub.Concurrency
	if n <= 0 {
		n = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			s.worker(gctx, sub, h, i)
			return nil
		})
	}
	return g.Wait()
}

func (s *Subscriber) worker(ctx context.Context, sub mq.Subscription, h mq.Handler, id int) {
	log := s.log.With(zap.String("topic", sub.Topic), zap.String("group", GroupName(sub.Group, sub.Topic)), zap.Int("worker", id))
	for ctx.Err() == nil {
		r := s.open(sub, id)
		if r == nil {
			return
		}
		err := s.drain(ctx, r, h)
		s.release(r)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errRedeliver) {
			log.Warn("rejoining group for redelivery", zap.Error(err))
		} else {
			log.Error("kafka reader failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.RedeliveryBackoff):
		}
	}
}

func (s *Subscriber) drain(ctx context.Context, r reader, h mq.Handler) error {
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			return err
		}
		rec := mq.Record{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Key:       m.Key,
			Value:     m.Value,
		}
		if herr := h(ctx, rec); herr != nil {
			return fmt.Errorf("%w: partition=%d offset=%d: %v", errRedeliver, m.Partition, m.Offset, herr)
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			return fmt.Errorf("commit partition=%d offset=%d: %w", m.Partition, m.Offset, err)
		}
	}
}

func (s *Subscriber) open(sub mq.Subscription, id int) reader {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	r := s.newReader(kafka.ReaderConfig{
		Brokers:     s.cfg.Brokers,
		GroupID:     GroupName(sub.Group, sub.Topic),
		Topic:       sub.Topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     s.cfg.MaxWait,
		StartOffset: kafka.FirstOffset,
		Dialer: &kafka.Dialer{
			ClientID:  fmt.Sprintf("%s-%s-%d", s.cfg.ClientID, sub.Topic, id),
			Timeout:   10 * time.Second,
			DualStack: true,
		},
	})
	s.readers[r] = struct{}{}
	return r
}

func (s *Subscriber) release(r reader) {
	s.mu.Lock()
	delete(s.readers, r)
	s.mu.Unlock()
	if err := r.Close(); err != nil {
		s.log.Debug("kafka reader close", zap.Error(err))
	}
}

// Close closes every open reader; running Subscribe calls return once their
// context is cancelled.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	for r := range s.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.readers, r)
	}
	return firstErr
}
