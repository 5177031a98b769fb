// Package rocketmq implements the mq driver on Apache RocketMQ. Ordering per
// routing key relies on the hash queue selector (producer) and orderly
// consumption (consumer).
package rocketmq

import (
	"context"
	"fmt"
	"sync"

	rmq "github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lzyats/im-dispatch/pkg/mq"
)

type Settings struct {
	NameServer    string
	ProducerGroup string
	AccessKey     string
	SecretKey     string
	Retry         int
}

func (s Settings) credentials() (primitive.Credentials, bool) {
	if s.AccessKey == "" && s.SecretKey == "" {
		return primitive.Credentials{}, false
	}
	return primitive.Credentials{AccessKey: s.AccessKey, SecretKey: s.SecretKey}, true
}

type Producer struct {
	p   rmq.Producer
	log *zap.Logger
}

func NewProducer(cfg Settings, log *zap.Logger) (*Producer, error) {
	if cfg.NameServer == "" {
		return nil, fmt.Errorf("rocketmq: missing name-server")
	}
	if cfg.ProducerGroup == "" {
		return nil, fmt.Errorf("rocketmq: missing producer group")
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 2
	}
	if log == nil {
		log = zap.NewNop()
	}
	opts := []producer.Option{
		producer.WithNameServer([]string{cfg.NameServer}),
		producer.WithGroupName(cfg.ProducerGroup),
		producer.WithRetry(cfg.Retry),
		producer.WithQueueSelector(producer.NewHashQueueSelector()),
	}
	if cred, ok := cfg.credentials(); ok {
		opts = append(opts, producer.WithCredentials(cred))
	}
	prd, err := rmq.NewProducer(opts...)
	if err != nil {
		return nil, err
	}
	if err := prd.Start(); err != nil {
		return nil, err
	}
	return &Producer{p: prd, log: log}, nil
}

// SendAsync uses the routing key as sharding key so the hash selector pins it
// to one queue. Records without a key are spread randomly.
func (r *Producer) SendAsync(ctx context.Context, msg mq.Message, done mq.Completion) {
	m := primitive.NewMessage(msg.Topic, msg.Value)
	if len(msg.Key) > 0 {
		m.WithShardingKey(string(msg.Key))
		m.WithKeys([]string{string(msg.Key)})
	}
	err := r.p.SendAsync(ctx, func(_ context.Context, res *primitive.SendResult, err error) {
		if done == nil {
			return
		}
		d := mq.Delivery{Topic: msg.Topic}
		if res != nil {
			d.Offset = res.QueueOffset
			if res.MessageQueue != nil {
				d.Partition = res.MessageQueue.QueueId
			}
		}
		if err == nil && res != nil && res.Status != primitive.SendOK {
			err = fmt.Errorf("rocketmq: send status %d", res.Status)
		}
		done(d, err)
	}, m)
	if err != nil && done != nil {
		go done(mq.Delivery{Topic: msg.Topic}, err)
	}
}

func (r *Producer) Close() error {
	if r.p != nil {
		return r.p.Shutdown()
	}
	return nil
}

// Subscriber starts one orderly push consumer per subscription. The consumer
// group name is suffixed with the topic because a RocketMQ group must keep one
// subscription set across its members.
type Subscriber struct {
	cfg Settings
	log *zap.Logger

	mu     sync.Mutex
	closed bool
}

func NewSubscriber(cfg Settings, log *zap.Logger) (*Subscriber, error) {
	if cfg.NameServer == "" {
		return nil, fmt.Errorf("rocketmq: missing name-server")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriber{cfg: cfg, log: log}, nil
}

func GroupName(group, topic string) string {
	return group + "_" + topic
}

func (s *Subscriber) Subscribe(ctx context.Context, sub mq.Subscription, h mq.Handler) error {
	if sub.Group == "" || sub.Topic == "" {
		return fmt.Errorf("rocketmq: subscription needs topic and group")
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return mq.ErrClosed
	}
	n := sub.Concurrency
	if n <= 0 {
		n = 1
	}
	opts := []consumer.Option{
		consumer.WithNameServer([]string{s.cfg.NameServer}),
		consumer.WithGroupName(GroupName(sub.Group, sub.Topic)),
		consumer.WithInstance(sub.Topic + "-" + uuid.NewString()),
		consumer.WithConsumerModel(consumer.Clustering),
		consumer.WithConsumeFromWhere(consumer.ConsumeFromFirstOffset),
		consumer.WithConsumerOrder(true),
		consumer.WithConsumeGoroutineNums(n),
		consumer.WithConsumeMessageBatchMaxSize(1),
	}
	if cred, ok := s.cfg.credentials(); ok {
		opts = append(opts, consumer.WithCredentials(cred))
	}
	c, err := rmq.NewPushConsumer(opts...)
	if err != nil {
		return err
	}

	log := s.log.With(zap.String("topic", sub.Topic), zap.String("group", sub.Group))
	selector := consumer.MessageSelector{Type: consumer.TAG, Expression: "*"}
	err = c.Subscribe(sub.Topic, selector, func(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
		for _, m := range msgs {
			rec := mq.Record{
				Topic:  m.Topic,
				Offset: m.QueueOffset,
				Key:    []byte(m.GetShardingKey()),
				Value:  m.Body,
			}
			if m.Queue != nil {
				rec.Partition = m.Queue.QueueId
			}
			if herr := h(ctx, rec); herr != nil {
				log.Warn("record not acknowledged, suspending queue",
					zap.Int("queue", rec.Partition), zap.Int64("offset", rec.Offset), zap.Error(herr))
				return consumer.SuspendCurrentQueueAMoment, nil
			}
		}
		return consumer.ConsumeSuccess, nil
	})
	if err != nil {
		return err
	}

	if err := c.Start(); err != nil {
		return err
	}
	log.Info("rocketmq consumer started", zap.Int("goroutines", n))
	<-ctx.Done()
	return c.Shutdown()
}

// Close stops new subscriptions from starting. Running consumers shut down
// when their Subscribe context is cancelled.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
