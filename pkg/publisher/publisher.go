// Package publisher is the send-path entry point: it serializes chat payloads,
// picks the routing key and hands the record to the log without waiting.
package publisher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/lzyats/im-dispatch/internal/metrics"
	"github.com/lzyats/im-dispatch/pkg/codec"
	"github.com/lzyats/im-dispatch/pkg/event"
	"github.com/lzyats/im-dispatch/pkg/mq"
)

// Topics maps each channel onto a log topic.
type Topics struct {
	Direct string
	Group  string
	Event  string
}

func (t Topics) withDefaults() Topics {
	if t.Direct == "" {
		t.Direct = "im-chat-direct"
	}
	if t.Group == "" {
		t.Group = "im-chat-group"
	}
	if t.Event == "" {
		t.Event = "im-system-event"
	}
	return t
}

// Publisher never reports errors to its caller. Failures are logged and
// counted; the caller has already acknowledged the send to its client.
type Publisher struct {
	prod   mq.Producer
	topics Topics
	log    *zap.Logger

	inflight sync.WaitGroup
}

func New(prod mq.Producer, topics Topics, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{prod: prod, topics: topics.withDefaults(), log: log}
}

// PublishDirect keys the record by receiverID so one receiver's messages stay
// in order. An empty receiverID falls back to env.ToUserID. A record whose
// key and ToUserID disagree would be ordered under one user and delivered to
// another, so it is dropped.
func (p *Publisher) PublishDirect(ctx context.Context, env *event.MessageEnvelope, receiverID string) {
	if env != nil {
		if receiverID == "" {
			receiverID = env.ToUserID
		}
		if env.ToUserID != "" && env.ToUserID != receiverID {
			metrics.Published.WithLabelValues(string(event.ChannelDirect), "rejected").Inc()
			p.log.Error("receiver does not match envelope, message dropped",
				zap.String("msg_id", env.MsgID),
				zap.String("receiver", receiverID),
				zap.String("to_user_id", env.ToUserID))
			return
		}
	}
	b, err := codec.EncodeEnvelope(env)
	if err != nil {
		p.encodeFailed(event.ChannelDirect, env, err)
		return
	}
	p.send(ctx, event.ChannelDirect, p.topics.Direct, []byte(receiverID), b, env.MsgID)
}

// PublishGroup ships the roster with the envelope so consumers never look it
// up. All messages of a group share one key.
func (p *Publisher) PublishGroup(ctx context.Context, env *event.MessageEnvelope, memberIDs []string) {
	if env == nil {
		p.encodeFailed(event.ChannelGroup, nil, codec.ErrMalformed)
		return
	}
	b, err := codec.EncodeGroup(&event.GroupFanoutPayload{Envelope: *env, MemberIDs: memberIDs})
	if err != nil {
		p.encodeFailed(event.ChannelGroup, env, err)
		return
	}
	p.send(ctx, event.ChannelGroup, p.topics.Group, []byte(event.GroupRoutingKey(env.GroupID)), b, env.MsgID)
}

// PublishEvent sends an unkeyed audit event.
func (p *Publisher) PublishEvent(ctx context.Context, evt event.SystemEvent) {
	b, err := codec.EncodeEvent(evt)
	if err != nil {
		metrics.Published.WithLabelValues(string(event.ChannelEvent), "encode_error").Inc()
		p.log.Error("event serialization failed", zap.String("type", evt.Type()), zap.Error(err))
		return
	}
	p.send(ctx, event.ChannelEvent, p.topics.Event, nil, b, "")
}

// Flush waits for the completion of every record published so far, or for
// ctx to end.
func (p *Publisher) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) send(ctx context.Context, ch event.Channel, topic string, key, value []byte, msgID string) {
	p.inflight.Add(1)
	p.prod.SendAsync(ctx, mq.Message{Topic: topic, Key: key, Value: value}, func(d mq.Delivery, err error) {
		defer p.inflight.Done()
		if err != nil {
			metrics.Published.WithLabelValues(string(ch), "error").Inc()
			p.log.Error("publish failed, message dropped",
				zap.String("channel", string(ch)),
				zap.String("topic", topic),
				zap.ByteString("key", key),
				zap.String("msg_id", msgID),
				zap.Error(err))
			return
		}
		metrics.Published.WithLabelValues(string(ch), "ok").Inc()
		p.log.Debug("published",
			zap.String("channel", string(ch)),
			zap.String("topic", d.Topic),
			zap.Int("partition", d.Partition),
			zap.Int64("offset", d.Offset),
			zap.String("msg_id", msgID))
	})
}

func (p *Publisher) encodeFailed(ch event.Channel, env *event.MessageEnvelope, err error) {
	metrics.Published.WithLabelValues(string(ch), "encode_error").Inc()
	msgID := ""
	if env != nil {
		msgID = env.MsgID
	}
	p.log.Error("envelope serialization failed", zap.String("channel", string(ch)), zap.String("msg_id", msgID), zap.Error(err))
}
