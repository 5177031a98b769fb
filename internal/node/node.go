// Package node runs the three consumer groups of a dispatch node.
package node

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lzyats/im-dispatch/pkg/mq"
	"github.com/lzyats/im-dispatch/pkg/publisher"
)

// Handlers consumes one record per call. *delivery.Dispatcher implements it.
type Handlers interface {
	HandleDirect(ctx context.Context, rec mq.Record) error
	HandleGroup(ctx context.Context, rec mq.Record) error
	HandleEvent(ctx context.Context, rec mq.Record) error
}

type Options struct {
	Topics publisher.Topics
	// GroupID is shared by every node so each record is handled once
	// cluster-wide. Broker drivers derive one group per topic from it.
	GroupID           string
	DirectConcurrency int
	GroupConcurrency  int
	EventConcurrency  int
}

func (o Options) withDefaults() Options {
	if o.Topics.Direct == "" {
		o.Topics.Direct = "im-chat-direct"
	}
	if o.Topics.Group == "" {
		o.Topics.Group = "im-chat-group"
	}
	if o.Topics.Event == "" {
		o.Topics.Event = "im-system-event"
	}
	if o.GroupID == "" {
		o.GroupID = "im-dispatch"
	}
	if o.DirectConcurrency <= 0 {
		o.DirectConcurrency = 4
	}
	if o.GroupConcurrency <= 0 {
		o.GroupConcurrency = 8
	}
	if o.EventConcurrency <= 0 {
		o.EventConcurrency = 2
	}
	return o
}

type Node struct {
	sub  mq.Subscriber
	h    Handlers
	opts Options
	log  *zap.Logger
}

func New(sub mq.Subscriber, h Handlers, opts Options, log *zap.Logger) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	return &Node{sub: sub, h: h, opts: opts.withDefaults(), log: log}
}

// Run blocks until ctx is cancelled or one subscription fails.
func (n *Node) Run(ctx context.Context) error {
	subs := []struct {
		sub mq.Subscription
		h   mq.Handler
	}{
		{mq.Subscription{Topic: n.opts.Topics.Direct, Group: n.opts.GroupID, Concurrency: n.opts.DirectConcurrency}, n.h.HandleDirect},
		{mq.Subscription{Topic: n.opts.Topics.Group, Group: n.opts.GroupID, Concurrency: n.opts.GroupConcurrency}, n.h.HandleGroup},
		{mq.Subscription{Topic: n.opts.Topics.Event, Group: n.opts.GroupID, Concurrency: n.opts.EventConcurrency}, n.h.HandleEvent},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range subs {
		s := s
		g.Go(func() error {
			n.log.Info("consumer started",
				zap.String("topic", s.sub.Topic),
				zap.String("group", s.sub.Group),
				zap.Int("concurrency", s.sub.Concurrency))
			if err := n.sub.Subscribe(gctx, s.sub, s.h); err != nil {
				return fmt.Errorf("subscribe %s: %w", s.sub.Topic, err)
			}
			n.log.Info("consumer stopped", zap.String("topic", s.sub.Topic))
			return nil
		})
	}
	return g.Wait()
}
