// Package delivery consumes chat records from the log and routes each target
// either to a live connection or to offline storage.
//
// Handlers return nil to acknowledge a record. A non-nil error means a side
// effect did not complete and the record must be redelivered; every side
// effect is therefore repeated on redelivery and collaborators are expected to
// be idempotent.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/lzyats/im-dispatch/internal/metrics"
	"github.com/lzyats/im-dispatch/pkg/brief"
	"github.com/lzyats/im-dispatch/pkg/codec"
	"github.com/lzyats/im-dispatch/pkg/event"
	"github.com/lzyats/im-dispatch/pkg/mq"
)

type Options struct {
	// OpTimeout bounds every single collaborator call.
	OpTimeout time.Duration
	// PushFailFallbackOffline stores the message offline when a push to an
	// online user fails, instead of failing the record.
	PushFailFallbackOffline bool
	// PreviewBytes caps the raw payload excerpt logged for poison records.
	PreviewBytes int
}

func (o Options) withDefaults() Options {
	if o.OpTimeout <= 0 {
		o.OpTimeout = 3 * time.Second
	}
	if o.PreviewBytes <= 0 {
		o.PreviewBytes = 256
	}
	return o
}

type Dispatcher struct {
	presence Presence
	offline  OfflineStore
	audit    AuditSink
	opts     Options
	log      *zap.Logger
}

func NewDispatcher(presence Presence, offline OfflineStore, audit AuditSink, opts Options, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		presence: presence,
		offline:  offline,
		audit:    audit,
		opts:     opts.withDefaults(),
		log:      log,
	}
}

// HandleDirect processes one record of the direct channel.
func (d *Dispatcher) HandleDirect(ctx context.Context, rec mq.Record) error {
	env, err := codec.DecodeEnvelope(rec.Value)
	if err != nil {
		d.poison(event.ChannelDirect, rec, err)
		return nil
	}
	receiver := env.ToUserID
	if receiver == "" {
		receiver = string(rec.Key)
	}
	if receiver == "" {
		d.poison(event.ChannelDirect, rec, fmt.Errorf("%w: no receiver", codec.ErrMalformed))
		return nil
	}

	if _, err := d.deliver(ctx, env, receiver); err != nil {
		metrics.Consumed.WithLabelValues(string(event.ChannelDirect), "nack").Inc()
		return fmt.Errorf("direct msg %s: %w", env.MsgID, err)
	}
	metrics.Consumed.WithLabelValues(string(event.ChannelDirect), "ack").Inc()
	return nil
}

// HandleGroup fans a group record out to every member except the sender. The
// first failing member fails the whole record; members already served are
// served again on redelivery.
func (d *Dispatcher) HandleGroup(ctx context.Context, rec mq.Record) error {
	p, err := codec.DecodeGroup(rec.Value)
	if err != nil {
		d.poison(event.ChannelGroup, rec, err)
		return nil
	}
	env := &p.Envelope
	targets := lo.Filter(lo.Uniq(p.MemberIDs), func(uid string, _ int) bool {
		return uid != "" && uid != env.FromUserID
	})

	var online, offline int
	for _, uid := range targets {
		ok, err := d.deliver(ctx, env, uid)
		if err != nil {
			metrics.Consumed.WithLabelValues(string(event.ChannelGroup), "nack").Inc()
			d.log.Warn("group fan-out failed, record will be redelivered",
				zap.String("msg_id", env.MsgID),
				zap.Int64("group_id", env.GroupID),
				zap.String("member", uid),
				zap.Int("online", online),
				zap.Int("offline", offline),
				zap.Error(err))
			return fmt.Errorf("group msg %s member %s: %w", env.MsgID, uid, err)
		}
		if ok {
			online++
		} else {
			offline++
		}
	}
	metrics.Consumed.WithLabelValues(string(event.ChannelGroup), "ack").Inc()
	d.log.Debug("group fan-out done",
		zap.String("msg_id", env.MsgID),
		zap.Int64("group_id", env.GroupID),
		zap.Int("targets", len(targets)),
		zap.Int("online", online),
		zap.Int("offline", offline))
	return nil
}

// HandleEvent hands a system event to the audit sink. Events are always
// acknowledged.
func (d *Dispatcher) HandleEvent(ctx context.Context, rec mq.Record) error {
	evt, err := codec.DecodeEvent(rec.Value)
	if err != nil {
		d.poison(event.ChannelEvent, rec, err)
		return nil
	}
	if d.audit != nil {
		actx, cancel := context.WithTimeout(ctx, d.opts.OpTimeout)
		err = d.audit.Record(actx, evt)
		cancel()
		if err != nil {
			d.log.Error("audit record failed", zap.String("type", evt.Type()), zap.Error(err))
		}
	}
	metrics.Consumed.WithLabelValues(string(event.ChannelEvent), "ack").Inc()
	return nil
}

// deliver runs the presence branch for one target. It reports whether the
// target was served online.
func (d *Dispatcher) deliver(ctx context.Context, env *event.MessageEnvelope, uid string) (bool, error) {
	if d.isOnline(ctx, uid) {
		pctx, cancel := context.WithTimeout(ctx, d.opts.OpTimeout)
		err := d.presence.Push(pctx, uid, event.PushChannel, env)
		cancel()
		if err == nil {
			metrics.DeliverOnline.Inc()
			return true, nil
		}
		if !d.opts.PushFailFallbackOffline {
			metrics.DeliverFail.Inc()
			return true, fmt.Errorf("push to %s: %w", uid, err)
		}
		d.log.Warn("push failed, storing offline",
			zap.String("msg_id", env.MsgID), zap.String("uid", uid), zap.Error(err))
	}

	octx, cancel := context.WithTimeout(ctx, d.opts.OpTimeout)
	err := d.offline.SaveOffline(octx, uid, env.SessionID.String(), env.MsgID, brief.Of(env.Content))
	cancel()
	if err != nil {
		metrics.DeliverFail.Inc()
		return false, fmt.Errorf("save offline for %s: %w", uid, err)
	}
	metrics.DeliverOffline.Inc()
	return false, nil
}

// isOnline treats a failed presence check as offline so the message is
// persisted rather than lost.
func (d *Dispatcher) isOnline(ctx context.Context, uid string) bool {
	qctx, cancel := context.WithTimeout(ctx, d.opts.OpTimeout)
	defer cancel()
	online, err := d.presence.IsOnline(qctx, uid)
	if err != nil {
		metrics.PresenceFail.Inc()
		d.log.Warn("presence check failed, treating as offline", zap.String("uid", uid), zap.Error(err))
		return false
	}
	return online
}

func (d *Dispatcher) poison(ch event.Channel, rec mq.Record, err error) {
	metrics.Consumed.WithLabelValues(string(ch), "poison").Inc()
	d.log.Error("dropping undecodable record",
		zap.String("channel", string(ch)),
		zap.String("topic", rec.Topic),
		zap.Int("partition", rec.Partition),
		zap.Int64("offset", rec.Offset),
		zap.Int("size", len(rec.Value)),
		zap.String("payload", codec.Preview(rec.Value, d.opts.PreviewBytes)),
		zap.Error(err))
}
