// Command im-dispatch-send publishes one chat message or system event the way
// an upstream chat service would.
package main

import (
	"context"
	"flag"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sony/sonyflake"
	"go.uber.org/zap"

	"github.com/lzyats/im-dispatch/internal/config"
	"github.com/lzyats/im-dispatch/internal/db"
	"github.com/lzyats/im-dispatch/internal/repo"
	"github.com/lzyats/im-dispatch/pkg/event"
	"github.com/lzyats/im-dispatch/pkg/mq"
	"github.com/lzyats/im-dispatch/pkg/mq/kafka"
	"github.com/lzyats/im-dispatch/pkg/mq/rocketmq"
	"github.com/lzyats/im-dispatch/pkg/publisher"
)

func main() {
	var (
		cfgPaths  string
		kind      string
		from      string
		to        string
		groupID   int64
		members   string
		content   string
		session   string
		eventType string
		roster    bool
	)
	flag.StringVar(&cfgPaths, "c", "./config.yml", "config file path (supports: a.yml,b.yml)")
	flag.StringVar(&kind, "type", "direct", "direct | group | event")
	flag.StringVar(&from, "from", "", "sender user id")
	flag.StringVar(&to, "to", "", "receiver user id (direct)")
	flag.Int64Var(&groupID, "group", 0, "group id (group)")
	flag.StringVar(&members, "members", "", "comma-separated member ids (group)")
	flag.BoolVar(&roster, "roster", false, "load group members from MySQL instead of -members")
	flag.StringVar(&content, "content", "", "message text")
	flag.StringVar(&session, "session", "", "conversation id (random when empty)")
	flag.StringVar(&eventType, "event", "", "system event type (event)")
	flag.Parse()

	log, _ := zap.NewDevelopment()
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(cfgPaths)
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}

	prod, err := openProducer(cfg, log)
	if err != nil {
		log.Fatal("broker init failed", zap.Error(err))
	}
	defer prod.Close()

	pub := publisher.New(prod, publisher.Topics{Direct: cfg.Topics.Direct, Group: cfg.Topics.Group, Event: cfg.Topics.Event}, log)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if session == "" {
		session = uuid.NewString()
	}

	switch kind {
	case "direct":
		if from == "" || to == "" {
			log.Fatal("-from and -to are required for direct messages")
		}
		env := &event.MessageEnvelope{
			MsgID: nextMsgID(log), Content: content, ChatType: event.ChatDirect,
			FromUserID: from, ToUserID: to, SessionID: event.SessionID(session),
		}
		pub.PublishDirect(ctx, env, to)
		log.Info("direct message queued", zap.String("msg_id", env.MsgID), zap.String("to", to))
	case "group":
		if from == "" || groupID <= 0 {
			log.Fatal("-from and -group are required for group messages")
		}
		ids := splitIDs(members)
		if roster {
			ids, err = loadRoster(ctx, cfg, groupID)
			if err != nil {
				log.Fatal("load roster failed", zap.Int64("group_id", groupID), zap.Error(err))
			}
		}
		env := &event.MessageEnvelope{
			MsgID: nextMsgID(log), Content: content, ChatType: event.ChatGroup,
			FromUserID: from, GroupID: groupID, SessionID: event.SessionID(session),
		}
		pub.PublishGroup(ctx, env, ids)
		log.Info("group message queued", zap.String("msg_id", env.MsgID), zap.Int64("group_id", groupID), zap.Int("members", len(ids)))
	case "event":
		if eventType == "" {
			log.Fatal("-event is required for system events")
		}
		evt := event.SystemEvent{"type": eventType, "ts": time.Now().UnixMilli()}
		if from != "" {
			evt["uid"] = from
		}
		pub.PublishEvent(ctx, evt)
		log.Info("system event queued", zap.String("type", eventType))
	default:
		log.Fatal("unknown -type", zap.String("type", kind))
	}

	if err := pub.Flush(ctx); err != nil {
		log.Fatal("publish did not complete", zap.Error(err))
	}
}

var sf = sonyflake.NewSonyflake(sonyflake.Settings{})

func nextMsgID(log *zap.Logger) string {
	if sf == nil {
		log.Fatal("sonyflake init failed")
	}
	id, err := sf.NextID()
	if err != nil {
		log.Fatal("msg id generation failed", zap.Error(err))
	}
	return strconv.FormatUint(id, 10)
}

func splitIDs(s string) []string {
	return lo.FilterMap(strings.Split(s, ","), func(v string, _ int) (string, bool) {
		v = strings.TrimSpace(v)
		return v, v != ""
	})
}

func loadRoster(ctx context.Context, cfg *config.Config, groupID int64) ([]string, error) {
	d, err := db.Open(db.Options{DSN: cfg.MySQL.DSN})
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return repo.NewGroupRepo(d.DB).ListActiveMemberUIDs(ctx, groupID, 0)
}

func openProducer(cfg *config.Config, log *zap.Logger) (mq.Producer, error) {
	switch cfg.Broker.Driver {
	case "kafka":
		return kafka.NewProducer(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			ClientID:     cfg.Kafka.ClientID,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}, log.Named("kafka"))
	case "rocketmq":
		return rocketmq.NewProducer(rocketmq.Settings{
			NameServer:    cfg.RocketMQ.NameServer,
			ProducerGroup: cfg.RocketMQ.ProducerGroup,
			AccessKey:     cfg.RocketMQ.AccessKey,
			SecretKey:     cfg.RocketMQ.SecretKey,
			Retry:         cfg.RocketMQ.Retry,
		}, log.Named("rocketmq"))
	default:
		log.Fatal("im-dispatch-send needs a shared broker (kafka or rocketmq)", zap.String("driver", cfg.Broker.Driver))
		return nil, nil
	}
}
