package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lzyats/im-dispatch/internal/audit"
	"github.com/lzyats/im-dispatch/internal/breaker"
	"github.com/lzyats/im-dispatch/internal/comet"
	"github.com/lzyats/im-dispatch/internal/config"
	"github.com/lzyats/im-dispatch/internal/db"
	"github.com/lzyats/im-dispatch/internal/hub"
	"github.com/lzyats/im-dispatch/internal/metrics"
	"github.com/lzyats/im-dispatch/internal/node"
	"github.com/lzyats/im-dispatch/internal/presence"
	"github.com/lzyats/im-dispatch/pkg/delivery"
	"github.com/lzyats/im-dispatch/pkg/mq"
	"github.com/lzyats/im-dispatch/pkg/mq/kafka"
	"github.com/lzyats/im-dispatch/pkg/mq/memlog"
	"github.com/lzyats/im-dispatch/pkg/mq/rocketmq"
	"github.com/lzyats/im-dispatch/pkg/notify/getui"
	"github.com/lzyats/im-dispatch/pkg/publisher"
	mysqlstore "github.com/lzyats/im-dispatch/pkg/store/mysql"
	redisstore "github.com/lzyats/im-dispatch/pkg/store/redis"
	"github.com/lzyats/im-dispatch/pkg/store/storeiface"
)

var (
	// Version is injected via -ldflags "-X main.Version=..."
	Version = "dev"
)

func main() {
	var cfgPaths string
	var migrate bool
	flag.StringVar(&cfgPaths, "c", "./config.yml", "config file path (supports: a.yml,b.yml)")
	flag.BoolVar(&migrate, "migrate", false, "create the MySQL offline tables before starting")
	flag.Parse()

	cfg, err := config.Load(cfgPaths)
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("load config failed", zap.Error(err))
	}

	log, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	log.Info("im-dispatch starting",
		zap.String("version", Version),
		zap.String("env", cfg.Env),
		zap.String("broker", cfg.Broker.Driver),
		zap.String("offline", cfg.Offline.Driver),
		zap.Bool("gateway", cfg.Gateway.Enabled))

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis carries the route registry and, by default, the offline store.
	var redis *redisstore.Store
	var routes storeiface.RouteStore
	if cfg.Redis.Addr != "" {
		redis, err = redisstore.New(redisstore.Settings{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxKeep:    cfg.Offline.MaxKeep,
			OfflineTTL: cfg.Offline.TTL,
		})
		if err != nil {
			log.Fatal("redis init failed", zap.Error(err))
		}
		defer redis.Close()
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = redis.Ping(pctx)
		cancel()
		if err != nil {
			log.Fatal("redis ping failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		routes = redis
	}

	var offline delivery.OfflineStore
	switch cfg.Offline.Driver {
	case "mysql":
		d, err := db.Open(db.Options{
			DSN:          cfg.MySQL.DSN,
			MaxOpenConns: cfg.MySQL.MaxOpenConns,
			MaxIdleConns: cfg.MySQL.MaxIdleConns,
		})
		if err != nil {
			log.Fatal("mysql init failed", zap.Error(err))
		}
		defer d.Close()
		store := mysqlstore.NewOfflineStore(d.DB)
		if migrate {
			if err := store.Migrate(ctx); err != nil {
				log.Fatal("mysql migrate failed", zap.Error(err))
			}
			log.Info("mysql offline tables ready")
		}
		offline = store
	default:
		offline = redis
	}

	if cfg.Vendor.GeTui.On() {
		notifier := delivery.NewNotifyingOffline(offline, getui.New(cfg.Vendor.GeTui), delivery.NotifyOptions{
			QueueSize:   cfg.Vendor.QueueSize,
			WorkerCount: cfg.Vendor.Workers,
			OpTimeout:   cfg.Delivery.OpTimeout,
			Title:       cfg.Vendor.GeTui.Title,
		}, log.Named("vendor"))
		defer notifier.Close()
		offline = notifier
		log.Info("vendor notification enabled", zap.Int("workers", cfg.Vendor.Workers))
	}

	h := hub.New()
	var br *breaker.Breaker
	if cfg.Breaker.Enabled {
		br = breaker.New(breaker.Options{
			Threshold: cfg.Breaker.Threshold,
			Window:    cfg.Breaker.Window,
			OpenFor:   cfg.Breaker.OpenFor,
		})
	}
	sender := comet.NewHTTPSender(cfg.Comet.Timeout, cfg.Comet.PushPath)
	pres := presence.NewRouted(h, routes, sender, br, cfg.Gateway.SelfAddr, log.Named("presence"))

	d := delivery.NewDispatcher(pres, offline, audit.NewLogSink(log), delivery.Options{
		OpTimeout:               cfg.Delivery.OpTimeout,
		PushFailFallbackOffline: cfg.Delivery.PushFailFallbackOffline,
	}, log.Named("dispatch"))

	sub, closeBroker, err := openSubscriber(cfg, log)
	if err != nil {
		log.Fatal("broker init failed", zap.Error(err))
	}
	defer closeBroker()

	n := node.New(sub, d, node.Options{
		Topics:            publisher.Topics{Direct: cfg.Topics.Direct, Group: cfg.Topics.Group, Event: cfg.Topics.Event},
		GroupID:           cfg.Consumers.GroupID,
		DirectConcurrency: cfg.Consumers.Direct,
		GroupConcurrency:  cfg.Consumers.Group,
		EventConcurrency:  cfg.Consumers.Event,
	}, log.Named("node"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.Run(gctx) })

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	serve(gctx, g, log, cfg.Metrics.Addr, metricsMux)

	if cfg.Gateway.Enabled {
		if routes == nil {
			log.Warn("gateway without redis: routes are not registered, remote nodes cannot reach these clients")
		}
		mux := http.NewServeMux()
		comet.NewServer(h, routes, comet.ServerOptions{
			SelfAddr:     cfg.Gateway.SelfAddr,
			RouteTTL:     cfg.Gateway.RouteTTL,
			WriteTimeout: cfg.Gateway.WriteTimeout,
			QueueSize:    cfg.Gateway.QueueSize,
			OpTimeout:    cfg.Delivery.OpTimeout,
		}, log.Named("gateway")).Register(mux)
		serve(gctx, g, log, cfg.Gateway.Addr, mux)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("im-dispatch stopped", zap.Error(err))
		os.Exit(1)
	}
	log.Info("im-dispatch stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = lvl
	return zc.Build()
}

// openSubscriber builds the consumer side of the configured broker.
func openSubscriber(cfg *config.Config, log *zap.Logger) (mq.Subscriber, func(), error) {
	switch cfg.Broker.Driver {
	case "kafka":
		s, err := kafka.NewSubscriber(kafka.Config{
			Brokers:           cfg.Kafka.Brokers,
			ClientID:          cfg.Kafka.ClientID,
			RedeliveryBackoff: cfg.Kafka.RedeliveryBackoff,
		}, log.Named("kafka"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "rocketmq":
		s, err := rocketmq.NewSubscriber(rocketmq.Settings{
			NameServer: cfg.RocketMQ.NameServer,
			AccessKey:  cfg.RocketMQ.AccessKey,
			SecretKey:  cfg.RocketMQ.SecretKey,
			Retry:      cfg.RocketMQ.Retry,
		}, log.Named("rocketmq"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		log.Warn("memory broker: records only come from this process")
		l := memlog.New(memlog.Options{
			Partitions:      cfg.Memory.Partitions,
			RedeliveryDelay: cfg.Memory.RedeliveryDelay,
			Logger:          log.Named("memlog"),
		})
		return l, func() { _ = l.Close() }, nil
	}
}

func serve(ctx context.Context, g *errgroup.Group, log *zap.Logger, addr string, h http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 2 * time.Second,
	}
	g.Go(func() error {
		log.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}
