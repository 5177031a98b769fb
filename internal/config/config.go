package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/lzyats/im-dispatch/pkg/push"
)

// EnvPrefix prefixes environment overrides, e.g. IMD_KAFKA_BROKERS=a:9092,b:9092.
const EnvPrefix = "IMD"

type Config struct {
	Env string `yaml:"env"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Broker struct {
		Driver string `yaml:"driver"` // kafka | rocketmq | memory
	} `yaml:"broker"`

	Kafka struct {
		Brokers           []string      `yaml:"brokers"`
		ClientID          string        `yaml:"client_id"`
		BatchTimeout      time.Duration `yaml:"batch_timeout"`
		RedeliveryBackoff time.Duration `yaml:"redelivery_backoff"`
	} `yaml:"kafka"`

	RocketMQ struct {
		NameServer    string `yaml:"name_server"`
		ProducerGroup string `yaml:"producer_group"`
		AccessKey     string `yaml:"access_key"`
		SecretKey     string `yaml:"secret_key"`
		Retry         int    `yaml:"retry"`
	} `yaml:"rocketmq"`

	Memory struct {
		Partitions      int           `yaml:"partitions"`
		RedeliveryDelay time.Duration `yaml:"redelivery_delay"`
	} `yaml:"memory"`

	Topics struct {
		Direct string `yaml:"direct"`
		Group  string `yaml:"group"`
		Event  string `yaml:"event"`
	} `yaml:"topics"`

	Consumers struct {
		GroupID string `yaml:"group_id"` // shared by every node, suffixed per topic
		Direct  int    `yaml:"direct"`
		Group   int    `yaml:"group"`
		Event   int    `yaml:"event"`
	} `yaml:"consumers"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Offline struct {
		Driver  string        `yaml:"driver"` // redis | mysql
		MaxKeep int64         `yaml:"max_keep"`
		TTL     time.Duration `yaml:"ttl"`
	} `yaml:"offline"`

	MySQL struct {
		DSN          string `yaml:"dsn"`
		MaxOpenConns int    `yaml:"max_open_conns"`
		MaxIdleConns int    `yaml:"max_idle_conns"`
	} `yaml:"mysql"`

	Delivery struct {
		OpTimeout               time.Duration `yaml:"op_timeout"`
		PushFailFallbackOffline bool          `yaml:"push_fail_fallback_offline"`
	} `yaml:"delivery"`

	Comet struct {
		PushPath string        `yaml:"push_path"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"comet"`

	Breaker struct {
		Enabled   bool          `yaml:"enabled"`
		Threshold int           `yaml:"threshold"`
		Window    time.Duration `yaml:"window"`
		OpenFor   time.Duration `yaml:"open_for"`
	} `yaml:"breaker"`

	Gateway struct {
		Enabled      bool          `yaml:"enabled"`
		Addr         string        `yaml:"addr"`      // ":7001"
		SelfAddr     string        `yaml:"self_addr"` // value written to route, e.g. "10.0.0.12:7001"
		RouteTTL     time.Duration `yaml:"route_ttl"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		QueueSize    int           `yaml:"queue_size"`
	} `yaml:"gateway"`

	Vendor struct {
		QueueSize int               `yaml:"queue_size"`
		Workers   int               `yaml:"workers"`
		GeTui     push.PushSettings `yaml:"getui"`
	} `yaml:"vendor"`
}

// Load supports comma-separated config files: "-c common.yml,im-dispatch.yml".
// Later files override earlier ones, then a .env file and IMD_* variables
// override both.
func Load(pathList string) (*Config, error) {
	if strings.TrimSpace(pathList) == "" {
		return nil, errors.New("config path required (e.g. -c ./config.yml or -c common.yml,im-dispatch.yml)")
	}

	var c Config
	paths := strings.Split(pathList, ",")
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	_ = godotenv.Load()
	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":2112"
	}
	if c.Broker.Driver == "" {
		c.Broker.Driver = "kafka"
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = "im-dispatch"
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 10 * time.Millisecond
	}
	if c.Kafka.RedeliveryBackoff == 0 {
		c.Kafka.RedeliveryBackoff = time.Second
	}
	if c.RocketMQ.ProducerGroup == "" {
		c.RocketMQ.ProducerGroup = "im-dispatch-producer"
	}
	if c.RocketMQ.Retry <= 0 {
		c.RocketMQ.Retry = 2
	}
	if c.Memory.Partitions <= 0 {
		c.Memory.Partitions = 8
	}
	if c.Memory.RedeliveryDelay == 0 {
		c.Memory.RedeliveryDelay = 50 * time.Millisecond
	}
	if c.Topics.Direct == "" {
		c.Topics.Direct = "im-chat-direct"
	}
	if c.Topics.Group == "" {
		c.Topics.Group = "im-chat-group"
	}
	if c.Topics.Event == "" {
		c.Topics.Event = "im-system-event"
	}
	if c.Consumers.GroupID == "" {
		c.Consumers.GroupID = "im-dispatch"
	}
	if c.Consumers.Direct <= 0 {
		c.Consumers.Direct = 4
	}
	if c.Consumers.Group <= 0 {
		c.Consumers.Group = 8
	}
	if c.Consumers.Event <= 0 {
		c.Consumers.Event = 2
	}
	if c.Offline.Driver == "" {
		c.Offline.Driver = "redis"
	}
	if c.Offline.MaxKeep <= 0 {
		c.Offline.MaxKeep = 2000
	}
	if c.Offline.TTL == 0 {
		c.Offline.TTL = 7 * 24 * time.Hour
	}
	if c.Delivery.OpTimeout == 0 {
		c.Delivery.OpTimeout = 3 * time.Second
	}
	if c.Comet.Timeout == 0 {
		c.Comet.Timeout = 2 * time.Second
	}
	if c.Comet.PushPath == "" {
		c.Comet.PushPath = "/internal/push"
	}
	if c.Breaker.Threshold <= 0 {
		c.Breaker.Threshold = 5
	}
	if c.Breaker.Window == 0 {
		c.Breaker.Window = 10 * time.Second
	}
	if c.Breaker.OpenFor == 0 {
		c.Breaker.OpenFor = 5 * time.Second
	}
	if c.Gateway.Addr == "" {
		c.Gateway.Addr = ":7001"
	}
	if c.Gateway.SelfAddr == "" {
		c.Gateway.SelfAddr = "127.0.0.1" + c.Gateway.Addr
	}
	if c.Gateway.RouteTTL == 0 {
		c.Gateway.RouteTTL = 60 * time.Second
	}
	if c.Gateway.WriteTimeout == 0 {
		c.Gateway.WriteTimeout = 5 * time.Second
	}
	if c.Gateway.QueueSize <= 0 {
		c.Gateway.QueueSize = 256
	}
	if c.Vendor.QueueSize <= 0 {
		c.Vendor.QueueSize = 4096
	}
	if c.Vendor.Workers <= 0 {
		c.Vendor.Workers = 8
	}
	c.Vendor.GeTui = c.Vendor.GeTui.WithDefaults()
}

func (c *Config) Validate() error {
	switch c.Broker.Driver {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers required for broker.driver=kafka")
		}
	case "rocketmq":
		if c.RocketMQ.NameServer == "" {
			return errors.New("rocketmq.name_server required for broker.driver=rocketmq")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown broker.driver %q (kafka|rocketmq|memory)", c.Broker.Driver)
	}
	switch c.Offline.Driver {
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis.addr required for offline.driver=redis")
		}
	case "mysql":
		if c.MySQL.DSN == "" {
			return errors.New("mysql.dsn required for offline.driver=mysql")
		}
	default:
		return fmt.Errorf("unknown offline.driver %q (redis|mysql)", c.Offline.Driver)
	}
	return nil
}
