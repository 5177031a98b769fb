package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad(t *testing.T) {
	t.Run("should require a path", func(t *testing.T) {
		_, err := Load(" ")
		require.Error(t, err)
	})

	t.Run("should apply defaults", func(t *testing.T) {
		req := require.New(t)
		p := writeFile(t, t.TempDir(), "c.yml", `
broker:
  driver: memory
redis:
  addr: 127.0.0.1:6379
`)
		c, err := Load(p)
		req.NoError(err)
		req.Equal("im-chat-direct", c.Topics.Direct)
		req.Equal("im-chat-group", c.Topics.Group)
		req.Equal("im-system-event", c.Topics.Event)
		req.Equal("im-dispatch", c.Consumers.GroupID)
		req.Equal(4, c.Consumers.Direct)
		req.Equal(3*time.Second, c.Delivery.OpTimeout)
		req.False(c.Delivery.PushFailFallbackOffline)
		req.Equal("redis", c.Offline.Driver)
		req.Equal(int64(2000), c.Offline.MaxKeep)
		req.Equal("127.0.0.1:7001", c.Gateway.SelfAddr)
		req.Equal("N", c.Vendor.GeTui.Enabled)
	})

	t.Run("should let later files override earlier ones", func(t *testing.T) {
		req := require.New(t)
		dir := t.TempDir()
		common := writeFile(t, dir, "common.yml", `
broker:
  driver: kafka
kafka:
  brokers: ["a:9092"]
redis:
  addr: r:6379
delivery:
  op_timeout: 1s
`)
		local := writeFile(t, dir, "local.yml", `
kafka:
  brokers: ["b:9092", "c:9092"]
delivery:
  push_fail_fallback_offline: true
`)
		c, err := Load(common + "," + local)
		req.NoError(err)
		req.Equal([]string{"b:9092", "c:9092"}, c.Kafka.Brokers)
		req.Equal(time.Second, c.Delivery.OpTimeout)
		req.True(c.Delivery.PushFailFallbackOffline)
	})

	t.Run("should apply environment overrides", func(t *testing.T) {
		req := require.New(t)
		t.Setenv("IMD_KAFKA_BROKERS", "x:9092,y:9092")
		t.Setenv("IMD_DELIVERY_OPTIMEOUT", "750ms")
		p := writeFile(t, t.TempDir(), "c.yml", `
kafka:
  brokers: ["a:9092"]
redis:
  addr: r:6379
`)
		c, err := Load(p)
		req.NoError(err)
		req.Equal([]string{"x:9092", "y:9092"}, c.Kafka.Brokers)
		req.Equal(750*time.Millisecond, c.Delivery.OpTimeout)
	})

	t.Run("should reject invalid drivers", func(t *testing.T) {
		req := require.New(t)
		dir := t.TempDir()

		_, err := Load(writeFile(t, dir, "a.yml", "broker:\n  driver: nats\n"))
		req.ErrorContains(err, "broker.driver")

		_, err = Load(writeFile(t, dir, "b.yml", "broker:\n  driver: kafka\n"))
		req.ErrorContains(err, "kafka.brokers")

		_, err = Load(writeFile(t, dir, "c.yml", "broker:\n  driver: memory\noffline:\n  driver: mysql\n"))
		req.ErrorContains(err, "mysql.dsn")
	})
}
