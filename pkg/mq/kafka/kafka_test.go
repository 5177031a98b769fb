package kafka

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/lzyats/im-dispatch/pkg/mq"
)

func TestInterfaces(t *testing.T) {
	var _ mq.Producer = (*Producer)(nil)
	var _ mq.Subscriber = (*Subscriber)(nil)
}

func TestNew_RequiresBrokers(t *testing.T) {
	_, err := NewProducer(Config{}, nil)
	require.Error(t, err)
	_, err = NewSubscriber(Config{}, nil)
	require.Error(t, err)
}

func TestConfig_Defaults(t *testing.T) {
	s, err := NewSubscriber(Config{Brokers: []string{"localhost:9092"}}, nil)
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, "im-dispatch", s.cfg.ClientID)
	require.Equal(t, time.Second, s.cfg.RedeliveryBackoff)
	require.Equal(t, 500*time.Millisecond, s.cfg.MaxWait)
}

func TestSubscribe_RequiresTopicAndGroup(t *testing.T) {
	s, err := NewSubscriber(Config{Brokers: []string{"localhost:9092"}}, nil)
	require.NoError(t, err)
	defer s.Close()

	err = s.Subscribe(context.Background(), mq.Subscription{Topic: "im-chat-direct"}, func(context.Context, mq.Record) error { return nil })
	require.Error(t, err)
}

func TestProducer_SendAfterCloseCompletesWithError(t *testing.T) {
	p, err := NewProducer(Config{Brokers: []string{"localhost:9092"}}, nil)
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	errCh := make(chan error, 1)
	p.SendAsync(context.Background(), mq.Message{Topic: "t", Key: []byte("k")}, func(_ mq.Delivery, err error) { errCh <- err })
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, mq.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("completion not called")
	}
}

func TestSubscriber_CloseIsIdempotent(t *testing.T) {
	s, err := NewSubscriber(Config{Brokers: []string{"localhost:9092"}}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestGroupName(t *testing.T) {
	require.Equal(t, "im-dispatch_im-chat-direct", GroupName("im-dispatch", "im-chat-direct"))
}

// fakeBroker serves one partition. Every reader opened on it starts at the
// committed offset, like a consumer rejoining its group.
type fakeBroker struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed int
	opened    []kafka.ReaderConfig
	closed    int
	commitErr error
}

func newFakeBroker(topic string, values ...string) *fakeBroker {
	b := &fakeBroker{}
	for i, v := range values {
		b.msgs = append(b.msgs, kafka.Message{Topic: topic, Offset: int64(i), Key: []byte("k"), Value: []byte(v)})
	}
	return b
}

func (b *fakeBroker) newReader(rc kafka.ReaderConfig) reader {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = append(b.opened, rc)
	return &fakeReader{b: b, next: b.committed, done: make(chan struct{})}
}

func (b *fakeBroker) state() (committed, opened, closed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed, len(b.opened), b.closed
}

type fakeReader struct {
	b    *fakeBroker
	next int
	done chan struct{}
	once sync.Once
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.b.mu.Lock()
	if r.next < len(r.b.msgs) {
		m := r.b.msgs[r.next]
		r.next++
		r.b.mu.Unlock()
		return m, nil
	}
	r.b.mu.Unlock()
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case <-r.done:
		return kafka.Message{}, io.EOF
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if r.b.commitErr != nil {
		return r.b.commitErr
	}
	for _, m := range msgs {
		r.b.committed = int(m.Offset) + 1
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.once.Do(func() {
		close(r.done)
		r.b.mu.Lock()
		r.b.closed++
		r.b.mu.Unlock()
	})
	return nil
}

func fakeSubscriber(t *testing.T, b *fakeBroker) *Subscriber {
	t.Helper()
	s, err := NewSubscriber(Config{Brokers: []string{"localhost:9092"}, RedeliveryBackoff: 5 * time.Millisecond}, nil)
	require.NoError(t, err)
	s.newReader = b.newReader
	return s
}

func TestDrain(t *testing.T) {
	ctx := context.Background()

	t.Run("should commit each record after the handler succeeds", func(t *testing.T) {
		req := require.New(t)
		b := newFakeBroker("t", "a", "b")
		s := fakeSubscriber(t, b)
		r := b.newReader(kafka.ReaderConfig{})

		var seen []string
		err := s.drain(ctx, r, func(_ context.Context, rec mq.Record) error {
			committed, _, _ := b.state()
			// Nothing is committed before the handler returns.
			req.Equal(int(rec.Offset), committed)
			seen = append(seen, string(rec.Value))
			if len(seen) == 2 {
				_ = r.Close()
			}
			return nil
		})
		req.ErrorIs(err, io.EOF)
		req.Equal([]string{"a", "b"}, seen)
		committed, _, _ := b.state()
		req.Equal(2, committed)
	})

	t.Run("should stop without committing when the handler fails", func(t *testing.T) {
		req := require.New(t)
		b := newFakeBroker("t", "a", "b")
		s := fakeSubscriber(t, b)

		err := s.drain(ctx, b.newReader(kafka.ReaderConfig{}), func(context.Context, mq.Record) error {
			return errors.New("store unavailable")
		})
		req.ErrorIs(err, errRedeliver)
		req.ErrorContains(err, "offset=0")
		committed, _, _ := b.state()
		req.Equal(0, committed)
	})

	t.Run("should fail on commit errors", func(t *testing.T) {
		req := require.New(t)
		b := newFakeBroker("t", "a")
		b.commitErr = errors.New("coordinator moved")
		s := fakeSubscriber(t, b)

		err := s.drain(ctx, b.newReader(kafka.ReaderConfig{}), func(context.Context, mq.Record) error { return nil })
		req.ErrorContains(err, "coordinator moved")
		req.NotErrorIs(err, errRedeliver)
	})
}

func TestSubscribe_RejoinsAndRedelivers(t *testing.T) {
	req := require.New(t)
	b := newFakeBroker("im-chat-direct", "m-1", "m-2", "m-3")
	s := fakeSubscriber(t, b)

	var mu sync.Mutex
	var seen []string
	failed := false
	h := func(_ context.Context, rec mq.Record) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(rec.Value))
		if string(rec.Value) == "m-2" && !failed {
			failed = true
			return errors.New("store unavailable")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Subscribe(ctx, mq.Subscription{Topic: "im-chat-direct", Group: "im-dispatch", Concurrency: 1}, h)
	}()

	req.Eventually(func() bool {
		committed, _, _ := b.state()
		return committed == 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not return")
	}
	req.NoError(s.Close())

	mu.Lock()
	req.Equal([]string{"m-1", "m-2", "m-2", "m-3"}, seen)
	mu.Unlock()

	_, opened, closed := b.state()
	req.Equal(2, opened)
	req.Equal(2, closed)
	for _, rc := range b.opened {
		req.Equal("im-dispatch_im-chat-direct", rc.GroupID)
		req.Equal("im-chat-direct", rc.Topic)
	}
}

// The test below needs a live cluster: IMD_TEST_KAFKA_BROKERS=127.0.0.1:9092.
func TestLive_RedeliversAfterRejoin(t *testing.T) {
	raw := os.Getenv("IMD_TEST_KAFKA_BROKERS")
	if raw == "" {
		t.Skip("IMD_TEST_KAFKA_BROKERS not set")
	}
	req := require.New(t)
	brokers := strings.Split(raw, ",")
	topic := "imd-test-" + uuid.NewString()
	createTopic(t, brokers[0], topic)

	p, err := NewProducer(Config{Brokers: brokers}, nil)
	req.NoError(err)
	defer p.Close()
	for _, v := range []string{"m-1", "m-2", "m-3"} {
		errCh := make(chan error, 1)
		p.SendAsync(context.Background(), mq.Message{Topic: topic, Key: []byte("u2"), Value: []byte(v)}, func(_ mq.Delivery, err error) { errCh <- err })
		req.NoError(<-errCh)
	}

	s, err := NewSubscriber(Config{Brokers: brokers, RedeliveryBackoff: 100 * time.Millisecond}, nil)
	req.NoError(err)
	defer s.Close()

	var mu sync.Mutex
	var seen []string
	failed := false
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = s.Subscribe(ctx, mq.Subscription{Topic: topic, Group: "imd-test", Concurrency: 1}, func(_ context.Context, rec mq.Record) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, string(rec.Value))
			if string(rec.Value) == "m-2" && !failed {
				failed = true
				return errors.New("store unavailable")
			}
			return nil
		})
	}()

	req.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	}, time.Minute, 50*time.Millisecond)
	mu.Lock()
	req.Equal([]string{"m-1", "m-2", "m-2", "m-3"}, seen)
	mu.Unlock()
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()
	ctrl, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafka.Dial("tcp", net.JoinHostPort(ctrl.Host, strconv.Itoa(ctrl.Port)))
	require.NoError(t, err)
	defer cc.Close()
	require.NoError(t, cc.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
}
