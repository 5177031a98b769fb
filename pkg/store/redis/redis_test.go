package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lzyats/im-dispatch/pkg/delivery"
	"github.com/lzyats/im-dispatch/pkg/store/storeiface"
)

var (
	_ delivery.OfflineStore    = (*Store)(nil)
	_ storeiface.RouteStore    = (*Store)(nil)
	_ storeiface.OfflineReader = (*Store)(nil)
)

func TestKeys_ShareHashTag(t *testing.T) {
	req := require.New(t)
	req.Equal("im:route:uid:{u42}", routeKey("u42"))
	req.Equal("im:offline:{u42}", offlineKey("u42"))
	req.Equal("im:offline:brief:{u42}", offlineBriefKey("u42"))
	req.Equal("im:unread:{u42}", unreadKey("u42"))
}

func TestNew(t *testing.T) {
	_, err := New(Settings{})
	require.Error(t, err)

	s, err := New(Settings{Addr: "127.0.0.1:6379"})
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, int64(2000), s.cfg.MaxKeep)
	require.Equal(t, 7*24*time.Hour, s.cfg.OfflineTTL)
}

func memStore(t *testing.T, maxKeep int64) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New(Settings{Addr: mr.Addr(), MaxKeep: maxKeep, OfflineTTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestSaveOffline_Idempotent(t *testing.T) {
	req := require.New(t)
	s, _ := memStore(t, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		req.NoError(s.SaveOffline(ctx, "u2", "s-1", "m-1", "hello"))
	}
	req.NoError(s.SaveOffline(ctx, "u2", "s-1", "m-2", "again"))
	req.NoError(s.SaveOffline(ctx, "u2", "s-2", "m-3", "other"))

	ids, err := s.OfflineMsgIDs(ctx, "u2")
	req.NoError(err)
	req.ElementsMatch([]string{"m-1", "m-2", "m-3"}, ids)

	unread, err := s.Unread(ctx, "u2")
	req.NoError(err)
	req.Equal(map[string]int64{"s-1": 2, "s-2": 1}, unread)

	briefs, err := s.OfflineBriefs(ctx, "u2")
	req.NoError(err)
	req.Len(briefs, 3)
	req.Equal("hello", briefs[0].Brief)
}

func TestSaveOffline_TrimsToMaxKeep(t *testing.T) {
	ctx := context.Background()

	t.Run("should drop the oldest ids and briefs", func(t *testing.T) {
		req := require.New(t)
		s, mr := memStore(t, 2)

		for _, id := range []string{"m-1", "m-2", "m-3"} {
			req.NoError(s.SaveOffline(ctx, "u2", "s-1", id, id))
			time.Sleep(2 * time.Millisecond)
		}
		ids, err := s.OfflineMsgIDs(ctx, "u2")
		req.NoError(err)
		req.Equal([]string{"m-2", "m-3"}, ids)

		briefs, err := s.OfflineBriefs(ctx, "u2")
		req.NoError(err)
		req.Len(briefs, 2)
		fields, err := mr.HKeys(offlineBriefKey("u2"))
		req.NoError(err)
		req.ElementsMatch([]string{"m-2", "m-3"}, fields)
	})

	t.Run("should store a trimmed message again when it is redelivered", func(t *testing.T) {
		req := require.New(t)
		s, _ := memStore(t, 2)

		for _, id := range []string{"m-1", "m-2", "m-3"} {
			req.NoError(s.SaveOffline(ctx, "u2", "s-1", id, id))
			time.Sleep(2 * time.Millisecond)
		}
		req.NoError(s.SaveOffline(ctx, "u2", "s-1", "m-1", "m-1"))

		ids, err := s.OfflineMsgIDs(ctx, "u2")
		req.NoError(err)
		req.Equal([]string{"m-3", "m-1"}, ids)
		unread, err := s.Unread(ctx, "u2")
		req.NoError(err)
		req.Equal(int64(4), unread["s-1"])
	})
}

func TestSaveOffline_RefreshesTTL(t *testing.T) {
	req := require.New(t)
	s, mr := memStore(t, 0)
	ctx := context.Background()

	req.NoError(s.SaveOffline(ctx, "u2", "s-1", "m-1", "hi"))
	for _, key := range []string{offlineKey("u2"), offlineBriefKey("u2"), unreadKey("u2")} {
		req.Equal(time.Minute, mr.TTL(key), key)
	}

	mr.FastForward(30 * time.Second)
	req.NoError(s.SaveOffline(ctx, "u2", "s-1", "m-1", "hi"))
	req.Equal(time.Minute, mr.TTL(offlineKey("u2")))

	mr.FastForward(2 * time.Minute)
	ids, err := s.OfflineMsgIDs(ctx, "u2")
	req.NoError(err)
	req.Empty(ids)
}

func TestRoute_CompareAndDelete(t *testing.T) {
	req := require.New(t)
	s, mr := memStore(t, 0)
	ctx := context.Background()

	req.NoError(s.SetRoute(ctx, "u2", "10.0.0.1:7001", time.Minute))
	req.Equal(time.Minute, mr.TTL(routeKey("u2")))
	req.NoError(s.DelRoute(ctx, "u2", "10.0.0.2:7001"))
	addr, err := s.GetRoute(ctx, "u2")
	req.NoError(err)
	req.Equal("10.0.0.1:7001", addr)

	req.NoError(s.DelRoute(ctx, "u2", "10.0.0.1:7001"))
	addr, err = s.GetRoute(ctx, "u2")
	req.NoError(err)
	req.Empty(addr)
}

// Needs a live server: IMD_TEST_REDIS_ADDR=127.0.0.1:6379.
func TestLive_SaveOffline(t *testing.T) {
	addr := os.Getenv("IMD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("IMD_TEST_REDIS_ADDR not set")
	}
	req := require.New(t)
	s, err := New(Settings{Addr: addr, MaxKeep: 2, OfflineTTL: time.Minute})
	req.NoError(err)
	defer s.Close()
	ctx := context.Background()
	req.NoError(s.Ping(ctx))
	uid := "test-" + uuid.NewString()

	for _, id := range []string{"m-1", "m-1", "m-2", "m-3"} {
		req.NoError(s.SaveOffline(ctx, uid, "s-1", id, id))
		time.Sleep(2 * time.Millisecond)
	}
	ids, err := s.OfflineMsgIDs(ctx, uid)
	req.NoError(err)
	req.Equal([]string{"m-2", "m-3"}, ids)
	unread, err := s.Unread(ctx, uid)
	req.NoError(err)
	req.Equal(map[string]int64{"s-1": 3}, unread)
}
