package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type Settings struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
	PoolSize int
	MinIdle  int
	// MaxKeep bounds the offline set per user; the oldest entries are trimmed.
	MaxKeep int64
	// OfflineTTL expires a user's offline keys after the last save.
	OfflineTTL time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.Timeout == 0 {
		s.Timeout = 5 * time.Second
	}
	if s.MaxKeep == 0 {
		s.MaxKeep = 2000
	}
	if s.OfflineTTL == 0 {
		s.OfflineTTL = 7 * 24 * time.Hour
	}
	return s
}

type Store struct {
	cfg Settings
	cli *redis.Client
}

func New(cfg Settings) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: missing addr")
	}
	cfg = cfg.withDefaults()
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdle > 0 {
		opts.MinIdleConns = cfg.MinIdle
	}
	return &Store{cfg: cfg, cli: redis.NewClient(opts)}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.cli.Ping(ctx).Err() }

func (s *Store) Close() error { return s.cli.Close() }

/*
Keys (the {uid} hash tag keeps one user's keys in one cluster slot):
  - im:route:uid:{uid}          STRING gateway node address, TTL
  - im:offline:{uid}            ZSET member=msgId score=saved-at ms
  - im:offline:brief:{uid}      HASH msgId -> brief JSON
  - im:unread:{uid}             HASH conversationId -> unread count
*/
func routeKey(uid string) string {
	return fmt.Sprintf("im:route:uid:{%s}", uid)
}
func offlineKey(uid string) string {
	return fmt.Sprintf("im:offline:{%s}", uid)
}
func offlineBriefKey(uid string) string {
	return fmt.Sprintf("im:offline:brief:{%s}", uid)
}
func unreadKey(uid string) string {
	return fmt.Sprintf("im:unread:{%s}", uid)
}

func (s *Store) SetRoute(ctx context.Context, uid, nodeAddr string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return s.cli.Set(ctx, routeKey(uid), nodeAddr, ttl).Err()
}

func (s *Store) GetRoute(ctx context.Context, uid string) (string, error) {
	v, err := s.cli.Get(ctx, routeKey(uid)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

var delRouteScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

func (s *Store) DelRoute(ctx context.Context, uid, nodeAddr string) error {
	return delRouteScript.Run(ctx, s.cli, []string{routeKey(uid)}, nodeAddr).Err()
}

// Saving is keyed on msgId: a repeated save of the same message leaves the
// set, the brief and the unread counter untouched. The key is only as
// durable as the set itself: a message already trimmed past MaxKeep (or
// expired) is stored again as the newest entry and counted unread again if
// its record is redelivered. Keep MaxKeep well above the backlog a
// redelivery can span.
var saveOfflineScript = redis.NewScript(`
local added = redis.call('ZADD', KEYS[1], 'NX', ARGV[2], ARGV[1])
if added == 1 then
  redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
  redis.call('HINCRBY', KEYS[3], ARGV[4], 1)
  local maxKeep = tonumber(ARGV[5])
  if maxKeep > 0 then
    local over = redis.call('ZCARD', KEYS[1]) - maxKeep
    if over > 0 then
      local old = redis.call('ZRANGE', KEYS[1], 0, over - 1)
      redis.call('ZREMRANGEBYRANK', KEYS[1], 0, over - 1)
      redis.call('HDEL', KEYS[2], unpack(old))
    end
  end
end
local ttl = tonumber(ARGV[6])
if ttl > 0 then
  redis.call('EXPIRE', KEYS[1], ttl)
  redis.call('EXPIRE', KEYS[2], ttl)
  redis.call('EXPIRE', KEYS[3], ttl)
end
return added
`)

// OfflineBrief is what a client sees in its offline list before syncing the
// full message.
type OfflineBrief struct {
	MsgID          string `json:"msgId"`
	ConversationID string `json:"conversationId"`
	Brief          string `json:"brief"`
	SavedAt        int64  `json:"savedAt"`
}

func (s *Store) SaveOffline(ctx context.Context, receiverID, conversationID, msgID, brief string) error {
	now := time.Now().UnixMilli()
	b, err := json.Marshal(OfflineBrief{MsgID: msgID, ConversationID: conversationID, Brief: brief, SavedAt: now})
	if err != nil {
		return err
	}
	keys := []string{offlineKey(receiverID), offlineBriefKey(receiverID), unreadKey(receiverID)}
	return saveOfflineScript.Run(ctx, s.cli, keys,
		msgID, now, string(b), conversationID, s.cfg.MaxKeep, int64(s.cfg.OfflineTTL/time.Second),
	).Err()
}

// OfflineMsgIDs returns the stored msgIds oldest first.
func (s *Store) OfflineMsgIDs(ctx context.Context, uid string) ([]string, error) {
	return s.cli.ZRange(ctx, offlineKey(uid), 0, -1).Result()
}

// OfflineBriefs returns the stored briefs oldest first.
func (s *Store) OfflineBriefs(ctx context.Context, uid string) ([]OfflineBrief, error) {
	ids, err := s.OfflineMsgIDs(ctx, uid)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	vals, err := s.cli.HMGet(ctx, offlineBriefKey(uid), ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]OfflineBrief, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var b OfflineBrief
		if err := json.Unmarshal([]byte(str), &b); err != nil {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *Store) Unread(ctx context.Context, uid string) (map[string]int64, error) {
	raw, err := s.cli.HGetAll(ctx, unreadKey(uid)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for conv, v := range raw {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[conv] = n
		}
	}
	return out, nil
}
