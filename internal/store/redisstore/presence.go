package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb    *redis.Client
	nodeID string
}

func New(addr, password string, db int, nodeID string) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	return &Store{rdb: rdb, nodeID: nodeID}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

const onlineUsersKey = "user:online"

func userNodesKey(userID string) string {
	return "presence:user:" + userID
}

// The per-user set holds the node ids the user is connected to, so one
// node going offline does not hide a connection held by another node.
var luaSetOnline = redis.NewScript(`
redis.call('SADD', KEYS[1], ARGV[1])
redis.call('SADD', KEYS[2], ARGV[2])
return 1
`)

var luaSetOffline = redis.NewScript(`
redis.call('SREM', KEYS[1], ARGV[1])
if redis.call('SCARD', KEYS[1]) == 0 then
  redis.call('SREM', KEYS[2], ARGV[2])
  return 1
end
return 0
`)

func (s *Store) SetOnline(ctx context.Context, userID string) error {
	return luaSetOnline.Run(ctx, s.rdb,
		[]string{userNodesKey(userID), onlineUsersKey},
		s.nodeID, userID,
	).Err()
}

func (s *Store) SetOffline(ctx context.Context, userID string) error {
	return luaSetOffline.Run(ctx, s.rdb,
		[]string{userNodesKey(userID), onlineUsersKey},
		s.nodeID, userID,
	).Err()
}

func (s *Store) IsOnline(ctx context.Context, userID string) (bool, error) {
	return s.rdb.SIsMember(ctx, onlineUsersKey, userID).Result()
}
