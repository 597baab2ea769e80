package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dcrodman/realm/internal/core/data"
)

const (
	fieldCharacterID = "character_id"
	fieldZoneID      = "zone_id"
)

// Creates the session hash only if the key is unused.
var insertScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], "user_id", ARGV[1], "character_id", 0, "zone_id", 0)
if tonumber(ARGV[2]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 1
`)

// Sets one field of an existing session hash and refreshes its expiry.
var updateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
return 1
`)

type redisSession struct {
	UserID      int64  `redis:"user_id"`
	CharacterID int64  `redis:"character_id"`
	ZoneID      uint32 `redis:"zone_id"`
}

type redisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache returns a Cache that keeps each session in a hash named
// prefix+key. A positive ttl expires sessions that go untouched that long.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) Cache {
	return newKeyedCache(&redisStore{client: client, prefix: prefix, ttl: ttl})
}

func (s *redisStore) hashKey(key string) string {
	return s.prefix + key
}

func (s *redisStore) insert(ctx context.Context, session *Session) (bool, error) {
	added, err := insertScript.Run(ctx, s.client, []string{s.hashKey(session.Key)},
		session.UserID, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return added == 1, nil
}

func (s *redisStore) exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.hashKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisStore) load(ctx context.Context, key string) (*Session, error) {
	cmd := s.client.HGetAll(ctx, s.hashKey(key))
	fields, err := cmd.Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	var rs redisSession
	if err := cmd.Scan(&rs); err != nil {
		return nil, err
	}
	return &Session{
		Key:         key,
		UserID:      rs.UserID,
		CharacterID: rs.CharacterID,
		ZoneID:      data.ZoneID(rs.ZoneID),
	}, nil
}

func (s *redisStore) update(ctx context.Context, key, field string, value interface{}) error {
	updated, err := updateScript.Run(ctx, s.client, []string{s.hashKey(key)},
		field, value, s.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if updated == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *redisStore) setCharacter(ctx context.Context, key string, characterID int64) error {
	return s.update(ctx, key, fieldCharacterID, characterID)
}

func (s *redisStore) setZone(ctx context.Context, key string, zone data.ZoneID) error {
	return s.update(ctx, key, fieldZoneID, uint32(zone))
}

func (s *redisStore) remove(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.hashKey(key)).Err()
}

func (s *redisStore) close() error {
	return s.client.Close()
}
