package wspresence

import (
	"context"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Default prefix of the keys used by RedisStore. The hash tag keeps every key of the store in
// the same Redis Cluster slot, as required by transactions, scripts and multi-key commands.
const DefaultKeyPrefix = "gowsengine:{presence}:"

// Remove a connection from a user set and the user from the online set once its set is empty.
//
// KEYS[1] = user set, KEYS[2] = online users set, ARGV[1] = connection ID, ARGV[2] = user ID
var removeScript = redis.NewScript(`
redis.call('SREM', KEYS[1], ARGV[1])
if redis.call('SCARD', KEYS[1]) == 0 then
	redis.call('SREM', KEYS[2], ARGV[2])
end
return 1
`)

// Presence store backed by Redis sets: one set of connection IDs per user and one set of online
// users.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// # Description
//
// Factory which creates a RedisStore.
//
// # Inputs
//
//   - client: Redis client.
//   - prefix: Key prefix. DefaultKeyPrefix is used if empty. A prefix without hash tag is
//     wrapped in one ("app:" becomes "{app}:").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: hashTagged(prefix)}
}

// Return prefix if it contains a non-empty hash tag, prefix wrapped in a hash tag otherwise.
func hashTagged(prefix string) string {
	if start := strings.IndexByte(prefix, '{'); start >= 0 {
		if end := strings.IndexByte(prefix[start+1:], '}'); end > 0 {
			return prefix
		}
	}
	return "{" + strings.TrimSuffix(prefix, ":") + "}:"
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + "user:" + userID
}

func (s *RedisStore) usersKey() string {
	return s.prefix + "users"
}

func (s *RedisStore) Add(ctx context.Context, userID string, connID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.userKey(userID), connID)
		pipe.SAdd(ctx, s.usersKey(), userID)
		return nil
	})
	return err
}

func (s *RedisStore) Remove(ctx context.Context, userID string, connID string) error {
	return removeScript.Run(ctx, s.client, []string{s.userKey(userID), s.usersKey()}, connID, userID).Err()
}

func (s *RedisStore) Connections(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) Users(ctx context.Context) ([]string, error) {
	users, err := s.client.SMembers(ctx, s.usersKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(users)
	return users, nil
}

// Remove every key of the store. Meant for tests and development.
func (s *RedisStore) Clear(ctx context.Context) error {
	users, err := s.client.SMembers(ctx, s.usersKey()).Result()
	if err != nil {
		return err
	}
	keys := []string{s.usersKey()}
	for _, user := range users {
		keys = append(keys, s.userKey(user))
	}
	return s.client.Del(ctx, keys...).Err()
}
