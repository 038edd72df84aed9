package syncstate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces sync state keys in a shared Redis instance.
const redisKeyPrefix = "scholarsync:state:"

// RedisStore keeps per-source sync state in Redis, one hash per source.
// Useful when runs happen on ephemeral hosts where a local state file
// would not survive between runs.
type RedisStore struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisStore parses redisURL, verifies connectivity, and returns a store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client, ctx: ctx}, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func stateKey(source string) string { return redisKeyPrefix + source }
func urisKey(source string) string  { return redisKeyPrefix + source + ":uris" }

// SourceState returns the state for source, empty defaults if unseen.
func (s *RedisStore) SourceState(source string) (State, error) {
	state := State{SeenURIs: make(map[string]struct{})}

	ts, err := s.client.HGet(s.ctx, stateKey(source), "last_timestamp").Result()
	if err != nil && err != redis.Nil {
		return state, fmt.Errorf("failed to read state for %s: %w", source, err)
	}
	state.LastTimestamp = ts

	uris, err := s.client.SMembers(s.ctx, urisKey(source)).Result()
	if err != nil && err != redis.Nil {
		return state, fmt.Errorf("failed to read seen URIs for %s: %w", source, err)
	}
	for _, uri := range uris {
		state.SeenURIs[uri] = struct{}{}
	}
	return state, nil
}

// UpdateSourceState replaces the state for source. The URI set is rewritten
// wholesale under a temporary key and renamed, mirroring the file store's
// write-then-rename durability.
func (s *RedisStore) UpdateSourceState(source, lastTimestamp string, seenURIs map[string]struct{}) error {
	tmpKey := urisKey(source) + ":tmp"

	if len(seenURIs) > 0 {
		members := make([]interface{}, 0, len(seenURIs))
		for uri := range seenURIs {
			members = append(members, uri)
		}
		if err := s.client.SAdd(s.ctx, tmpKey, members...).Err(); err != nil {
			return fmt.Errorf("failed to stage seen URIs for %s: %w", source, err)
		}
		if err := s.client.Rename(s.ctx, tmpKey, urisKey(source)).Err(); err != nil {
			return fmt.Errorf("failed to commit seen URIs for %s: %w", source, err)
		}
	} else {
		if err := s.client.Del(s.ctx, urisKey(source)).Err(); err != nil {
			return fmt.Errorf("failed to clear seen URIs for %s: %w", source, err)
		}
	}

	fields := map[string]interface{}{
		"last_timestamp": lastTimestamp,
		"updated_at":     time.Now().Format(time.RFC3339),
	}
	if err := s.client.HSet(s.ctx, stateKey(source), fields).Err(); err != nil {
		return fmt.Errorf("failed to write state for %s: %w", source, err)
	}
	return nil
}

// Sources lists all sources with saved state.
func (s *RedisStore) Sources() ([]string, error) {
	keys, err := s.client.Keys(s.ctx, redisKeyPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list state keys: %w", err)
	}

	var out []string
	for _, key := range keys {
		name := strings.TrimPrefix(key, redisKeyPrefix)
		if strings.HasSuffix(name, ":uris") || strings.HasSuffix(name, ":tmp") {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// ClearSource removes the saved state for source.
func (s *RedisStore) ClearSource(source string) error {
	if err := s.client.Del(s.ctx, stateKey(source), urisKey(source)).Err(); err != nil {
		return fmt.Errorf("failed to clear state for %s: %w", source, err)
	}
	return nil
}
