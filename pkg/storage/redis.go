package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HatiCode/usagecast/pkg/series"
)

// RedisStore mirrors series tables into Redis so that other consumers can read the
// latest run without access to the output file. A table is stored as:
//
//	usagecast:meta:{table}          hash   run_id, generated_at
//	usagecast:items:{table}         set    item ids
//	usagecast:series:{table}:{item} zset   score = unix seconds, member = "{unix}|{value}"
//
// All keys of a table are replaced in one MULTI/EXEC transaction and share the TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
}

// NewRedisStore creates a new Redis-backed store.
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string for no auth)
//   - db: Redis database number (typically 0)
//   - ttl: table expiration (0 uses default of 24 hours)
//
// Returns an error if the connection to Redis fails or if parameters are invalid.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}

	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
	}, nil
}

func metaKey(table string) string  { return "usagecast:meta:" + table }
func itemsKey(table string) string { return "usagecast:items:" + table }
func seriesKey(table, item string) string {
	return "usagecast:series:" + table + ":" + item
}

// Put replaces the table in Redis.
func (r *RedisStore) Put(ctx context.Context, t Table) error {
	if err := ValidateName(t.Name); err != nil {
		return err
	}

	previous, err := r.client.SMembers(ctx, itemsKey(t.Name)).Result()
	if err != nil {
		return fmt.Errorf("failed to list items in redis: %w", err)
	}

	members := make(map[string][]redis.Z)
	var items []string
	for _, rec := range t.Records {
		if _, ok := members[rec.ItemID]; !ok {
			items = append(items, rec.ItemID)
		}
		unix := rec.Timestamp.Unix()
		members[rec.ItemID] = append(members[rec.ItemID], redis.Z{
			Score:  float64(unix),
			Member: strconv.FormatInt(unix, 10) + "|" + strconv.FormatFloat(rec.Value, 'f', -1, 64),
		})
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		stale := []string{metaKey(t.Name), itemsKey(t.Name)}
		for _, item := range previous {
			stale = append(stale, seriesKey(t.Name, item))
		}
		pipe.Del(ctx, stale...)

		pipe.HSet(ctx, metaKey(t.Name),
			"run_id", t.RunID,
			"generated_at", t.GeneratedAt.UTC().Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, metaKey(t.Name), r.ttl)

		if len(items) == 0 {
			return nil
		}
		itemArgs := make([]any, len(items))
		for i, item := range items {
			itemArgs[i] = item
			key := seriesKey(t.Name, item)
			pipe.ZAdd(ctx, key, members[item]...)
			pipe.Expire(ctx, key, r.ttl)
		}
		pipe.SAdd(ctx, itemsKey(t.Name), itemArgs...)
		pipe.Expire(ctx, itemsKey(t.Name), r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store table in redis: %w", err)
	}
	return nil
}

// Get reads the table back. Records are ordered by item id, then timestamp.
func (r *RedisStore) Get(ctx context.Context, name string) (Table, bool, error) {
	if err := ValidateName(name); err != nil {
		return Table{}, false, err
	}

	meta, err := r.client.HGetAll(ctx, metaKey(name)).Result()
	if err != nil {
		return Table{}, false, fmt.Errorf("failed to get table from redis: %w", err)
	}
	if len(meta) == 0 {
		return Table{}, false, nil
	}

	t := Table{Name: name, RunID: meta["run_id"]}
	if ts := meta["generated_at"]; ts != "" {
		if t.GeneratedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return Table{}, false, fmt.Errorf("invalid generated_at %q: %w", ts, err)
		}
	}

	items, err := r.client.SMembers(ctx, itemsKey(name)).Result()
	if err != nil {
		return Table{}, false, fmt.Errorf("failed to list items in redis: %w", err)
	}
	sort.Strings(items)

	for _, item := range items {
		members, err := r.client.ZRangeByScore(ctx, seriesKey(name, item), &redis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
		if err != nil {
			return Table{}, false, fmt.Errorf("failed to read series %s: %w", item, err)
		}
		for _, m := range members {
			rec, err := parseMember(item, m)
			if err != nil {
				return Table{}, false, err
			}
			t.Records = append(t.Records, rec)
		}
	}
	return t, true, nil
}

func parseMember(item, m string) (series.Record, error) {
	unixStr, valueStr, ok := strings.Cut(m, "|")
	if !ok {
		return series.Record{}, fmt.Errorf("invalid series member %q", m)
	}
	unix, err := strconv.ParseInt(unixStr, 10, 64)
	if err != nil {
		return series.Record{}, fmt.Errorf("invalid series member %q: %w", m, err)
	}
	v, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return series.Record{}, fmt.Errorf("invalid series member %q: %w", m, err)
	}
	return series.Record{Timestamp: time.Unix(unix, 0).UTC(), ItemID: item, Value: v}, nil
}

// Close closes the Redis client connection.
// It is safe to call multiple times (idempotent).
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}

	return err
}

// Ping checks the Redis connection health.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
