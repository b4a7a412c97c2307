package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis so that reports survive the process
// and can be compared across runs and hosts.
//
// Keys:
//
//	ridecast:report:{run}   latest report, expires after TTL
//	ridecast:history:{run}  list of reports, newest first, capped
type RedisStore struct {
	client     *redis.Client
	ttl        time.Duration
	maxHistory int
	mu         sync.RWMutex
}

// NewRedisStore creates a new Redis-backed store.
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string for no auth)
//   - db: Redis database number (typically 0)
//   - ttl: report expiration (0 uses default of 30 days)
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
		ttl = 30 * 24 * time.Hour
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
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{
		client:     client,
		ttl:        ttl,
		maxHistory: DefaultHistory,
	}, nil
}

func reportKey(run string) string  { return "ridecast:report:" + run }
func historyKey(run string) string { return "ridecast:history:" + run }

// Put stores the report as the latest of its run and prepends it to the
// run history in one transaction.
func (r *RedisStore) Put(ctx context.Context, report Report) error {
	if err := ValidateRunName(report.Run); err != nil {
		return err
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	hkey := historyKey(report.Run)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, reportKey(report.Run), data, r.ttl)
		pipe.LPush(ctx, hkey, data)
		pipe.LTrim(ctx, hkey, 0, int64(r.maxHistory-1))
		pipe.Expire(ctx, hkey, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store report in redis: %w", err)
	}

	return nil
}

// GetLatest retrieves the latest report of a run.
//
// Returns:
//   - report: the stored report (zero value if not found)
//   - found: true if a report exists, false if not found
//   - error: non-nil if an error occurred (excluding "not found")
func (r *RedisStore) GetLatest(ctx context.Context, run string) (Report, bool, error) {
	if run == "" {
		return Report{}, false, errors.New("run name required")
	}

	data, err := r.client.Get(ctx, reportKey(run)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Report{}, false, nil
		}
		return Report{}, false, fmt.Errorf("failed to get report from redis: %w", err)
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return Report{}, false, fmt.Errorf("failed to unmarshal report: %w", err)
	}

	return report, true, nil
}

// History returns up to limit reports of a run, newest first. A limit of
// zero or less returns all kept reports.
func (r *RedisStore) History(ctx context.Context, run string, limit int) ([]Report, error) {
	if run == "" {
		return nil, errors.New("run name required")
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	items, err := r.client.LRange(ctx, historyKey(run), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history from redis: %w", err)
	}

	reports := make([]Report, 0, len(items))
	for i, item := range items {
		var report Report
		if err := json.Unmarshal([]byte(item), &report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history entry %d: %w", i, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
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
	if err != nil && err.Error() == "redis: client is closed" {
		return nil
	}

	return err
}

// Ping checks the Redis connection health.
// Returns an error if the connection is unavailable.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
