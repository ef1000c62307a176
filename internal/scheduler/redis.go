package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rowjay/docmigrate/internal/config"
)

const historyDepth = 100

// RedisHistory shares job runs between scheduler processes. The latest run
// of a job lives at <prefix>:<job>:latest; finished runs are pushed onto
// <prefix>:<job>:runs, capped at historyDepth entries.
type RedisHistory struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisHistory connects and pings the server.
func NewRedisHistory(ctx context.Context, cfg config.RedisConfig) (*RedisHistory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "dmig:runs"
	}
	return &RedisHistory{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (h *RedisHistory) latestKey(job string) string { return h.prefix + ":" + job + ":latest" }
func (h *RedisHistory) runsKey(job string) string   { return h.prefix + ":" + job + ":runs" }

func (h *RedisHistory) Record(ctx context.Context, run JobRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return err
	}
	pipe := h.client.TxPipeline()
	pipe.Set(ctx, h.latestKey(run.Job), payload, h.ttl)
	if run.Status.Terminal() {
		pipe.LPush(ctx, h.runsKey(run.Job), payload)
		pipe.LTrim(ctx, h.runsKey(run.Job), 0, historyDepth-1)
		if h.ttl > 0 {
			pipe.Expire(ctx, h.runsKey(run.Job), h.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

func (h *RedisHistory) Latest(ctx context.Context, job string) (JobRun, bool, error) {
	payload, err := h.client.Get(ctx, h.latestKey(job)).Bytes()
	if errors.Is(err, redis.Nil) {
		return JobRun{}, false, nil
	}
	if err != nil {
		return JobRun{}, false, err
	}
	var run JobRun
	if err := json.Unmarshal(payload, &run); err != nil {
		return JobRun{}, false, fmt.Errorf("decode latest run of %s: %w", job, err)
	}
	return run, true, nil
}

// Recent returns finished runs, newest first. limit <= 0 returns all kept
// runs.
func (h *RedisHistory) Recent(ctx context.Context, job string, limit int) ([]JobRun, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	items, err := h.client.LRange(ctx, h.runsKey(job), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	runs := make([]JobRun, 0, len(items))
	for _, item := range items {
		var run JobRun
		if err := json.Unmarshal([]byte(item), &run); err != nil {
			return nil, fmt.Errorf("decode run of %s: %w", job, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (h *RedisHistory) Close() error { return h.client.Close() }

// OpenHistory builds the configured history backend.
func OpenHistory(ctx context.Context, cfg config.HistoryConfig) (History, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryHistory(), nil
	case "redis":
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("scheduler.history.redis.addr is required")
		}
		return NewRedisHistory(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported history backend: %s", cfg.Backend)
	}
}
