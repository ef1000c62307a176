package scheduler

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/docmigrate/internal/config"
)

func runHistoryTests(t *testing.T, h History) {
	t.Helper()
	ctx := context.Background()
	job := fmt.Sprintf("users-%d", time.Now().UnixNano())

	_, ok, err := h.Latest(ctx, job)
	require.NoError(t, err)
	assert.False(t, ok)

	for i, status := range []Status{StatusPending, StatusRunning, StatusFailed} {
		run := JobRun{ID: "r1", Job: job, Status: status, FailedCollections: []string{"claims"}}
		run.ScheduledAt = time.Unix(int64(i), 0).UTC()
		require.NoError(t, h.Record(ctx, run))
	}
	require.NoError(t, h.Record(ctx, JobRun{ID: "r2", Job: job, Status: StatusSucceeded}))

	latest, ok, err := h.Latest(ctx, job)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r2", latest.ID)

	recent, err := h.Recent(ctx, job, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "r2", recent[0].ID)
	assert.Equal(t, StatusFailed, recent[1].Status)
	assert.Equal(t, []string{"claims"}, recent[1].FailedCollections)
}

func TestMemoryHistory(t *testing.T) {
	runHistoryTests(t, NewMemoryHistory())
}

func TestRedisHistory(t *testing.T) {
	addr := os.Getenv("DMIG_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h, err := NewRedisHistory(ctx, config.RedisConfig{Addr: addr, DB: 15, Prefix: "dmig-test", TTL: time.Minute})
	if err != nil {
		t.Skip("Redis not available for testing:", err)
	}
	defer h.Close()
	runHistoryTests(t, h)
}

func TestOpenHistory(t *testing.T) {
	h, err := OpenHistory(context.Background(), config.HistoryConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryHistory{}, h)

	_, err = OpenHistory(context.Background(), config.HistoryConfig{Backend: "redis"})
	assert.Error(t, err)
	_, err = OpenHistory(context.Background(), config.HistoryConfig{Backend: "etcd"})
	assert.Error(t, err)
}
