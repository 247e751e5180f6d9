// vidvault/progress/progress.go

// Package progress publishes live transfer counters so the status API
// can report how far a processing attempt has come while the task row
// still says "processing".
package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Reporter records byte progress for one task.
type Reporter interface {
	Report(ctx context.Context, taskID string, bytesSoFar, totalBytes int64)
	Clear(ctx context.Context, taskID string)
}

// Snapshot is what the status API reads back.
type Snapshot struct {
	BytesSoFar int64     `json:"bytes_so_far"`
	TotalBytes int64     `json:"total_bytes"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const keyPrefix = "vidvault:progress:"

// Entries expire on their own so a crashed worker cannot leave stale
// counters behind forever.
const entryTTL = 30 * time.Minute

// RedisReporter stores snapshots in Redis. Failures are logged and
// swallowed: progress is advisory and must never fail a transfer.
type RedisReporter struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisReporter(addr string, log *zap.Logger) (*RedisReporter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisReporter{client: client, log: log}, nil
}

func (r *RedisReporter) Report(ctx context.Context, taskID string, bytesSoFar, totalBytes int64) {
	snap := Snapshot{BytesSoFar: bytesSoFar, TotalBytes: totalBytes, UpdatedAt: time.Now()}
	data, _ := json.Marshal(snap)
	if err := r.client.Set(ctx, keyPrefix+taskID, data, entryTTL).Err(); err != nil {
		r.log.Debug("progress report dropped", zap.String("task_id", taskID), zap.Error(err))
	}
}

func (r *RedisReporter) Clear(ctx context.Context, taskID string) {
	if err := r.client.Del(ctx, keyPrefix+taskID).Err(); err != nil {
		r.log.Debug("progress clear failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

// Get returns the latest snapshot, or nil if none is recorded.
func (r *RedisReporter) Get(ctx context.Context, taskID string) (*Snapshot, error) {
	data, err := r.client.Get(ctx, keyPrefix+taskID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *RedisReporter) Close() error {
	return r.client.Close()
}

// Nop discards all reports. Used when no Redis address is configured.
type Nop struct{}

func (Nop) Report(context.Context, string, int64, int64) {}
func (Nop) Clear(context.Context, string)                {}

var (
	_ Reporter = (*RedisReporter)(nil)
	_ Reporter = Nop{}
)
