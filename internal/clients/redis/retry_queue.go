package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	types "github.com/yungbote/scholargraph-backend/internal/domain"
	"github.com/yungbote/scholargraph-backend/internal/platform/envutil"
	"github.com/yungbote/scholargraph-backend/internal/platform/logger"
)

// FailedPaper is one paper parked for later reprocessing after its commit
// exhausted its retries.
type FailedPaper struct {
	PaperID  string             `json:"paper_id"`
	Records  []*types.RawRecord `json:"records"`
	Reason   string             `json:"reason"`
	FailedAt time.Time          `json:"failed_at"`
}

// RetryQueue is the resumable queue of IngestionFailed papers, backed by a
// Redis list so failures survive process restarts.
type RetryQueue struct {
	log *logger.Logger
	rdb *goredis.Client
	key string
}

// NewRetryQueueFromEnv returns (nil, nil) when REDIS_ADDR is unset; failed
// papers are then only reported, not parked.
func NewRetryQueueFromEnv(log *logger.Logger) (*RetryQueue, error) {
	if log == nil {
		return nil, fmt.Errorf("redis: logger required")
	}
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RetryQueue{
		log: log.With("client", "RetryQueue"),
		rdb: rdb,
		key: envutil.String("REDIS_RETRY_QUEUE_KEY", "ingest:retry"),
	}, nil
}

func (q *RetryQueue) Push(ctx context.Context, paper FailedPaper) error {
	payload, err := json.Marshal(paper)
	if err != nil {
		return fmt.Errorf("retry queue marshal: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("retry queue push: %w", err)
	}
	q.log.Info("paper parked for retry", "paper_id", paper.PaperID, "reason", paper.Reason)
	return nil
}

// Pop removes and returns the oldest failed paper, or (nil, nil) when the
// queue is empty.
func (q *RetryQueue) Pop(ctx context.Context) (*FailedPaper, error) {
	raw, err := q.rdb.RPop(ctx, q.key).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("retry queue pop: %w", err)
	}
	var paper FailedPaper
	if err := json.Unmarshal(raw, &paper); err != nil {
		return nil, fmt.Errorf("retry queue decode: %w", err)
	}
	return &paper, nil
}

// List returns up to limit queued papers without removing them.
func (q *RetryQueue) List(ctx context.Context, limit int) ([]FailedPaper, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.rdb.LRange(ctx, q.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("retry queue list: %w", err)
	}
	out := make([]FailedPaper, 0, len(rows))
	for _, raw := range rows {
		var paper FailedPaper
		if err := json.Unmarshal([]byte(raw), &paper); err != nil {
			q.log.Warn("skipping undecodable retry entry", "error", err)
			continue
		}
		out = append(out, paper)
	}
	return out, nil
}

func (q *RetryQueue) Close() error {
	if q == nil || q.rdb == nil {
		return nil
	}
	return q.rdb.Close()
}
