package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisQueueReceiver consumes engine callbacks from a redis list. Some
// engine proxies deliver callbacks by LPUSH instead of a broker; this
// receiver pops them and feeds the coordinator's ingress callback. The
// pop-then-apply path is at-least-once under crash, which the ingress
// already tolerates.
type RedisQueueReceiver struct {
	queue  string
	client redis.UniversalClient
	logger *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRedisQueueReceiver creates a receiver for the given list name.
func NewRedisQueueReceiver(addr, password, queue string, logger *slog.Logger) *RedisQueueReceiver {
	return &RedisQueueReceiver{
		queue: queue,
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		logger: logger.With("module", "engine_redis_receiver", "queue", queue),
		stopCh: make(chan struct{}),
	}
}

// Start verifies connectivity and begins consuming in the background.
func (r *RedisQueueReceiver) Start(ctx context.Context, callback Callback) error {
	if r.queue == "" {
		return errors.New("engine callback queue name is required")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := r.client.Ping(pingCtx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r.logger.InfoContext(ctx, "Starting engine callback consumer")

	r.wg.Add(1)

	go r.consume(ctx, callback)

	return nil
}

func (r *RedisQueueReceiver) consume(ctx context.Context, callback Callback) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			r.logger.InfoContext(ctx, "Engine callback consumer stopped")

			return
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "Context cancelled, stopping engine callback consumer")

			return
		default:
			err := r.processMessage(ctx, callback)
			if err != nil {
				r.logger.ErrorContext(ctx, "Error processing engine callback", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (r *RedisQueueReceiver) processMessage(ctx context.Context, callback Callback) error {
	result, err := r.client.BLPop(ctx, 1*time.Second, r.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop engine callback: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	var event Event
	if err := json.Unmarshal([]byte(result[1]), &event); err != nil {
		return fmt.Errorf("failed to decode engine callback: %w", err)
	}

	return callback(ctx, event)
}

// Stop drains the consumer and closes the connection.
func (r *RedisQueueReceiver) Stop(ctx context.Context) error {
	close(r.stopCh)
	r.wg.Wait()

	err := r.client.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
	}

	return nil
}
