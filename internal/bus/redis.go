package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis fans events out across devices through Redis pub/sub.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedis(client *redis.Client, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, logger: logger}
}

func (r *Redis) Publish(ctx context.Context, topic string) error {
	if err := r.client.Publish(ctx, topic, "changed").Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, topic string) (<-chan struct{}, func()) {
	ctx, stop := context.WithCancel(ctx)
	ps := r.client.Subscribe(ctx, topic)
	// Wait for the server to confirm, so a publish right after this
	// returns is not missed.
	if _, err := ps.Receive(ctx); err != nil {
		r.logger.Warn("redis subscribe not confirmed", zap.String("topic", topic), zap.Error(err))
	}
	out := make(chan struct{}, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(out)
		// Channel() reconnects on its own; it is closed by ps.Close().
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				notify(out)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			if err := ps.Close(); err != nil {
				r.logger.Warn("close redis subscription", zap.String("topic", topic), zap.Error(err))
			}
			wg.Wait()
		})
	}
	return out, cancel
}
