package queue

import (
	"context"
	"time"

	"mindleap-provisioning/internal/config"
	"mindleap-provisioning/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

type Consumer struct {
	client    *redis.Client
	queue     string
	dlqSuffix string
	log       zerolog.Logger
}

type MessageHandler func(ctx context.Context, data []byte) error

func NewConsumer(redisClient *RedisClient, cfg *config.Config) *Consumer {
	return &Consumer{
		client:    redisClient.Client(),
		queue:     cfg.Redis.ProvisionQueue,
		dlqSuffix: cfg.Redis.DLQSuffix,
		log:       logger.Component("queue"),
	}
}

// ConsumeProvisionQueue blocks until ctx is done, handing each bulk job to
// handler. Jobs whose handler fails are pushed to the dead-letter queue.
func (c *Consumer) ConsumeProvisionQueue(ctx context.Context, handler MessageHandler) error {
	return c.consume(ctx, c.queue, handler)
}

func (c *Consumer) consume(ctx context.Context, queueName string, handler MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			result, err := c.client.BRPop(ctx, 5*time.Second, queueName).Result()
			if err != nil {
				if err == redis.Nil {
					continue // Timeout, continue polling
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.log.Error().Err(err).Str("queue", queueName).Msg("Failed to consume message")
				time.Sleep(time.Second)
				continue
			}

			if len(result) < 2 {
				continue
			}

			message := result[1]
			if err := handler(ctx, []byte(message)); err != nil {
				c.log.Error().Err(err).Str("queue", queueName).Msg("Failed to process message")
				dlqName := queueName + c.dlqSuffix
				if dlqErr := c.client.LPush(context.Background(), dlqName, message).Err(); dlqErr != nil {
					c.log.Error().Err(dlqErr).Str("dlq", dlqName).Msg("Failed to move message to DLQ")
				}
			}
		}
	}
}
