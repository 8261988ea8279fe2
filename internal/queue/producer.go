package queue

import (
	"context"
	"encoding/json"

	"mindleap-provisioning/internal/config"
	"mindleap-provisioning/internal/model"

	"github.com/go-redis/redis/v8"
)

type Producer struct {
	client *redis.Client
	queue  string
}

func NewProducer(redisClient *RedisClient, cfg *config.Config) *Producer {
	return &Producer{
		client: redisClient.Client(),
		queue:  cfg.Redis.ProvisionQueue,
	}
}

func (p *Producer) EnqueueProvisionJob(ctx context.Context, job model.ProvisionJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	return p.client.LPush(ctx, p.queue, data).Err()
}
