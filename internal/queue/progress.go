package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"mindleap-provisioning/internal/config"
	"mindleap-provisioning/internal/model"
	"mindleap-provisioning/pkg/errors"

	"github.com/go-redis/redis/v8"
)

// ProgressStore keeps the live progress of running bulk jobs in a Redis
// hash per job, so the API can report it while the worker runs.
type ProgressStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewProgressStore(redisClient *RedisClient, cfg *config.Config) *ProgressStore {
	return &ProgressStore{
		client: redisClient.Client(),
		prefix: cfg.Redis.ProgressPrefix,
		ttl:    cfg.Redis.ProgressTTL,
	}
}

func (s *ProgressStore) key(jobID string) string {
	return s.prefix + jobID
}

func (s *ProgressStore) SaveProgress(ctx context.Context, p model.Progress) error {
	key := s.key(p.JobID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"processed", p.Processed,
		"total", p.Total,
		"percent", strconv.FormatFloat(p.Percent, 'f', 2, 64),
		"succeeded", p.Succeeded,
		"failed", p.Failed,
	)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save progress for job %s: %w", p.JobID, err)
	}
	return nil
}

func (s *ProgressStore) GetProgress(ctx context.Context, jobID string) (*model.Progress, error) {
	fields, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read progress for job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("progress for job %s: %w", jobID, errors.ErrNotFound)
	}

	p, err := parseProgress(jobID, fields)
	if err != nil {
		return nil, fmt.Errorf("corrupt progress for job %s: %w", jobID, err)
	}
	return p, nil
}

func parseProgress(jobID string, fields map[string]string) (*model.Progress, error) {
	p := &model.Progress{JobID: jobID}
	ints := []struct {
		name string
		dst  *int
	}{
		{"processed", &p.Processed},
		{"total", &p.Total},
		{"succeeded", &p.Succeeded},
		{"failed", &p.Failed},
	}
	for _, f := range ints {
		n, err := strconv.Atoi(fields[f.name])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.name, err)
		}
		*f.dst = n
	}

	percent, err := strconv.ParseFloat(fields["percent"], 64)
	if err != nil {
		return nil, fmt.Errorf("field percent: %w", err)
	}
	p.Percent = percent
	return p, nil
}
