package queue

import (
	"fmt"

	"crawlfleet/pkg/config"
	"crawlfleet/pkg/interfaces"
	asynqqueue "crawlfleet/pkg/queue/asynq"
	redisqueue "crawlfleet/pkg/queue/redis"
	sqsqueue "crawlfleet/pkg/queue/sqs"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/go-redis/redis/v8"
)

// Dependencies clients a sampler may be built on. Only the one the provider needs must be set.
type Dependencies struct {
	AWS   *aws.Config
	Redis *redis.Client
}

// NewSampler creates the queue depth sampler selected by cfg.Queue.Provider
func NewSampler(cfg *config.Config, deps Dependencies) (interfaces.QueueDepthSampler, error) {
	switch cfg.Queue.Provider {
	case "sqs", "":
		if deps.AWS == nil {
			return nil, fmt.Errorf("sqs queue provider requires an AWS config")
		}
		return sqsqueue.NewSamplerFromConfig(*deps.AWS, cfg.Queue.URL), nil
	case "redis":
		if deps.Redis == nil {
			return nil, fmt.Errorf("redis queue provider requires a redis client")
		}
		return redisqueue.NewSampler(deps.Redis, cfg.Queue.Key), nil
	case "asynq":
		return asynqqueue.NewSampler(cfg.Redis, cfg.Queue.Name), nil
	default:
		return nil, fmt.Errorf("unsupported queue provider type: %s", cfg.Queue.Provider)
	}
}
