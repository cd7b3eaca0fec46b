package queue

import (
	"testing"

	"crawlfleet/pkg/config"
	asynqqueue "crawlfleet/pkg/queue/asynq"
	redisqueue "crawlfleet/pkg/queue/redis"
	sqsqueue "crawlfleet/pkg/queue/sqs"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSampler(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	awsCfg := aws.Config{Region: "us-east-1"}

	s, err := NewSampler(&config.Config{Queue: config.QueueConfig{Provider: "sqs", URL: "q"}}, Dependencies{AWS: &awsCfg})
	require.NoError(t, err)
	assert.IsType(t, &sqsqueue.Sampler{}, s)

	s, err = NewSampler(&config.Config{Queue: config.QueueConfig{Provider: "redis", Key: "frontier"}}, Dependencies{Redis: client})
	require.NoError(t, err)
	assert.IsType(t, &redisqueue.Sampler{}, s)

	s, err = NewSampler(&config.Config{
		Redis: config.RedisConfig{Addr: mr.Addr()},
		Queue: config.QueueConfig{Provider: "asynq", Name: "crawl"},
	}, Dependencies{})
	require.NoError(t, err)
	require.IsType(t, &asynqqueue.Sampler{}, s)
	_ = s.(*asynqqueue.Sampler).Close()
}

func TestNewSampler_MissingDependencies(t *testing.T) {
	_, err := NewSampler(&config.Config{Queue: config.QueueConfig{Provider: "sqs", URL: "q"}}, Dependencies{})
	assert.Error(t, err)

	_, err = NewSampler(&config.Config{Queue: config.QueueConfig{Provider: "redis", Key: "k"}}, Dependencies{})
	assert.Error(t, err)

	_, err = NewSampler(&config.Config{Queue: config.QueueConfig{Provider: "kafka"}}, Dependencies{})
	assert.Error(t, err)
}
