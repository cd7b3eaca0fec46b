package sqs

import (
	"context"
	"fmt"
	"strconv"

	"crawlfleet/pkg/interfaces"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// API is the subset of the SQS client the sampler calls
type API interface {
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Sampler reads ApproximateNumberOfMessages from an SQS queue
type Sampler struct {
	client   API
	queueURL string
}

var _ interfaces.QueueDepthSampler = (*Sampler)(nil)

// NewSampler creates an SQS depth sampler for queueURL
func NewSampler(client API, queueURL string) *Sampler {
	return &Sampler{client: client, queueURL: queueURL}
}

// NewSamplerFromConfig creates an SQS depth sampler from a loaded AWS config
func NewSamplerFromConfig(cfg aws.Config, queueURL string) *Sampler {
	return NewSampler(sqs.NewFromConfig(cfg), queueURL)
}

// Sample returns the queue's approximate number of visible messages
func (s *Sampler) Sample(ctx context.Context) (int64, error) {
	attr := types.QueueAttributeNameApproximateNumberOfMessages

	out, err := s.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(s.queueURL),
		AttributeNames: []types.QueueAttributeName{attr},
	})
	if err != nil {
		return 0, fmt.Errorf("get attributes of %s: %w: %w", s.queueURL, interfaces.ErrMetricUnavailable, err)
	}

	raw, ok := out.Attributes[string(attr)]
	if !ok {
		return 0, fmt.Errorf("%w: attribute %s missing for %s", interfaces.ErrMetricUnavailable, attr, s.queueURL)
	}

	depth, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed %s %q: %v", interfaces.ErrMetricUnavailable, attr, raw, err)
	}
	return depth, nil
}
