package ec2

import (
	"context"
	"fmt"
	"time"

	"crawlfleet/pkg/interfaces"
	"crawlfleet/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// API is the subset of the EC2 client the provider calls
type API interface {
	StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// Provider EC2 implementation of interfaces.ComputeLifecycle
type Provider struct {
	client         API
	runningTimeout time.Duration
	minDelay       time.Duration
	maxDelay       time.Duration
}

var _ interfaces.ComputeLifecycle = (*Provider)(nil)

// NewProvider creates an EC2 compute provider.
// runningTimeout bounds AwaitRunning.
func NewProvider(client API, runningTimeout time.Duration) *Provider {
	return &Provider{
		client:         client,
		runningTimeout: runningTimeout,
		minDelay:       5 * time.Second,
		maxDelay:       30 * time.Second,
	}
}

// NewProviderFromConfig creates an EC2 compute provider from a loaded AWS config
func NewProviderFromConfig(cfg aws.Config, runningTimeout time.Duration) *Provider {
	return NewProvider(ec2.NewFromConfig(cfg), runningTimeout)
}

// Start issues StartInstances for the instance. It does not wait for the transition.
func (p *Provider) Start(ctx context.Context, instanceID string) error {
	out, err := p.client.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return fmt.Errorf("start instance %s: %w: %w", instanceID, interfaces.ErrActivationFailed, err)
	}

	for _, change := range out.StartingInstances {
		if change.CurrentState != nil {
			logger.InfoCtx(ctx, "instance %s state %s -> %s", instanceID,
				stateName(change.PreviousState), stateName(change.CurrentState))
		}
	}
	return nil
}

// AwaitRunning polls DescribeInstances until the instance is running or the timeout elapses
func (p *Provider) AwaitRunning(ctx context.Context, instanceID string) error {
	waiter := ec2.NewInstanceRunningWaiter(p.client, func(o *ec2.InstanceRunningWaiterOptions) {
		o.MinDelay = p.minDelay
		o.MaxDelay = p.maxDelay
	})

	err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}, p.runningTimeout)
	if err != nil {
		return fmt.Errorf("wait for instance %s: %w: %w", instanceID, interfaces.ErrActivationTimeout, err)
	}
	return nil
}

// PublicAddress returns the instance's public IPv4 address, or "" if none is assigned yet
func (p *Provider) PublicAddress(ctx context.Context, instanceID string) (string, error) {
	out, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return "", fmt.Errorf("describe instance %s: %w", instanceID, err)
	}

	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			if aws.ToString(inst.InstanceId) == instanceID {
				return aws.ToString(inst.PublicIpAddress), nil
			}
		}
	}
	return "", nil
}

func stateName(state *types.InstanceState) string {
	if state == nil {
		return "unknown"
	}
	return string(state.Name)
}
