package autoscaler

import (
	"context"
	"fmt"
	"time"

	"crawlfleet/pkg/config"
	"crawlfleet/pkg/interfaces"
	"crawlfleet/pkg/logger"

	"github.com/benbjohnson/clock"
)

// ActivatorConfig activation policy
type ActivatorConfig struct {
	AddressMaxAttempts int
	AddressRetryDelay  time.Duration
	WorkerCommand      string
}

// ActivatorConfigFrom builds the activation policy from configuration
func ActivatorConfigFrom(as config.AutoScalerConfig, remote config.RemoteConfig) ActivatorConfig {
	return ActivatorConfig{
		AddressMaxAttempts: as.AddressMaxAttempts,
		AddressRetryDelay:  as.AddressRetryDelayDuration(),
		WorkerCommand:      remote.WorkerCommand,
	}
}

// NodeActivator drives one worker node from stopped to running with the worker program launched
type NodeActivator struct {
	compute  interfaces.ComputeLifecycle
	launcher interfaces.RemoteLauncher
	cfg      ActivatorConfig
	clock    clock.Clock
}

// NewNodeActivator creates a node activator. A nil clock uses the wall clock.
func NewNodeActivator(compute interfaces.ComputeLifecycle, launcher interfaces.RemoteLauncher, cfg ActivatorConfig, clk clock.Clock) *NodeActivator {
	if cfg.AddressMaxAttempts <= 0 {
		cfg.AddressMaxAttempts = config.DefaultAddressMaxAttempts
	}
	if cfg.AddressRetryDelay < 0 {
		cfg.AddressRetryDelay = 0
	}
	if cfg.WorkerCommand == "" {
		cfg.WorkerCommand = config.DefaultWorkerCommand
	}
	if clk == nil {
		clk = clock.New()
	}
	return &NodeActivator{
		compute:  compute,
		launcher: launcher,
		cfg:      cfg,
		clock:    clk,
	}
}

// Activate starts the node, waits for it to run, acquires its public address and
// launches the worker program on it. The result is never nil.
func (a *NodeActivator) Activate(ctx context.Context, node WorkerNode) (*ActivationResult, error) {
	result := &ActivationResult{NodeID: node.ID, StartedAt: a.clock.Now()}
	defer func() { result.FinishedAt = a.clock.Now() }()

	if err := a.compute.Start(ctx, node.ID); err != nil {
		return result, fmt.Errorf("node %s: %w", node.ID, err)
	}
	logger.InfoCtx(ctx, "node %s (%s) start requested, waiting for running state", node.ID, node.Name)

	if err := a.compute.AwaitRunning(ctx, node.ID); err != nil {
		return result, fmt.Errorf("node %s: %w", node.ID, err)
	}
	result.RunningAt = a.clock.Now()

	address, attempts, err := a.acquireAddress(ctx, node)
	result.AddressAttempts = attempts
	if err != nil {
		return result, err
	}
	result.Address = address
	logger.InfoCtx(ctx, "node %s (%s) reachable at %s after %d address attempt(s)", node.ID, node.Name, address, attempts)

	if err := a.launcher.Launch(ctx, address, node.Credential, a.cfg.WorkerCommand); err != nil {
		return result, fmt.Errorf("node %s: %w", node.ID, err)
	}
	return result, nil
}

// acquireAddress waits AddressRetryDelay before each lookup and stops at the first non-empty address
func (a *NodeActivator) acquireAddress(ctx context.Context, node WorkerNode) (string, int, error) {
	attempts := 0
	for attempts < a.cfg.AddressMaxAttempts {
		if err := a.sleep(ctx, a.cfg.AddressRetryDelay); err != nil {
			return "", attempts, fmt.Errorf("node %s: address acquisition interrupted: %w", node.ID, err)
		}
		attempts++

		address, err := a.compute.PublicAddress(ctx, node.ID)
		if err != nil {
			logger.WarnCtx(ctx, "node %s address lookup %d/%d failed: %v", node.ID, attempts, a.cfg.AddressMaxAttempts, err)
			continue
		}
		if address != "" {
			return address, attempts, nil
		}
		logger.DebugCtx(ctx, "node %s has no public address yet (%d/%d)", node.ID, attempts, a.cfg.AddressMaxAttempts)
	}

	return "", attempts, fmt.Errorf("node %s: %w after %d attempts", node.ID, interfaces.ErrAddressAcquisitionExhausted, attempts)
}

func (a *NodeActivator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := a.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
