package autoscaler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"crawlfleet/pkg/config"
	"crawlfleet/pkg/interfaces"
	"crawlfleet/pkg/logger"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const (
	requestQueueSize = 16
	// sessionGrace is how far past MaxDuration plus one poll the session context may run
	sessionGrace = time.Minute
	// observerTimeout bounds each observer call; observers outlive session cancellation
	observerTimeout = 10 * time.Second
)

// Activator activates one worker node
type Activator interface {
	Activate(ctx context.Context, node WorkerNode) (*ActivationResult, error)
}

// Option configures a Controller
type Option func(*Controller)

// WithClock replaces the wall clock
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithLock guards sessions with a distributed lock
func WithLock(lock DistributedLock) Option {
	return func(c *Controller) { c.lock = lock }
}

// WithStatusPublisher publishes the snapshot after every tick
func WithStatusPublisher(p StatusPublisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithObserver adds an activation observer
func WithObserver(o ActivationObserver) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

// WithErrorRedactor redacts error text exposed outside the process. Logs keep the full error.
func WithErrorRedactor(r ErrorRedactor) Option {
	return func(c *Controller) { c.redactor = r }
}

type nodeState struct {
	WorkerNode
	activated       bool
	activatedAt     time.Time
	address         string
	attempts        int
	addressAttempts int
	lastError       string
}

// Controller samples queue depth on a fixed cadence and activates pool nodes whose
// threshold the depth exceeds. Each node is activated at most once per session and
// a session ends after MaxDuration.
type Controller struct {
	pollInterval time.Duration
	maxDuration  time.Duration
	sessionLimit time.Duration // wall-clock bound on the session context
	sampler      interfaces.QueueDepthSampler
	activator    Activator
	clock        clock.Clock
	lock         DistributedLock
	publisher    StatusPublisher
	observers    []ActivationObserver
	redactor     ErrorRedactor
	requests     chan string

	// node state is written by the session goroutine only; mu lets readers copy it
	mu            sync.RWMutex
	state         State
	nodes         []*nodeState // threshold ascending
	byID          map[string]*nodeState
	startedAt     time.Time
	ticks         int64
	lastDepth     int64
	hasDepth      bool
	lastSampleAt  time.Time
	lastSampleErr string

	runMu     sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	carryOver []string
}

// NewController creates a controller for the given pool
func NewController(cfg config.AutoScalerConfig, nodes []WorkerNode, sampler interfaces.QueueDepthSampler, activator Activator, opts ...Option) *Controller {
	pollInterval := cfg.PollIntervalDuration()
	if pollInterval <= 0 {
		pollInterval = config.DefaultPollInterval * time.Second
	}
	maxDuration := cfg.MaxDurationDuration()
	if maxDuration <= 0 {
		maxDuration = config.DefaultMaxDuration * time.Second
	}

	c := &Controller{
		pollInterval: pollInterval,
		maxDuration:  maxDuration,
		sessionLimit: maxDuration + pollInterval + sessionGrace,
		sampler:      sampler,
		activator:    activator,
		clock:        clock.New(),
		requests:     make(chan string, requestQueueSize),
		state:        StateIdle,
		byID:         make(map[string]*nodeState, len(nodes)),
		done:         make(chan struct{}),
	}
	close(c.done)

	for _, n := range nodes {
		ns := &nodeState{WorkerNode: n}
		c.nodes = append(c.nodes, ns)
		c.byID[n.ID] = ns
	}
	sort.SliceStable(c.nodes, func(i, j int) bool {
		return c.nodes[i].Threshold < c.nodes[j].Threshold
	})

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins a session in the background. It returns once the session lock is held.
func (c *Controller) Start(ctx context.Context) error {
	sessionCtx, err := c.beginSession(ctx)
	if err != nil {
		return err
	}

	go func() {
		defer c.endSession()
		if err := c.loop(sessionCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.ErrorCtx(sessionCtx, "scaling session ended with error: %v", err)
		}
	}()
	return nil
}

// Run runs a session inline until MaxDuration elapses or ctx is cancelled
func (c *Controller) Run(ctx context.Context) error {
	sessionCtx, err := c.beginSession(ctx)
	if err != nil {
		return err
	}
	defer c.endSession()

	return c.loop(sessionCtx)
}

// Stop cancels the running session, if any. Wait on Done for it to finish.
func (c *Controller) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// CarryOver marks nodes as already activated for the next session only.
// A replica taking over from a failed session holder passes the nodes that holder launched.
func (c *Controller) CarryOver(nodeIDs []string) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	c.carryOver = append([]string(nil), nodeIDs...)
}

// Done is closed when the current session has ended
func (c *Controller) Done() <-chan struct{} {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.done
}

// IsRunning reports whether a session is in progress
func (c *Controller) IsRunning() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.running
}

func (c *Controller) beginSession(ctx context.Context) (context.Context, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.running {
		return nil, ErrControllerRunning
	}

	if c.lock != nil {
		acquired, err := c.lock.TryLock(ctx)
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, ErrSessionHeld
		}
	}

	// MaxDuration is checked against c.clock; the timeout also bounds a tick stuck on a remote call
	sessionCtx, cancel := context.WithTimeout(ctx, c.sessionLimit)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})

	c.mu.Lock()
	c.state = StateMonitoring
	c.startedAt = c.clock.Now()
	c.ticks = 0
	c.hasDepth = false
	c.lastSampleErr = ""
	for _, n := range c.nodes {
		*n = nodeState{WorkerNode: n.WorkerNode}
	}
	var carried int
	for _, id := range c.carryOver {
		if n, ok := c.byID[id]; ok && !n.activated {
			n.activated = true
			n.activatedAt = c.startedAt
			carried++
		}
	}
	c.carryOver = nil
	c.mu.Unlock()

	if carried > 0 {
		logger.InfoCtx(ctx, "carried over %d node(s) activated by the previous session holder", carried)
	}

	// requests queued while idle belong to no session
	for len(c.requests) > 0 {
		<-c.requests
	}

	logger.InfoCtx(ctx, "scaling session started: %d node(s), poll interval %v, max duration %v",
		len(c.nodes), c.pollInterval, c.maxDuration)
	return sessionCtx, nil
}

func (c *Controller) endSession() {
	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()

	status := c.Snapshot()
	c.publish(context.Background(), status)
	logger.Infof("scaling session stopped after %d tick(s), %d/%d node(s) activated",
		status.Ticks, status.ActivatedCount(), len(status.Nodes))

	if c.lock != nil {
		if err := c.lock.Unlock(context.Background()); err != nil {
			logger.Warnf("failed to release session lock: %v", err)
		}
	}

	c.runMu.Lock()
	c.cancel()
	c.running = false
	c.cancel = nil
	close(c.done)
	c.runMu.Unlock()
}

// loop ticks until the session exceeds maxDuration. Termination is time-bounded only.
func (c *Controller) loop(ctx context.Context) error {
	for {
		if c.lock != nil && !c.lock.IsHeld() {
			logger.WarnCtx(ctx, "session lock lost, stopping scaling session")
			return ErrSessionLost
		}

		c.runOnce(ctx)

		timer := c.clock.Timer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logger.WarnCtx(ctx, "scaling session hit its %v deadline", c.sessionLimit)
				return nil
			}
			logger.InfoCtx(ctx, "scaling session cancelled")
			return ctx.Err()
		case <-timer.C:
		}

		if elapsed := c.clock.Since(c.sessionStart()); elapsed > c.maxDuration {
			logger.InfoCtx(ctx, "scaling session reached max duration (%v elapsed)", elapsed)
			return nil
		}
	}
}

// runOnce performs one tick: manual requests, one sample, threshold evaluation, publish
func (c *Controller) runOnce(ctx context.Context) {
	c.mu.Lock()
	c.ticks++
	tick := c.ticks
	c.mu.Unlock()

	c.drainRequests(ctx)

	depth, err := c.sampler.Sample(ctx)
	now := c.clock.Now()
	if err != nil {
		logger.WarnCtx(ctx, "tick %d: queue depth unavailable, skipping evaluation: %v", tick, err)
		c.mu.Lock()
		c.lastSampleAt = now
		c.lastSampleErr = c.redact(err)
		c.mu.Unlock()
		c.publish(ctx, c.Snapshot())
		return
	}

	c.mu.Lock()
	c.lastDepth = depth
	c.hasDepth = true
	c.lastSampleAt = now
	c.lastSampleErr = ""
	c.mu.Unlock()
	logger.DebugCtx(ctx, "tick %d: queue depth %d", tick, depth)

	for _, n := range c.nodes {
		if n.activated {
			continue
		}
		if depth <= n.Threshold {
			continue
		}
		logger.InfoCtx(ctx, "tick %d: queue depth %d exceeds threshold %d of node %s (%s), activating",
			tick, depth, n.Threshold, n.ID, n.Name)
		c.activate(ctx, n, TriggerThreshold, depth)
	}

	c.publish(ctx, c.Snapshot())
}

func (c *Controller) drainRequests(ctx context.Context) {
	for {
		select {
		case id := <-c.requests:
			n, ok := c.byID[id]
			if !ok || n.activated {
				continue
			}
			c.mu.RLock()
			depth := c.lastDepth
			c.mu.RUnlock()
			logger.InfoCtx(ctx, "manual activation requested for node %s (%s)", n.ID, n.Name)
			c.activate(ctx, n, TriggerManual, depth)
		default:
			return
		}
	}
}

func (c *Controller) activate(ctx context.Context, n *nodeState, trigger Trigger, depth int64) {
	result, err := c.activator.Activate(ctx, n.WorkerNode)
	if result == nil {
		now := c.clock.Now()
		result = &ActivationResult{NodeID: n.ID, StartedAt: now, FinishedAt: now}
	}

	event := &ActivationEvent{
		EventID:         uuid.New().String(),
		NodeID:          n.ID,
		NodeName:        n.Name,
		Trigger:         trigger,
		QueueDepth:      depth,
		Threshold:       n.Threshold,
		Success:         err == nil,
		Address:         result.Address,
		AddressAttempts: result.AddressAttempts,
		StartedAt:       result.StartedAt,
		FinishedAt:      result.FinishedAt,
	}

	c.mu.Lock()
	n.attempts++
	n.addressAttempts = result.AddressAttempts
	n.address = result.Address
	if err != nil {
		n.lastError = c.redact(err)
		event.Error = n.lastError
	} else {
		n.activated = true
		n.activatedAt = result.FinishedAt
		n.lastError = ""
	}
	c.mu.Unlock()

	if err != nil {
		logger.WarnCtx(ctx, "activation of node %s (%s) failed, will retry while eligible: %v", n.ID, n.Name, err)
	} else {
		logger.InfoCtx(ctx, "node %s (%s) activated at %s in %v", n.ID, n.Name, result.Address, result.Duration())
	}

	for _, o := range c.observers {
		c.notify(ctx, o, event)
	}
}

// notify runs o on a context detached from session cancellation so the last event is still recorded
func (c *Controller) notify(ctx context.Context, o ActivationObserver, event *ActivationEvent) {
	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), observerTimeout)
	defer cancel()
	if err := o.OnActivation(octx, event); err != nil {
		logger.WarnCtx(ctx, "activation observer failed for node %s: %v", event.NodeID, err)
	}
}

func (c *Controller) redact(err error) string {
	if c.redactor == nil {
		return err.Error()
	}
	return c.redactor.SanitizeSensitiveInfo(err.Error())
}

// RequestActivation queues a manual activation of an inactive node for the next tick
func (c *Controller) RequestActivation(nodeID string) error {
	c.mu.RLock()
	n, ok := c.byID[nodeID]
	state := c.state
	activated := ok && n.activated
	c.mu.RUnlock()

	if !ok {
		return ErrUnknownNode
	}
	if activated {
		return ErrAlreadyActivated
	}
	if state != StateMonitoring {
		return ErrNotMonitoring
	}

	select {
	case c.requests <- nodeID:
		return nil
	default:
		return ErrRequestQueueFull
	}
}

// Snapshot returns a copy of the session state
func (c *Controller) Snapshot() *SessionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &SessionStatus{
		State:           c.state,
		PollInterval:    c.pollInterval.Seconds(),
		MaxDuration:     c.maxDuration.Seconds(),
		Ticks:           c.ticks,
		LastSampleError: c.lastSampleErr,
		Nodes:           make([]NodeStatus, 0, len(c.nodes)),
	}
	if !c.startedAt.IsZero() {
		startedAt := c.startedAt
		status.StartedAt = &startedAt
	}
	if c.hasDepth {
		depth := c.lastDepth
		status.LastDepth = &depth
	}
	if !c.lastSampleAt.IsZero() {
		sampledAt := c.lastSampleAt
		status.LastSampleAt = &sampledAt
	}

	for _, n := range c.nodes {
		ns := NodeStatus{
			ID:              n.ID,
			Name:            n.Name,
			Threshold:       n.Threshold,
			Activated:       n.activated,
			Address:         n.address,
			Attempts:        n.attempts,
			AddressAttempts: n.addressAttempts,
			LastError:       n.lastError,
		}
		if n.activated {
			activatedAt := n.activatedAt
			ns.ActivatedAt = &activatedAt
		}
		status.Nodes = append(status.Nodes, ns)
	}
	return status
}

func (c *Controller) sessionStart() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.startedAt
}

func (c *Controller) publish(ctx context.Context, status *SessionStatus) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishStatus(ctx, status); err != nil {
		logger.WarnCtx(ctx, "failed to publish autoscaler status: %v", err)
	}
}
