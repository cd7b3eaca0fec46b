package autoscaler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"crawlfleet/pkg/interfaces"
)

// fakeCompute scripts ComputeLifecycle per instance id
type fakeCompute struct {
	mu        sync.Mutex
	startErr  map[string]error
	awaitErr  map[string]error
	addresses map[string][]string // successive PublicAddress answers, "" when exhausted
	lookupErr map[string][]error
	started   []string
	lookups   map[string]int
}

func newFakeCompute() *fakeCompute {
	return &fakeCompute{
		startErr:  map[string]error{},
		awaitErr:  map[string]error{},
		addresses: map[string][]string{},
		lookupErr: map[string][]error{},
		lookups:   map[string]int{},
	}
}

func (f *fakeCompute) Start(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	if err := f.startErr[id]; err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrActivationFailed, err)
	}
	return nil
}

func (f *fakeCompute) AwaitRunning(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.awaitErr[id]; err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrActivationTimeout, err)
	}
	return nil
}

func (f *fakeCompute) PublicAddress(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.lookups[id]
	f.lookups[id]++

	if errs := f.lookupErr[id]; i < len(errs) && errs[i] != nil {
		return "", errs[i]
	}
	if addrs := f.addresses[id]; i < len(addrs) {
		return addrs[i], nil
	}
	return "", nil
}

// always reports addr on the first lookup
func (f *fakeCompute) assign(id, addr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addresses[id] = []string{addr}
	f.lookups[id] = 0
}

type launchCall struct {
	address, credential, command string
}

type fakeLauncher struct {
	mu    sync.Mutex
	err   error
	calls []launchCall
}

func (f *fakeLauncher) Launch(ctx context.Context, address, credential, command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, launchCall{address, credential, command})
	if f.err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrLaunchFailed, f.err)
	}
	return nil
}

// fakeActivator records activation order and fails the ids in fail
type fakeActivator struct {
	mu        sync.Mutex
	fail      map[string]bool
	failErr   error
	activated []string
}

func (f *fakeActivator) Activate(ctx context.Context, node WorkerNode) (*ActivationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated = append(f.activated, node.ID)
	if f.fail[node.ID] {
		if f.failErr != nil {
			return &ActivationResult{NodeID: node.ID}, fmt.Errorf("node %s: %w: %w", node.ID, interfaces.ErrLaunchFailed, f.failErr)
		}
		return &ActivationResult{NodeID: node.ID, AddressAttempts: 10},
			fmt.Errorf("node %s: %w", node.ID, interfaces.ErrAddressAcquisitionExhausted)
	}
	return &ActivationResult{NodeID: node.ID, Address: "10.0.0." + node.ID, AddressAttempts: 1}, nil
}

func (f *fakeActivator) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.activated...)
}

// scriptedSampler returns depths in order, then repeats the last one
type scriptedSampler struct {
	mu      sync.Mutex
	depths  []int64
	errs    []error
	i       int
	sampled chan struct{}
}

func (s *scriptedSampler) Sample(ctx context.Context) (int64, error) {
	s.mu.Lock()
	i := s.i
	s.i++
	s.mu.Unlock()

	if s.sampled != nil {
		defer func() { s.sampled <- struct{}{} }()
	}
	if i < len(s.errs) && s.errs[i] != nil {
		return 0, s.errs[i]
	}
	if len(s.depths) == 0 {
		return 0, nil
	}
	if i >= len(s.depths) {
		i = len(s.depths) - 1
	}
	return s.depths[i], nil
}

// blockingActivator hangs until its context ends, like a launch against an unresponsive host
type blockingActivator struct{}

func (blockingActivator) Activate(ctx context.Context, node WorkerNode) (*ActivationResult, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("node %s: %w: %w", node.ID, interfaces.ErrLaunchFailed, ctx.Err())
}

type recordingObserver struct {
	mu      sync.Mutex
	events  []*ActivationEvent
	ctxErrs []error
	err     error
}

func (o *recordingObserver) OnActivation(ctx context.Context, event *ActivationEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
	o.ctxErrs = append(o.ctxErrs, ctx.Err())
	return o.err
}

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []*SessionStatus
}

func (p *recordingPublisher) PublishStatus(ctx context.Context, status *SessionStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, status)
	return nil
}

func (p *recordingPublisher) last() *SessionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.statuses) == 0 {
		return nil
	}
	return p.statuses[len(p.statuses)-1]
}

// fakeLock a DistributedLock whose ownership the test controls
type fakeLock struct {
	mu       sync.Mutex
	held     bool
	deny     bool
	unlocked int
}

func (l *fakeLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deny {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.unlocked++
	return nil
}

func (l *fakeLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *fakeLock) lose() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
}

var errThrottled = errors.New("throttled")
