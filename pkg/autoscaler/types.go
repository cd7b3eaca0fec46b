package autoscaler

import (
	"context"
	"errors"
	"time"

	"crawlfleet/pkg/config"
)

// Controller errors
var (
	ErrUnknownNode       = errors.New("unknown worker node")
	ErrAlreadyActivated  = errors.New("worker node already activated")
	ErrRequestQueueFull  = errors.New("activation request queue is full")
	ErrNotMonitoring     = errors.New("autoscaler is not monitoring")
	ErrControllerRunning = errors.New("autoscaler is already running")
	ErrSessionHeld       = errors.New("scaling session is held by another instance")
	ErrSessionLost       = errors.New("scaling session lock lost")
)

// State controller lifecycle state
type State string

const (
	StateIdle       State = "idle"
	StateMonitoring State = "monitoring"
	StateStopped    State = "stopped"
)

// Trigger what caused an activation
type Trigger string

const (
	TriggerThreshold Trigger = "threshold"
	TriggerManual    Trigger = "manual"
)

// WorkerNode one node of the elastic pool
type WorkerNode struct {
	ID         string `json:"id"`         // compute instance handle
	Credential string `json:"credential"` // reference usable for remote execution
	Name       string `json:"name"`
	Threshold  int64  `json:"threshold"` // activate when queue depth exceeds this
}

// NodesFromConfig converts the configured pool
func NodesFromConfig(nodes []config.NodeConfig) []WorkerNode {
	out := make([]WorkerNode, 0, len(nodes))
	for _, n := range nodes {
		name := n.Name
		if name == "" {
			name = n.ID
		}
		out = append(out, WorkerNode{
			ID:         n.ID,
			Credential: n.Credential,
			Name:       name,
			Threshold:  n.Threshold,
		})
	}
	return out
}

// ActivationResult outcome of one NodeActivator.Activate call
type ActivationResult struct {
	NodeID          string    `json:"nodeId"`
	Address         string    `json:"address,omitempty"`
	AddressAttempts int       `json:"addressAttempts"`
	StartedAt       time.Time `json:"startedAt"`
	RunningAt       time.Time `json:"runningAt,omitempty"`
	FinishedAt      time.Time `json:"finishedAt"`
}

// Duration total time spent on the activation
func (r *ActivationResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ActivationEvent record of one activation attempt, handed to observers
type ActivationEvent struct {
	EventID         string    `json:"eventId"`
	NodeID          string    `json:"nodeId"`
	NodeName        string    `json:"nodeName"`
	Trigger         Trigger   `json:"trigger"`
	QueueDepth      int64     `json:"queueDepth"`
	Threshold       int64     `json:"threshold"`
	Success         bool      `json:"success"`
	Address         string    `json:"address,omitempty"`
	AddressAttempts int       `json:"addressAttempts"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
}

// NodeStatus point-in-time view of one worker node
type NodeStatus struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Threshold       int64      `json:"threshold"`
	Activated       bool       `json:"activated"`
	ActivatedAt     *time.Time `json:"activatedAt,omitempty"`
	Address         string     `json:"address,omitempty"`
	Attempts        int        `json:"attempts"` // activation attempts this session
	AddressAttempts int        `json:"addressAttempts"`
	LastError       string     `json:"lastError,omitempty"`
}

// SessionStatus point-in-time view of the scaling session
type SessionStatus struct {
	State           State        `json:"state"`
	StartedAt       *time.Time   `json:"startedAt,omitempty"`
	PollInterval    float64      `json:"pollInterval"` // seconds
	MaxDuration     float64      `json:"maxDuration"`  // seconds
	Ticks           int64        `json:"ticks"`
	LastDepth       *int64       `json:"lastDepth,omitempty"`
	LastSampleAt    *time.Time   `json:"lastSampleAt,omitempty"`
	LastSampleError string       `json:"lastSampleError,omitempty"`
	Nodes           []NodeStatus `json:"nodes"`
}

// ActivatedCount number of activated nodes
func (s *SessionStatus) ActivatedCount() int {
	n := 0
	for _, node := range s.Nodes {
		if node.Activated {
			n++
		}
	}
	return n
}

// StatusPublisher receives the session snapshot after every tick
type StatusPublisher interface {
	PublishStatus(ctx context.Context, status *SessionStatus) error
}

// ErrorRedactor strips secrets and infrastructure details from error text
// before it leaves the process through status, history or notifications
type ErrorRedactor interface {
	SanitizeSensitiveInfo(message string) string
}

// ActivationObserver receives every activation outcome. Observers must not block for long.
type ActivationObserver interface {
	OnActivation(ctx context.Context, event *ActivationEvent) error
}
