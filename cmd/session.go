package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"crawlfleet/pkg/autoscaler"
	"crawlfleet/pkg/logger"
)

// sessionController is the part of autoscaler.Controller the supervisor drives
type sessionController interface {
	Start(ctx context.Context) error
	Done() <-chan struct{}
	CarryOver(nodeIDs []string)
}

// sharedStatus is the fleet state published by whichever replica holds the session
type sharedStatus interface {
	GetStatus(ctx context.Context) (*autoscaler.SessionStatus, error)
	ActivatedNodes(ctx context.Context) ([]string, error)
}

// sessionSupervisor starts the autoscaling session on this replica, or keeps
// retrying the session lock while another replica holds it.
type sessionSupervisor struct {
	controller  sessionController
	shared      sharedStatus // nil without Redis
	retry       time.Duration
	maxDuration time.Duration
	// a published session that started before this belongs to an earlier run
	since time.Time

	done chan struct{}
	once sync.Once
}

func newSessionSupervisor(controller sessionController, shared sharedStatus, retry, maxDuration time.Duration) *sessionSupervisor {
	return &sessionSupervisor{
		controller:  controller,
		shared:      shared,
		retry:       retry,
		maxDuration: maxDuration,
		since:       time.Now().Add(-(maxDuration + retry)),
		done:        make(chan struct{}),
	}
}

// Done is closed when a session run by this replica ends
func (s *sessionSupervisor) Done() <-chan struct{} {
	return s.done
}

// start makes the first attempt. held reports that another replica owns the
// session and run should be used to stand by.
func (s *sessionSupervisor) start(ctx context.Context) (held bool, err error) {
	err = s.controller.Start(ctx)
	switch {
	case err == nil:
		go s.watch()
		return false, nil
	case errors.Is(err, autoscaler.ErrSessionHeld):
		return true, nil
	default:
		return false, err
	}
}

// run retries the session lock every retry interval until this replica takes
// over, the fleet session runs to completion elsewhere, or ctx ends.
func (s *sessionSupervisor) run(ctx context.Context) {
	ticker := time.NewTicker(s.retry)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		current, err := s.currentSession(ctx)
		if err != nil {
			logger.DebugCtx(ctx, "shared autoscaler status unavailable: %v", err)
		}
		if current != nil && s.completed(current, time.Now()) {
			logger.InfoCtx(ctx, "Autoscaling session completed on another replica, standing down")
			return
		}
		s.controller.CarryOver(s.activatedNodes(ctx, current))

		err = s.controller.Start(ctx)
		switch {
		case err == nil:
			logger.InfoCtx(ctx, "Took over the autoscaling session")
			s.watch()
			return
		case errors.Is(err, autoscaler.ErrSessionHeld):
			logger.DebugCtx(ctx, "Autoscaler session still held by another replica")
		default:
			logger.WarnCtx(ctx, "Failed to take over the autoscaling session: %v", err)
		}
	}
}

func (s *sessionSupervisor) watch() {
	<-s.controller.Done()
	s.once.Do(func() { close(s.done) })
}

// currentSession returns the published session of this run, nil when there is none
func (s *sessionSupervisor) currentSession(ctx context.Context) (*autoscaler.SessionStatus, error) {
	if s.shared == nil {
		return nil, nil
	}
	status, err := s.shared.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	if status.StartedAt == nil || status.StartedAt.Before(s.since) {
		return nil, nil
	}
	return status, nil
}

// completed reports whether the published session stopped after running its full length
func (s *sessionSupervisor) completed(status *autoscaler.SessionStatus, now time.Time) bool {
	return status.State == autoscaler.StateStopped &&
		status.StartedAt != nil &&
		now.Sub(*status.StartedAt) >= s.maxDuration
}

// activatedNodes lists the nodes the previous holder launched so a takeover does not relaunch them
func (s *sessionSupervisor) activatedNodes(ctx context.Context, current *autoscaler.SessionStatus) []string {
	if current == nil {
		return nil
	}
	ids, err := s.shared.ActivatedNodes(ctx)
	if err != nil {
		logger.WarnCtx(ctx, "Failed to read nodes activated by the previous session holder: %v", err)
		return nil
	}
	return ids
}
