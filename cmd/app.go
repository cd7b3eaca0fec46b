package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"crawlfleet/app/handler"
	"crawlfleet/internal/jobs"
	"crawlfleet/pkg/autoscaler"
	"crawlfleet/pkg/config"
	"crawlfleet/pkg/interfaces"
	"crawlfleet/pkg/logger"
	mysqlstore "crawlfleet/pkg/store/mysql"
	redisstore "crawlfleet/pkg/store/redis"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
)

// Application manages the lifecycle of the entire application
type Application struct {
	// Infrastructure components
	config      *config.Config
	mysqlRepo   *mysqlstore.Repository
	redisClient *redisstore.RedisClient
	awsConfig   *aws.Config

	// Autoscaling components
	sampler     interfaces.QueueDepthSampler
	controller  *autoscaler.Controller
	sessionLock *autoscaler.RedisDistributedLock
	statusRepo  *redisstore.FleetStatusRepository

	// Handler layer
	autoscalerHandler *handler.AutoScalerHandler

	// HTTP server
	httpServer *http.Server
	ginEngine  *gin.Engine

	// Background tasks
	jobsManager *jobs.Manager

	// Starts the autoscaling session or stands by while another replica holds it
	session *sessionSupervisor

	// Context management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Background task cleanup functions
	cleanupFuncs []func()
}

// NewApplication creates a new Application instance
func NewApplication() *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		ctx:          ctx,
		cancel:       cancel,
		cleanupFuncs: make([]func(), 0),
	}
}

// Initialize initializes all application components
func (app *Application) Initialize() error {
	var err error

	// Initialize components in order
	steps := []struct {
		name string
		fn   func() error
	}{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"MySQL", app.initMySQL},
		{"Redis", app.initRedis},
		{"AWS", app.initAWS},
		{"Auto-scaler", app.initAutoScaler},
		{"Background Tasks", app.initJobs},
		{"Handler Layer", app.initHandlers},
		{"HTTP Server", app.initHTTPServer},
	}

	for _, step := range steps {
		logger.InfoCtx(app.ctx, "Initializing %s...", step.name)
		if err = step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		logger.InfoCtx(app.ctx, "%s initialized successfully", step.name)
	}

	logger.InfoCtx(app.ctx, "Application initialization completed")
	return nil
}

// Start starts all application components
func (app *Application) Start() error {
	logger.InfoCtx(app.ctx, "Starting application components...")

	// 1. Start background tasks
	if app.jobsManager != nil {
		logger.InfoCtx(app.ctx, "Starting background task manager with jobs %v", app.jobsManager.Jobs())
		app.jobsManager.Start()
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.jobsManager.Wait()
		}()
	}

	// 2. Start the autoscaling session
	if app.controller != nil && app.config.AutoScaler.Enabled {
		var shared sharedStatus
		if app.statusRepo != nil {
			shared = app.statusRepo
		}
		app.session = newSessionSupervisor(app.controller, shared,
			app.config.AutoScaler.PollIntervalDuration(), app.config.AutoScaler.MaxDurationDuration())

		held, err := app.session.start(app.ctx)
		if err != nil {
			return fmt.Errorf("failed to start autoscaler: %w", err)
		}
		if held {
			logger.InfoCtx(app.ctx, "Autoscaler session is held by another replica, standing by")
			app.wg.Add(1)
			go func() {
				defer app.wg.Done()
				app.session.run(app.ctx)
			}()
		} else {
			logger.InfoCtx(app.ctx, "Autoscaler session started")
		}
	}

	// 3. Start HTTP server
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		logger.InfoCtx(app.ctx, "HTTP server listening on: %s", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalCtx(app.ctx, "HTTP server error: %v", err)
		}
	}()

	logger.InfoCtx(app.ctx, "All components started successfully")
	return nil
}

// SessionDone is closed when an autoscaling session run by this replica ends.
// It blocks forever while this replica only stands by.
func (app *Application) SessionDone() <-chan struct{} {
	if app.session == nil {
		return nil
	}
	return app.session.Done()
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown(timeout time.Duration) error {
	logger.InfoCtx(app.ctx, "Starting graceful shutdown (timeout: %v)...", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 1. Stop the autoscaling session, releasing the session lock
	if app.controller != nil && app.controller.IsRunning() {
		logger.InfoCtx(app.ctx, "Stopping autoscaler...")
		app.controller.Stop()
		select {
		case <-app.controller.Done():
		case <-shutdownCtx.Done():
			logger.WarnCtx(app.ctx, "Autoscaler did not stop before the shutdown timeout")
		}
	}

	// 2. Cancel all background tasks
	logger.InfoCtx(app.ctx, "Canceling background tasks...")
	app.cancel()
	if app.jobsManager != nil {
		app.jobsManager.Stop()
	}

	// 3. Stop HTTP server (stop accepting new requests)
	logger.InfoCtx(app.ctx, "Shutting down HTTP server...")
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.ErrorCtx(app.ctx, "HTTP server shutdown error: %v", err)
	}

	// 4. Wait for all background tasks to complete
	logger.InfoCtx(app.ctx, "Waiting for background tasks to complete...")
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.InfoCtx(app.ctx, "All background tasks completed")
	case <-shutdownCtx.Done():
		logger.WarnCtx(app.ctx, "Shutdown timeout, some tasks may not have completed")
	}

	// 5. Execute all cleanup functions (in reverse registration order)
	logger.InfoCtx(app.ctx, "Executing cleanup functions...")
	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		app.cleanupFuncs[i]()
	}

	logger.InfoCtx(app.ctx, "Graceful shutdown completed")
	return nil
}

// registerCleanup registers cleanup function
func (app *Application) registerCleanup(cleanup func()) {
	app.cleanupFuncs = append(app.cleanupFuncs, cleanup)
}
