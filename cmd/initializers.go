package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"crawlfleet/app/handler"
	"crawlfleet/app/router"
	"crawlfleet/pkg/autoscaler"
	ec2compute "crawlfleet/pkg/compute/ec2"
	"crawlfleet/pkg/config"
	"crawlfleet/pkg/credential"
	"crawlfleet/pkg/logger"
	"crawlfleet/pkg/notification"
	"crawlfleet/pkg/queue"
	sshremote "crawlfleet/pkg/remote/ssh"
	"crawlfleet/pkg/status"
	mysqlstore "crawlfleet/pkg/store/mysql"
	redisstore "crawlfleet/pkg/store/redis"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/go-redis/redis/v8"

	"github.com/gin-gonic/gin"
)

// sessionLockMargin keeps the session lock alive past the last tick of a full-length session
const sessionLockMargin = 5 * time.Minute

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.InfoCtx(app.ctx, "Logging system has been closed")
		_ = logger.Sync()
	})
	return nil
}

// initMySQL initializes MySQL. Activation history is optional.
func (app *Application) initMySQL() error {
	if !app.config.MySQL.Enabled() {
		logger.InfoCtx(app.ctx, "MySQL not configured, activation history disabled")
		return nil
	}

	repo, err := mysqlstore.NewRepository(mysqlstore.DSN(app.config.MySQL))
	if err != nil {
		return err
	}

	if err := repo.GetDatastore().Migrate(app.ctx); err != nil {
		repo.Close()
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	app.mysqlRepo = repo
	app.registerCleanup(func() {
		repo.Close()
		logger.InfoCtx(app.ctx, "MySQL connection has been closed")
	})

	return nil
}

// initRedis initializes Redis. Without it the session lock runs in single-instance mode.
func (app *Application) initRedis() error {
	if app.config.Redis.Addr == "" {
		logger.InfoCtx(app.ctx, "Redis not configured, running in single-instance mode")
		return nil
	}

	client, err := redisstore.NewRedisClient(app.config.Redis)
	if err != nil {
		return err
	}

	app.redisClient = client
	app.statusRepo = redisstore.NewFleetStatusRepository(client)
	app.registerCleanup(func() {
		client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})

	return nil
}

// initAWS loads the shared AWS configuration used by EC2, SQS and Secrets Manager
func (app *Application) initAWS() error {
	cfg, err := loadAWSConfig(app.ctx, app.config.AWS)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}
	app.awsConfig = &cfg
	return nil
}

func loadAWSConfig(ctx context.Context, awsCfg config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	// If region is configured
	if awsCfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(awsCfg.Region))
	}

	// If AK/SK is configured, otherwise use the default credential chain
	if awsCfg.AccessKeyID != "" && awsCfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(awsCfg.AccessKeyID, awsCfg.SecretAccessKey, ""),
		))
	}

	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

func (app *Application) rawRedisClient() *redis.Client {
	if app.redisClient == nil {
		return nil
	}
	return app.redisClient.GetClient()
}

// initAutoScaler wires the sampler, activator and controller
func (app *Application) initAutoScaler() error {
	asCfg := app.config.AutoScaler

	sampler, err := queue.NewSampler(app.config, queue.Dependencies{
		AWS:   app.awsConfig,
		Redis: app.rawRedisClient(),
	})
	if err != nil {
		return fmt.Errorf("failed to create queue sampler: %w", err)
	}
	app.sampler = sampler
	if closer, ok := sampler.(io.Closer); ok {
		app.registerCleanup(func() {
			closer.Close()
			logger.InfoCtx(app.ctx, "Queue sampler has been closed")
		})
	}

	compute := ec2compute.NewProviderFromConfig(*app.awsConfig, asCfg.RunningTimeoutDuration())

	launcher, err := sshremote.NewLauncher(app.config.Remote, credential.NewResolverFromConfig(*app.awsConfig))
	if err != nil {
		return fmt.Errorf("failed to create remote launcher: %w", err)
	}

	activator := autoscaler.NewNodeActivator(compute, launcher,
		autoscaler.ActivatorConfigFrom(asCfg, app.config.Remote), nil)

	maxHold := asCfg.MaxDurationDuration() + asCfg.PollIntervalDuration() + sessionLockMargin
	app.sessionLock = autoscaler.NewRedisDistributedLock(app.rawRedisClient(), "", maxHold)

	sanitizer := status.NewStatusSanitizer()
	opts := []autoscaler.Option{
		autoscaler.WithLock(app.sessionLock),
		autoscaler.WithErrorRedactor(sanitizer),
	}
	if app.statusRepo != nil {
		opts = append(opts, autoscaler.WithStatusPublisher(app.statusRepo))
	}
	if app.mysqlRepo != nil {
		opts = append(opts, autoscaler.WithObserver(app.mysqlRepo.ActivationEvent))
	}
	if notifier := notification.NewWebhookNotifier(app.config.Notification.WebhookURL); notifier.Enabled() {
		notifier.SetSanitizer(sanitizer)
		opts = append(opts, autoscaler.WithObserver(notifier))
	}

	nodes := autoscaler.NodesFromConfig(asCfg.Nodes)
	if len(nodes) == 0 {
		logger.WarnCtx(app.ctx, "No worker nodes configured, the autoscaler will only sample the queue")
	}

	app.controller = autoscaler.NewController(asCfg, nodes, sampler, activator, opts...)
	logger.InfoCtx(app.ctx, "Autoscaler configured: %d nodes, poll %v, max duration %v, queue provider %s",
		len(nodes), asCfg.PollIntervalDuration(), asCfg.MaxDurationDuration(), app.config.Queue.Provider)
	return nil
}

// initHandlers initializes handler layer
func (app *Application) initHandlers() error {
	var statusSource handler.StatusSource
	if app.statusRepo != nil {
		statusSource = app.statusRepo
	}

	var events handler.EventLister
	if app.mysqlRepo != nil {
		events = app.mysqlRepo.ActivationEvent
	}

	app.autoscalerHandler = handler.NewAutoScalerHandler(app.controller, statusSource, events)
	return nil
}

// initHTTPServer initializes HTTP server
func (app *Application) initHTTPServer() error {
	r := router.NewRouter(app.autoscalerHandler, app.config.Server.APIKey)

	if app.config.Server.Mode != "" {
		gin.SetMode(app.config.Server.Mode)
	}

	app.ginEngine = gin.New()
	r.Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.ginEngine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}
