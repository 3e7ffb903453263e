package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dental-scheduling-assistant/internal/api/router"
	"github.com/wolfman30/dental-scheduling-assistant/internal/assistant"
	"github.com/wolfman30/dental-scheduling-assistant/internal/booking"
	"github.com/wolfman30/dental-scheduling-assistant/internal/bookings"
	"github.com/wolfman30/dental-scheduling-assistant/internal/callstate"
	appconfig "github.com/wolfman30/dental-scheduling-assistant/internal/config"
	"github.com/wolfman30/dental-scheduling-assistant/internal/http/handlers"
	"github.com/wolfman30/dental-scheduling-assistant/internal/llm"
	"github.com/wolfman30/dental-scheduling-assistant/internal/matcher"
	"github.com/wolfman30/dental-scheduling-assistant/internal/nexhealth"
	"github.com/wolfman30/dental-scheduling-assistant/internal/notify"
	"github.com/wolfman30/dental-scheduling-assistant/internal/observability/metrics"
	"github.com/wolfman30/dental-scheduling-assistant/internal/patients"
	"github.com/wolfman30/dental-scheduling-assistant/internal/practice"
	"github.com/wolfman30/dental-scheduling-assistant/internal/slots"
	"github.com/wolfman30/dental-scheduling-assistant/internal/toollog"
	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

// API is the assembled webhook service.
type API struct {
	Handler      http.Handler
	Orchestrator *assistant.Orchestrator
	Directory    practice.Directory

	closers []func()
}

// Close releases the connections opened by BuildAPI.
func (a *API) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Options overrides dependencies that BuildAPI would otherwise open itself.
type Options struct {
	// Registry receives the service metrics. Nil uses the default registry.
	Registry *prometheus.Registry
	// Redis replaces the client built from REDIS_ADDR.
	Redis *redis.Client
	// LLM replaces the client chosen from LLM_PROVIDER.
	LLM llm.Client
	// HTTPClient is used for NexHealth requests.
	HTTPClient *http.Client
}

type builder struct {
	cfg    *appconfig.Config
	logger *logging.Logger
	opts   Options

	awsCfg    *aws.Config
	pool      *pgxpool.Pool
	sqlDB     *sql.DB
	redis     *redis.Client
	metrics   *metrics.AssistantMetrics
	directory practice.Directory
}

func (b *builder) aws(ctx context.Context) (aws.Config, error) {
	if b.awsCfg != nil {
		return *b.awsCfg, nil
	}
	cfg, err := LoadAWSConfig(ctx, b.cfg)
	if err != nil {
		return aws.Config{}, err
	}
	b.awsCfg = &cfg
	return cfg, nil
}

// BuildAPI wires the scheduling assistant behind the HTTP router.
func BuildAPI(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, opts Options) (*API, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	b := &builder{cfg: cfg, logger: logger, opts: opts}
	api := &API{}
	fail := func(err error) (*API, error) {
		api.Close()
		return nil, err
	}

	var registerer prometheus.Registerer
	metricsHandler := promhttp.Handler()
	if opts.Registry != nil {
		registerer = opts.Registry
		metricsHandler = promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})
	}
	b.metrics = metrics.NewAssistantMetrics(registerer)

	pool, sqlDB, err := BuildPostgres(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	if pool != nil {
		b.pool, b.sqlDB = pool, sqlDB
		api.closers = append(api.closers, func() { _ = sqlDB.Close(); pool.Close() })
	}

	b.redis = opts.Redis
	if b.redis == nil {
		b.redis = BuildRedisClient(ctx, cfg, logger, true)
		if b.redis != nil {
			client := b.redis
			api.closers = append(api.closers, func() { _ = client.Close() })
		}
	}

	if b.directory, err = b.buildDirectory(); err != nil {
		return fail(err)
	}
	api.Directory = b.directory

	nex, err := nexhealth.New(nexhealth.Config{
		BaseURL:    cfg.NexHealthBaseURL,
		APIKey:     cfg.NexHealthAPIKey,
		Timeout:    cfg.NexHealthTimeout,
		HTTPClient: opts.HTTPClient,
		Observer:   b.metrics,
		Logger:     logger,
	})
	if err != nil {
		return fail(fmt.Errorf("bootstrap: nexhealth client: %w", err))
	}

	llmClient := opts.LLM
	if llmClient == nil {
		if llmClient, err = b.buildLLM(ctx); err != nil {
			return fail(err)
		}
	}

	committer, err := b.buildCommitter(ctx, nex)
	if err != nil {
		return fail(err)
	}

	store, err := b.buildStateStore(ctx)
	if err != nil {
		return fail(err)
	}
	persister := callstate.NewPersister(store, logger).OnConflict(b.metrics.ObserveStateConflict)

	deps := assistant.Deps{
		Persister:   persister,
		Slots:       slots.NewEngine(nex, b.directory, logger),
		SlotMatcher: matcher.NewSlotMatcher(llmClient, "", logger),
		TypeMatcher: matcher.NewAppointmentTypeMatcher(llmClient, "", logger),
		Patients:    patients.NewResolver(nex, b.directory, logger),
		Committer:   committer,
		Metrics:     b.metrics,
		Logger:      logger,
	}
	var executions handlers.ExecutionLister
	if b.sqlDB != nil {
		toolLog := toollog.New(b.sqlDB)
		deps.Executions = toolLog
		executions = toolLog
	}
	if b.redis != nil {
		deps.Replay = assistant.NewReplayCache(b.redis, cfg.CallStateTTL)
	}
	api.Orchestrator = assistant.New(deps)

	api.Handler = router.New(&router.Config{
		Logger: logger,
		Health: handlers.NewHealthHandler(b.healthChecks()),
		ToolWebhook: handlers.NewToolWebhookHandler(handlers.ToolWebhookHandlerConfig{
			Runner:            api.Orchestrator,
			Practices:         b.directory,
			DefaultPracticeID: cfg.DefaultPracticeID,
			Metrics:           b.metrics,
			Logger:            logger,
		}),
		AdminCalls:       handlers.NewAdminCallsHandler(api.Orchestrator, executions, logger),
		MetricsHandler:   metricsHandler,
		WebhookSecret:    cfg.VapiWebhookSecret,
		AdminAuthSecret:  cfg.AdminJWTSecret,
		WebhookRateLimit: cfg.WebhookRateLimit,
		WebhookRateBurst: cfg.WebhookRateBurst,
	})

	logger.Info("scheduling assistant ready",
		"state_store", storeName(store),
		"postgres", b.pool != nil,
		"redis", b.redis != nil,
		"llm", llmClient != nil,
	)
	return api, nil
}

// buildDirectory prefers the practice config file, then Postgres. Redis fronts
// either source.
func (b *builder) buildDirectory() (practice.Directory, error) {
	var dir practice.Directory
	switch {
	case strings.TrimSpace(b.cfg.PracticeConfigFile) != "":
		static, err := practice.LoadStaticDirectory(b.cfg.PracticeConfigFile)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load practice config: %w", err)
		}
		dir = static
	case b.pool != nil:
		dir = practice.NewRepository(b.pool)
	default:
		return nil, fmt.Errorf("bootstrap: PRACTICE_CONFIG_FILE or DATABASE_URL is required")
	}
	if b.redis != nil {
		dir = practice.NewCachedDirectory(dir, b.redis, 0, b.logger)
	}
	return dir, nil
}

// buildLLM returns nil when no provider is configured; the matchers then rely
// on their deterministic rules alone.
func (b *builder) buildLLM(ctx context.Context) (llm.Client, error) {
	var bedrock, gemini llm.Client
	if strings.TrimSpace(b.cfg.BedrockModelID) != "" {
		awsCfg, err := b.aws(ctx)
		if err != nil {
			return nil, err
		}
		bedrock = llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), b.cfg.BedrockModelID)
	}
	if strings.TrimSpace(b.cfg.GeminiAPIKey) != "" {
		client, err := llm.NewGeminiClient(ctx, b.cfg.GeminiAPIKey, b.cfg.GeminiModelID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		gemini = client
	}

	primary, secondary := bedrock, gemini
	switch b.cfg.LLMProvider {
	case "gemini":
		primary, secondary = gemini, bedrock
	case "none", "off":
		return nil, nil
	}
	switch {
	case primary != nil && secondary != nil:
		return llm.NewFallbackClient(primary, secondary, b.logger), nil
	case primary != nil:
		return primary, nil
	case secondary != nil:
		b.logger.Warn("configured llm provider unavailable, using fallback", "provider", b.cfg.LLMProvider)
		return secondary, nil
	default:
		b.logger.Warn("no llm provider configured; matching uses rules only")
		return nil, nil
	}
}

func (b *builder) buildCommitter(ctx context.Context, nex *nexhealth.Client) (*booking.Committer, error) {
	committer := booking.NewCommitter(nex, b.cfg.HoldTTL, b.logger)

	var repo *bookings.Repository
	if b.pool != nil {
		repo = bookings.NewRepository(b.pool)
	}
	var archive *bookings.Archive
	if bucket := strings.TrimSpace(b.cfg.BookingArchiveBucket); bucket != "" {
		awsCfg, err := b.aws(ctx)
		if err != nil {
			return nil, err
		}
		pathStyle := strings.TrimSpace(b.cfg.AWSEndpointOverride) != ""
		archive = bookings.NewArchive(s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = pathStyle
		}), bucket)
	}
	if repo != nil || archive != nil {
		committer = committer.WithRecordLog(bookings.NewLog(repo, archive, b.logger))
	}

	if queueURL := strings.TrimSpace(b.cfg.NotificationQueueURL); queueURL != "" {
		awsCfg, err := b.aws(ctx)
		if err != nil {
			return nil, err
		}
		committer = committer.WithNotifier(notify.NewPublisher(notify.NewSQSQueue(sqs.NewFromConfig(awsCfg), queueURL), b.logger))
	} else {
		b.logger.Warn("NOTIFICATION_QUEUE_URL not set; booking confirmations are not sent")
	}
	return committer, nil
}

func (b *builder) buildStateStore(ctx context.Context) (callstate.Store, error) {
	switch b.cfg.StateStore {
	case "redis":
		if b.redis == nil {
			return nil, fmt.Errorf("bootstrap: STATE_STORE=redis but redis is unavailable")
		}
		return callstate.NewRedisStore(b.redis, b.cfg.CallStateTTL), nil
	case "postgres":
		if b.pool == nil {
			return nil, fmt.Errorf("bootstrap: STATE_STORE=postgres requires DATABASE_URL")
		}
		return callstate.NewPostgresStore(b.pool), nil
	case "dynamodb":
		awsCfg, err := b.aws(ctx)
		if err != nil {
			return nil, err
		}
		return callstate.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), b.cfg.CallStateTable, b.cfg.CallStateTTL, b.logger), nil
	case "memory", "":
		if !b.cfg.IsDevelopment() {
			b.logger.Warn("using in-memory call state outside development; state is lost on restart")
		}
		return callstate.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown STATE_STORE %q", b.cfg.StateStore)
	}
}

func (b *builder) healthChecks() map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{}
	if b.redis != nil {
		client := b.redis
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	if b.pool != nil {
		pool := b.pool
		checks["postgres"] = pool.Ping
	}
	return checks
}

func storeName(store callstate.Store) string {
	switch store.(type) {
	case *callstate.RedisStore:
		return "redis"
	case *callstate.PostgresStore:
		return "postgres"
	case *callstate.DynamoStore:
		return "dynamodb"
	default:
		return "memory"
	}
}
