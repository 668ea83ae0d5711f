package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/fieldhand/internal/audit"
	"github.com/wolfman30/fieldhand/internal/channels/webchat"
	"github.com/wolfman30/fieldhand/internal/channels/whatsapp"
	appconfig "github.com/wolfman30/fieldhand/internal/config"
	"github.com/wolfman30/fieldhand/internal/dispatch"
	"github.com/wolfman30/fieldhand/internal/erp"
	"github.com/wolfman30/fieldhand/internal/identity"
	"github.com/wolfman30/fieldhand/internal/media"
	"github.com/wolfman30/fieldhand/internal/observability/metrics"
	"github.com/wolfman30/fieldhand/internal/session"
	"github.com/wolfman30/fieldhand/internal/worker"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

// Infra is what a binary opens before building the runtime.
type Infra struct {
	Config  *appconfig.Config
	Logger  *logging.Logger
	Metrics *metrics.PipelineMetrics
	AWS     aws.Config
	Redis   *redis.Client
	Pool    *pgxpool.Pool
	DB      *sql.DB
}

// Runtime is the fully wired intake path shared by the API server and the
// queue worker.
type Runtime struct {
	Pipeline  *dispatch.Pipeline
	Queue     worker.Queue
	Publisher *worker.Publisher
	Purger    *worker.Purger

	WhatsApp *whatsapp.Client
	Webchat  *webchat.Handler

	Sessions  session.Store
	Locker    session.Locker
	Directory identity.Directory
	Failures  *audit.Service

	classifier *Classifier
	config     *appconfig.Config
	logger     *logging.Logger
}

// Build wires every component from config. The console is only built for
// the in-memory queue, where the process that holds the websocket is also
// the one that runs the pipeline.
func Build(ctx context.Context, infra Infra) (*Runtime, error) {
	cfg := infra.Config
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	logger := infra.Logger
	if logger == nil {
		logger = logging.Default()
	}

	queue, err := buildQueue(cfg, infra.AWS)
	if err != nil {
		return nil, err
	}
	publisher := worker.NewPublisher(queue, logger)

	var console *webchat.Handler
	if cfg.WebchatEnabled {
		if !cfg.UseMemoryQueue {
			logger.Warn("webchat console needs USE_MEMORY_QUEUE=true; console disabled")
		} else {
			console = webchat.NewHandler(func(ctx context.Context, msg dispatch.InboundMessage) error {
				_, err := publisher.Enqueue(ctx, msg)
				return err
			}, logger)
		}
	}

	var dynamo *dynamodb.Client
	if cfg.SessionBackend == SessionBackendDynamo || cfg.SessionBackend == "dynamo" {
		dynamo = dynamodb.NewFromConfig(infra.AWS)
	}
	var redisClient redis.Cmdable
	if infra.Redis != nil {
		redisClient = infra.Redis
	}
	store, locker, err := BuildSessionStore(cfg, redisClient, dynamo)
	if err != nil {
		return nil, err
	}
	directory, err := BuildDirectory(cfg, infra.DB, redisClient, logger)
	if err != nil {
		return nil, err
	}
	invites, err := BuildInvites(infra.Pool)
	if err != nil {
		return nil, err
	}
	processed := BuildProcessedEvents(infra.Pool, logger)

	classifier, err := BuildClassifier(ctx, cfg, infra.AWS, infra.Metrics, logger)
	if err != nil {
		return nil, err
	}

	waClient := BuildWhatsAppClient(cfg)
	messenger, err := BuildOutboundMessenger(waClient, console, infra.Metrics, logger)
	if err != nil {
		_ = classifier.Close()
		return nil, err
	}

	if strings.TrimSpace(cfg.ERPBaseURL) == "" {
		_ = classifier.Close()
		return nil, errors.New("bootstrap: ERP_BASE_URL is required")
	}
	backend := erp.NewClient(cfg.ERPBaseURL, cfg.ERPAPIKey, cfg.ERPTimeout, logger)

	failures, failureSvc := BuildFailureRecorder(cfg, infra.DB, BuildEmailSender(cfg, infra.AWS, logger), logger)

	deps := dispatch.Deps{
		Store:      store,
		Locker:     locker,
		Directory:  directory,
		Invites:    invites,
		Classifier: classifier,
		Messenger:  messenger,
		Intents:    backend.IntentHandlers(),
		Buttons:    backend.ButtonHandlers(),
		Resumers:   backend.Resumers(),
		Failures:   failures,
		Deduper:    processed,
		Logger:     logger,
	}
	if infra.Metrics != nil {
		deps.Observer = infra.Metrics
	}

	if waClient != nil {
		var archive *media.Archive
		if bucket := strings.TrimSpace(cfg.MediaBucket); bucket != "" {
			archive = media.NewArchive(s3.NewFromConfig(infra.AWS), bucket, logger)
		}
		deps.Images = media.NewImageForwarder(waClient, archive, backend, logger)
		if classifier.Gemini != nil {
			deps.Transcriber = media.NewGeminiTranscriber(classifier.Gemini, cfg.TranscriptionModel, waClient, messenger, archive, logger)
		} else {
			logger.Warn("GEMINI_API_KEY not set; voice notes will be declined")
		}
	}

	pipeline := dispatch.NewPipeline(deps,
		dispatch.WithTimeout(cfg.PipelineTimeout),
		dispatch.WithLockWait(cfg.LockWait),
	)

	purger := worker.NewPurger(processed, logger).WithRetention(cfg.ProcessedRetention).WithInterval(cfg.PurgeInterval)

	return &Runtime{
		Pipeline:   pipeline,
		Queue:      queue,
		Publisher:  publisher,
		Purger:     purger,
		WhatsApp:   waClient,
		Webchat:    console,
		Sessions:   store,
		Locker:     locker,
		Directory:  directory,
		Failures:   failureSvc,
		classifier: classifier,
		config:     cfg,
		logger:     logger,
	}, nil
}

func buildQueue(cfg *appconfig.Config, awsCfg aws.Config) (worker.Queue, error) {
	if cfg.UseMemoryQueue {
		return worker.NewMemoryQueue(1024), nil
	}
	if strings.TrimSpace(cfg.IntakeQueueURL) == "" {
		return nil, errors.New("bootstrap: INTAKE_QUEUE_URL is required unless USE_MEMORY_QUEUE=true")
	}
	return worker.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.IntakeQueueURL), nil
}

// NewWorker builds a queue consumer for the pipeline using the worker
// settings from config.
func (r *Runtime) NewWorker() *worker.Worker {
	opts := []worker.WorkerOption{
		worker.WithWorkerCount(r.config.WorkerCount),
		worker.WithReceiveWaitSeconds(r.config.ReceiveWaitSeconds),
		worker.WithReceiveBatchSize(r.config.ReceiveBatchSize),
	}
	if r.config.WorkerMaxAge > 0 {
		opts = append(opts, worker.WithMaxAge(r.config.WorkerMaxAge))
	}
	return worker.NewWorker(r.Pipeline, r.Queue, r.logger, opts...)
}

// Close releases clients the runtime opened itself.
func (r *Runtime) Close() error {
	if err := r.classifier.Close(); err != nil {
		return fmt.Errorf("bootstrap: close classifier: %w", err)
	}
	return nil
}
