package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"vm-request-platform/api/internal/projections"
	"vm-request-platform/api/internal/vmrequest"
	"vm-request-platform/shared/config"
	"vm-request-platform/shared/dbx"
	"vm-request-platform/shared/events"
	"vm-request-platform/shared/influxx"
	"vm-request-platform/shared/logx"
	"vm-request-platform/shared/metricsx"
	"vm-request-platform/shared/mqx"
	"vm-request-platform/shared/observability"
)

const taskVMProvision = "vm.provision"

type provisionPayload struct {
	TenantID      string `json:"tenant_id"`
	RequestID     string `json:"request_id"`
	CorrelationID string `json:"correlation_id"`
}

func main() {
	cfg, problems := config.Load("consumer", 8082)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.KafkaGroupID == "" {
		problems = append(problems, config.Problem{Field: "KAFKA_CONSUMER_GROUP", Message: "KAFKA_CONSUMER_GROUP is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}
	metricsx.Register()

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	var influx *influxx.Client
	if cfg.InfluxURL != "" {
		influx, err = influxx.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "influx_init_failed", "projection lag export disabled",
				slog.String("error", err.Error()),
			)
			influx = nil
		} else {
			defer influx.Close()
		}
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	})
	defer asynqClient.Close()

	vmsRepo := projections.NewVMsRepo(dbPool)
	vmRequestsRepo := projections.NewVMRequestsRepo(dbPool)

	requestReader, err := mqx.NewConsumer(cfg, events.TopicVMRequestEvents, cfg.KafkaGroupID)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "request events reader init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer requestReader.Close()

	vmReader, err := mqx.NewConsumer(cfg, events.TopicVMEvents, cfg.KafkaGroupID)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "vm events reader init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer vmReader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	logger.Info(ctx, "consumer_start", "event consumers started",
		slog.String("group", cfg.KafkaGroupID),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		consume(ctx, cfg, logger, requestReader, events.TopicVMRequestEvents, func(ctx context.Context, env events.Envelope) error {
			return handleRequestEvent(ctx, vmRequestsRepo, asynqClient, cfg.AsynqQueue, env)
		}, influx, "vm_requests")
	}()
	go func() {
		defer wg.Done()
		consume(ctx, cfg, logger, vmReader, events.TopicVMEvents, vmsRepo.Apply, influx, "vms")
	}()
	wg.Wait()

	logger.Info(context.Background(), "consumer_stop", "event consumers stopped")
}

func consume(ctx context.Context, cfg config.Config, logger logx.Logger, reader *kafka.Reader, topic string, handle func(context.Context, events.Envelope) error, influx *influxx.Client, projection string) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error(ctx, "kafka_fetch_failed", "failed to fetch message",
				slog.String("topic", topic),
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		spanCtx, span := otel.Tracer("mqx").Start(ctx, "kafka.consume")
		span.SetAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", topic),
		)

		var env events.Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			span.End()
			logger.Error(ctx, "envelope_decode_failed", "dropping undecodable message",
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			_ = reader.CommitMessages(ctx, msg)
			continue
		}
		if env.EventID == uuid.Nil || env.TenantID == uuid.Nil || env.AggregateID == uuid.Nil {
			span.End()
			logger.Error(ctx, "envelope_invalid", "dropping envelope without ids",
				slog.String("topic", topic),
			)
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		if err := handle(spanCtx, env); err != nil {
			span.End()
			logger.Error(ctx, "event_handle_failed", "failed to handle event",
				slog.String("topic", topic),
				slog.String("event_type", env.EventType),
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			continue
		}
		span.End()

		lag := time.Since(env.OccurredAt)
		metricsx.ObserveProjectionLag(projection, lag)
		if influx != nil {
			_ = influx.WriteProjectionLag(ctx, projection, env.TenantID.String(), lag, time.Now().UTC())
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Error(ctx, "kafka_commit_failed", "failed to commit message",
				slog.String("topic", topic),
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
		}
		stats := reader.Stats()
		metricsx.SetKafkaLag(stats.Topic, cfg.KafkaGroupID, stats.Lag)
	}
}

// handleRequestEvent replays the envelope into the vm_requests read model
// (the inline command-side upsert is best effort, this path converges it),
// then reacts to approvals by scheduling provisioning.
func handleRequestEvent(ctx context.Context, views *projections.VMRequestsRepo, client *asynq.Client, queue string, env events.Envelope) error {
	if err := views.Apply(ctx, env); err != nil {
		return err
	}
	if env.EventType != vmrequest.TypeApproved {
		return nil
	}
	payload, err := json.Marshal(provisionPayload{
		TenantID:      env.TenantID.String(),
		RequestID:     env.AggregateID.String(),
		CorrelationID: env.CorrelationID,
	})
	if err != nil {
		return err
	}
	task := asynq.NewTask(taskVMProvision, payload, asynq.Queue(queue))
	_, err = client.EnqueueContext(ctx, task)
	return err
}
