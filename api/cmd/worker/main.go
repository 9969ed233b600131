package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"vm-request-platform/api/internal/es"
	"vm-request-platform/api/internal/hypervisor"
	"vm-request-platform/api/internal/projections"
	"vm-request-platform/api/internal/repos"
	"vm-request-platform/api/internal/vm"
	"vm-request-platform/api/internal/vmrequest"
	"vm-request-platform/shared/config"
	"vm-request-platform/shared/dbx"
	"vm-request-platform/shared/events"
	"vm-request-platform/shared/lockx"
	"vm-request-platform/shared/logx"
	"vm-request-platform/shared/metricsx"
	"vm-request-platform/shared/mqx"
	"vm-request-platform/shared/observability"
	"vm-request-platform/shared/tenantx"
)

const (
	taskOutboxScan     = "outbox.scan"
	taskOutboxDispatch = "outbox.dispatch"
	taskVMProvision    = "vm.provision"
)

type dispatchPayload struct {
	EventID string `json:"event_id"`
}

// ProvisionPayload is enqueued by the consumer when a request is approved.
type ProvisionPayload struct {
	TenantID      string `json:"tenant_id"`
	RequestID     string `json:"request_id"`
	CorrelationID string `json:"correlation_id"`
}

func main() {
	cfg, problems := config.Load("worker", 8083)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
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

	outboxRepo := repos.NewOutboxRepo(dbPool)
	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka producer init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer producer.Close()

	store := es.NewPGStore(dbPool, outboxRepo, map[string]string{
		vmrequest.AggregateType: events.TopicVMRequestEvents,
		vm.AggregateType:        events.TopicVMEvents,
	})
	requestService := vmrequest.NewService(store, projections.NewVMRequestsRepo(dbPool), logger)
	vmService := vm.NewService(store, projections.NewVMsRepo(dbPool), logger)

	var provisioner hypervisor.Provisioner = hypervisor.Fake{}
	if cfg.HypervisorEnabled {
		client, err := hypervisor.New(cfg)
		if err != nil {
			logger.Error(context.Background(), "hypervisor_init_failed", "hypervisor client init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		provisioner = client
	}

	// Shared with the scan lock so only one worker replica scans at a time.
	lockClient := redis.NewClient(&redis.Options{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	})
	defer lockClient.Close()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues: map[string]int{
			cfg.AsynqQueue: 1,
		},
	})
	defer server.Shutdown()

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskOutboxScan, func(ctx context.Context, t *asynq.Task) error {
		held, err := lockx.WithLock(ctx, lockClient, "lock:outbox:scan", 30*time.Second, func(ctx context.Context) error {
			return scanOutbox(ctx, cfg, logger, outboxRepo, redisOpt)
		})
		if err != nil {
			return err
		}
		if !held {
			logger.Debug(ctx, "outbox_scan_skipped", "another worker holds the scan lock")
		}
		return nil
	})
	mux.HandleFunc(taskOutboxDispatch, func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("asynq").Start(ctx, "outbox.dispatch")
		span.SetAttributes(attribute.String("queue", cfg.AsynqQueue))
		defer span.End()

		var payload dispatchPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}
		eventID, err := uuid.Parse(strings.TrimSpace(payload.EventID))
		if err != nil {
			return err
		}
		event, err := outboxRepo.GetByID(ctx, eventID)
		if err != nil {
			return err
		}
		if event.Status == repos.OutboxStatusDelivered || event.Status == repos.OutboxStatusDead {
			return nil
		}
		headers := map[string]string{
			"event_id":       event.EventID.String(),
			"tenant_id":      event.TenantID.String(),
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID.String(),
			"published_at":   time.Now().UTC().Format(time.RFC3339Nano),
		}
		if err := producer.Publish(ctx, event.Topic, []byte(event.AggregateID.String()), event.Payload, headers); err != nil {
			attempts := event.Attempts + 1
			nextRetry := time.Now().UTC().Add(retryDelay(attempts))
			dead := attempts >= cfg.OutboxMaxAttempts
			_ = outboxRepo.MarkFailed(ctx, event.EventID, attempts, &nextRetry, err.Error(), dead)
			if dead {
				logger.Warn(ctx, "outbox_dead", "outbox event moved to dead-letter",
					slog.String("event_id", event.EventID.String()),
					slog.Int("attempts", attempts),
				)
				return nil
			}
			return err
		}
		return outboxRepo.MarkDelivered(ctx, event.EventID)
	})
	mux.HandleFunc(taskVMProvision, func(ctx context.Context, t *asynq.Task) error {
		var payload ProvisionPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}
		return provisionRequest(ctx, logger, requestService, vmService, provisioner, payload)
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	defer scheduler.Shutdown()
	if _, err := scheduler.Register("@every "+strconv.Itoa(cfg.OutboxScanSec)+"s", asynq.NewTask(taskOutboxScan, nil, asynq.Queue(cfg.AsynqQueue))); err != nil {
		logger.Error(context.Background(), "scheduler_init_failed", "scheduler init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error(context.Background(), "scheduler_start_failed", "scheduler start failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			depth, err := outboxRepo.CountPending(context.Background())
			if err != nil {
				continue
			}
			metricsx.SetOutboxDepth(depth)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "worker_start", "worker started",
			slog.String("queue", cfg.AsynqQueue),
			slog.Int("concurrency", cfg.AsynqConcurrency),
		)
		errCh <- server.Run(mux)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, asynq.ErrServerClosed) {
			logger.Error(context.Background(), "worker_failed", "worker failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	logger.Info(context.Background(), "worker_stop", "worker stopped")
}

func scanOutbox(ctx context.Context, cfg config.Config, logger logx.Logger, outboxRepo *repos.OutboxRepo, redisOpt asynq.RedisClientOpt) error {
	if _, err := outboxRepo.RequeueStuck(ctx, 5*time.Minute); err != nil {
		logger.Warn(ctx, "outbox_requeue_failed", "failed to requeue stuck events",
			slog.String("error", err.Error()),
		)
	}

	claimed, err := outboxRepo.ClaimPending(ctx, cfg.ServiceName, cfg.OutboxBatchSize)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	client := asynq.NewClient(redisOpt)
	defer client.Close()
	for _, event := range claimed {
		payload, _ := json.Marshal(dispatchPayload{EventID: event.EventID.String()})
		task := asynq.NewTask(taskOutboxDispatch, payload, asynq.Queue(cfg.AsynqQueue))
		if _, err := client.Enqueue(task); err != nil {
			logger.Error(ctx, "enqueue_failed", "failed to enqueue outbox dispatch",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			attempts := event.Attempts + 1
			nextRetry := time.Now().UTC().Add(retryDelay(attempts))
			_ = outboxRepo.MarkFailed(ctx, event.EventID, attempts, &nextRetry, err.Error(), attempts >= cfg.OutboxMaxAttempts)
		}
	}
	return nil
}

// provisionRequest drives one request through PROVISIONING to READY or
// FAILED, registering the machine in the vm family on success. Idempotent
// transitions make redelivered tasks safe.
func provisionRequest(ctx context.Context, logger logx.Logger, requestService *vmrequest.Service, vmService *vm.Service, provisioner hypervisor.Provisioner, payload ProvisionPayload) error {
	tenantID, err := uuid.Parse(strings.TrimSpace(payload.TenantID))
	if err != nil {
		return err
	}
	requestID, err := uuid.Parse(strings.TrimSpace(payload.RequestID))
	if err != nil {
		return err
	}
	ctx = tenantx.WithTenant(ctx, tenantx.Tenant{ID: tenantID})

	if _, err := requestService.StartProvisioning(ctx, vmrequest.StartProvisioningCommand{
		RequestID:     requestID,
		WorkerID:      "worker",
		CorrelationID: payload.CorrelationID,
	}); err != nil {
		var invalid *vmrequest.InvalidStateError
		if errors.As(err, &invalid) {
			// Already past provisioning; a redelivered task has nothing to do.
			logger.Info(ctx, "provision_skipped", "request no longer eligible for provisioning",
				slog.String("request_id", requestID.String()),
				slog.String("current_state", string(invalid.Current)),
			)
			return nil
		}
		return err
	}

	agg, err := requestService.Load(ctx, requestID)
	if err != nil {
		return err
	}

	result, err := provisioner.Provision(ctx, hypervisor.ProvisionRequest{
		RequestID:  requestID.String(),
		TenantID:   tenantID.String(),
		Name:       agg.Spec.Name,
		TemplateID: agg.Spec.TemplateID,
		CPUCores:   agg.Spec.CPUCores,
		MemoryMB:   agg.Spec.MemoryMB,
		DiskGB:     agg.Spec.DiskGB,
	})
	if err != nil {
		logger.Error(ctx, "provision_failed", "hypervisor provisioning failed",
			slog.String("request_id", requestID.String()),
			slog.String("error", err.Error()),
		)
		_, ferr := requestService.FailProvisioning(ctx, vmrequest.FailProvisioningCommand{
			RequestID:     requestID,
			ErrorMessage:  err.Error(),
			CorrelationID: payload.CorrelationID,
		})
		return ferr
	}

	vmID, err := uuid.Parse(result.VMID)
	if err != nil {
		vmID = uuid.New()
	}
	if _, err := requestService.CompleteProvisioning(ctx, vmrequest.CompleteProvisioningCommand{
		RequestID:     requestID,
		VMID:          vmID,
		Hostname:      result.Hostname,
		IPAddress:     result.IPAddress,
		CorrelationID: payload.CorrelationID,
	}); err != nil {
		return err
	}

	_, err = vmService.Register(ctx, vm.RegisterCommand{
		VMID:          vmID,
		RequestID:     requestID,
		Hostname:      result.Hostname,
		IPAddress:     result.IPAddress,
		CorrelationID: payload.CorrelationID,
	})
	return err
}

func retryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 5 * time.Second
	}
	delay := time.Duration(attempt*attempt) * 5 * time.Second
	if delay > 5*time.Minute {
		return 5 * time.Minute
	}
	return delay
}
