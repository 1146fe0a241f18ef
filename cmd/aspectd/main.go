// Command aspectd runs the aspect runtime and entity data service as one
// process: the AOP registry available to in-process callers, a shared Redis
// pool backing the entity store's L2 tier and the stream bus, and an HTTP
// surface for health, readiness, and Prometheus scraping.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/legacy-lands/aspectrt/aop"
	"github.com/legacy-lands/aspectrt/aop/pointcut"
	"github.com/legacy-lands/aspectrt/entity"
	"github.com/legacy-lands/aspectrt/infrastructure/config"
	"github.com/legacy-lands/aspectrt/infrastructure/database"
	"github.com/legacy-lands/aspectrt/infrastructure/dynamicconfig"
	rterrors "github.com/legacy-lands/aspectrt/infrastructure/errors"
	"github.com/legacy-lands/aspectrt/infrastructure/logging"
	"github.com/legacy-lands/aspectrt/infrastructure/metrics"
	"github.com/legacy-lands/aspectrt/infrastructure/middleware"
	"github.com/legacy-lands/aspectrt/infrastructure/staticconfig"
	"github.com/legacy-lands/aspectrt/streambus"
)

const serviceName = "aspectd"

func main() {
	_ = config.LoadDotEnv("")

	logger := logging.NewFromEnv(serviceName)
	ctx := logging.WithService(context.Background(), serviceName)

	dynCfg := staticconfig.FromEnv()
	if overlay := os.Getenv("ASPECTD_CONFIG_OVERLAY"); overlay != "" {
		if err := dynCfg.LoadYAMLOverlay(overlay); err != nil {
			logger.Warn(ctx, "config overlay load failed", map[string]interface{}{"path": overlay, "error": err.Error()})
		}
	}
	dynCfg.Watch("ASPECTD_LOGGING_SAMPLE_RATE", func(value string) {
		logger.Info(ctx, "logging sample rate changed", map[string]interface{}{"value": value})
	})

	var m *metrics.Metrics
	if metrics.Enabled() {
		m = metrics.Init(serviceName)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.GetEnv("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       config.GetEnvInt("REDIS_DB", 0),
	})
	defer redisClient.Close()

	durable := buildDurableStore(logger)

	l1MaxSize := config.GetEnvInt("ENTITY_L1_MAX_SIZE", 10000)
	if v, ok := dynCfg.GetInt("ENTITY_L1_MAX_SIZE"); ok {
		l1MaxSize = v
	}
	l1 := entity.NewL1(l1MaxSize)
	l2 := entity.NewL2(redisClient, serviceName, config.ParseDurationOrDefault(os.Getenv("ENTITY_L2_TTL"), entity.DefaultL2TTL))

	svc, err := entity.NewService(serviceName, l1, l2, durable, entity.ServiceOptions{
		FlushInterval:   config.ParseDurationOrDefault(os.Getenv("ENTITY_FLUSH_INTERVAL"), 30*time.Second),
		ShutdownTimeout: config.ParseDurationOrDefault(os.Getenv("ENTITY_SHUTDOWN_TIMEOUT"), 10*time.Second),
		Logger:          logger,
		Metrics:         m,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to start entity service", err)
	}

	bus := streambus.NewBus(redisClient, serviceName, logger)

	retryCounter := streambus.NewHybridRetryCounter(streambus.NewDistributedRetryCounter(redisClient))
	resilientConsumer := streambus.NewResilientConsumer(bus, retryCounter, streambus.RetryPolicy{
		MaxAttempts:   config.GetEnvInt("STREAM_MAX_ATTEMPTS", 5),
		Delay:         config.ParseDurationOrDefault(os.Getenv("STREAM_RETRY_DELAY"), time.Second),
		TTL:           10 * time.Minute,
		Compensations: []streambus.CompensationPrimitive{streambus.CompensationLogFailure, streambus.CompensationRemoveMessage},
	}, logger)

	registerSyncAccepters(bus, svc, m, resilientConsumer, logger)
	bus.StartPolling(ctx, config.ParseDurationOrDefault(os.Getenv("STREAM_POLL_INTERVAL"), time.Second))

	// The registry is process-wide state: embedding services proxy their own
	// method invocations through aop.NewChain against these registrations.
	_ = buildInterceptorRegistry(logger, m, dynCfg)

	ready := true
	router := buildRouter(logger, m, &ready)

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(config.GetPort(8080)),
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info(ctx, "aspectd listening", map[string]interface{}{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "http server failed", err)
		}
	}()

	gs := middleware.NewGracefulShutdown(server, config.ParseDurationOrDefault(os.Getenv("SHUTDOWN_TIMEOUT"), 30*time.Second))
	gs.OnShutdown(func() { ready = false })
	gs.OnShutdown(func() { bus.Stop() })
	gs.OnShutdown(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "entity service shutdown failed", err, nil)
		}
	})
	gs.ListenForSignals()
	gs.Wait()
	logger.Info(ctx, "aspectd stopped", nil)
}

// buildDurableStore wires the durable tier only when a backing store URL is
// configured; entity.Service tolerates a nil durable store by skipping the
// third read/write tier entirely.
func buildDurableStore(logger *logging.Logger) *entity.DurableStore {
	url := os.Getenv("DURABLE_STORE_URL")
	if url == "" {
		logger.Warn(context.Background(), "DURABLE_STORE_URL unset, running without a durable tier", nil)
		return nil
	}
	client, err := database.NewClient(database.Config{
		URL:        url,
		ServiceKey: os.Getenv("DURABLE_STORE_SERVICE_KEY"),
		RestPrefix: config.GetEnv("DURABLE_STORE_REST_PREFIX", "/rest/v1"),
	})
	if err != nil {
		logger.Fatal(context.Background(), "failed to build durable store client", err)
	}
	return entity.NewDurableStore(database.NewRepository(client))
}

// registerSyncAccepters wires the built-in cross-instance sync actions
// (section 4.7) to the entity service's reconcile path, wrapped by the
// resilient consumer (C8) so delivery failures retry and compensate instead
// of silently dropping the update.
func registerSyncAccepters(bus *streambus.Bus, svc *entity.Service, m *metrics.Metrics, rc *streambus.ResilientConsumer, logger *logging.Logger) {
	for _, action := range []string{
		streambus.ActionPlayerDataSyncUUID,
		streambus.ActionPlayerDataSyncName,
		streambus.ActionPlayerDataUpdateUUID,
		streambus.ActionPlayerDataUpdateName,
		streambus.ActionEntityDataUpdate,
	} {
		handle := rc.Wrap(action, reconcileHandler(bus, svc, m, action, logger))
		bus.RegisterAccepter(streambus.Accepter{ActionName: action, RecordLimit: true, Handle: handle})
	}
}

// reconcileHandler decodes a sync message's payload and applies it through
// entity.Service.ReconcileUpdate, republishing the locally-merged state when
// the sender turns out to be behind.
func reconcileHandler(bus *streambus.Bus, svc *entity.Service, m *metrics.Metrics, action string, logger *logging.Logger) func(ctx context.Context, msg streambus.Message) error {
	return func(ctx context.Context, msg streambus.Message) error {
		if m != nil {
			m.RecordStreamMessage(serviceName, serviceName, action, "received")
		}

		var payload entity.SyncPayload
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			return rterrors.InvalidArgument("payload", "malformed sync payload: "+err.Error())
		}

		needsRepublish, applied := svc.ReconcileUpdate(payload.UUID, payload.Version, payload.Attributes, payload.Relationships, payload.LastModifiedTime)
		if !applied || !needsRepublish {
			return nil
		}

		current, err := svc.GetEntity(ctx, payload.UUID)
		if err != nil || current == nil {
			return err
		}
		out, err := json.Marshal(entity.SyncPayload{
			UUID: current.UUID, Type: current.Type, Version: current.Version,
			Attributes: current.Attributes, Relationships: current.Relationships, LastModifiedTime: current.LastModifiedTime,
		})
		if err != nil {
			return err
		}
		if err := bus.Publish(ctx, action, string(out), 10*time.Minute); err != nil {
			logger.Warn(ctx, "resync publish failed", map[string]interface{}{"uuid": payload.UUID, "error": err.Error()})
		}
		return nil
	}
}

// buildInterceptorRegistry wires the aspect runtime's process-wide
// interceptor set against the root scope, applying logging to every proxied
// method. The sample rate is read once from dynCfg here, at startup; later
// changes to ASPECTD_LOGGING_SAMPLE_RATE are not applied to the interceptor.
func buildInterceptorRegistry(logger *logging.Logger, m *metrics.Metrics, dynCfg dynamicconfig.Service) *aop.Registry {
	scope := aop.NewRootScope()
	registry := aop.NewRegistry(scope)

	rate := 0.1
	if v, ok := dynCfg.GetInt("ASPECTD_LOGGING_SAMPLE_RATE"); ok {
		rate = float64(v) / 100
	}

	matchAll, _ := pointcut.Compile("within(*)")
	loggingInterceptor := aop.NewLoggingInterceptor("logging", 0, matchAll, aop.LoggingOptions{
		Service: serviceName,
		Rate:    rate,
	}, logger, m)

	if err := registry.RegisterGlobal(loggingInterceptor); err != nil {
		logger.Error(context.Background(), "failed to register logging interceptor", err, nil)
	}
	return registry
}

func buildRouter(logger *logging.Logger, m *metrics.Metrics, ready *bool) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.NewRecoveryMiddleware(logger).Handler)

	if m != nil {
		router.Use(middleware.MetricsMiddleware(serviceName, m))
		router.Handle("/metrics", promhttp.Handler())
	}

	health := middleware.NewHealthChecker(serviceName)
	router.HandleFunc("/healthz", health.Handler())
	router.HandleFunc("/livez", middleware.LivenessHandler())
	router.HandleFunc("/readyz", middleware.ReadinessHandler(ready))
	return router
}
