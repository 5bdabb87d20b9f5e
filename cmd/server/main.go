// Command server wires the itinerary engine's components together and
// serves its HTTP/SSE transport.
package main

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tripforge/itinerary-engine/internal/changeengine"
	"github.com/tripforge/itinerary-engine/internal/chat"
	"github.com/tripforge/itinerary-engine/internal/config"
	"github.com/tripforge/itinerary-engine/internal/eventbus"
	"github.com/tripforge/itinerary-engine/internal/initsvc"
	"github.com/tripforge/itinerary-engine/internal/llm"
	"github.com/tripforge/itinerary-engine/internal/pipeline"
	"github.com/tripforge/itinerary-engine/internal/registry"
	"github.com/tripforge/itinerary-engine/internal/store"
	"github.com/tripforge/itinerary-engine/internal/telemetry"
	"github.com/tripforge/itinerary-engine/internal/transport"
	"github.com/tripforge/itinerary-engine/internal/workers"
)

//go:embed capabilities.yaml
var capabilitiesManifest []byte

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := telemetry.NewStructuredLogger(cfg.ServiceName, cfg.Development)
	provider, err := telemetry.NewProvider(cfg.ServiceName)
	if err != nil {
		logger.Error("failed to start telemetry provider", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer provider.Shutdown(context.Background())

	docStore, ownerIndex, bus := wireBackingServices(cfg, logger)

	llmClient := wireLLMClient(logger)

	reg := registry.New()
	registerWorkers(reg, llmClient, bus, logger)
	checkCapabilityManifest(reg, logger)

	enricher, _ := reg.WorkerFor(registry.TaskEnrich)
	enrichAdapter, _ := enricher.(changeengine.Enricher)

	engine := changeengine.New(docStore, bus, enrichAdapter, logger, provider, cfg.IdempotencyCacheSize, cfg.IdempotencyCacheTTL)
	orchestrator := pipeline.New(docStore, bus, reg, logger, provider)
	chatOrch := chat.New(docStore, reg, engine, llmClient, bus, logger, cfg.ChatConfidenceThreshold)
	initSvc := initsvc.New(docStore, ownerIndex, logger)

	srv := transport.New(docStore, bus, orchestrator, chatOrch, engine, initSvc, logger)

	addr := os.Getenv("ITIN_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}

	go func() {
		logger.Info("listening", map[string]interface{}{"addr": addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}()

	waitForShutdown(httpServer, bus, logger)
}

func wireBackingServices(cfg *config.Config, logger telemetry.Logger) (store.Store, store.OwnershipIndex, eventbus.Bus) {
	if cfg.RedisAddr == "" {
		mem := store.NewMemoryStore()
		bus := eventbus.NewInProcessBus(
			eventbus.WithQueueDepth(cfg.SubscriberQueueDepth),
			eventbus.WithIdleTTL(cfg.SubscriberIdleTTL),
			eventbus.WithLogger(logger),
		)
		return mem, mem, bus
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	redisStore := store.NewRedisStore(client)
	bus := eventbus.NewRedisBus(client,
		eventbus.WithQueueDepth(cfg.SubscriberQueueDepth),
		eventbus.WithIdleTTL(cfg.SubscriberIdleTTL),
		eventbus.WithLogger(logger),
	)
	return redisStore, redisStore, bus
}

// wireLLMClient builds the provider chain: a real OpenAI-shaped client
// falling back to a noop responder so non-production modes (and tests
// against this binary) never hang on an unset API key.
func wireLLMClient(logger telemetry.Logger) llm.Client {
	var chain []llm.Client
	if os.Getenv("OPENAI_API_KEY") != "" {
		chain = append(chain, llm.NewOpenAIClient("", logger))
	}
	chain = append(chain, &llm.NoopClient{})
	return llm.NewFallbackClient(logger, chain...)
}

func registerWorkers(reg *registry.Registry, client llm.Client, bus eventbus.Bus, logger telemetry.Logger) {
	ws := []registry.Worker{
		workers.NewSkeletonWorker(client, bus, logger, 4),
		workers.NewActivityWorker(client, bus, logger),
		workers.NewMealWorker(client, bus, logger),
		workers.NewTransportWorker(client, bus, logger),
		workers.NewEnrichmentWorker(client, bus, logger),
		workers.NewCostWorker(client, bus, logger),
		workers.NewEditorWorker(client, bus, logger),
		workers.NewExplainerWorker(client, bus, logger),
		workers.NewBookingWorker(client, bus, logger),
	}
	for _, w := range ws {
		if err := reg.Register(w); err != nil {
			logger.Error("failed to register worker", map[string]interface{}{
				"task_type": string(w.Capability().TaskType), "error": err.Error(),
			})
			os.Exit(1)
		}
	}
}

// checkCapabilityManifest cross-checks the boot-time YAML capability
// manifest against the Go literals each worker actually registered,
// logging a warning per mismatch rather than failing startup. The
// manifest documents intent; the compiled-in Capability() stays
// authoritative.
func checkCapabilityManifest(reg *registry.Registry, logger telemetry.Logger) {
	manifest, err := registry.ParseManifest(capabilitiesManifest)
	if err != nil {
		logger.Error("failed to parse capability manifest", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, driftErr := range manifest.Validate(reg) {
		logger.Warn("capability manifest drift", map[string]interface{}{"error": driftErr.Error()})
	}
}

func waitForShutdown(httpServer *http.Server, bus eventbus.Bus, logger telemetry.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	bus.Close()
}
