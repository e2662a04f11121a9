package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Agent-Zoey/Zoey-sub001/internal/obslog"
	"github.com/Agent-Zoey/Zoey-sub001/kernel"
	"github.com/Agent-Zoey/Zoey-sub001/observability"
	"github.com/Agent-Zoey/Zoey-sub001/pipeline"
	"github.com/Agent-Zoey/Zoey-sub001/planner"
	"github.com/Agent-Zoey/Zoey-sub001/ratelimit"
)

// runServe is agentcored's whole lifecycle: load config, build a kernel and
// its collaborators, run kernel.Init, serve until a signal arrives, then
// run kernel.Teardown. Grounded on the teacher's agentcli server command in
// spirit (build dependencies, run, shut down cleanly) but with no
// subcommand tree, since agentcored is a single daemon.
func runServe(ctx context.Context) error {
	log := obslog.With("agentcored")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("agentcored: build storage: %w", err)
	}

	p, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("agentcored: build provider: %w", err)
	}

	character := kernel.Character{
		Name:          cfg.Agent.Name,
		Persona:       cfg.Agent.Persona,
		ModelProvider: cfg.Agent.ModelProvider,
	}
	k := kernel.New(uuid.New(), character, cfg.Agent.Settings)
	k.SetAdapter(store)
	k.RegisterProvider(p)

	budgetPolicy := ratelimit.PolicyWarn
	switch cfg.Budget.Policy {
	case "block":
		budgetPolicy = ratelimit.PolicyBlock
	case "optimize":
		budgetPolicy = ratelimit.PolicyOptimize
	}
	budget := ratelimit.NewBudgetManager(cfg.Budget.CapUSD, budgetPolicy)

	plannerCfg := planner.DefaultConfig()
	plannerCfg.EnableChainOfThought = cfg.Planner.EnableChainOfThought
	if cfg.Planner.RoutingPreference != "" {
		plannerCfg.RoutingPreference = planner.RoutingPreference(cfg.Planner.RoutingPreference)
	}

	metrics := observability.NewMetrics()
	sink := observability.NewSink(store, nil, metrics)
	obsServer := observability.NewServer(sink, store, metrics)
	go obsServer.StreamHub().Run()

	runner := pipeline.NewRunner(k, pipeline.RunnerConfig{
		PlannerConfig: plannerCfg,
		Budget:        budget,
		Namespace:     k.AgentID(),
		CostSink:      sink,
		WorkerPool:    pipeline.DefaultWorkerPoolConfig(),
		EditInterval:  500 * time.Millisecond,
		Inactivity:    5 * time.Second,
	})

	if err := k.Init(ctx); err != nil {
		return fmt.Errorf("agentcored: kernel init: %w", err)
	}
	log.Info().Str("agent_id", k.AgentID().String()).Msg("kernel initialized")

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/inbound", inboundHandler(runner))
	mux.Handle("/", obsServer.Handler())
	httpServer := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("observability server stopped unexpectedly")
		}
	}()
	log.Info().Str("addr", listenAddr).Msg("observability server listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("observability server shutdown")
	}
	if err := k.Teardown(shutdownCtx); err != nil {
		return fmt.Errorf("agentcored: kernel teardown: %w", err)
	}
	return nil
}
