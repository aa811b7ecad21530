package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"lecca.io/axelar-watchtower/internal/alerts"
	"lecca.io/axelar-watchtower/internal/ampd"
	"lecca.io/axelar-watchtower/internal/classifier"
	"lecca.io/axelar-watchtower/internal/config"
	"lecca.io/axelar-watchtower/internal/dashboard"
	"lecca.io/axelar-watchtower/internal/evm"
	"lecca.io/axelar-watchtower/internal/heartbeat"
	"lecca.io/axelar-watchtower/internal/logger"
	"lecca.io/axelar-watchtower/internal/lookup"
	"lecca.io/axelar-watchtower/internal/metrics"
	"lecca.io/axelar-watchtower/internal/processor"
	"lecca.io/axelar-watchtower/internal/rpc"
	"lecca.io/axelar-watchtower/internal/signing"
	"lecca.io/axelar-watchtower/internal/state"
	"lecca.io/axelar-watchtower/internal/types"
	"lecca.io/axelar-watchtower/internal/ws"
)

//go:embed config.example.yml
var configExample []byte

const inboxSize = 1000

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger.Error("INIT", "%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	configPath, err := resolveConfigPath(opts.configFile)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	written, err := ensureDefaultConfig(configPath, configExample)
	if err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if written {
		logger.Info("INIT", "Wrote default config to %s", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Advanced.LogLevel = opts.logLevel
	}
	logger.Init(cfg.Advanced.LogLevel, cfg.Advanced.JSONLogs)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	logger.Info("INIT", "Config loaded from %s. Validator: %s", configPath, cfg.Validator.Address)

	adv := cfg.Advanced
	evmMaturity := config.ParseDuration(cfg.Alerts.EVMMaturity)
	ampdMaturity := config.ParseDuration(cfg.Alerts.AMPDMaturity)

	store := state.New(cfg.History.Blocks, cfg.History.Heartbeats)
	trackers := processor.Trackers{
		Signing:   signing.NewTracker(cfg.Validator.Address),
		Heartbeat: heartbeat.NewTracker(cfg.History.HeartbeatPeriod, cfg.History.HeartbeatTryCnt),
	}
	if cfg.EVMEnabled() {
		trackers.EVM = evm.NewTracker(cfg.Chains.EVM, cfg.History.Polls)
		logger.Info("INIT", "EVM vote tracking enabled for %d chains", len(cfg.Chains.EVM))
	}
	if cfg.AMPDEnabled() {
		trackers.AMPD = ampd.NewTracker(cfg.Chains.AmpdChainNames(), cfg.History.Polls)
		logger.Info("INIT", "AMPD tracking enabled for %d chains", len(cfg.Chains.AMPD))
	}

	params := classifier.Params{
		Broadcaster:   cfg.Validator.Broadcaster,
		AmpdAddress:   cfg.Validator.AmpdAddress,
		AmpdPubKey:    cfg.Validator.AmpdPubKey,
		EVMChains:     cfg.Chains.EVM,
		AmpdContracts: ampdContracts(cfg.Chains.AMPD),
		AmpdChains:    cfg.Chains.AmpdChainNames(),
	}

	resolver := lookup.New(cfg.Node.LCD, lookup.Options{
		Timeout:    config.ParseDuration(adv.RPCTimeout),
		Retries:    adv.LookupRetries,
		RetryDelay: config.ParseDuration(adv.LookupRetryDelay),
		RateLimit:  float64(adv.LookupRateLimit),
	})

	inbox := make(chan types.Event, inboxSize)
	client := ws.NewClient(cfg.Node.RPC, inbox, ws.Options{
		RetryInterval: config.ParseDuration(adv.ReconnectInterval),
		MaxAttempts:   adv.ReconnectMaxAttempts,
	})
	supervisor := rpc.NewSupervisor(cfg.Node.RPC, client, store, store, rpc.Options{
		Timeout:        config.ParseDuration(adv.RPCTimeout),
		SyncInterval:   config.ParseDuration(adv.SyncPollInterval),
		Cooldown:       config.ParseDuration(adv.ReconnectCooldown),
		StallInterval:  config.ParseDuration(adv.StallCheckInterval),
		QuickReconnect: config.ParseDuration(adv.QuickReconnectAfter),
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	dash := dashboard.NewServer(store, dashboard.Options{
		Port:         adv.DashboardPort,
		EVMMaturity:  evmMaturity,
		AMPDMaturity: ampdMaturity,
		Gatherer:     registry,
	})

	proc := processor.NewProcessor(params, trackers, resolver, store, inbox, dash, processor.Options{})
	engine := alerts.NewEngine(cfg.Alerts, store, alerts.NewNotifier(cfg.Alerts, dash))
	exporter := metrics.NewExporter(registry, store, engine, metrics.Options{
		Prefix:       adv.MetricsPrefix,
		Validator:    cfg.Validator.Address,
		EVMMaturity:  evmMaturity,
		AMPDMaturity: ampdMaturity,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dash.Start(ctx) })
	g.Go(func() error {
		proc.Start(ctx)
		return nil
	})
	g.Go(func() error {
		engine.Start(ctx)
		return nil
	})
	g.Go(func() error {
		exporter.Start(ctx, 5*time.Second)
		return nil
	})
	g.Go(func() error { return supervisor.Start(ctx) })

	logger.Info("SYS", "Axelar Watchtower started (rpc %s)", cfg.Node.RPC)
	err = g.Wait()
	logger.Info("SYS", "Shutdown complete")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ampdContracts maps contract addresses to their chain. An address shared by several
// chains, such as the global multisig, is left out since it cannot name one chain.
func ampdContracts(chains []config.AmpdChainConfig) map[string]string {
	out := make(map[string]string)
	shared := make(map[string]bool)
	for _, ch := range chains {
		for _, addr := range []string{ch.VotingVerifier, ch.MultisigProver, ch.MultisigContract} {
			if addr == "" || shared[addr] {
				continue
			}
			if prev, ok := out[addr]; ok && prev != ch.Name {
				delete(out, addr)
				shared[addr] = true
				continue
			}
			out[addr] = ch.Name
		}
	}
	return out
}
