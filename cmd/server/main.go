package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"gobridgetracker/EVMRPC"
	"gobridgetracker/attestation"
	"gobridgetracker/config"
	"gobridgetracker/limiter"
	"gobridgetracker/logging"
	"gobridgetracker/metrics"
	"gobridgetracker/notify"
	"gobridgetracker/redis"
	"gobridgetracker/tracker"
	"gobridgetracker/workers"
	"gobridgetracker/workers/handlers"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML config file")
	flag.Parse()

	// reading config error is fatal, nothing is logged yet
	if err := config.Init(*configPath); err != nil {
		log.Fatalf("cannot load config: %v", err)
	}
	cfg := config.Config

	logger, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		log.Fatalf("cannot create logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("starting transfer tracker",
		zap.Int("port", cfg.Server.Port),
		zap.String("attestationUrl", cfg.Attestation.BaseURL),
		zap.Int64("viewingChainId", cfg.Tracker.ViewingChainID))

	// connect to Redis, without persistence do not continue
	store := redis.NewStore(redis.NewPool(cfg.Server.RedisHost, cfg.Server.RedisPort), logger.Named("redis"))
	defer store.Close()
	if err := store.Ping(); err != nil {
		logger.Fatal("cannot reach redis", zap.Error(err))
	}

	// one limiter for every outbound call: attestation service and chain RPCs
	lim := limiter.New(cfg.Limiter.MaxConcurrent)
	m := metrics.New(lim)

	attestations := attestation.NewClient(attestation.Config{
		BaseURL:           cfg.Attestation.BaseURL,
		Timeout:           cfg.Attestation.Timeout,
		BreakerFailures:   cfg.Attestation.BreakerFailures,
		RequestsPerSecond: cfg.Attestation.RequestsPerSecond,
	}, lim, logger.Named("attestation"))
	chains := cfg.ChainTable()
	receipts := EVMRPC.NewReceiptLookup(chains, cfg.Tracker.RPCTimeout, lim, logger.Named("rpc"))

	tr := tracker.New(tracker.Config{
		RetryableCreationTimeout: cfg.Tracker.RetryableCreationTimeout,
	}, m.CountAttestations(attestations), receipts, logger.Named("tracker"))

	hub := notify.NewHub(logger.Named("ws"))
	defer hub.Close()
	refresher := workers.NewRefresher(workers.RefresherConfig{
		Interval:    cfg.Tracker.PollInterval,
		Concurrency: cfg.Limiter.MaxConcurrent,
	}, tr, store, notify.Projector{ViewingChainID: cfg.Tracker.ViewingChainID}, hub, m, logger.Named("refresher"))

	api := &handlers.API{
		Refresher:    refresher,
		Store:        store,
		Attestations: m.CountAttestations(attestations),
		Chains:       chains,
		Logger:       logger.Named("api"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// two workers: the refresher loop and the HTTP server (main thread)
	go refresher.Run(ctx)

	router := workers.NewRouter(api, hub.ServeWS, m.Handler())
	if err := workers.ServeHTTP(ctx, workers.ServerConfig{UseSSL: cfg.Server.UseSSL, Port: cfg.Server.Port}, router, logger); err != nil {
		logger.Error("HTTP service failed", zap.Error(err))
	}
}
