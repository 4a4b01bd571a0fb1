// Command node is the prover node's entry point: it loads the single
// TOML config file, wires every package together in dependency order,
// and runs until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/gagliardetto/solana-go"

	"github.com/bonsol-network/prover-node/pkg/config"
	"github.com/bonsol-network/prover-node/pkg/health"
	"github.com/bonsol-network/prover-node/pkg/image"
	"github.com/bonsol-network/prover-node/pkg/ingest"
	"github.com/bonsol-network/prover-node/pkg/input"
	"github.com/bonsol-network/prover-node/pkg/logging"
	"github.com/bonsol-network/prover-node/pkg/metrics"
	"github.com/bonsol-network/prover-node/pkg/runner"
	solclient "github.com/bonsol-network/prover-node/pkg/solana"
	"github.com/bonsol-network/prover-node/pkg/txsender"
	"github.com/bonsol-network/prover-node/pkg/zkvm"
)

// zkvmSubprocessTimeout bounds the vendored executor, prover, and
// compression binaries. Proving a large session can run for minutes,
// well past the per-HTTP-fetch timeouts the config file exposes.
const zkvmSubprocessTimeout = 10 * time.Minute

func main() {
	configPath := flag.String("f", "", "path to the node's TOML config file")
	logLevel := flag.String("log-level", "", "log level (debug|info|error|none); defaults to info")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: node -f <config.toml>")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	level := *logLevel
	logger, err := logging.New(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}

	reg := metrics.New()
	healthTracker := health.New()

	program, err := solana.PublicKeyFromBase58(cfg.BonsolProgram)
	if err != nil {
		logger.Error("invalid bonsol_program", "err", err)
		os.Exit(1)
	}

	signer, err := solclient.LoadKeypair(cfg.SignerConfig.KeypairPath)
	if err != nil {
		logger.Error("load signer keypair", "err", err)
		os.Exit(1)
	}

	chain := solclient.NewClient(cfg.TransactionSenderConfig.RPCURL)

	cache := image.New(image.Config{
		Dir:             cfg.Risc0ImageFolder,
		MaxEntries:      cfg.Risc0ImageFolderLimit,
		MaxImageSize:    cfg.MaxImageSizeMB * 1024 * 1024,
		InMemoryTTL:     time.Duration(cfg.ImageCompressionTTLHours) * time.Hour,
		DownloadTimeout: time.Duration(cfg.ImageDownloadTimeoutSecs) * time.Second,
	})

	resolver := input.New(chain, signer, cfg.MaxInputSizeMB*1024*1024, time.Duration(cfg.InputDownloadTimeoutSecs)*time.Second)

	tracker := txsender.NewTracker(chain, reg, logger)
	sender := txsender.NewSender(chain, program, signer, tracker)

	compressor := zkvm.NewCompressor(cfg.StarkCompressionToolsPath, zkvmSubprocessTimeout)
	zkvmRunner := zkvm.NewSubprocessRunner(cfg.StarkCompressionToolsPath, zkvmSubprocessTimeout)
	engine := zkvm.NewEngine(zkvmRunner, zkvmRunner, compressor, reg, logger)

	run := runner.New(runner.Deps{
		Config:   cfg,
		Logger:   logger,
		Chain:    chain,
		Cache:    cache,
		Resolver: resolver,
		Sender:   sender,
		Tracker:  tracker,
		Engine:   engine,
		Metrics:  reg,
		Self:     signer.PublicKey(),
	})

	source, err := buildIngester(cfg, logger)
	if err != nil {
		logger.Error("build ingester", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instructions, err := source.Start(ctx, program)
	if err != nil {
		logger.Error("start ingester", "err", err)
		os.Exit(1)
	}
	healthTracker.SetIngest(health.StatusOK)
	healthTracker.SetChain(health.StatusOK)
	healthTracker.SetRunner(health.StatusOK)

	startMetricsServer(cfg, reg, logger)
	startHealthServer(cfg, healthTracker, logger)

	go run.Run(ctx)

	logger.Info("node started", "program", program.String(), "identity", signer.PublicKey().String())

	for {
		select {
		case <-ctx.Done():
			source.Stop()
			logger.Info("shutting down")
			return
		case instr, ok := <-instructions:
			if !ok {
				healthTracker.SetIngest(health.StatusError)
				logger.Error("ingest stream closed")
				return
			}
			go run.Dispatch(ctx, instr)
		}
	}
}

func buildIngester(cfg *config.Config, logger cmtlog.Logger) (ingest.Source, error) {
	switch cfg.IngesterConfig.Kind {
	case config.IngesterRPCBlockSubscription:
		return ingest.NewBlockSubscription(cfg.IngesterConfig.WssRPCURL, logger), nil
	case config.IngesterGrpcSubscription:
		return ingest.NewStreamingSubscription(
			cfg.IngesterConfig.GrpcURL,
			cfg.IngesterConfig.GrpcToken,
			cfg.IngesterConfig.ConnectTimeout,
			cfg.IngesterConfig.RecvTimeout,
			logger,
		), nil
	default:
		return nil, fmt.Errorf("unknown ingester kind %q", cfg.IngesterConfig.Kind)
	}
}

func startMetricsServer(cfg *config.Config, reg *metrics.Registry, logger cmtlog.Logger) {
	if cfg.MetricsConfig.Kind != config.MetricsPrometheus {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	go func() {
		if err := http.ListenAndServe(cfg.MetricsConfig.ListenAddr, mux); err != nil {
			logger.Error("metrics server stopped", "err", err)
		}
	}()
}

func startHealthServer(cfg *config.Config, tracker *health.Tracker, logger cmtlog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/healthz", tracker.Handler())
	go func() {
		if err := http.ListenAndServe(cfg.HealthAddr, mux); err != nil {
			logger.Error("health server stopped", "err", err)
		}
	}()
}
