package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"

	"github.com/sigmoyd/voicegate/pkg/archive"
	"github.com/sigmoyd/voicegate/pkg/core/agent"
	"github.com/sigmoyd/voicegate/pkg/core/call"
	"github.com/sigmoyd/voicegate/pkg/core/convo"
	"github.com/sigmoyd/voicegate/pkg/core/voice/tts"
	"github.com/sigmoyd/voicegate/pkg/gateway/config"
	gatewayserver "github.com/sigmoyd/voicegate/pkg/gateway/server"
	"github.com/sigmoyd/voicegate/pkg/store/postgres"
	"github.com/sigmoyd/voicegate/pkg/telephony"
)

// stack is the wired service: the HTTP surface plus the lifecycle hooks the
// run loop needs for a clean shutdown.
type stack struct {
	handler     http.Handler
	setDraining func(bool)
	waitSyncs   func(context.Context) bool
	close       func()
}

type serviceDeps struct {
	loadConfig   func() (config.Config, error)
	buildStack   func(context.Context, config.Config, *slog.Logger) (*stack, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServiceDeps() serviceDeps {
	return serviceDeps{
		loadConfig: config.LoadFromEnv,
		buildStack: buildStack,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildStack(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stack, error) {
	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	records := postgres.NewCallRecords(pool)
	agentDir := postgres.NewAgentDirectory(pool)
	agents := agent.NewCachedDirectory(agentDir, cfg.AgentCacheTTL)

	var generator convo.Generator
	if cfg.GeminiAPIKey != "" {
		g, err := convo.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		generator = g
	} else {
		logger.Warn("no Gemini API key configured, using fallback responses only")
	}

	var speech tts.Provider
	if cfg.TTSEnabled {
		local, err := tts.NewLocalHTTP(cfg.TTSServerURL, cfg.TTSOutputDir, cfg.TTSCleanupDelay)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("tts provider: %w", err)
		}
		speech = local
	}

	var archiver call.Archiver
	if cfg.S3Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("aws config: %w", err)
		}
		archiver = archive.New(s3.NewFromConfig(awsCfg), archive.Options{
			Bucket:     cfg.S3Bucket,
			Prefix:     cfg.S3Prefix,
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			Logger:     logger,
		})
	}

	var callPlacer *telephony.Client
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		callPlacer, err = telephony.New(telephony.Config{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("telephony client: %w", err)
		}
	} else {
		logger.Warn("no telephony credentials configured, outbound call placement disabled")
	}

	store := call.NewStore(records, agents, archiver, call.StoreOptions{
		SyncThreshold:   cfg.SyncThreshold,
		PastCallLimit:   cfg.PastCallLimit,
		MaxCallDuration: cfg.MaxCallDuration,
		SweepInterval:   cfg.SweepInterval,
		FinalizeTimeout: cfg.FinalizeTimeout,
		SyncTimeout:     cfg.SyncTimeout,
		Detector:        call.NewKeywordDetector(cfg.GoodbyeVocabulary, cfg.NoInputLimit),
		Logger:          logger,
	})

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go store.RunSweeper(sweepCtx)

	deps := gatewayserver.Deps{
		Store:           store,
		Agents:          agents,
		Records:         records,
		AgentWriter:     agentDir,
		InvalidateAgent: agents.Invalidate,
		Generator:       generator,
		Extractor:       call.PatternExtractor{},
		TTS:             speech,
	}
	if callPlacer != nil {
		deps.Placer = callPlacer
		deps.Redirector = callPlacer
	}
	gw := gatewayserver.New(cfg, deps, logger)

	return &stack{
		handler:     gw.Handler(),
		setDraining: gw.SetDraining,
		waitSyncs:   store.Wait,
		close: func() {
			stopSweep()
			pool.Close()
		},
	}, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runService(ctx context.Context, logger *slog.Logger, deps serviceDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.buildStack == nil {
		return errors.New("missing buildStack dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := deps.buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	httpSrv := buildHTTPServer(cfg, st.handler)
	logger.Info("starting service", "addr", cfg.Addr, "public_url", cfg.PublicURL)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	st.setDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !st.waitSyncs(waitCtx) {
		logger.Warn("partial syncs still in flight at shutdown deadline")
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("service stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps serviceDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	// A missing .env is fine; the environment may carry everything.
	_ = godotenv.Load(".env")

	if err := runService(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voicegate: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultServiceDeps()))
}
