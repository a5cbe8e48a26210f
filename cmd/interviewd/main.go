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

	"github.com/avirahq/interviewd/internal/dotenv"
	"github.com/avirahq/interviewd/pkg/core/engine"
	"github.com/avirahq/interviewd/pkg/gateway/advance"
	"github.com/avirahq/interviewd/pkg/gateway/config"
	"github.com/avirahq/interviewd/pkg/gateway/inflight"
	gatewayserver "github.com/avirahq/interviewd/pkg/gateway/server"
	"github.com/avirahq/interviewd/pkg/gateway/store"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(cfg config.Config, logger *slog.Logger) (store.Store, error)
	newLLM       func(ctx context.Context, cfg config.Config) (engine.LLM, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig: config.LoadFromEnv,
		openStore: func(cfg config.Config, logger *slog.Logger) (store.Store, error) {
			if cfg.StoreDir == "" {
				logger.Warn("no store dir configured, sessions will not survive restarts")
				return store.NewMemory(), nil
			}
			return store.NewBadger(store.BadgerOptions{Dir: cfg.StoreDir})
		},
		newLLM: func(ctx context.Context, cfg config.Config) (engine.LLM, error) {
			return engine.NewGenAILLM(ctx, cfg.GenAIAPIKey, cfg.GenAIModel)
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil || deps.openStore == nil || deps.newLLM == nil {
		return errors.New("missing gateway dependency")
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
	if cfg.GenAIAPIKey == "" {
		return errors.New("INTERVIEWD_GENAI_API_KEY is required")
	}

	st, err := deps.openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("close store", "error", err)
		}
	}()

	llm, err := deps.newLLM(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init question model: %w", err)
	}

	svc, err := advance.New(advance.Config{
		Store:  st,
		Engine: engine.New(llm, logger),
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("init advancement service: %w", err)
	}

	tracker := inflight.NewTracker()
	gw := gatewayserver.New(cfg, svc, tracker, logger)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway",
		"addr", cfg.Addr,
		"model", cfg.GenAIModel,
		"persistent_store", cfg.StoreDir != "",
	)

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

	tracker.SetDraining()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !tracker.Wait(waitCtx) {
		tracker.CancelAll()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "interviewd: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "interviewd: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
