package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/avirahq/interviewd/pkg/core/engine"
	"github.com/avirahq/interviewd/pkg/gateway/config"
	"github.com/avirahq/interviewd/pkg/gateway/store"
)

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, gatewayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		openStore: func(config.Config, *slog.Logger) (store.Store, error) {
			t.Fatal("openStore should not be called when config load fails")
			return nil, nil
		},
		newLLM: func(context.Context, config.Config) (engine.LLM, error) {
			t.Fatal("newLLM should not be called when config load fails")
			return nil, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if stderr.String() == "" {
		t.Fatal("expected stderr output for startup error")
	}
}

func TestRunGateway_RequiresAPIKey(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	err := runGateway(context.Background(), logger, gatewayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{Addr: ":0", MaxBodyBytes: 1 << 20}, nil
		},
		openStore: func(config.Config, *slog.Logger) (store.Store, error) {
			t.Fatal("openStore should not be called without an api key")
			return nil, nil
		},
		newLLM: func(context.Context, config.Config) (engine.LLM, error) {
			return nil, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})
	if err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
	if srv.ReadTimeout != cfg.ReadTimeout {
		t.Fatalf("ReadTimeout=%v, want %v", srv.ReadTimeout, cfg.ReadTimeout)
	}
}
