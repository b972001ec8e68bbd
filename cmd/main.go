package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/muni-town/roomy-bridge/src/config"
	"github.com/muni-town/roomy-bridge/src/httpapi"
	"github.com/muni-town/roomy-bridge/src/logging"
	"github.com/muni-town/roomy-bridge/src/orchestrator"
	"github.com/muni-town/roomy-bridge/src/repo"
	"github.com/muni-town/roomy-bridge/src/roomyapi/devserver"
	"github.com/muni-town/roomy-bridge/src/roomyapi/pds"
)

func main() {
	logging.Configure()

	cfg, err := config.Load()
	if err != nil {
		logging.Log.WithError(err).Fatal("failed to load configuration")
	}

	ctx, cancelLogin := context.WithTimeout(context.Background(), 30*time.Second)
	signer, err := pds.Login(ctx, cfg.LeafURL, cfg.AtprotoBridgeDID, cfg.AtprotoBridgeAppPassword)
	cancelLogin()
	if err != nil {
		logging.Log.WithError(err).Fatal("failed to authenticate bridge identity with PDS")
	}

	store := repo.NewMemoryRepo()
	roomyClient := devserver.New(cfg.LeafURL, signer)
	orch := orchestrator.New(cfg, store, roomyClient)

	if err := orch.Start(); err != nil {
		logging.Log.WithError(err).Fatal("failed to start discord session")
	}

	r := httpapi.NewRouter(orch, cfg.BehindProxy, cfg.RateLimitPerSecond)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logging.Log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Log.WithError(err).Fatal("http server error")
		}
	}()

	waitForShutdown(srv, orch)
}

func waitForShutdown(srv *http.Server, orch *orchestrator.Orchestrator) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logging.Log.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if err := orch.Stop(ctx); err != nil {
		logging.Log.WithError(err).Warn("error during orchestrator shutdown")
	}
}
