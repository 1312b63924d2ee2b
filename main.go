package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/browser"

	"authd/auth"
	"authd/web"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUTHD_CONFIG"), "Path to YAML config")
	listenAddr := flag.String("listen", "", "Listen address override")
	openBrowser := flag.Bool("open", false, "Open the status page in a browser")
	flag.Parse()

	cfg, err := auth.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))

	durable, err := auth.NewFileStorage(cfg.Storage.Path)
	if err != nil {
		logger.Error("open state directory", "path", cfg.Storage.Path, "error", err)
		os.Exit(1)
	}
	attempts := auth.NewMemoryStorage()
	store := auth.NewCredentialStore(durable, logger)

	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	provider, err := auth.NewProviderClient(initCtx, cfg.Provider, cfg.RedirectURL(), attempts, logger)
	cancelInit()
	if err != nil {
		logger.Error("init provider client", "error", err)
		os.Exit(1)
	}

	sessions := auth.NewSessionManager(store, provider, logger)

	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 15*time.Second)
	if id := sessions.Restore(restoreCtx); id != nil {
		logger.Info("restored identity", "provider", id.Provider, "email", id.Email)
	}
	cancelRestore()

	handler := web.NewHandler(cfg, sessions, provider, store, attempts, logger)

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("authd listening", "addr", cfg.Server.ListenAddr, "public_url", cfg.Server.PublicURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	if *openBrowser {
		if err := browser.OpenURL(cfg.Server.PublicURL); err != nil {
			logger.Warn("could not open browser", "url", cfg.Server.PublicURL, "error", err)
		}
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
