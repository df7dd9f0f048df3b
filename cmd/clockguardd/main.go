// Command clockguardd runs the time-tracking agent: it polls the vendor API,
// keeps the local state mirror fresh, drives the countdown and alerts, and
// serves the localhost control API the cg tool talks to.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clockguard/clockguard/internal/alerts"
	"github.com/clockguard/clockguard/internal/config"
	"github.com/clockguard/clockguard/internal/countdown"
	"github.com/clockguard/clockguard/internal/crypto"
	"github.com/clockguard/clockguard/internal/notify"
	"github.com/clockguard/clockguard/internal/poller"
	"github.com/clockguard/clockguard/internal/reconcile"
	"github.com/clockguard/clockguard/internal/server"
	"github.com/clockguard/clockguard/internal/store/sqlite"
	"github.com/clockguard/clockguard/internal/timeclock"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, opens the local store, and runs the poller and
// control API until interrupted.
func main() {
	// Flags
	once := flag.Bool("once", false, "run a single poll cycle and exit")
	devLog := flag.Bool("dev", false, "human-readable log output")
	flag.Parse()

	logger, _ := zap.NewProduction()
	if *devLog {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
	)

	if err := config.EnsureDirectories(); err != nil {
		logger.Fatal("state directory", zap.Error(err))
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		logger.Fatal("client_id and client_secret must be set in config.toml")
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local store
	dbPath, err := config.DatabasePath()
	if err != nil {
		logger.Fatal("database path", zap.Error(err))
	}
	db, err := sqlite.Open(dbPath)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	sealKeyPath, err := config.SealKeyPath()
	if err != nil {
		logger.Fatal("seal key path", zap.Error(err))
	}
	sealKey, err := crypto.LoadOrCreateKey(sealKeyPath)
	if err != nil {
		logger.Fatal("seal key", zap.Error(err))
	}
	sealer, err := crypto.NewSealer(sealKey)
	if err != nil {
		logger.Fatal("sealer", zap.Error(err))
	}
	st := sqlite.New(db, sealer)

	// Vendor client and session manager
	client := timeclock.New(cfg.APIBaseURL, timeclock.Credentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
	}, nil, logger)
	sessions := timeclock.NewSessionManager(st, client, logger)

	// Countdown over the notification surfaces
	statusPath, err := config.StatusFilePath()
	if err != nil {
		logger.Fatal("status file path", zap.Error(err))
	}
	badge := notify.NewStatusFileBadge(statusPath, logger)
	notifier := notify.NewDesktopNotifier(logger)
	player := notify.NewPlayer(st, cfg.PlayerCommand, logger)
	cd := countdown.NewController(badge, notifier, player, logger)

	// Reconciliation and polling
	recon := reconcile.New(st, client, sessions, logger)
	var sched *poller.Scheduler
	if *once {
		sched = poller.NewOnce(st, client, sessions, recon, cd, logger)
	} else {
		sched = poller.New(st, client, sessions, recon, cd, cfg.PollInterval(), logger)
	}
	hub := server.NewHub()
	sched.AddListener(hub)

	// Control API
	pairingPath, err := config.PairingSecretPath()
	if err != nil {
		logger.Fatal("pairing secret path", zap.Error(err))
	}
	pairingSecret, err := server.LoadOrCreatePairingSecret(pairingPath)
	if err != nil {
		logger.Fatal("pairing secret", zap.Error(err))
	}
	alertSvc := alerts.NewService(st, logger)
	api := server.New(st, sessions, alertSvc, recon, cd, hub, pairingSecret, logger)
	httpSrv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     api.Router(),
		ReadTimeout: 10 * time.Second,
	}

	if *once {
		sched.Run(ctx)
		logger.Info("single poll complete")
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- httpSrv.ListenAndServe()
	}()
	go sched.Run(ctx)

	// Wait for stop
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		cd.Clear()
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("control api error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
