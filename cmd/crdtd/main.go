package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/cuemby/crdtd/internal/auth"
	"github.com/cuemby/crdtd/internal/blobstore"
	"github.com/cuemby/crdtd/internal/compaction"
	"github.com/cuemby/crdtd/internal/config"
	"github.com/cuemby/crdtd/internal/db"
	"github.com/cuemby/crdtd/internal/httpapi"
	"github.com/cuemby/crdtd/internal/permission"
	"github.com/cuemby/crdtd/internal/registry"
	"github.com/cuemby/crdtd/internal/session"
	"github.com/cuemby/crdtd/internal/store"
	"github.com/cuemby/crdtd/pkg/health"
	"github.com/cuemby/crdtd/pkg/log"
	"github.com/cuemby/crdtd/pkg/metrics"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "crdtd",
	Short:   "crdtd - realtime CRDT document collaboration server",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"crdtd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      logLevel,
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the document collaboration server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := db.Open(ctx, cfg.DBConnString())
	if err != nil {
		metrics.RegisterComponent("db", false, err.Error())
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()
	metrics.RegisterComponent("db", true, "connected")

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	log.Info("schema migrated")

	blobs, err := blobstore.New(blobstore.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		metrics.RegisterComponent("blob", false, err.Error())
		return fmt.Errorf("connect to blob store: %w", err)
	}
	if err := blobs.EnsureBucket(ctx, "crdt-snapshots"); err != nil {
		metrics.RegisterComponent("blob", false, err.Error())
		return fmt.Errorf("ensure snapshot bucket: %w", err)
	}
	if err := blobs.EnsureBucket(ctx, "crdt-attachments"); err != nil {
		metrics.RegisterComponent("blob", false, err.Error())
		return fmt.Errorf("ensure attachment bucket: %w", err)
	}
	metrics.RegisterComponent("blob", true, "connected")

	identityMessage := "local verification (JWT_SECRET set)"
	if cfg.JWTSecret == "" {
		identityMessage = "remote verification against " + cfg.AuthServiceURL
	}
	metrics.RegisterComponent("identity", true, identityMessage)

	// Keep readiness honest after startup: re-probe each dependency on an
	// interval instead of trusting the connection made at boot forever.
	checkers := []health.Checker{
		health.NewPingChecker("db", pool),
		health.NewTCPChecker("blob", cfg.MinioEndpoint),
	}
	if cfg.JWTSecret == "" {
		checkers = append(checkers, health.NewHTTPChecker("identity", cfg.AuthServiceURL+"/api/v1/users/me"))
	}
	monitor := health.NewMonitor(health.DefaultConfig(), metrics.RegisterComponent, checkers...)
	monitor.Start()

	logs := store.NewPGLogStore(pool)
	snapshots := store.NewSnapshotStore(pool, blobs, cfg.SnapshotSizeLimitBytes)
	attachments := store.NewPGAttachmentStore(pool)
	oracle := permission.NewOracle(pool)

	revoked, err := auth.LoadRevocationSet(cfg.RevokedTokensPath)
	if err != nil {
		return fmt.Errorf("load revocation set: %w", err)
	}
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.AuthServiceURL, revoked)

	trigger := make(chan uuid.UUID, 64)
	reg := registry.New(logs, snapshots, cfg.SessionTimeout, cfg.Debounce, cfg.MaxDebounce, cfg.SnapshotThresholdUpdates, trigger)

	worker := compaction.NewWorker(logs, snapshots, cfg.SnapshotThresholdUpdates, cfg.SnapshotWorkerInterval, trigger)
	worker.Start()
	log.Info("compaction worker started")

	if cfg.AllowAllOrigins() {
		log.Warn("ALLOWED_ORIGINS is wildcarded; set an explicit list before serving production traffic")
	}

	sessions := session.NewHandler(verifier, oracle, reg, cfg.AllowedOrigins)
	docsAPI := httpapi.NewDocumentsAPI(verifier, oracle, snapshots, attachments, blobs, reg)
	limiter := httpapi.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	apiSrv := httpapi.NewServer(":"+cfg.Port, httpapi.NewAPIMux(docsAPI, limiter))
	wsSrv := httpapi.NewServer(":"+cfg.HocuspocusPort, httpapi.NewSessionMux(sessions))

	errCh := make(chan error, 2)
	go func() {
		log.Info("REST and control plane listening on :" + cfg.Port)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		log.Info("WebSocket sessions listening on :" + cfg.HocuspocusPort)
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down")
	case err := <-errCh:
		log.Errorf("server error: %v", err)
	}

	// LIFO shutdown: stop accepting new sessions, then drain live sessions
	// with a final store and a close-1001 broadcast, then stop the
	// compaction worker; the DB pool drains last via the deferred
	// pool.Close() above.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := wsSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("websocket listener shutdown failed: %v", err)
	}
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("api listener shutdown failed: %v", err)
	}

	reg.Drain(shutdownCtx)
	sessions.CloseAllSessions(websocket.CloseGoingAway)

	drainDeadline := time.Now().Add(10 * time.Second)
	for sessions.ActiveSessionCount() > 0 && time.Now().Before(drainDeadline) {
		time.Sleep(50 * time.Millisecond)
	}

	worker.Stop()
	monitor.Stop()
	limiter.Stop()

	log.Info("shutdown complete")
	return nil
}
