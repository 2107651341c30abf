package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vatfusion/vatfusion/internal/api"
	"github.com/vatfusion/vatfusion/internal/config"
	"github.com/vatfusion/vatfusion/internal/feed"
	"github.com/vatfusion/vatfusion/internal/fusion"
	"github.com/vatfusion/vatfusion/internal/refdata"
	"github.com/vatfusion/vatfusion/internal/storage/sqlite"
	"github.com/vatfusion/vatfusion/internal/weather"
	"github.com/vatfusion/vatfusion/internal/websocket"
	"github.com/vatfusion/vatfusion/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting vatfusion server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Daily database file
	today := time.Now().Format("2006-01-02")
	dbFilename := fmt.Sprintf("vatfusion-%s.db", today)
	dbPath := filepath.Join(cfg.Storage.SQLiteBasePath, dbFilename)

	if err := os.MkdirAll(cfg.Storage.SQLiteBasePath, 0755); err != nil {
		log.Error("Failed to create database directory", logger.Error(err), logger.String("path", cfg.Storage.SQLiteBasePath))
		os.Exit(1)
	}

	log.Info("Using daily database", logger.String("path", dbPath))

	snapshotStorage, err := sqlite.NewSnapshotStorage(dbPath, log)
	if err != nil {
		log.Error("Failed to create SQLite storage", logger.Error(err))
		os.Exit(1)
	}
	defer snapshotStorage.Close()

	feedClient := feed.NewClient(
		cfg.Feed.URL,
		cfg.Feed.TransceiversURL,
		cfg.Feed.APIToken,
		time.Duration(cfg.Feed.RequestTimeoutSecs)*time.Second,
		log,
	)

	refdataClient, err := refdata.NewClient(
		cfg.RefData.BoundariesURL,
		cfg.RefData.AirportsURL,
		cfg.RefData.FleetURL,
		cfg.RefData.AirportCacheSize,
		time.Duration(cfg.RefData.RequestTimeoutSecs)*time.Second,
		log,
	)
	if err != nil {
		log.Error("Failed to create reference data client", logger.Error(err))
		os.Exit(1)
	}

	wxClient := weather.NewClient(
		cfg.Weather.METARURL,
		cfg.Weather.TAFURL,
		time.Duration(cfg.Weather.RequestTimeoutSeconds)*time.Second,
		log,
	)
	weatherService := weather.NewService(
		wxClient,
		time.Duration(cfg.Weather.RefreshIntervalMinutes)*time.Minute,
		log,
	)

	if err := weatherService.Start(); err != nil {
		log.Error("Failed to start weather service", logger.Error(err))
		os.Exit(1)
	}

	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	phaseEngine := fusion.NewPhaseEngine(
		time.Duration(cfg.Fusion.TaxiTimeMinutes)*time.Minute,
		cfg.Fusion.StopCyclesToOnBlock,
	)
	pilotFusion := fusion.NewPilotFusion(refdataClient, phaseEngine, cfg.Fusion.MergeWorkers, log)
	geoAssigner := fusion.NewGeoAssigner(log)
	sectorMerger := fusion.NewSectorMerger(refdataClient, log)
	airportAgg := fusion.NewAirportAggregator(weatherService, log)

	fusionService := fusion.NewService(
		feedClient,
		pilotFusion,
		geoAssigner,
		sectorMerger,
		airportAgg,
		snapshotStorage,
		wsServer,
		time.Duration(cfg.Feed.FetchIntervalSecs)*time.Second,
		cfg.Feed.WebSocketDeltaUpdates,
		log,
	)

	wsHandler := fusion.NewWebSocketHandler(fusionService, log)
	wsServer.SetMessageHandler(wsHandler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := fusionService.Start(ctx); err != nil {
		log.Error("Failed to start fusion service", logger.Error(err))
		os.Exit(1)
	}

	router := api.NewRouter(fusionService, weatherService, wsServer, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error on startup", logger.String("addr", server.Addr), logger.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	log.Info("Stopping fusion service...")
	fusionService.Stop()
	log.Info("Fusion service stopped.")

	log.Info("Stopping weather service...")
	weatherService.Stop()
	log.Info("Weather service stopped.")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	log.Info("Server fully stopped")
}
