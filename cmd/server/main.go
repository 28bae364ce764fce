package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"recruitment-sync-service/internal/api"
	"recruitment-sync-service/internal/applicants"
	"recruitment-sync-service/internal/cache"
	"recruitment-sync-service/internal/config"
	"recruitment-sync-service/internal/database"
	"recruitment-sync-service/internal/logger"
	"recruitment-sync-service/internal/mail"
	"recruitment-sync-service/internal/sheets"
	"recruitment-sync-service/internal/store"
	"recruitment-sync-service/internal/sync"
)

// primary is the user and application store.
type primary interface {
	store.UserRepository
	store.ApplicationRepository
}

// watchable is implemented by stores that can stream their changes.
type watchable interface {
	WatchChanges(ctx context.Context) (*mongo.ChangeStream, error)
}

func main() {
	// Load Config
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format, logger.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting recruitment sync service")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.ConnectTimeout+5*time.Second)
	defer cancel()

	// Init Stores
	records, stateStore, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		logger.Log.Fatal("Failed to init stores", zap.Error(err))
	}
	defer closeStores()

	// Init Sheets
	// The token source keeps this context for its lifetime.
	backend, err := openSheets(context.Background(), cfg.Sheets)
	if err != nil {
		logger.Log.Fatal("Failed to init sheets backend", zap.Error(err))
	}
	sheetClient := sheets.NewClient(backend, sheets.Options{
		BatchSize:      cfg.Sheets.BatchSize,
		BatchDelay:     cfg.Sheets.BatchDelay,
		MaxAttempts:    cfg.Sheets.MaxAttempts,
		InitialBackoff: cfg.Sheets.InitialBackoff,
	})

	// Init Mailer
	var sender mail.Sender = mail.LogSender{}
	if cfg.Mail.Host != "" {
		sender = mail.NewSMTPSender(cfg.Mail)
	} else {
		logger.Log.Warn("SMTP not configured, mails will only be logged")
	}
	mailer, err := mail.NewMailer(cfg.Mail, sender)
	if err != nil {
		logger.Log.Fatal("Failed to init mailer", zap.Error(err))
	}

	svc := applicants.NewService(records, records, sheetClient, mailer, cfg.Sheets.FinalSheet)
	defer svc.Wait()

	// Init Cache
	layer := cache.NewLayer(nil)
	if cfg.Redis.Addr != "" {
		rdb := database.NewRedis(cfg.Redis)
		defer rdb.Close()
		if !rdb.Healthy(ctx) {
			logger.Log.Warn("Redis unreachable, serving from store until it recovers", zap.String("addr", cfg.Redis.Addr))
		}
		layer = cache.NewLayer(rdb.Client)
	}
	layer.Register(api.ResourceUsers, cfg.Cache.UsersTTL, svc.ExportUsers)
	layer.Register(api.ResourceApplications, cfg.Cache.ApplicationsTTL, svc.ExportApplications)

	// Init Sync Manager
	engine := sync.NewEngine(records, records, stateStore, sheetClient, sync.OptionsFromConfig(cfg))
	syncManager := sync.NewManager(engine, stateStore)
	defer syncManager.Close()

	scheduler := sync.NewScheduler(cfg.Scheduler, syncManager)
	if err := scheduler.Start(); err != nil {
		logger.Log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	if w, ok := records.(watchable); ok && cfg.Sync.WatchChanges {
		watcher := sync.NewChangeWatcher(func(ctx context.Context) (sync.ChangeStream, error) {
			cs, err := w.WatchChanges(ctx)
			if err != nil {
				return nil, err
			}
			return cs, nil
		}, syncManager, cfg.Sync.WatchDebounce)
		watcher.Start()
		defer watcher.Stop()
	}

	// Init API
	handler := api.NewHandler(syncManager, svc, layer, cfg.Server.CorsOrigins)
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
}

// openStores connects the primary store and the sync state store. An empty
// Mongo URI selects in-memory stores.
func openStores(ctx context.Context, cfg *config.Config) (primary, store.StateStore, func(), error) {
	var (
		records primary
		mongoDB *store.MongoStore
		closers []func() error
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Log.Warn("Failed to close store", zap.Error(err))
			}
		}
	}

	memory := store.NewMemoryStore()
	if cfg.Mongo.URI == "" {
		logger.Log.Warn("mongo.uri is empty, using in-memory store")
		records = memory
	} else {
		client, err := database.NewMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, func() {}, err
		}
		mongoDB = store.NewMongoStore(client, cfg.Mongo.Database)
		closers = append(closers, mongoDB.Close)
		if err := mongoDB.EnsureIndexes(ctx); err != nil {
			closeAll()
			return nil, nil, func() {}, fmt.Errorf("failed to ensure indexes: %w", err)
		}
		records = mongoDB
	}

	var state store.StateStore
	switch cfg.StateStorage.Type {
	case "mysql":
		db, err := database.NewDatabase(ctx, cfg.StateStorage)
		if err != nil {
			closeAll()
			return nil, nil, func() {}, err
		}
		mysqlStore := store.NewMySQLStore(db.DB)
		closers = append(closers, mysqlStore.Close)
		if err := mysqlStore.Migrate(ctx); err != nil {
			closeAll()
			return nil, nil, func() {}, fmt.Errorf("failed to migrate state store: %w", err)
		}
		state = mysqlStore
	case "mongo":
		if mongoDB == nil {
			logger.Log.Warn("state_storage.type is mongo but no mongo is configured, using in-memory state")
			state = memory
			break
		}
		state = mongoDB
	default:
		state = memory
	}

	return records, state, closeAll, nil
}

func openSheets(ctx context.Context, cfg config.SheetsConfig) (sheets.Backend, error) {
	if cfg.Backend == "memory" {
		logger.Log.Warn("Using in-memory sheets backend")
		return sheets.NewMemoryBackend(), nil
	}
	return sheets.NewGoogleBackend(ctx, cfg.SpreadsheetID, cfg.CredentialsFile)
}
