package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"zhicuoti/internal/api"
	"zhicuoti/internal/app/service"
	"zhicuoti/internal/app/worker"
	"zhicuoti/internal/common/security"
	"zhicuoti/internal/domain/repository"
	"zhicuoti/internal/platform/ai"
	"zhicuoti/internal/platform/config"
	"zhicuoti/internal/platform/database"
	"zhicuoti/internal/platform/events"
	"zhicuoti/internal/platform/logger"
	"zhicuoti/internal/platform/ml"
	"zhicuoti/internal/platform/queue"
	"zhicuoti/internal/platform/storage"

	zlog "github.com/rs/zerolog/log"
)

func main() {
	// 1. Configuration and logging
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load configuration")
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Pretty, cfg.Logging.NoColor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database
	if cfg.Database.AutoMigrate {
		migrator, err := database.NewMigrator(cfg.Database.URL())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize migrator")
		}
		if err := migrator.Up(); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
		log.Info().Msg("database migrations applied")
	}

	db, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// 3. Redis, object storage, broker
	rdb, err := queue.Connect(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	store, err := storage.NewMinIOStore(cfg.MinIO, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize object storage")
	}

	publisher, err := events.New(cfg.AMQP, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to message broker")
	}
	defer publisher.Close()

	locker := queue.NewLocker(rdb, cfg.Redis.LockTTL)
	cleanupQueue := queue.NewCleanupQueue(rdb, cfg.Redis.CleanupQueue)

	// 4. External collaborators
	predictors := make(map[string]service.TagPredictor)
	for subject, client := range ml.NewPredictors(cfg.ML) {
		predictors[subject] = client
	}
	chat := ai.New(cfg.OpenAI)

	// 5. Repositories
	userRepo := repository.NewPgUserRepository(db)
	classRepo := repository.NewPgClassRepository(db)
	subjectRepo := repository.NewPgSubjectRepository(db)
	tagRepo := repository.NewPgTagRepository(db)
	ocrRepo := repository.NewPgOCRRepository(db)
	problemRepo := repository.NewPgProblemRepository(db)
	analyticsRepo := repository.NewPgAnalyticsRepository(db)
	tx := database.NewTransactor(db)

	// 6. Services
	tokens := security.NewTokenManager([]byte(cfg.Auth.SecretKey), cfg.Auth.TokenTTL())
	classService := service.NewClassService(classRepo, userRepo, tx, locker, publisher, log)
	subjectService := service.NewSubjectService(subjectRepo, tagRepo, userRepo, log)
	services := api.Services{
		Auth:    service.NewAuthService(userRepo, classRepo, subjectRepo, tokens),
		User:    service.NewUserService(userRepo, subjectRepo),
		Class:   classService,
		Subject: subjectService,
		Tag:     service.NewTagService(tagRepo, problemRepo, ocrRepo),
		Problem: service.NewProblemService(service.ProblemServiceDeps{
			ProblemRepo: problemRepo,
			OCRRepo:     ocrRepo,
			TagRepo:     tagRepo,
			SubjectRepo: subjectRepo,
			Tx:          tx,
			Store:       store,
			OCR:         ml.NewOCRClient(cfg.ML),
			Classifier:  ml.NewClassifierClient(cfg.ML),
			Predictors:  predictors,
			Chat:        chat,
			Cleanup:     cleanupQueue,
			Events:      publisher,
			PerPage:     cfg.App.PerPage,
		}, log),
		Analyze: service.NewAnalyzeService(service.AnalyzeServiceDeps{
			AnalyticsRepo: analyticsRepo,
			ProblemRepo:   problemRepo,
			OCRRepo:       ocrRepo,
			SubjectRepo:   subjectRepo,
			TagRepo:       tagRepo,
			UserRepo:      userRepo,
			ClassRepo:     classRepo,
			Classes:       classService,
			Chat:          chat,
			PerPage:       cfg.App.PerPage,
			Location:      cfg.App.Location(),
		}, log),
	}

	if err := subjectService.EnsureDefaults(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to seed subjects")
	}

	// 7. Storage cleanup worker
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	cleanupWorker := worker.NewCleanupWorker(cleanupQueue, store, locker, cfg.Redis.MaxAttempts, log)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		cleanupWorker.Start(workerCtx)
	}()

	// 8. HTTP server
	router := api.NewRouter(cfg.Server, cfg.CORS, tokens, services, store, log)
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Str("prefix", cfg.Server.APIPrefix).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Str("addr", server.Addr).Msg("could not listen")
		}
	}()

	// 9. Graceful shutdown
	<-ctx.Done()
	log.Info().Msg("shutting down server")
	workerCancel()

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("cleanup worker did not stop in time")
	}
	log.Info().Msg("server and worker stopped gracefully")
}
