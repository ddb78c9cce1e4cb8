package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"realtime-call-translator/internal/api"
	"realtime-call-translator/internal/asr"
	"realtime-call-translator/internal/auth"
	"realtime-call-translator/internal/call"
	"realtime-call-translator/internal/config"
	"realtime-call-translator/internal/database"
	"realtime-call-translator/internal/metrics"
	"realtime-call-translator/internal/queue"
	"realtime-call-translator/internal/session"
	"realtime-call-translator/internal/storage"
	"realtime-call-translator/internal/streaming"
	"realtime-call-translator/internal/translate"
	"realtime-call-translator/internal/tts"
)

func main() {
	os.Exit(serve(os.Args))
}

// serve returns the process exit code once every deferred flush has run.
func serve(args []string) int {
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	configPath := fs.String("config", getEnv("CONFIG_PATH", ""), "path to a YAML config file")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("load config: %v", err)
		return 1
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		log.Printf("init logger: %v", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return 1
	}
	return 0
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector("call_translator")

	var translator translate.Translator = translate.Stub{}
	if cfg.Engines.TranslationBaseURL != "" {
		translator = translate.NewHTTPTranslator(cfg.Engines.TranslationBaseURL)
	} else {
		logger.Warn("TRANSLATION_BASE_URL not set - using prefixing development translator")
	}

	var (
		sessionRecorder    session.Recorder
		transcriptRecorder call.TranscriptRecorder
		history            api.TranscriptLister
	)
	if cfg.Database.Enabled {
		store, err := database.Open(ctx, cfg.Database.DSN(), logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		recorder := database.NewRecorder(store, 0)
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := recorder.Close(flushCtx); err != nil {
				logger.Warn("history flush incomplete", zap.Error(err))
			}
		}()
		sessionRecorder, transcriptRecorder, history = recorder, recorder, store
		logger.Info("call history enabled", zap.String("host", cfg.Database.Host), zap.String("database", cfg.Database.Name))
	}

	var artifacts api.ArtifactStore
	minioClient, err := storage.NewMinio(cfg.Storage)
	if err != nil {
		return err
	}
	if minioClient.Enabled() {
		if err := minioClient.EnsureBucket(ctx); err != nil {
			logger.Warn("minio bucket check failed", zap.String("bucket", minioClient.Bucket()), zap.Error(err))
		}
		artifacts = minioClient
		logger.Info("artifact storage enabled", zap.String("bucket", minioClient.Bucket()))
	}

	var authenticator api.Authenticator
	verifier, err := auth.NewKeycloakVerifier(cfg.Auth)
	if err != nil {
		return err
	}
	if verifier != nil {
		authenticator = verifier
		logger.Info("authentication enabled", zap.String("issuer", cfg.Auth.Issuer))
	}

	sessions := session.NewManager(session.Options{
		InactivityThreshold: cfg.Sessions.InactivityThreshold,
		SweepInterval:       cfg.Sessions.SweepInterval,
		Logger:              logger,
		Metrics:             collector,
		Recorder:            sessionRecorder,
	})
	queues := queue.NewManager(queue.Options{
		Capacity:      cfg.Queue.Capacity,
		YieldInterval: cfg.Queue.YieldInterval,
		OnDrop:        collector.QueueDropped,
		Logger:        logger,
	})
	calls := call.NewServer(ctx, call.Options{
		Sessions:   sessions,
		Queues:     queues,
		Recognizer: asr.New(cfg.Engines.ASRBaseURL),
		Translator: translator,
		Recorder:   transcriptRecorder,
		Streaming: streaming.Config{
			Interval:     cfg.Streaming.Interval,
			MinBytes:     cfg.Streaming.MinBytes,
			StopTimeout:  cfg.Streaming.StopTimeout,
			ResultBuffer: cfg.Streaming.ResultBuffer,
		},
		Metrics:          collector,
		Logger:           logger,
		WriteTimeout:     cfg.Server.WriteTimeout,
		MaxMessageBytes:  cfg.Server.MaxMessageBytes,
		RoleInfoInterval: cfg.Sessions.RoleInfoInterval,
		TranslateTimeout: cfg.Engines.TranslateTimeout,
	})

	handler := api.NewHandler(api.Deps{
		Sessions:       sessions,
		Calls:          calls,
		Recognizer:     asr.New(cfg.Engines.ASRBaseURL),
		Translator:     translator,
		Synthesizer:    tts.New(cfg.Engines.TTSBaseURL),
		Auth:           authenticator,
		Artifacts:      artifacts,
		History:        history,
		Metrics:        collector,
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("asr", cfg.Engines.ASRBaseURL),
			zap.String("tts", cfg.Engines.TTSBaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := calls.Shutdown(shutdownCtx); err != nil {
		logger.Warn("call shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}

// getEnv gets environment variable with fallback default
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
