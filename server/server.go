package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"readecho/cache"
	"readecho/config"
	"readecho/core/align"
	"readecho/core/audiocache"
	"readecho/core/playback"
	"readecho/core/pregen"
	"readecho/core/textsegment"
	"readecho/core/textsource"
	"readecho/core/tts"
	"readecho/db"
	"readecho/logger"
	"readecho/model"
	"readecho/repository"
	"readecho/storage"

	"github.com/gorilla/mux"
)

// Start initializes every subsystem and runs the HTTP server until SIGTERM.
// When withWorkers is true the pre-generation pool runs in-process, which is
// the single-binary deployment; larger deployments run `worker` separately.
func Start(withWorkers bool) {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogOutputPath,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})

	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("failed to connect to database", logger.ErrorField(err))
	}
	defer db.CloseGormDB()

	if err := db.AutoMigrateModels(
		&model.AudioAsset{},
		&model.PreGenerationJob{},
		&model.BookPreGenerationStatus{},
	); err != nil {
		logger.Fatal("failed to migrate database", logger.ErrorField(err))
	}

	if err := cache.ConnectRedis(cfg); err != nil {
		// Redis is a cache tier, not a dependency; degrade to DB + MinIO.
		logger.Warn("redis unavailable, running without the redis tier", logger.ErrorField(err))
	}
	defer cache.CloseRedis()

	if err := storage.InitMinio(cfg); err != nil {
		logger.Fatal("failed to initialize MinIO", logger.ErrorField(err))
	}

	assetRepo := repository.NewGormAudioAssetRepository(db.GormDB)
	jobRepo := repository.NewGormJobRepository(db.GormDB)

	pipeline, service := BuildPipeline(cfg, assetRepo, jobRepo)
	orchestrator := playback.NewOrchestrator(pipeline, playback.Options{
		TickInterval:  cfg.HighlightTickInterval,
		LeadOffset:    cfg.HighlightLeadOffset,
		PrefetchAhead: cfg.PrefetchAhead,
	})

	if withWorkers {
		pool := pregen.NewWorkerPool(jobRepo, service, pipeline, pregen.WorkerConfig{
			Concurrency:      cfg.WorkerConcurrency,
			RetryBaseDelay:   cfg.RetryBaseDelay,
			JobProcessingMax: cfg.JobProcessingMax,
			BudgetCeilingUSD: cfg.BudgetCeilingUSD,
		})
		pool.Start(context.Background())
		defer pool.Stop()
	}

	apiHandler := NewAPIHandler(assetRepo, jobRepo, service, pipeline, orchestrator, cfg)
	router := NewRouter(apiHandler)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket playback sessions outlive any write deadline
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", logger.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", logger.ErrorField(err))
	}
	logger.Info("server stopped")
}

// BuildPipeline wires the sentence pipeline and pre-generation service from
// configuration. Shared by the server and the standalone worker command.
func BuildPipeline(cfg *config.Config, assetRepo repository.AudioAssetRepository, jobRepo repository.JobRepository) (*pregen.Pipeline, *pregen.Service) {
	providers := []tts.Synthesizer{}
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, tts.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ProviderTimeout))
	}
	if cfg.ElevenLabsAPIKey != "" {
		providers = append(providers, tts.NewElevenLabsClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsBaseURL, cfg.ProviderTimeout))
	}
	if len(providers) == 0 {
		logger.Warn("no TTS provider configured, using mock synthesis")
		providers = append(providers, &tts.MockClient{WithTimings: true})
	}

	var transcriber align.Transcriber
	if cfg.OpenAIAPIKey != "" {
		transcriber = align.NewWhisperTranscriber(cfg.OpenAIAPIKey, cfg.TranscribeBaseURL, cfg.TranscribeModel, cfg.ProviderTimeout)
	}

	audioStore := storage.NewMinioAudioStore(cfg)
	store := audiocache.NewStore(assetRepo, audioStore, audiocache.Options{
		MemoryTTL:     cfg.MemoryCacheTTL,
		RedisTTL:      cfg.RedisCacheTTL,
		PersistentTTL: cfg.PersistentCacheTTL,
	})

	pipeline := pregen.NewPipeline(
		textsource.NewHTTPChunkSource(cfg.ContentBaseURL, 15*time.Second),
		textsegment.NewSegmenter(textsegment.Options{WordsPerMinute: cfg.WordsPerMinute}),
		tts.NewRegistry(providers...),
		align.NewAligner(transcriber),
		store,
		audioStore,
	)

	service := pregen.NewService(jobRepo, pipeline, pregen.ServiceConfig{
		Levels:        cfg.PregenLevels,
		PopularLevels: cfg.PopularLevels,
		Voices:        cfg.PregenVoices,
		MaxRetries:    cfg.MaxRetries,
		ChunkLimit:    cfg.ChunksPerBookLimit,
	})

	return pipeline, service
}

// NewRouter builds the route table with CORS middleware.
func NewRouter(apiHandler *APIHandler) *mux.Router {
	router := mux.NewRouter()

	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	router.HandleFunc("/api/audio/{bookId}/{level}/{chunkIndex}", apiHandler.GetChunkAudioHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/providers", apiHandler.ProvidersHandler).Methods(http.MethodGet)

	router.HandleFunc("/api/pregen/{bookId}", apiHandler.InitiatePregenHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/pregen/{bookId}/status", apiHandler.PregenStatusHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/diagnostics", apiHandler.DiagnosticsHandler).Methods(http.MethodGet)

	router.HandleFunc("/ws/playback/{bookId}/{level}/{chunkIndex}", apiHandler.WebSocketPlaybackHandler)

	router.PathPrefix("/audio/").HandlerFunc(apiHandler.AudioProxyHandler)

	return router
}
