package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"readecho/cache"
	"readecho/config"
	"readecho/core/pregen"
	"readecho/db"
	"readecho/logger"
	"readecho/model"
	"readecho/repository"
	"readecho/server"
	"readecho/storage"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the standalone pre-generation worker pool",
	Long:  `Run only the pre-generation workers against the shared queue, for deployments that scale rendering separately from the API server.`,
	Run: func(cmd *cobra.Command, args []string) {
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
			logger.Warn("redis unavailable, running without the redis tier", logger.ErrorField(err))
		}
		defer cache.CloseRedis()

		if err := storage.InitMinio(cfg); err != nil {
			logger.Fatal("failed to initialize MinIO", logger.ErrorField(err))
		}

		assetRepo := repository.NewGormAudioAssetRepository(db.GormDB)
		jobRepo := repository.NewGormJobRepository(db.GormDB)
		pipeline, service := server.BuildPipeline(cfg, assetRepo, jobRepo)

		pool := pregen.NewWorkerPool(jobRepo, service, pipeline, pregen.WorkerConfig{
			Concurrency:      cfg.WorkerConcurrency,
			RetryBaseDelay:   cfg.RetryBaseDelay,
			JobProcessingMax: cfg.JobProcessingMax,
			BudgetCeilingUSD: cfg.BudgetCeilingUSD,
		})
		pool.Start(context.Background())

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		logger.Info("shutting down workers")
		pool.Stop()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
