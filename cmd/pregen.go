package cmd

import (
	"context"
	"fmt"
	"log"

	"readecho/config"
	"readecho/db"
	"readecho/logger"
	"readecho/repository"
	"readecho/server"

	"github.com/spf13/cobra"
)

var pregenStatusOnly bool

var pregenCmd = &cobra.Command{
	Use:   "pregen <bookId>",
	Short: "Enqueue pre-generation for a book or query its progress",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		bookID := args[0]
		cfg := config.Load()

		logger.InitLogger(logger.Config{Level: logger.LogLevel(cfg.LogLevel)})

		if err := db.ConnectGormDB(cfg); err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer db.CloseGormDB()

		assetRepo := repository.NewGormAudioAssetRepository(db.GormDB)
		jobRepo := repository.NewGormJobRepository(db.GormDB)
		_, service := server.BuildPipeline(cfg, assetRepo, jobRepo)

		ctx := context.Background()

		if pregenStatusOnly {
			status, err := service.Status(ctx, bookID)
			if err != nil {
				log.Fatalf("failed to load status: %v", err)
			}
			if status == nil {
				fmt.Printf("book %s: pre-generation not initiated\n", bookID)
				return
			}
			fmt.Printf("book %s: %s, %d/%d combinations (%.1f%%), %d failed, $%.4f spent\n",
				bookID, status.Status, status.CompletedCount, status.TotalCombinations,
				status.ProgressPercent(), status.FailedCount, status.TotalCostUSD)
			return
		}

		status, err := service.InitiateBook(ctx, bookID)
		if err != nil {
			log.Fatalf("failed to initiate pre-generation: %v", err)
		}
		fmt.Printf("book %s: enqueued %d combinations\n", bookID, status.TotalCombinations)
		fmt.Println("Run `readecho worker` (or `readecho server --with-workers`) to process the queue.")
	},
}

func init() {
	rootCmd.AddCommand(pregenCmd)
	pregenCmd.Flags().BoolVarP(&pregenStatusOnly, "status", "s", false, "query progress instead of enqueueing")
}
