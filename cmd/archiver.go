/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pulse-sentiment/apiserver/config"
	"github.com/pulse-sentiment/apiserver/internal/archive"
	"github.com/pulse-sentiment/apiserver/internal/db"
	"github.com/pulse-sentiment/apiserver/internal/logging"
	"github.com/pulse-sentiment/apiserver/internal/mq"
	"github.com/pulse-sentiment/apiserver/internal/storage"
	"github.com/pulse-sentiment/apiserver/internal/store"
	"github.com/spf13/cobra"
)

// archiverCmd represents the archiver command
var archiverCmd = &cobra.Command{
	Use:   "archiver",
	Short: "Copies completed analyses to object storage",
	Long: `Consumes analysis.completed events and writes each analysis as JSON
to the configured bucket. Usage:

	pulse archiver
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.NewWithService("archiver", cfg.LogLevel)

		switch cfg.MQ.Backend {
		case "", "memory":
			return errors.New("the archiver needs MQ_BACKEND=rabbitmq or pubsub")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		dbConn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer dbConn.Close()

		broker, err := mq.NewFromConfig(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		defer broker.Close()

		objects, err := storage.NewFromConfig(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer objects.Close()

		if err := objects.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure bucket %s: %w", objects.Bucket(), err)
		}

		logger.WithField("bucket", objects.Bucket()).WithField("backend", broker.Backend()).Info("archiver starting")
		return archive.New(broker, store.NewAnalysisRepository(dbConn), objects, cfg.MQ.Channel, logger.Logger).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(archiverCmd)
}
