package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/osvaldoandrade/flagq/pkg/app"
	"github.com/osvaldoandrade/flagq/pkg/config"

	_ "github.com/osvaldoandrade/flagq/pkg/checker/sample"

	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func workerCmd(ui *ui) *cobra.Command {
	var (
		configPath  string
		concurrency int
		checkerName string
	)

	start := &cobra.Command{
		Use:     "start",
		Short:   "Run checker workers against the queue",
		Example: "flagq worker start --concurrency 8 --checker sample",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			bar := progressbar.NewOptions(3,
				progressbar.OptionSetDescription("Starting worker"),
				progressbar.OptionSetWidth(18),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			cfg, err := config.LoadConfigOptional(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.WorkerConcurrency = concurrency
			}
			if strings.TrimSpace(checkerName) != "" {
				cfg.CheckerName = checkerName
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			_ = bar.Add(1)

			w, err := app.NewWorker(cfg)
			if err != nil {
				return err
			}
			_ = bar.Add(1)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := w.Redis.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis %s: %w", cfg.RedisAddr(), err)
			}
			_ = bar.Add(1)

			fmt.Printf("%s Worker %s running checker %s with %d slots. Listening...\n",
				ui.info("[INFO]"), cfg.QueueInstance, cfg.CheckerName, cfg.WorkerConcurrency)
			err = w.Run(ctx)
			fmt.Println(ui.warn("[WARN]"), "Stopped.")
			return err
		},
	}
	start.Flags().StringVar(&configPath, "config", os.Getenv("FLAGQ_CONFIG_PATH"), "Worker config file (YAML)")
	start.Flags().IntVar(&concurrency, "concurrency", 0, "Number of concurrent jobs (overrides WORKER_CONCURRENCY)")
	start.Flags().StringVar(&checkerName, "checker", "", "Registered checker name (overrides CHECKER_NAME)")

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Worker operations",
	}
	cmd.AddCommand(start)
	return cmd
}
