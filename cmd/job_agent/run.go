package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ganainy/job-app-assistant/internal/analysis"
	"github.com/ganainy/job-app-assistant/internal/config"
	"github.com/ganainy/job-app-assistant/internal/db"
	"github.com/ganainy/job-app-assistant/internal/observability"
	"github.com/ganainy/job-app-assistant/internal/provider"
	"github.com/ganainy/job-app-assistant/internal/resume"
	"github.com/ganainy/job-app-assistant/internal/scraper"
	"github.com/ganainy/job-app-assistant/internal/workflow"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run the job processing pipeline once for a user",
	Long: `Triggers one workflow run: acquire postings -> deduplicate -> structure resume -> analyze each new job -> report stats.

Configuration can be loaded from a JSON file using --config. Command-line arguments override config file values.`,
	RunE: runPipelineCmd,
}

var (
	runConfigPath  string
	runUserID      string
	runDatabaseURL string
	runRedisURL    string
	runScraperURL  string
	runVerbose     bool
)

func init() {
	runCommand.Flags().StringVar(&runConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")
	runCommand.Flags().StringVarP(&runUserID, "user", "u", "", "User UUID to run the pipeline for")
	runCommand.Flags().StringVar(&runDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
	runCommand.Flags().StringVar(&runRedisURL, "redis-url", "", "Redis connection URL (optional, defaults to REDIS_URL env var)")
	runCommand.Flags().StringVar(&runScraperURL, "scraper-url", "", "Scraping service base URL (optional)")
	runCommand.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print detailed progress")

	rootCmd.AddCommand(runCommand)
}

func runPipelineCmd(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	var cfg config.Config
	if runConfigPath != "" {
		loadedCfg, err := config.LoadConfig(runConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := loadedCfg.Validate(); err != nil {
			return err
		}
		cfg = *loadedCfg
		if runVerbose {
			fmt.Fprintf(os.Stdout, "Loaded config from: %s\n", runConfigPath)
		}
	}

	// CLI flags override config file values.
	if cmd.Flags().Changed("user") {
		cfg.UserID = runUserID
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = runDatabaseURL
	}
	if cmd.Flags().Changed("redis-url") {
		cfg.RedisURL = runRedisURL
	}
	if cmd.Flags().Changed("scraper-url") {
		cfg.ScraperBaseURL = runScraperURL
	}

	// Environment fills whatever is still missing.
	envCfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	cfg = cfg.MergeWithDefaults(*envCfg)

	if cfg.UserID == "" {
		return fmt.Errorf("--user is required")
	}
	userID, err := uuid.Parse(cfg.UserID)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", cfg.UserID, err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("a database URL is required (flag, config, or DATABASE_URL)")
	}
	if cfg.RedisURL == "" {
		return fmt.Errorf("a redis URL is required (flag, config, or REDIS_URL)")
	}

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid redis URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	scraperClient := scraper.NewClient(scraper.ClientConfig{
		BaseURL:      cfg.ScraperBaseURL,
		PollInterval: time.Duration(cfg.PollInterval) * time.Second,
	})
	engine := workflow.NewEngine(
		database,
		database,
		database,
		scraper.NewAcquirer(scraperClient, scraperClient),
		resume.NewService(resume.NewRedisCache(redisClient)),
		analysis.NewStage(database),
		provider.NewRegistry(),
	)

	runID, err := engine.Start(ctx, userID, true)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Started workflow run %s\n", runID)

	printer := observability.NewPrinter(os.Stdout)
	run := pollRun(ctx, database, runID, printer, runVerbose)
	engine.Wait()

	if run != nil {
		printer.PrintStats(run.Stats)
		printer.PrintOutcome(run)
		if run.Status == db.RunStatusFailed {
			return fmt.Errorf("workflow run failed")
		}
	}
	return nil
}

// pollRun watches the run until it reaches a terminal status, printing
// progress along the way.
func pollRun(ctx context.Context, database *db.DB, runID uuid.UUID, printer *observability.Printer, verbose bool) *db.WorkflowRun {
	var lastStep int = -1
	for {
		time.Sleep(time.Second)
		run, err := database.GetWorkflowRun(ctx, runID)
		if err != nil || run == nil {
			fmt.Fprintf(os.Stderr, "failed to read run state: %v\n", err)
			return nil
		}
		if verbose && run.Progress.CurrentStepIndex != lastStep {
			lastStep = run.Progress.CurrentStepIndex
			printer.PrintRunProgress(run)
		}
		if run.Status.IsTerminal() {
			if verbose {
				printer.PrintSteps(run)
			}
			return run
		}
	}
}
