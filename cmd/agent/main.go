package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/repost-agent/internal/ai"
	"github.com/repost-agent/internal/blob"
	"github.com/repost-agent/internal/config"
	"github.com/repost-agent/internal/dedup"
	"github.com/repost-agent/internal/models"
	"github.com/repost-agent/internal/pipeline"
	"github.com/repost-agent/internal/publisher"
	"github.com/repost-agent/internal/scheduler"
	"github.com/repost-agent/internal/storage/sqlite"
	"github.com/repost-agent/internal/tracker"
	"github.com/repost-agent/pkg/logger"
	"github.com/repost-agent/pkg/ratelimit"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "repost-agent",
		Short: "Background agent for the repost pipeline",
		Long: `Runs the publishing loop and retention sweeps for one account.
This daemon should be run as a service for autonomous operation.`,
		RunE: runAgent,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	var err error

	// Load config
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	log.Info().Str("account", cfg.Account.Username).Msg("Starting repost agent")

	repo, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer repo.Close()

	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Start health check server for Render
	go startHealthServer()

	// Initialize rate limiter
	limiter := ratelimit.NewDefaultLimiter()

	ctx := context.Background()

	// Optional collaborators: nil disables the feature in the pipeline.
	var captions pipeline.CaptionAssistant
	if cfg.Anthropic.Enabled {
		captions = ai.NewClient(cfg.Anthropic, limiter, log)
	}

	var blobStore pipeline.BlobStore
	store, err := blob.New(ctx, cfg.Blob, limiter, log)
	if err != nil {
		return fmt.Errorf("failed to initialize blob storage: %w", err)
	}
	if store != nil {
		blobStore = store
	}

	var outcomes pipeline.Tracker
	sheetsTracker, err := tracker.NewSheetsTracker(tracker.Config{
		Enabled:            cfg.Tracker.Enabled,
		SpreadsheetID:      cfg.Tracker.SpreadsheetID,
		SheetName:          cfg.Tracker.SheetName,
		CredentialsFile:    cfg.Tracker.CredentialsFile,
		ServiceAccountJSON: cfg.Tracker.ServiceAccountJSON,
	}, limiter, log)
	if err != nil {
		return fmt.Errorf("failed to initialize outcome tracker: %w", err)
	}
	if sheetsTracker != nil {
		if err := sheetsTracker.InitializeSheet(ctx); err != nil {
			return fmt.Errorf("failed to initialize outcome sheet: %w", err)
		}
		outcomes = sheetsTracker
	}

	deduplicator := dedup.New(log,
		dedup.NewFFmpegExtractor(cfg.Dedup.FFmpegPath, cfg.Dedup.FFprobePath),
		cfg.Dedup.DistanceThreshold)

	pipe := pipeline.New(pipeline.Deps{
		Log:       log,
		Account:   repo.Account(cfg.Account.Username),
		Scheduler: scheduler.New(log),
		Dedup:     deduplicator,
		Blob:      blobStore,
		Captions:  captions,
		Tracker:   outcomes,
	})

	if err := pipe.EnsureSettings(ctx, models.AccountSettings{
		Username:                cfg.Account.Username,
		CanPost:                 true,
		PostingInterval:         cfg.Account.PostingInterval,
		RandomIntervalVariance:  cfg.Account.RandomIntervalVariance,
		RejectedContentLifespan: cfg.Account.RejectedContentLifespan,
		PostedContentLifespan:   cfg.Account.PostedContentLifespan,
		TimezoneOffset:          cfg.Account.TimezoneOffset,
		CurrentPage:             1,
		PageSize:                cfg.Account.PageSize,
	}); err != nil {
		return fmt.Errorf("failed to seed account settings: %w", err)
	}

	// Repair the queue before the first poll: slots may have passed
	// while the agent was down.
	if err := pipe.AmendQueue(ctx); err != nil {
		return fmt.Errorf("failed to amend queue: %w", err)
	}

	pub := publisher.NewClient(cfg.Publisher, limiter, log)

	// Create cron scheduler
	c := cron.New(cron.WithLogger(cronLogger{log}))

	// Schedule publish poll
	_, err = c.AddFunc(cfg.Scheduler.PollCron, func() {
		pollOnce(context.Background(), pipe, pub)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule publish poll: %w", err)
	}
	log.Info().Str("cron", cfg.Scheduler.PollCron).Msg("Publish poll scheduled")

	// Schedule retention sweep
	_, err = c.AddFunc(cfg.Scheduler.SweepCron, func() {
		if err := pipe.SweepExpired(context.Background()); err != nil {
			log.Error().Err(err).Msg("Retention sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}
	log.Info().Str("cron", cfg.Scheduler.SweepCron).Msg("Retention sweep scheduled")

	// Start scheduler
	c.Start()
	log.Info().Msg("Agent started")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down agent")
	<-c.Stop().Done()

	return nil
}

// pollOnce publishes the queue head if its slot has arrived. The
// network call runs outside any pipeline lock; only the outcome report
// re-enters it.
func pollOnce(ctx context.Context, pipe *pipeline.Service, pub *publisher.Client) {
	due, err := pipe.NextDue(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to check queue")
		return
	}
	if due == nil {
		return
	}

	log.Info().Str("shortcode", due.OriginalShortcode).Msg("Publishing due entry")

	_, err = pub.Publish(ctx, due)
	outcome := classifyPublishError(err)
	if err != nil {
		log.Warn().Err(err).
			Str("shortcode", due.OriginalShortcode).
			Stringer("outcome", outcome).
			Msg("Publish attempt failed")
	}

	if err := pipe.ReportOutcome(ctx, due.OriginalShortcode, outcome); err != nil {
		log.Error().Err(err).
			Str("shortcode", due.OriginalShortcode).
			Msg("Failed to record publish outcome")
	}
}

// classifyPublishError maps publisher errors onto pipeline outcomes.
// Unclassified errors count as recoverable so a transient bug cannot
// permanently bury a post.
func classifyPublishError(err error) pipeline.Outcome {
	switch {
	case err == nil:
		return pipeline.OutcomePublished
	case errors.Is(err, publisher.ErrPublishedUnverified):
		return pipeline.OutcomePublishedUnverified
	case errors.Is(err, publisher.ErrPermanent):
		return pipeline.OutcomeFailedPermanent
	default:
		return pipeline.OutcomeFailedRecoverable
	}
}

// cronLogger adapts our logger for cron
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Info().Msgf(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Msgf(msg, keysAndValues...)
}

// startHealthServer starts a simple HTTP server for health checks (used by Render)
func startHealthServer() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "10000"
	}

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Repost Agent"))
	})

	log.Info().Str("port", port).Msg("Health check server starting")
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Error().Err(err).Msg("Health server failed")
	}
}
