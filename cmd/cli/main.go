package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/repost-agent/internal/ai"
	"github.com/repost-agent/internal/config"
	"github.com/repost-agent/internal/dedup"
	"github.com/repost-agent/internal/models"
	"github.com/repost-agent/internal/pipeline"
	"github.com/repost-agent/internal/scheduler"
	"github.com/repost-agent/internal/storage"
	"github.com/repost-agent/internal/storage/sqlite"
	"github.com/repost-agent/pkg/logger"
	"github.com/repost-agent/pkg/ratelimit"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
	repo    *sqlite.Repository
	pipe    *pipeline.Service
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "repost-cli",
		Short: "Moderation CLI for the repost pipeline",
		Long: `Inspect and moderate the content of one account: review pages,
accept or reject candidates, and manage the posting queue.`,
		PersistentPreRunE: initializeApp,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(pageCmd())
	rootCmd.AddCommand(moderateCmd())
	rootCmd.AddCommand(editCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(pauseCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initializeApp(cmd *cobra.Command, args []string) error {
	var err error

	// Load config
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Account.Username == "" {
		return fmt.Errorf("account.username is required")
	}

	// Initialize logger
	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	repo, err = sqlite.New(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	limiter := ratelimit.NewDefaultLimiter()

	var captions pipeline.CaptionAssistant
	if cfg.Anthropic.Enabled {
		captions = ai.NewClient(cfg.Anthropic, limiter, log)
	}

	pipe = pipeline.New(pipeline.Deps{
		Log:     log,
		Account: repo.Account(cfg.Account.Username),
		Scheduler: scheduler.New(log),
		Dedup: dedup.New(log,
			dedup.NewFFmpegExtractor(cfg.Dedup.FFmpegPath, cfg.Dedup.FFprobePath),
			cfg.Dedup.DistanceThreshold),
		Captions: captions,
	})

	return pipe.EnsureSettings(cmd.Context(), models.AccountSettings{
		Username:                cfg.Account.Username,
		CanPost:                 true,
		PostingInterval:         cfg.Account.PostingInterval,
		RandomIntervalVariance:  cfg.Account.RandomIntervalVariance,
		RejectedContentLifespan: cfg.Account.RejectedContentLifespan,
		PostedContentLifespan:   cfg.Account.PostedContentLifespan,
		TimezoneOffset:          cfg.Account.TimezoneOffset,
		CurrentPage:             1,
		PageSize:                cfg.Account.PageSize,
	})
}

// ============ SUBMIT COMMAND ============

func submitCmd() *cobra.Command {
	var (
		url     string
		caption string
		author  string
		video   string
	)

	cmd := &cobra.Command{
		Use:   "submit <shortcode>",
		Short: "Submit a scraped candidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := pipe.SubmitCandidate(context.Background(), pipeline.Candidate{
				Shortcode:      args[0],
				URL:            url,
				Caption:        caption,
				OriginalAuthor: author,
				VideoPath:      video,
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", args[0], status)
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "media URL")
	cmd.Flags().StringVar(&caption, "caption", "", "scraped caption")
	cmd.Flags().StringVar(&author, "author", "", "original author username")
	cmd.Flags().StringVar(&video, "video", "", "local video file for duplicate detection")
	cmd.MarkFlagRequired("url")
	return cmd
}

// ============ LIST AND PAGE COMMANDS ============

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the current review page",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, page, total, err := pipe.ListPage(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("Page %d/%d\n", page, total)
			for _, item := range items {
				fmt.Printf("  [%d] %-12s %-18s %s\n",
					item.MessageID, item.OriginalShortcode, item.Status, item.Caption)
			}
			if len(items) == 0 {
				fmt.Println("  (empty)")
			}
			return nil
		},
	}
}

func pageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "page <number>",
		Short: "Switch the current review page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid page number %q", args[0])
			}
			return pipe.SetPage(context.Background(), page)
		},
	}
}

// ============ MODERATION COMMANDS ============

func moderateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "moderate",
		Short: "Moderation actions on one item",
	}

	actions := []struct {
		use    string
		short  string
		action pipeline.Action
	}{
		{"accept <shortcode>", "Accept an item into the posting queue", pipeline.ActionAccept},
		{"reject <shortcode>", "Reject an item", pipeline.ActionReject},
		{"undo-reject <shortcode>", "Return a rejected item to review", pipeline.ActionUndoReject},
		{"remove <shortcode>", "Remove an item from the review pages", pipeline.ActionRemoveFromView},
	}
	for _, a := range actions {
		action := a.action
		cmd.AddCommand(&cobra.Command{
			Use:   a.use,
			Short: a.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return pipe.Transition(context.Background(), args[0], action, "")
			},
		})
	}
	return cmd
}

func editCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit an item's caption or hashtags",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "caption <shortcode> <text>",
		Short: "Replace the caption",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipe.Transition(context.Background(), args[0], pipeline.ActionEditCaption, args[1])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "hashtags <shortcode> <tags>",
		Short: "Replace the hashtags",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipe.Transition(context.Background(), args[0], pipeline.ActionEditHashtags, args[1])
		},
	})
	return cmd
}

// ============ QUEUE COMMANDS ============

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Posting queue commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the posting queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTx(func(tx storage.Tx) error {
				queue, err := tx.ContentQueue()
				if err != nil {
					return err
				}
				for _, entry := range queue {
					fmt.Printf("  %-12s %s\n", entry.OriginalShortcode,
						entry.WillPostAt.Format("2006-01-02 15:04:05"))
				}
				if len(queue) == 0 {
					fmt.Println("  (empty)")
				}
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "drop <shortcode>",
		Short: "Pull an item out of the queue, back to review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipe.Transition(context.Background(), args[0], pipeline.ActionRemoveFromQueue, "")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "publish-now <shortcode>",
		Short: "Pull a queued item forward to post within seconds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipe.Transition(context.Background(), args[0], pipeline.ActionPublishNow, "")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "amend",
		Short: "Repair the queue after downtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipe.AmendQueue(context.Background())
		},
	})
	return cmd
}

// ============ SETTINGS AND MAINTENANCE ============

func pauseCmd() *cobra.Command {
	var resume bool

	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause or resume posting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTx(func(tx storage.Tx) error {
				settings, err := tx.Settings()
				if err != nil {
					return err
				}
				settings.CanPost = resume
				if err := tx.SaveSettings(settings); err != nil {
					return err
				}
				if resume {
					fmt.Println("Posting resumed")
				} else {
					fmt.Println("Posting paused")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&resume, "resume", false, "resume instead of pause")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the retention sweep once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipe.SweepExpired(context.Background())
		},
	}
}

func withTx(fn func(tx storage.Tx) error) error {
	return repo.Account(cfg.Account.Username).WithTx(context.Background(), fn)
}
