package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ytcomments/internal/claims"
	"github.com/ternarybob/ytcomments/internal/collector"
	"github.com/ternarybob/ytcomments/internal/common"
	"github.com/ternarybob/ytcomments/internal/metrics"
	"github.com/ternarybob/ytcomments/internal/models"
	"github.com/ternarybob/ytcomments/internal/ratelimit"
	"github.com/ternarybob/ytcomments/internal/storage/badger"
	"github.com/ternarybob/ytcomments/internal/walker"
	"github.com/ternarybob/ytcomments/internal/youtube"
)

// Exit codes
const (
	exitOK      = 0
	exitFailed  = 1 // every video failed, or setup error
	exitPartial = 2 // some videos failed
)

// options holds the command-line flags.
type options struct {
	configFiles []string
	output      string
	token       string
	parallel    int
	bufferSize  int
	maxRPS      float64
	logLevel    string
	auth        string
	metricsAddr string
}

var (
	// Global state, set by loadConfig
	config *common.Config
	logger arbor.ILogger

	exitCode = exitOK
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	exitCode = exitOK
	opts := &options{}
	root := newRootCmd(opts)
	root.AddCommand(newHistoryCmd(), newVersionCmd())
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		if logger != nil {
			logger.Error().Err(err).Msg("ytcomments failed")
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailed
	}
	return exitCode
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ytcomments [flags] <video-id-or-url>...",
		Short: "Download YouTube comments and first-level replies",
		Long: `Downloads every top-level comment and first-level reply of one or more
YouTube videos to a JSONL file and a CSV file per video.

Videos may be given as 11-character IDs or as youtube.com / youtu.be URLs.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, opts)
		},
		RunE: runCollect,
	}

	pf := cmd.PersistentFlags()
	pf.StringArrayVarP(&opts.configFiles, "config", "c", nil, "Configuration file (TOML or YAML, repeatable; later files override earlier ones)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")

	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "comments.jsonl", "Output base path; {video_id} is replaced, otherwise the ID is suffixed when collecting several videos")
	f.StringVar(&opts.token, "token", "token.txt", "File holding the YouTube Data API key (falls back to YTCOMMENTS_API_KEY)")
	f.IntVar(&opts.parallel, "parallel", 8, "Maximum videos collected concurrently")
	f.IntVar(&opts.bufferSize, "buffer-size", 500, "Records buffered per video before flushing to disk")
	f.Float64Var(&opts.maxRPS, "max-rps", 0, "Per-worker request ceiling in requests per second (0 = unlimited)")
	f.StringVar(&opts.auth, "auth", "", "Credential type: key or bearer")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	return cmd
}

// loadConfig resolves configuration: defaults -> files -> .env/env -> flags.
func loadConfig(cmd *cobra.Command, opts *options) error {
	// .env is optional
	_ = godotenv.Load()

	var err error
	config, err = common.LoadFromFiles(opts.configFiles...)
	if err != nil {
		return err
	}

	applyFlagOverrides(cmd, opts, config)

	if err := config.Validate(); err != nil {
		return err
	}

	logger = common.SetupLogger(config)
	logger.Debug().
		Strs("config_files", opts.configFiles).
		Str("log_level", config.Logging.Level).
		Int("parallel", config.Collector.Parallel).
		Int("buffer_size", config.Collector.BufferSize).
		Float64("max_rps", config.Collector.MaxRPS).
		Str("output", config.Collector.Output).
		Msg("Resolved configuration")
	return nil
}

// applyFlagOverrides copies explicitly set flags over the loaded configuration.
func applyFlagOverrides(cmd *cobra.Command, opts *options, cfg *common.Config) {
	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.Collector.Output = opts.output
	}
	if flags.Changed("token") {
		cfg.API.TokenFile = opts.token
	}
	if flags.Changed("parallel") {
		cfg.Collector.Parallel = opts.parallel
	}
	if flags.Changed("buffer-size") {
		cfg.Collector.BufferSize = opts.bufferSize
	}
	if flags.Changed("max-rps") {
		cfg.Collector.MaxRPS = opts.maxRPS
	}
	if flags.Changed("auth") {
		cfg.API.Auth = opts.auth
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
}

func runCollect(cmd *cobra.Command, args []string) error {
	videoIDs, err := common.ExtractVideoIDs(args)
	if err != nil {
		return err
	}

	credential, err := common.ResolveCredential(config)
	if err != nil {
		return err
	}

	common.PrintBanner(common.GetVersion())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if config.Metrics.Addr != "" {
		common.SafeGo(logger, "metrics", func() {
			if err := m.Serve(ctx, config.Metrics.Addr, logger); err != nil {
				logger.Error().Err(err).Str("addr", config.Metrics.Addr).Msg("Metrics endpoint stopped")
			}
		})
	}

	runID := common.NewRunID()
	orchOpts := []collector.Option{collector.WithMetrics(m), collector.WithRunID(runID)}

	if config.Claims.ClaimsEnabled() {
		claimer, err := claims.Dial(ctx, config.Claims.RedisURL, runID, config.Claims.TTLDuration())
		if err != nil {
			return err
		}
		defer claimer.Close()
		orchOpts = append(orchOpts, collector.WithClaimer(claimer))
		logger.Info().Dur("ttl", config.Claims.TTLDuration()).Msg("Video claims enabled")
	}

	newFetcher := func(limiter *ratelimit.Limiter) walker.PageFetcher {
		return youtube.NewClient(credential,
			youtube.WithBaseURL(config.API.BaseURL),
			youtube.WithAuthMode(youtube.AuthMode(config.API.Auth)),
			youtube.WithTimeout(config.API.RequestTimeout()),
			youtube.WithPageSize(config.API.PageSize),
			youtube.WithLimiter(limiter),
			youtube.WithLogger(logger),
			youtube.WithMetrics(m),
		)
	}

	summary := collector.NewOrchestrator(config, newFetcher, logger, orchOpts...).Run(ctx, videoIDs)

	if config.Ledger.Enabled {
		saveToLedger(summary)
	}

	printSummary(summary)
	exitCode = exitCodeFor(summary.Disposition)
	if ctx.Err() != nil {
		logger.Warn().Msg("Interrupted")
	}
	return nil
}

func saveToLedger(summary *models.RunSummary) {
	db, err := badger.NewBadgerDB(logger, config.Ledger.Path)
	if err != nil {
		logger.Warn().Err(err).Str("path", config.Ledger.Path).Msg("Run ledger unavailable, summary not recorded")
		return
	}
	defer db.Close()

	if err := badger.NewRunStorage(db, logger).SaveRun(context.Background(), summary); err != nil {
		logger.Warn().Err(err).Msg("Failed to record run in ledger")
	}
}

func printSummary(summary *models.RunSummary) {
	succeeded, failed := summary.Counts()
	fmt.Printf("\nRun %s: %s (%d succeeded, %d failed)\n", summary.RunID, summary.Disposition, succeeded, failed)
	for _, job := range summary.Jobs {
		if job.Status == models.JobStatusSucceeded {
			fmt.Printf("  %-11s  %-9s  %6d records  %s\n", job.VideoID, job.Status, job.Records, job.JSONLPath)
			continue
		}
		fmt.Printf("  %-11s  %-9s  %6d records  %s\n", job.VideoID, job.Status, job.Records, job.Reason)
	}
}

func exitCodeFor(d models.Disposition) int {
	switch d {
	case models.DispositionSucceeded:
		return exitOK
	case models.DispositionPartial:
		return exitPartial
	default:
		return exitFailed
	}
}
