// Package main is the entry point for the market-tracker crawler.
// One invocation runs every source that is due (or forced), persists the
// observations, and sends Telegram alerts for new listings and price drops.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deltaguita/market-tracker/internal/config"
	"github.com/deltaguita/market-tracker/internal/database"
	"github.com/deltaguita/market-tracker/internal/exchange"
	"github.com/deltaguita/market-tracker/internal/logging"
	"github.com/deltaguita/market-tracker/internal/models"
	"github.com/deltaguita/market-tracker/internal/notify"
	"github.com/deltaguita/market-tracker/internal/repository"
	"github.com/deltaguita/market-tracker/internal/schedule"
	"github.com/deltaguita/market-tracker/internal/scraper"
	"github.com/deltaguita/market-tracker/internal/version"
)

func main() {
	var (
		sourceFlag  = flag.String("source", "", "run only this source (amazon_us or mercari_jp)")
		forceFlag   = flag.Bool("force", false, "run even when the schedule says the source is not due")
		versionFlag = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Get().String())
		return
	}

	// Initialize logger with TTY detection and format control
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting market-tracker",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.Migrate(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	repos := repository.NewRepositories(db)
	tracker := schedule.NewTracker(cfg.ScheduleFile)

	var notifier *notify.Notifier
	if cfg.NotificationsEnabled() {
		notifier, err = notify.New(notify.Config{
			BotToken: cfg.TelegramBotToken,
			ChatID:   cfg.TelegramChatID,
			Logger:   logger,
		})
		if err != nil {
			logger.Error("failed to initialize telegram notifier", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("telegram credentials not set, alerts disabled")
	}

	sources, err := selectSources(*sourceFlag, cfg.ConfigDir)
	if err != nil {
		logger.Error("failed to load source configuration", "error", err)
		os.Exit(1)
	}

	rates := exchange.NewClient(exchange.ClientConfig{Logger: logger})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	failed := false
	for _, srcCfg := range sources {
		if ctx.Err() != nil {
			logger.Info("interrupted, stopping")
			break
		}
		if err := runSource(ctx, logger, repos, tracker, notifier, rates, cfg, srcCfg, *forceFlag); err != nil {
			logger.Error("source run failed", "source", srcCfg.Source, "error", err)
			failed = true
		}
	}
	if failed {
		_ = db.Close()
		os.Exit(1)
	}
}

// selectSources resolves the -source flag into the source configs to run.
func selectSources(flagValue, configDir string) ([]*config.SourceConfig, error) {
	if flagValue != "" {
		srcCfg, err := config.LoadSource(models.Source(flagValue), configDir)
		if err != nil {
			return nil, err
		}
		return []*config.SourceConfig{srcCfg}, nil
	}

	all, err := config.LoadAllSources(configDir)
	if err != nil {
		return nil, err
	}
	// Stable run order regardless of map iteration.
	ordered := make([]*config.SourceConfig, 0, len(all))
	for _, source := range []models.Source{models.SourceAmazonUS, models.SourceMercariJP} {
		if srcCfg, ok := all[source]; ok {
			ordered = append(ordered, srcCfg)
		}
	}
	return ordered, nil
}

func runSource(
	ctx context.Context,
	logger *slog.Logger,
	repos *repository.Repositories,
	tracker *schedule.Tracker,
	notifier *notify.Notifier,
	rates *exchange.Client,
	cfg *config.Config,
	srcCfg *config.SourceConfig,
	force bool,
) error {
	ctx = logging.WithSource(ctx, srcCfg.Source)
	log := logging.FromContext(ctx, logger)

	now := time.Now()
	due, err := tracker.IsDue(srcCfg.Source, srcCfg.ScheduleIntervalHours, now)
	if err != nil {
		return fmt.Errorf("failed to check schedule: %w", err)
	}
	if !due && !force {
		if until, err := tracker.TimeUntilNextRun(srcCfg.Source, srcCfg.ScheduleIntervalHours, now); err == nil && until != nil {
			log.Info("not due yet, skipping", "next_run_in", until.Round(time.Minute).String())
		}
		return nil
	}

	if len(srcCfg.TrackingURLs) == 0 {
		log.Info("no tracking urls configured, skipping")
		return nil
	}

	scraperCfg := scraper.Config{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.RequestTimeout,
	}
	s, err := scraper.New(srcCfg.Source, scraperCfg)
	if err != nil {
		return err
	}
	if mercari, ok := s.(*scraper.MercariScraper); ok {
		mercari.JPYToTWDRate = rates.JPYToTWD(ctx)
	}

	var totalNew, totalDrops, totalSeen int
	for _, tracking := range srcCfg.TrackingURLs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Info("scraping", "name", tracking.Name, "url", tracking.URL)
		observations, err := s.Scrape(ctx, tracking.URL)
		if err != nil {
			log.Error("scrape failed", "name", tracking.Name, "error", err)
			continue
		}
		if len(observations) == 0 {
			log.Warn("no observations", "name", tracking.Name)
			continue
		}

		result, err := repos.Product.CompareAndUpdate(ctx, observations, srcCfg.Source, srcCfg.PriceTrackingMode)
		if err != nil {
			return fmt.Errorf("failed to persist observations for %q: %w", tracking.Name, err)
		}

		totalSeen += len(observations)
		totalNew += len(result.New)
		totalDrops += len(result.PriceDropped)

		if notifier != nil && (len(result.New) > 0 || len(result.PriceDropped) > 0) {
			budget := notify.Budget{MaxUSD: tracking.MaxUSD, MaxTWD: tracking.MaxTWD}
			sent, total := notifier.NotifyBatch(ctx, srcCfg.Source, *result, budget)
			log.Info("alerts delivered", "name", tracking.Name, "sent", sent, "total", total)
		}
	}

	if err := tracker.RecordRun(srcCfg.Source, now); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	count, err := repos.Product.CountBySource(ctx, srcCfg.Source)
	if err != nil {
		log.Warn("failed to count tracked products", "error", err)
	}

	log.Info("run complete",
		"mode", srcCfg.PriceTrackingMode,
		"observed", totalSeen,
		"new", totalNew,
		"price_drops", totalDrops,
		"tracked_total", count,
	)
	return nil
}
