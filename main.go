// jobsift aggregates job postings from configured feeds (RSS, JSON APIs,
// static HTML, headless-rendered boards) into one deduplicated, filtered
// stream.
//
// Startup sequence:
//  1. Load configuration (YAML file or defaults).
//  2. Load the proxy pool from the environment (optional).
//  3. Initialise logger, metrics, rate limiter, and parser registry.
//  4. Create the browser pool (Chromium launches lazily on first headless
//     fetch).
//  5. Start the dashboard HTTP server.
//  6. Run an aggregation pass, then repeat on the configured interval.
//  7. Block until SIGINT or SIGTERM, then perform a clean shutdown.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dkoval/jobsift/browser"
	"github.com/dkoval/jobsift/config"
	"github.com/dkoval/jobsift/dashboard"
	"github.com/dkoval/jobsift/dedup"
	"github.com/dkoval/jobsift/fetch"
	"github.com/dkoval/jobsift/fingerprint"
	"github.com/dkoval/jobsift/jobs"
	"github.com/dkoval/jobsift/logger"
	"github.com/dkoval/jobsift/match"
	"github.com/dkoval/jobsift/metrics"
	"github.com/dkoval/jobsift/orchestrator"
	"github.com/dkoval/jobsift/parser"
	"github.com/dkoval/jobsift/proxy"
	"github.com/dkoval/jobsift/ratelimit"
)

const shutdownGrace = 10 * time.Second

func main() {
	// ── Flags ──────────────────────────────────────────────────────────────
	configFile := flag.String("config", "", "Path to YAML config file (optional; uses defaults if omitted)")
	outFile := flag.String("out", "jobs.json", "File the final job batch of each run is written to")
	interval := flag.Duration("interval", 0, "Time between aggregation runs; 0 runs once and exits")
	flag.Parse()

	// ── Configuration ──────────────────────────────────────────────────────
	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobsift: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
	}

	// ── Logger ─────────────────────────────────────────────────────────────
	log := logger.New(cfg.LogLevel)
	log.Info().Int("feeds", len(cfg.Feeds)).Msg("jobsift starting up")
	if *configFile != "" {
		log.Info().Str("file", *configFile).Msg("configuration loaded")
	} else {
		log.Warn().Msg("no config file given; running with defaults and no feeds")
	}

	// ── Proxy pool ─────────────────────────────────────────────────────────
	proxies, err := proxy.FromEnv()
	if err != nil {
		log.Error().Err(err).Msg("proxy pool init failed")
		os.Exit(1)
	}
	if proxies.Enabled() {
		log.Info().Int("proxies", proxies.Count()).Msg("proxy pool loaded")
	} else {
		log.Info().Msg("no proxies configured; fetching directly")
	}

	// ── Metrics, limiter, parsers ──────────────────────────────────────────
	m := metrics.New()
	limiter := ratelimit.NewLimiter(ratelimit.GlobalDefaults(), ratelimit.SourceDefaults())
	registry := parser.NewRegistry(log)
	profile := fingerprint.Chrome()

	// ── Browser pool ───────────────────────────────────────────────────────
	pool, err := browser.New(browser.Config{
		MaxContexts: cfg.MaxBrowserContexts,
		Profile:     profile,
		CookieDir:   cfg.CookieDir,
		Proxy:       proxies.Next(),
	}, log)
	if err != nil {
		log.Error().Err(err).Msg("browser pool init failed")
		os.Exit(1)
	}

	// ── Fetchers and orchestrator ──────────────────────────────────────────
	static := fetch.NewStatic(cfg, registry, proxies, profile, log)
	headless := fetch.NewHeadless(cfg, pool, registry, profile, log)

	orch := orchestrator.New(orchestrator.Options{
		Config:   cfg,
		Static:   static,
		Headless: headless,
		Limiter:  limiter,
		Matcher:  match.New(nil, nil, cfg.MinMatchScore),
		Dedup:    dedup.New(cfg.DedupThreshold),
		Metrics:  m,
		Sink:     &fileSink{path: *outFile},
		Log:      log,
	})

	// ── Dashboard server ───────────────────────────────────────────────────
	if cfg.DashboardAddr != "" {
		dash := dashboard.New(m, orch, cfg, log)
		go func() {
			if err := dash.ListenAndServe(cfg.DashboardAddr); err != nil {
				log.Error().Err(err).Msg("dashboard server error")
			}
		}()
	}

	// ── Run loop ───────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := runLoop(ctx, orch, *interval)

	// ── Graceful shutdown ──────────────────────────────────────────────────
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("browser pool shutdown incomplete")
	}
	if runErr != nil {
		log.Error().Err(runErr).Msg("jobsift exited with error")
		os.Exit(1)
	}
	log.Info().Msg("jobsift shut down cleanly")
}

// runLoop performs one aggregation pass immediately, then repeats every
// interval until the context is cancelled.  With a zero interval it returns
// after the first pass.
func runLoop(ctx context.Context, orch *orchestrator.Orchestrator, interval time.Duration) error {
	if _, err := orch.RunOnce(ctx); err != nil {
		return err
	}
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := orch.RunOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// fileSink writes each run's final batch to a JSON file via a temp file and
// rename, so readers never observe a partial write.
type fileSink struct {
	path string
}

func (s *fileSink) Store(_ context.Context, batch []jobs.Job) error {
	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("sink: marshal batch: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("sink: create output dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("sink: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("sink: rename %s: %w", tmp, err)
	}
	return nil
}
