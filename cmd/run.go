package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/teemow/inboxresponder/internal/ai"
	"github.com/teemow/inboxresponder/internal/config"
	"github.com/teemow/inboxresponder/internal/gmail"
	"github.com/teemow/inboxresponder/internal/google"
	"github.com/teemow/inboxresponder/internal/instrumentation"
	"github.com/teemow/inboxresponder/internal/labels"
	"github.com/teemow/inboxresponder/internal/logging"
	"github.com/teemow/inboxresponder/internal/poller"
	"github.com/teemow/inboxresponder/internal/queue"
	"github.com/teemow/inboxresponder/internal/server"
	"github.com/teemow/inboxresponder/internal/triage"
	"github.com/teemow/inboxresponder/internal/worker"
)

// Readiness fails when no poll cycle succeeded for this many intervals.
const staleCycles = 5

func newRunCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the inbox and answer new messages",
		Long: `Run the triage pipeline until interrupted.

The poller lists unprocessed inbox messages every poll interval and enqueues
one job per message. The worker takes jobs from the queue one at a time,
classifies the message, sends a reply where the category calls for one and
labels the message. Jobs interrupted by a shutdown are resumed on the next
start.

With --once a single poll cycle is run and the command exits; queued jobs
are left for the next regular run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runPipeline(ctx, cfg, logger, once)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&once, "once", false, "Run a single poll cycle and exit")
	f.Duration("poll-interval", poller.DefaultInterval, "Time between poll cycles")
	f.Duration("enqueue-delay", queue.DefaultDelay, "Delay before an enqueued message is processed")
	f.Int("max-attempts", queue.DefaultMaxAttempts, "Deliveries per job before it is dead")
	f.Duration("inter-job-pause", worker.DefaultInterJobPause, "Pause after every processed job")
	f.Int("page-size", poller.DefaultPageSize, "Messages listed per poll cycle (1-500)")
	f.String("query", poller.DefaultQuery, "Gmail search query selecting candidate messages")
	f.Bool("mark-processed-on-failure", true, "Label messages PROCESSED even when classification or reply generation failed")
	f.String("model", ai.DefaultModel, "Gemini model used for classification and replies")
	f.Bool("metrics", true, "Serve metrics and health probes")
	f.String("metrics-addr", server.DefaultAddr, "Metrics and health server address")

	return cmd
}

// pipeline holds the wired components of a run.
type pipeline struct {
	queue  queue.Queue
	poller *poller.Poller
	worker *worker.Worker
}

func runPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, once bool) error {
	if cfg.AI.APIKey == "" {
		return errors.New("a Gemini API key is required, set GEMINI_API_KEY or ai.api_key")
	}

	provider, err := instrumentation.NewProvider(ctx, cfg.Instrumentation(version))
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), server.DefaultShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	p, err := buildPipeline(ctx, cfg, logger, provider)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.queue.Close(); err != nil {
			logger.Warn("failed to close queue", logging.Err(err))
		}
	}()

	if once {
		res, err := p.poller.PollOnce(ctx)
		if err != nil {
			return err
		}
		logger.Info("poll cycle finished",
			slog.Int("listed", res.Listed),
			slog.Int("enqueued", res.Enqueued),
			slog.Int("duplicates", res.Duplicates),
			slog.Int("skipped", res.Skipped),
			slog.Int("failed", res.Failed))
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.poller.Run(gctx) })
	g.Go(func() error { return p.worker.Run(gctx) })

	if cfg.Metrics.Enabled {
		health := server.NewHealthChecker(server.HealthConfig{
			Poller:     p.poller,
			Worker:     p.worker,
			Queue:      p.queue,
			StaleAfter: staleCycles * cfg.PollInterval,
		})
		srv, err := server.New(server.Config{
			Addr:                    cfg.Metrics.Addr,
			InstrumentationProvider: provider,
			Health:                  health,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			health.SetShuttingDown()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), server.DefaultShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("inboxresponder started",
		slog.String("version", version),
		slog.String("queue_backend", cfg.Queue.Backend),
		slog.Duration("poll_interval", cfg.PollInterval))

	err = g.Wait()
	logger.Info("inboxresponder stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildPipeline opens the queue and constructs every component. On error
// the queue is closed again.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, provider *instrumentation.Provider) (_ *pipeline, err error) {
	metrics := provider.Metrics()

	q, err := openQueue(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = q.Close()
		}
	}()

	if n, err := q.Recover(ctx); err != nil {
		return nil, fmt.Errorf("failed to recover interrupted jobs: %w", err)
	} else if n > 0 {
		logger.Info("requeued interrupted jobs", slog.Int("count", n))
	}

	authorizer, err := google.NewAuthorizer(cfg.Google.CredentialsFile, cfg.Google.TokenFile, logger, metrics)
	if err != nil {
		return nil, err
	}
	httpClient, err := authorizer.HTTPClient(ctx)
	if err != nil {
		if errors.Is(err, google.ErrNoToken) {
			return nil, fmt.Errorf("not authorized, run 'inboxresponder auth' first: %w", err)
		}
		return nil, err
	}

	mail, err := gmail.NewClient(ctx, gmail.Config{RequestsPerSecond: cfg.Gmail.RequestsPerSecond}, logger, metrics,
		option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}

	labelManager := labels.NewManager(mail, logger)
	for _, name := range triage.Labels() {
		if _, err := labelManager.EnsureLabel(ctx, name); err != nil {
			// Labels are created again on first use.
			logger.Warn("failed to prepare label", logging.Label(name), logging.Err(err))
		}
	}

	engine, err := ai.New(ctx, ai.Config{
		APIKey:  cfg.AI.APIKey,
		Model:   cfg.AI.Model,
		Timeout: cfg.AI.Timeout,
	}, logger, metrics)
	if err != nil {
		return nil, err
	}

	qopts := cfg.QueueOptions()
	pl := poller.New(mail, q, labelManager, poller.Config{
		Query:        cfg.Query,
		PageSize:     cfg.PageSize,
		Interval:     cfg.PollInterval,
		EnqueueDelay: qopts.Delay,
		MaxAttempts:  qopts.MaxAttempts,
	}, logger, metrics)

	w := worker.New(q, worker.Dependencies{
		Classifier: engine,
		Responder:  engine,
		Labels:     labelManager,
		Sender:     mail,
	}, worker.Config{
		InterJobPause:          cfg.InterJobPause,
		MarkProcessedOnFailure: cfg.MarkProcessedOnFailure,
	}, logger, metrics, provider.AuditLogger(logger))

	return &pipeline{queue: q, poller: pl, worker: w}, nil
}

// openQueue opens the configured queue backend.
func openQueue(cfg *config.Config) (queue.Queue, error) {
	qcfg := queue.Config{}
	switch cfg.Queue.Backend {
	case config.BackendValkey:
		q, err := queue.OpenValkey(queue.ValkeyConfig{
			Address:    cfg.Queue.Valkey.Address,
			Password:   cfg.Queue.Valkey.Password,
			TLSEnabled: cfg.Queue.Valkey.TLS,
			KeyPrefix:  cfg.Queue.Valkey.KeyPrefix,
			DB:         cfg.Queue.Valkey.DB,
		}, qcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open valkey queue: %w", err)
		}
		return q, nil
	default:
		if path := cfg.Queue.SQLitePath; path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return nil, fmt.Errorf("failed to create queue directory: %w", err)
			}
		}
		q, err := queue.OpenSQLite(cfg.Queue.SQLitePath, qcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite queue: %w", err)
		}
		return q, nil
	}
}
