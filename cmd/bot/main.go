package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-pulse/internal/bot"
	"market-pulse/internal/browser"
	"market-pulse/internal/cache"
	"market-pulse/internal/config"
	"market-pulse/internal/handler"
	"market-pulse/internal/job"
	"market-pulse/internal/logger"
	"market-pulse/internal/provider"
	"market-pulse/internal/publisher"
	"market-pulse/internal/retry"
	"market-pulse/internal/sentiment"
	"market-pulse/internal/service"
	"market-pulse/internal/tweet"
	"market-pulse/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

const appName = "ETH/BTC Market Pulse"

var (
	loadEnvFunc      = godotenv.Load
	loadConfigFunc   = config.Load
	setupLoggerFunc  = logger.Setup
	initTracerFunc   = tracing.InitTracer
	initRedisFunc    = cache.InitRedis
	newNotifierFunc  = bot.NewTelegramNotifier
	newLLMClientFunc = sentiment.NewOpenAIClient
	newDriverFunc    = func(cfg *config.Config, log *logger.Entry) browser.Driver {
		return browser.NewChromeDriver(browser.ChromeOptions{
			Headless:        cfg.Browser.Headless,
			ExecPath:        cfg.Browser.ExecPath,
			PageLoadTimeout: cfg.Browser.PageLoadTimeout,
		}, log)
	}
	sleepFunc              = retry.Sleep
	startJobFunc           = func(j *job.CycleJob, ctx context.Context) { j.Start(ctx) }
	notifyContextFunc      = signal.NotifyContext
	newRouterFunc          = gin.Default
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
	exitFunc               = os.Exit
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		exitFunc(1)
	}
}

func run() error {
	// .env is optional.
	_ = loadEnvFunc()

	cfg, err := loadConfigFunc(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logOpts := logger.DefaultOptions()
	logOpts.Level = cfg.Logging.Level
	logOpts.Format = cfg.Logging.Format
	logOpts.Dir = cfg.Logging.Dir
	logOpts.Console = cfg.Logging.Console
	logs, err := setupLoggerFunc(logOpts)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logs.Close()
	logs.LogStartup(appName)
	defer logs.LogShutdown(appName)
	log := logs.App.WithComponent("main")

	ctx, stop := notifyContextFunc(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, tracer, err := initTracerFunc(ctx, tracing.Options{
		Enabled:  cfg.Tracing.Enabled,
		Endpoint: cfg.Tracing.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("error shutting down tracer provider")
		}
	}()

	var notifier job.Notifier
	if cfg.Telegram.Enabled() {
		n, err := newNotifierFunc(cfg.Telegram.BotToken, cfg.Telegram.ChatID, "[market-pulse]")
		if err != nil {
			log.WithError(err).Warn("Telegram alerts disabled")
		} else {
			notifier = n
		}
	}

	selectors, err := publisher.LoadSelectors(cfg.Browser.SelectorsFile)
	if err != nil {
		return err
	}

	driver := newDriverFunc(cfg, logs.App.WithComponent("browser"))
	pub := publisher.New(tracer, driver, publisher.Options{
		LoginURL:           cfg.Twitter.LoginURL,
		ComposeURL:         cfg.Twitter.ComposeURL,
		Credentials:        publisher.Credentials{Username: cfg.Twitter.Username, Password: cfg.Twitter.Password},
		Selectors:          selectors,
		MaxRetries:         cfg.Cycle.MaxRetries,
		DebugScreenshotDir: cfg.Browser.DebugScreenshotDir,
		Notifier:           notifier,
		Sleep:              sleepFunc,
	}, logs.App.WithComponent("publisher"))
	defer func() {
		log.Info("Closing browser...")
		if err := pub.Close(); err != nil {
			log.WithError(err).Warn("Error during browser close")
		}
	}()

	status := service.NewStatusTracker(time.Now())
	status.SetSessionSource(func() string { return pub.State().String() })

	if cfg.Status.HTTPAddr != "" {
		srv := newStatusServer(cfg, tracer, status)
		go func() {
			if err := startHTTPServerFunc(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("status server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
				log.WithError(err).Warn("status server forced to shutdown")
			}
		}()
		log.WithField("addr", cfg.Status.HTTPAddr).Info("Status server listening")
	}

	if err := pub.Setup(ctx); err != nil {
		if notifier != nil {
			if nerr := notifier.Notify(ctx, fmt.Sprintf("Market pulse failed to start: %v", err)); nerr != nil {
				log.WithError(nerr).Warn("Failed to send notification")
			}
		}
		log.WithError(err).Error("Failed to initialize bot after maximum retries")
		return err
	}

	var lock service.CycleLock
	if cfg.Redis.URL != "" {
		client, err := initRedisFunc(ctx, cfg.Redis.URL)
		if err != nil {
			log.WithError(err).Warn("Redis unavailable, running without cycle lock")
		} else {
			defer client.Close()
			lock = cache.NewCycleLock(client, cache.DefaultLockKey, cfg.Redis.LockTTL)
			log.Info("Connected to Redis")
		}
	}

	fetcher := provider.NewCoinGeckoProvider(tracer, provider.Options{
		BaseURL: cfg.CoinGecko.BaseURL,
		Params: provider.MarketsParams{
			VsCurrency:            cfg.CoinGecko.VsCurrency,
			Order:                 cfg.CoinGecko.Order,
			PerPage:               cfg.CoinGecko.PerPage,
			Page:                  cfg.CoinGecko.Page,
			Sparkline:             cfg.CoinGecko.Sparkline,
			PriceChangePercentage: cfg.CoinGecko.PriceChangePercentage,
		},
		ConnectTimeout:    cfg.CoinGecko.ConnectTimeout,
		ReadTimeout:       cfg.CoinGecko.ReadTimeout,
		RequestsPerMinute: cfg.CoinGecko.RequestsPerMinute,
		APILog:            logs.CoinGecko,
		Sleep:             sleepFunc,
	})

	analyzer := sentiment.NewAnalyzer(tracer,
		newLLMClientFunc(cfg.LLM.APIKey, cfg.LLM.BaseURL),
		tweet.NewFormatter(cfg.Tweet.MinLength, cfg.Tweet.HardStopLength),
		sentiment.Options{
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
			APILog:    logs.LLM,
			Sleep:     sleepFunc,
		},
	)

	cycles := service.NewCycleService(tracer, fetcher, analyzer, pub, lock, status, logs.App.WithComponent("cycle"))
	cycleJob := job.NewCycleJob(tracer, cycles, job.Options{
		Interval:     cfg.Cycle.Interval(),
		PenaltySleep: cfg.Cycle.PenaltySleep,
		Notifier:     notifier,
		Status:       status,
		Sleep:        sleepFunc,
	}, logs.App.WithComponent("job"))

	startJobFunc(cycleJob, ctx)
	log.Info("Bot stopped by signal")
	return nil
}

func newStatusServer(cfg *config.Config, tracer trace.Tracer, status *service.StatusTracker) *http.Server {
	r := newRouterFunc()
	r.Use(otelgin.Middleware(tracing.ServiceName))
	handler.New(tracer, status).RegisterRoutes(r, cfg.Status.APIKey)

	return &http.Server{
		Addr:              cfg.Status.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
