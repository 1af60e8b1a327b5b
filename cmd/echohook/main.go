package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"echohook/internal/capture"
	"echohook/internal/config"
	"echohook/internal/dispatch"
	"echohook/internal/events"
	"echohook/internal/metrics"
	"echohook/internal/proxy"
	"echohook/internal/ratelimit"
	"echohook/internal/redis"
	"echohook/internal/replay"
	"echohook/internal/responses"
	"echohook/internal/server"
	"echohook/internal/storage"
)

var version = "dev"

var (
	flagEnvFile   = pflag.StringSlice("env-file", []string{".env"}, "Env files to load before reading WEBHOOK_* variables")
	flagLogFormat = pflag.String("log-format", "json", "The log format (json|text)")
	flagLogLevel  = pflag.String("log-level", slog.LevelInfo.String(),
		fmt.Sprintf(
			"The log level (%s>%s>%s>%s) (not case sensitive, from least to most restrictive)",
			slog.LevelDebug.String(),
			slog.LevelInfo.String(),
			slog.LevelWarn.String(),
			slog.LevelError.String(),
		))
)

func main() {
	pflag.Parse()

	//
	// logger setup
	//
	logLeveler := new(slog.LevelVar)
	if err := logLeveler.UnmarshalText([]byte(*flagLogLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	opts := &slog.HandlerOptions{Level: logLeveler}
	switch *flagLogFormat {
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)))
	default:
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, opts)))
	}
	logger := slog.Default()

	cfg, err := config.NewConfig(*flagEnvFile...)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logLeveler, logger); err != nil {
		logger.Error("echohook exiting with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logLeveler *slog.LevelVar, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	clock := clockwork.NewRealClock()
	reg := metrics.New()
	broker := events.NewBroker()
	group, groupCtx := errgroup.WithContext(ctx)

	//
	// rate limit windows live in redis when configured, in process otherwise
	//
	var counter ratelimit.Counter
	if cfg.RedisAddr != "" {
		rs := redis.New(cfg, logger)
		if err := rs.Start(ctx); err != nil {
			return err
		}
		defer rs.Stop()
		counter = ratelimit.NewRedisCounter(rs.Client)
	} else {
		mem := ratelimit.NewMemoryCounter(clock)
		group.Go(func() error { return mem.Run(groupCtx) })
		counter = mem
	}
	limiter := &ratelimit.Limiter{
		RequestsPerMinute: cfg.RequestsPerMinute,
		Counter:           counter,
		Clock:             clock,
		Logger:            logger.With("component", "ratelimit"),
	}

	dispatcher := dispatch.New(dispatch.Deps{
		Requests:  db,
		Responses: responses.New(db, clock),
		Capturer:  capture.New(capture.WithMaxBodyBytes(cfg.MaxBodyBytes)),
		Limiter:   limiter,
		Events:    broker,
		Metrics:   reg,
		Clock:     clock,
	}, logger)

	var replayer *replay.Replayer
	if cfg.ReplayEnabled {
		replayer = replay.New(db, nil, cfg.ReplayRPS, reg, logger)
	}

	srv, err := server.New(cfg, server.Deps{
		Dispatcher: dispatcher,
		Limiter:    limiter,
		Events:     broker,
		Replayer:   replayer,
		Metrics:    reg,
		Clock:      clock,
		Version:    version,
	}, logger)
	if err != nil {
		return err
	}
	group.Go(func() error { return srv.Start(groupCtx) })

	if cfg.ProxyAddr != "" {
		proxySrv := &http.Server{
			Addr:              cfg.ProxyAddr,
			Handler:           proxy.NewProxy(cfg.ProxyTenant, dispatcher, reg, logger),
			ReadHeaderTimeout: 15 * time.Second,
		}
		group.Go(func() error {
			logger.Info("capture proxy listening", "addr", cfg.ProxyAddr, "tenant", cfg.ProxyTenant)
			if err := proxySrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
			defer cancel()
			return proxySrv.Shutdown(shutdownCtx)
		})
	}

	group.Go(func() error {
		watchLogLevel(groupCtx, logLeveler)
		return nil
	})

	return group.Wait()
}

// watchLogLevel lowers verbosity on SIGUSR1 and raises it on SIGUSR2.
func watchLogLevel(ctx context.Context, logLeveler *slog.LevelVar) {
	sigs := []os.Signal{syscall.SIGUSR1, syscall.SIGUSR2}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Reset(sigs...)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			level := logLeveler.Level()
			switch {
			case sig == syscall.SIGUSR1 && level < slog.LevelError:
				logLeveler.Set(level + 4)
			case sig == syscall.SIGUSR2 && level > slog.LevelDebug:
				logLeveler.Set(level - 4)
			}
			slog.Info("log level changed", "log_level", logLeveler.Level().String())
		}
	}
}
