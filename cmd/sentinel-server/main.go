package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goSentinel "github.com/MrEthical07/goSentinel"
	"github.com/MrEthical07/goSentinel/httpapi"
	"github.com/MrEthical07/goSentinel/internal/bootstrap"
	promexport "github.com/MrEthical07/goSentinel/metrics/export/prometheus"
)

func main() {
	var (
		addr     = flag.String("addr", "", "listen address; overrides SENTINEL_HTTP_ADDR")
		metrics  = flag.Bool("metrics", true, "serve Prometheus metrics at /metrics")
		envUsage = flag.Bool("env", false, "print recognized engine environment variables and exit")
	)
	flag.Parse()

	if *envUsage {
		fmt.Println(goSentinel.ConfigEnvUsage())
		return
	}

	if err := run(*addr, *metrics); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(addr string, withMetrics bool) error {
	env, err := bootstrap.LoadEnv()
	if err != nil {
		return err
	}
	logger := bootstrap.NewLogger(env.LogLevel, os.Stdout)
	slog.SetDefault(logger)

	cfg, err := goSentinel.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, env, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := httpapi.Options{Logger: logger, TrustProxy: env.TrustProxy}
	if withMetrics {
		opts.Metrics = promexport.Handler(rt.Engine)
	}

	if addr == "" {
		addr = env.HTTPAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewRouter(rt.Engine, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "backend", env.Backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
