// Command sentinel-maint runs one maintenance task and exits. It is meant to
// be invoked by cron, a Kubernetes CronJob or any other external scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goSentinel "github.com/MrEthical07/goSentinel"
	"github.com/MrEthical07/goSentinel/internal/bootstrap"
)

// tasks maps a task name to the engine hook it runs.
var tasks = map[string]func(ctx context.Context, e *goSentinel.Engine, olderThan time.Duration) (int64, error){
	"sweep-idle": func(ctx context.Context, e *goSentinel.Engine, _ time.Duration) (int64, error) {
		n, err := e.SweepIdle(ctx)
		return int64(n), err
	},
	"sweep-expired": func(ctx context.Context, e *goSentinel.Engine, _ time.Duration) (int64, error) {
		n, err := e.SweepExpired(ctx)
		return int64(n), err
	},
	"purge-audit": func(ctx context.Context, e *goSentinel.Engine, olderThan time.Duration) (int64, error) {
		return e.PurgeAuditLog(ctx, olderThan)
	},
	"unlock-expired": func(ctx context.Context, e *goSentinel.Engine, _ time.Duration) (int64, error) {
		n, err := e.UnlockExpiredAccounts(ctx)
		return int64(n), err
	},
}

func taskNames() []string {
	return []string{"sweep-idle", "sweep-expired", "purge-audit", "unlock-expired", "all"}
}

func main() {
	var (
		task      = flag.String("task", "", "one of: "+strings.Join(taskNames(), ", "))
		olderThan = flag.Duration("older-than", 0, "purge-audit window; 0 uses SENTINEL_AUDIT_RETENTION")
		timeout   = flag.Duration("timeout", 5*time.Minute, "overall deadline")
	)
	flag.Parse()

	if err := run(*task, *olderThan, *timeout); err != nil {
		slog.Error("maintenance failed", "task", *task, "error", err)
		os.Exit(1)
	}
}

func run(task string, olderThan, timeout time.Duration) error {
	names, err := resolve(task)
	if err != nil {
		return err
	}

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

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rt, err := bootstrap.Open(ctx, env, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	return runTasks(ctx, rt.Engine, names, olderThan, logger)
}

func resolve(task string) ([]string, error) {
	if task == "all" {
		return []string{"unlock-expired", "sweep-idle", "sweep-expired", "purge-audit"}, nil
	}
	if _, ok := tasks[task]; !ok {
		return nil, fmt.Errorf("unknown task %q (want one of: %s)", task, strings.Join(taskNames(), ", "))
	}
	return []string{task}, nil
}

func runTasks(ctx context.Context, e *goSentinel.Engine, names []string, olderThan time.Duration, logger *slog.Logger) error {
	for _, name := range names {
		start := time.Now()
		n, err := tasks[name](ctx, e, olderThan)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		logger.Info("task finished", "task", name, "affected", n, "took", time.Since(start).Round(time.Millisecond))
	}
	return nil
}
