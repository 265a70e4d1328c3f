// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wq-cluster/wqd/internal/admin"
	"github.com/wq-cluster/wqd/internal/cluster"
	"github.com/wq-cluster/wqd/internal/liveness"
	"github.com/wq-cluster/wqd/internal/queue"
	"github.com/wq-cluster/wqd/internal/server"
	"github.com/wq-cluster/wqd/internal/spool"
	"github.com/wq-cluster/wqd/internal/users"
	"github.com/wq-cluster/wqd/pkg/config"
	"github.com/wq-cluster/wqd/pkg/logging"
	"github.com/wq-cluster/wqd/pkg/metrics"
)

var (
	port         int
	clusterFile  string
	spoolDir     string
	tickInterval string
	restartDelay string
	adminAddr    string
	logLevel     string
	logFormat    string

	rootCmd = &cobra.Command{
		Use:   "wqd",
		Short: "work-queue scheduler daemon",
		Long:  "wqd schedules jobs across a small compute cluster by cores, hosts, nodes, or group tags.",
		RunE:  run,
	}
)

func init() {
	defaults := config.NewDefault()

	rootCmd.Flags().IntVar(&port, "port", defaults.Port, "TCP port to listen on (env: WQ_PORT)")
	rootCmd.Flags().StringVar(&clusterFile, "cluster-file", defaults.ClusterFile, "cluster description file (env: WQ_CLUSTER_FILE)")
	rootCmd.Flags().StringVar(&spoolDir, "spool-dir", defaults.SpoolDir, "spool directory (env: WQ_SPOOL_DIR)")
	rootCmd.Flags().StringVar(&tickInterval, "tick-interval", defaults.TickInterval.String(), "refresh tick interval (env: WQ_TICK_INTERVAL)")
	rootCmd.Flags().StringVar(&restartDelay, "restart-delay", defaults.RestartDelay.String(), "delay before reopening a failed listener (env: WQ_RESTART_DELAY)")
	rootCmd.Flags().StringVar(&adminAddr, "admin-addr", defaults.AdminAddr, "address for the read-only admin HTTP endpoint, empty disables it (env: WQ_ADMIN_ADDR)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", defaults.LogLevel, "debug, info, warn, or error (env: WQ_LOG_LEVEL)")
	rootCmd.Flags().StringVar(&logFormat, "log-format", defaults.LogFormat, "text or json (env: WQ_LOG_FORMAT)")
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.NewDefault()
	cfg.Load()

	if cmd.Flags().Changed("port") {
		cfg.Port = port
	}
	if cmd.Flags().Changed("cluster-file") {
		cfg.ClusterFile = clusterFile
	}
	if cmd.Flags().Changed("spool-dir") {
		cfg.SpoolDir = spoolDir
	}
	if cmd.Flags().Changed("admin-addr") {
		cfg.AdminAddr = adminAddr
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	if cmd.Flags().Changed("tick-interval") {
		d, err := parseDurationFlag(tickInterval)
		if err != nil {
			return fmt.Errorf("invalid --tick-interval: %w", err)
		}
		cfg.TickInterval = d
	}
	if cmd.Flags().Changed("restart-delay") {
		d, err := parseDurationFlag(restartDelay)
		if err != nil {
			return fmt.Errorf("invalid --restart-delay: %w", err)
		}
		cfg.RestartDelay = d
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.NewLogger(&logging.Config{
		Level:  logging.LevelFromString(cfg.LogLevel),
		Format: logging.FormatFromString(cfg.LogFormat),
		Output: os.Stdout,
	})

	c, err := cluster.Load(cfg.ClusterFile)
	if err != nil {
		return fmt.Errorf("loading cluster file: %w", err)
	}

	sp, err := spool.New(cfg.SpoolDir)
	if err != nil {
		return fmt.Errorf("opening spool: %w", err)
	}

	userRegistry, err := users.Load(spoolUsersPath(cfg.SpoolDir))
	if err != nil {
		return fmt.Errorf("loading user limits: %w", err)
	}

	q := queue.New(c, userRegistry, sp, liveness.ProcFS{})

	if err := q.Bootstrap(func(filename string, skipErr error) {
		logging.LogError(log, skipErr, "spool replay", "file", filename)
	}); err != nil {
		return fmt.Errorf("bootstrapping queue from spool: %w", err)
	}

	collector := metrics.NewInMemoryCollector()
	srv := server.New(cfg, q, log, collector)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.AdminAddr != "" {
		adminSrv := admin.New(cfg.AdminAddr, q, collector, srv.Ready())
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil {
				logging.LogError(log, err, "admin endpoint")
			}
		}()
	}

	log.Info("starting wqd", "port", cfg.Port, "cluster_file", cfg.ClusterFile, "spool_dir", cfg.SpoolDir)
	return srv.Run(ctx)
}

func spoolUsersPath(spoolDir string) string {
	return filepath.Join(spoolDir, "users.yaml")
}

func parseDurationFlag(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
