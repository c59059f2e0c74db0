package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"microbatch/checkpoint"
	_ "microbatch/checkpoint/boltstore"
	_ "microbatch/checkpoint/redisstore"
	"microbatch/internal/config"
	"microbatch/internal/engine"
	"microbatch/internal/logging"
	"microbatch/internal/transport"
)

func runCmd() *cobra.Command {
	var cfg engine.Config
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the stream until interrupted",
		Long: `Run the stream until interrupted.

Checkpointed batches still unpruned at startup are replayed into the sinks
first. checkpoint.retention bounds that history: unset keeps ten batch
intervals, a negative value keeps every checkpoint.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := engine.Bootstrap(cfg)
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			runErr := e.Run(ctx)
			if err := e.Close(); err != nil {
				logging.For("cli").Warn("shutdown", "err", err)
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&cfg.SpecPath, "spec", "pipeline.yml", "stream spec file")
	cmd.Flags().IntVar(&cfg.GRPCPort, "grpc-port", 0, "override engine.grpc_port")
	cmd.Flags().IntVar(&cfg.MetricsPort, "metrics-port", 0, "override engine.metrics_port")
	return cmd
}

func checkpointsCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Print the checkpointed batches in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sf, _, err := config.LoadStreamSpec(path)
			if err != nil {
				return err
			}
			st, err := checkpoint.Open(sf.Checkpoint.Backend, checkpoint.Options{
				Path:      sf.Checkpoint.Path,
				RedisAddr: sf.Checkpoint.Redis.Addr,
				RedisDB:   sf.Checkpoint.Redis.DB,
				KeyPrefix: sf.Checkpoint.Redis.KeyPrefix,
			})
			if err != nil {
				return err
			}
			defer st.Close()

			ds, err := st.Replay(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range ds {
				fmt.Fprintf(out, "%s records=%d\n", d.Time.Format(time.RFC3339Nano), d.RecordCount())
				if desc := d.Description(); desc != "" {
					fmt.Fprintln(out, desc)
				}
			}
			fmt.Fprintf(out, "%d batches\n", len(ds))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "spec", "pipeline.yml", "stream spec file")
	return cmd
}

func healthCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the serving status of a running engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := transport.Dial(addr)
			if err != nil {
				return err
			}
			defer cc.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			st, err := transport.Check(ctx, cc)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), st.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:7070", "engine gRPC address")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	return cmd
}
