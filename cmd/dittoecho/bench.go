package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittoecho/internal/logger"
	"github.com/marmos91/dittoecho/pkg/bench"
	"github.com/marmos91/dittoecho/pkg/config"
	"github.com/spf13/cobra"
)

var (
	benchAddr    string
	benchClients int
	benchRounds  int
	benchOut     string
)

// benchCmd drives concurrent clients against an echo server.
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark an echo server",
	Long: `Open many concurrent connections against an echo server, send one probe
on each, and verify the echoed bytes.

Each round starts all clients together. The output has one line per client
slot, "<slot> <average microseconds>", averaged over the rounds.`,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().StringVar(&benchAddr, "addr", "", "Server address (default: bench.address from config)")
	benchCmd.Flags().IntVar(&benchClients, "clients", config.DefaultBenchClients, "Concurrent clients per round")
	benchCmd.Flags().IntVar(&benchRounds, "rounds", config.DefaultBenchRounds, "Number of rounds")
	benchCmd.Flags().StringVar(&benchOut, "out", "", "Result file, - for stdout (default: bench.output from config)")
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Bench.Address = benchAddr
	}
	if flags.Changed("clients") {
		cfg.Bench.Clients = benchClients
	}
	if flags.Changed("rounds") {
		cfg.Bench.Rounds = benchRounds
	}
	if flags.Changed("out") {
		cfg.Bench.Output = benchOut
	}

	if err := finishConfig(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := config.BenchOptions(cfg)
	logger.Info("Benchmarking %s: %d clients x %d rounds", opts.Address, opts.Clients, opts.Rounds)

	result, err := bench.Run(ctx, opts)
	if err != nil {
		return fmt.Errorf("benchmark failed: %w", err)
	}

	if err := writeResult(cfg.Bench.Output, result); err != nil {
		return err
	}

	logger.Info("%s", result.Summary())
	return nil
}

func writeResult(path string, result *bench.Result) error {
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create result file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := result.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}

	if path != "-" {
		logger.Info("Results written to %s", path)
	}
	return nil
}
