// Package main provides the addition-rnn binary: train a sequence-to-sequence
// network to add integers, or write held-out problem shards.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"
	"github.com/spf13/cobra"

	"addition-rnn/internal/config"
	"addition-rnn/internal/dataset"
	"addition-rnn/internal/pkg/logger"
	"addition-rnn/internal/trainer"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "addition-rnn",
		Short:        "Train an encoder-decoder RNN to add integers",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "configs/addition.yaml", "path to YAML config")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")

	rootCmd.AddCommand(trainCmd(), generateCmd(), &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("addition-rnn %s (commit %s)\n", version, commit)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func trainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train and evaluate the model for the configured number of epochs",
		RunE:  runTrain,
	}
	cmd.Flags().Int64("seed", 0, "PRNG seed")
	cmd.Flags().Int("num-digits", 0, "maximum digits per operand")
	cmd.Flags().Int("batch-size", 0, "problems per training batch")
	cmd.Flags().Int("total-batches", 0, "training batches per epoch")
	cmd.Flags().Int("epochs", 0, "number of epochs")
	cmd.Flags().Int("hidden-size", 0, "recurrent hidden units")
	cmd.Flags().Int("test-size", 0, "held-out problems per evaluation")
	cmd.Flags().Float64("learning-rate", 0, "Adam learning rate")
	cmd.Flags().Int("log-every", 0, "log training progress every N batches")
	cmd.Flags().String("eval-decoding", "", "evaluation decoding (greedy, teacher)")
	cmd.Flags().String("test-root", "", "evaluate on problem shards under this directory")
	return cmd
}

func loadConfig(cmd *cobra.Command, o config.Overrides) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	o.LogLevel, _ = cmd.Flags().GetString("log-level")
	o.LogFormat, _ = cmd.Flags().GetString("log-format")
	cfg.ApplyOverrides(o)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// seedOverride returns the --seed value only when the flag was given.
func seedOverride(cmd *cobra.Command) *int64 {
	if !cmd.Flags().Changed("seed") {
		return nil
	}
	seed, _ := cmd.Flags().GetInt64("seed")
	return &seed
}

func runTrain(cmd *cobra.Command, _ []string) error {
	var o config.Overrides
	o.Seed = seedOverride(cmd)
	o.NumDigits, _ = cmd.Flags().GetInt("num-digits")
	o.BatchSize, _ = cmd.Flags().GetInt("batch-size")
	o.TotalBatches, _ = cmd.Flags().GetInt("total-batches")
	o.Epochs, _ = cmd.Flags().GetInt("epochs")
	o.HiddenSize, _ = cmd.Flags().GetInt("hidden-size")
	o.TestSize, _ = cmd.Flags().GetInt("test-size")
	o.LearningRate, _ = cmd.Flags().GetFloat64("learning-rate")
	o.LogEvery, _ = cmd.Flags().GetInt("log-every")
	o.EvalDecoding, _ = cmd.Flags().GetString("eval-decoding")
	o.TestRoot, _ = cmd.Flags().GetString("test-root")

	cfg, err := loadConfig(cmd, o)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format).WithRun(uuid.NewString())
	log.Info("starting training run",
		"version", version,
		"cpu", cpuid.CPU.BrandName,
		"physical_cores", cpuid.CPU.PhysicalCores,
		"logical_cores", cpuid.CPU.LogicalCores,
		"num_digits", cfg.NumDigits,
		"epochs", cfg.Epochs,
		"total_batches", cfg.TotalBatches,
		"batch_size", cfg.BatchSize,
		"seed", cfg.Seed,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCfg := trainer.RunConfig{
		NumDigits:         cfg.NumDigits,
		FeatureVectorSize: cfg.FeatureVectorSize,
		BatchSize:         cfg.BatchSize,
		TotalBatches:      cfg.TotalBatches,
		Epochs:            cfg.Epochs,
		HiddenSize:        cfg.HiddenSize,
		TestSize:          cfg.TestSize,
		LearningRate:      cfg.LearningRate,
		LogEvery:          cfg.LogEvery,
		Seed:              cfg.Seed,
		EvalDecoding:      cfg.EvalDecoding,
	}

	if cfg.TestRoot != "" {
		problems, err := dataset.LoadShards(ctx, cfg.TestRoot)
		if err != nil {
			return err
		}
		if len(problems) == 0 {
			return fmt.Errorf("no problems found under %s", cfg.TestRoot)
		}
		log.Info("loaded held-out shards", "root", cfg.TestRoot, "problems", len(problems))
		runCfg.TestSet = problems
	}

	reports, err := trainer.Run(ctx, runCfg, cmd.OutOrStdout(), log)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	if n := len(reports); n > 0 {
		last := reports[n-1]
		log.Info("training complete",
			"epochs", n,
			"accuracy_pct", last.Accuracy(),
			"baseline_pct", last.BaselinePercent,
		)
	}
	return nil
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a shard of held-out addition problems",
		RunE:  runGenerate,
	}
	cmd.Flags().String("out", "", "directory receiving the shard (required)")
	cmd.Flags().Int("count", 1000, "problems in the shard")
	cmd.Flags().Int64("seed", 0, "PRNG seed")
	cmd.Flags().Int("num-digits", 0, "maximum digits per operand")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	var o config.Overrides
	o.Seed = seedOverride(cmd)
	o.NumDigits, _ = cmd.Flags().GetInt("num-digits")
	out, _ := cmd.Flags().GetString("out")
	count, _ := cmd.Flags().GetInt("count")
	if count <= 0 {
		return fmt.Errorf("count must be > 0 (got %d)", count)
	}

	cfg, err := loadConfig(cmd, o)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format).WithRun(uuid.NewString())

	gen, err := dataset.NewGenerator(dataset.GeneratorOptions{
		NumDigits:    cfg.NumDigits,
		BatchSize:    cfg.BatchSize,
		TotalBatches: cfg.TotalBatches,
		Seed:         cfg.Seed,
	})
	if err != nil {
		return err
	}
	problems, err := gen.GenerateTest(count)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(out, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}
	path, err := dataset.NextShardPath(out)
	if err != nil {
		return err
	}
	if err := dataset.WriteShard(path, problems); err != nil {
		return err
	}

	log.Info("wrote shard", "path", path, "problems", len(problems), "num_digits", cfg.NumDigits)
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
