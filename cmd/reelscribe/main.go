package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kikiluvv/reelscribe/internal/config"
	"github.com/kikiluvv/reelscribe/internal/logging"
	"github.com/kikiluvv/reelscribe/internal/pipeline"
)

var (
	cfgFile string
	verbose bool

	logCloser io.Closer = io.NopCloser(nil)
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logCloser.Close()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "reelscribe",
	Short:        "reelscribe - on-screen text and speech extraction for short-form video",
	Long:         "Samples frames, recognizes overlay text, transcribes audio and merges both into one record per video.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load config
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		// Initialize logging
		closer, err := logging.Init(verbose, cfg.LogFile)
		logCloser = closer
		if err != nil {
			log.Warn().Err(err).Str("file", cfg.LogFile).Msg("log file unavailable, logging to console only")
		}

		// Store config in context
		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./reelscribe.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	runCmd.Flags().StringP("input", "i", "", "directory of .mp4 files (overrides input_dir)")
	runCmd.Flags().Bool("resume", true, "skip videos already in the record store")
	runCmd.Flags().Int("max", 0, "process at most this many videos")
	runCmd.Flags().IntP("workers", "w", 0, "parallel videos (overrides pipeline.workers)")
	runCmd.Flags().Int("batch-size", 0, "videos per batch (overrides pipeline.batch_size)")

	inspectCmd.Flags().Bool("keep-frames", false, "leave sampled frames on disk")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process every video in the input directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		if v, _ := cmd.Flags().GetString("input"); v != "" {
			cfg.InputDir = v
		}
		if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
			cfg.Pipeline.Workers = v
		}
		if v, _ := cmd.Flags().GetInt("batch-size"); v > 0 {
			cfg.Pipeline.BatchSize = v
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		resume, _ := cmd.Flags().GetBool("resume")
		maxVideos, _ := cmd.Flags().GetInt("max")

		deps, err := pipeline.NewDeps(cmd.Context(), log.Logger, cfg, true)
		if err != nil {
			return err
		}
		defer deps.Close()

		pipe, err := pipeline.New(log.Logger, cfg, deps)
		if err != nil {
			return err
		}

		report, err := pipe.Run(cmd.Context(), pipeline.RunOptions{
			Resume:    resume,
			MaxVideos: maxVideos,
		})
		if err != nil {
			return err
		}

		cliLog := logging.WithComponent("cli")
		cliLog.Info().
			Str("run_id", report.RunID).
			Int("persisted", report.Persisted).
			Int("skipped", report.Skipped).
			Str("records", cfg.Records.CSVFile).
			Msg("run complete")
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [video]",
	Short: "Process one video and print its record as JSON without persisting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		if keep, _ := cmd.Flags().GetBool("keep-frames"); keep {
			cfg.Pipeline.KeepFrames = true
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, err := os.Stat(args[0]); err != nil {
			return err
		}

		deps, err := pipeline.NewDeps(cmd.Context(), log.Logger, cfg, false)
		if err != nil {
			return err
		}
		defer deps.Close()

		pipe, err := pipeline.New(log.Logger, cfg, deps)
		if err != nil {
			return err
		}

		outcome := pipe.ProcessVideo(cmd.Context(), args[0])

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "./reelscribe.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		cliLog := logging.WithComponent("cli")
		cliLog.Info().Str("path", path).Msg("wrote default config")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (secrets omitted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer enc.Close()
		return enc.Encode(cfg)
	},
}
