package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"maestro/internal/adapter"
	"maestro/internal/config"
	"maestro/internal/logging"
	"maestro/internal/runtime"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	cmd.Flags().String("addr", "", "listen address (default :8099)")
	cmd.Flags().String("adapters", "", "adapter catalogue file (default adapters.yaml)")
	cmd.Flags().String("log-level", "", "debug|info|warn|error")
	cmd.Flags().String("config", "", "configuration file")
	cmd.Flags().Bool("orchestrator-mode", false, "let an orchestrator agent override GOAP decisions")
	cmd.Flags().Int("consensus", 0, "reviewer votes per review round")

	_ = viper.BindPFlag("http_addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("adapters_file", cmd.Flags().Lookup("adapters"))
	_ = viper.BindPFlag("log_level", cmd.Flags().Lookup("log-level"))
	_ = viper.BindPFlag("orchestrator_mode", cmd.Flags().Lookup("orchestrator-mode"))
	_ = viper.BindPFlag("review_consensus_count", cmd.Flags().Lookup("consensus"))

	return cmd
}

func runServe(cmd *cobra.Command) error {
	cfg := config.Default()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadFile(path, cfg)
		if err != nil {
			return err
		}
		cfg = loaded
	} else if err := viper.ReadInConfig(); err == nil {
		if err := viper.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}

	// flags and env win over the file
	if v := viper.GetString("http_addr"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := viper.GetString("adapters_file"); v != "" {
		cfg.AdaptersFile = v
	}
	if v := viper.GetString("log_level"); v != "" {
		cfg.LogLevel = v
	}
	if viper.IsSet("orchestrator_mode") {
		cfg.OrchestratorMode = viper.GetBool("orchestrator_mode")
	}
	if v := viper.GetInt("review_consensus_count"); v > 0 {
		cfg.ReviewConsensusCount = v
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	logging.SetDefaultHandler(logging.NewHandler(os.Stderr, logging.ParseLevel(cfg.LogLevel)))

	catalogue, err := adapter.LoadCatalogue(cfg.AdaptersFile)
	if err != nil {
		return fmt.Errorf("load adapter catalogue: %w", err)
	}

	rt, err := runtime.New(cfg, catalogue)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt.Start(ctx)
	fmt.Printf("%s maestro listening on %s (%d adapters)\n",
		green("▶"), bold(cfg.HTTPAddr), len(catalogue.Adapters))

	<-ctx.Done()
	fmt.Printf("%s shutting down\n", yellow("■"))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return rt.Stop(shutdownCtx)
}
