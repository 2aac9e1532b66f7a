package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"citynav/internal/app"
	"citynav/internal/config"
	"citynav/internal/telemetry"
	"citynav/internal/world"
)

func rootCmd() *cobra.Command {
	var (
		configFile string
		worldFile  string
		addr       string
	)
	c := &cobra.Command{
		Use:          "citynav",
		Short:        "city navigation server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := telemetry.WrapLogger(log.Default())
			cfg, err := loadConfig(configFile, logger)
			if err != nil {
				return err
			}
			if worldFile != "" {
				cfg.Server.World = worldFile
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx, app.Config{Config: cfg, Logger: logger})
		},
	}
	c.Flags().StringVar(&configFile, "config", "", "config file (.json, .yaml or .yml)")
	c.Flags().StringVar(&worldFile, "world", "", "world snapshot (.json or .hjson), overrides server.world")
	c.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")

	c.AddCommand(generateCmd(), validateCmd())
	return c
}

func loadConfig(path string, logger telemetry.Logger) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	for _, warning := range cfg.ApplyEnv(os.LookupEnv) {
		logger.Printf("%s", warning)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration after environment overrides: %w", err)
	}
	return cfg, nil
}

func generateCmd() *cobra.Command {
	gen := world.DefaultGenerateConfig()
	var out string
	c := &cobra.Command{
		Use:   "generate",
		Short: "write a generated city snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.MarshalIndent(world.Generate(gen), "", "  ")
			if err != nil {
				return fmt.Errorf("marshal world: %w", err)
			}
			data = append(data, '\n')
			if out == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	c.Flags().StringVar(&out, "out", "", "output path (stdout when empty)")
	c.Flags().StringVar(&gen.Seed, "seed", gen.Seed, "generator seed")
	c.Flags().Float64Var(&gen.Width, "width", gen.Width, "world width")
	c.Flags().Float64Var(&gen.Height, "height", gen.Height, "world height")
	c.Flags().Float64Var(&gen.BlockSize, "block", gen.BlockSize, "road spacing, 0 for no roads")
	c.Flags().IntVar(&gen.BuildingsPerBlock, "buildings", gen.BuildingsPerBlock, "buildings per block")
	return c
}

func validateCmd() *cobra.Command {
	var configFile, worldFile string
	c := &cobra.Command{
		Use:   "validate",
		Short: "check a config file and world snapshot without serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if configFile != "" {
				if _, err := config.Load(configFile); err != nil {
					return err
				}
				fmt.Fprintf(out, "config %s ok\n", configFile)
			}
			if worldFile != "" {
				w, err := world.Load(worldFile)
				if err != nil {
					return err
				}
				s := world.Summarize(w)
				fmt.Fprintf(out, "world %s ok: %.0fx%.0f, %d buildings (%d invalid), %d roads\n",
					worldFile, s.Width, s.Height, s.Buildings, s.InvalidBuildings, s.Roads)
			}
			return nil
		},
	}
	c.Flags().StringVar(&configFile, "config", "", "config file")
	c.Flags().StringVar(&worldFile, "world", "", "world snapshot")
	return c
}
