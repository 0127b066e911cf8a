package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/Digital-Creators-Team/slot-progressives/config"
	"github.com/Digital-Creators-Team/slot-progressives/game"
	"github.com/Digital-Creators-Team/slot-progressives/persistence"
	"github.com/Digital-Creators-Team/slot-progressives/pkg/progressive"
	"github.com/Digital-Creators-Team/slot-progressives/wire"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var version = getVersion()

// getVersion returns the module version from build info
func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "progressived",
		Short: "Progressive jackpot engine for slot machines",
		Long: `Progressive jackpot engine for slot machines.

It keeps standalone, shared and host-linked progressive pools, takes wager contributions,
triggers and awards wins, and serves the game runtime and operator console over HTTP.

Example:
  progressived serve --config config/config.yaml
  progressived levels --manifest config/manifest.yaml`,
		Version: version,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "config/config.yaml", "Configuration file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the progressive service",
		RunE:  runServe,
	}

	levelsCmd := &cobra.Command{
		Use:   "levels",
		Short: "Print the level catalog built from the game manifest",
		Long: `Print the progressive levels the manifest produces, with the device ids the
service assigns them. The manifest path defaults to progressive.manifest_path from the config.`,
		RunE: runLevels,
	}
	levelsCmd.Flags().StringP("manifest", "m", "", "Manifest file or directory (overrides the config)")
	levelsCmd.Flags().String("pool-creation", "", "Pool creation type (overrides the config)")

	rootCmd.AddCommand(serveCmd, levelsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, cleanup, err := wire.InitializeRuntime(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}
	defer cleanup()
	logger := rt.Logger

	// Replay hits interrupted by the last shutdown before taking new play.
	if err := rt.Game.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to recover progressive transactions")
		return err
	}

	rt.Linked.Start(ctx)
	if err := rt.Consumer.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start linked host consumer")
		return err
	}

	logger.Info().Str("version", version).Msg("Progressive service started")
	return rt.App.RunWithContext(ctx)
}

func runLevels(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	manifestPath, _ := cmd.Flags().GetString("manifest")
	poolCreation, _ := cmd.Flags().GetString("pool-creation")

	cfg := config.Default()
	if manifestPath == "" || poolCreation == "" {
		if loaded, err := config.Load(cfgPath); err == nil {
			cfg = loaded
		} else if manifestPath == "" {
			return err
		}
	}
	manifestPath = lo.Ternary(manifestPath != "", manifestPath, cfg.Progressive.ManifestPath)
	poolCreation = lo.Ternary(poolCreation != "", poolCreation, cfg.Progressive.PoolCreationType)
	if manifestPath == "" {
		return fmt.Errorf("no manifest configured")
	}

	manifest, err := game.LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	logger := zerolog.Nop()
	levels, err := progressive.NewLevelProvider(ctx, persistence.NewStore(persistence.NewMemoryBackend(), logger), progressive.PoolCreationPolicy(poolCreation), logger)
	if err != nil {
		return err
	}
	if err := levels.LoadProgressiveLevels(ctx, manifest); err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tGAME\tDENOMS\tBET\tPACK\tLEVEL\tNAME\tTYPE\tTRIGGER\tSTART\tRESET\tMAX\tRATE")
	for _, l := range levels.GetProgressiveLevels() {
		denoms := lo.Map(l.Denominations, func(d int64, _ int) string { return strconv.FormatInt(d, 10) })
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			l.DeviceID, l.GameID, strings.Join(denoms, ","), lo.Ternary(l.BetOption == "", "-", l.BetOption),
			l.PackName, l.LevelID, l.LevelName, l.LevelType, l.TriggerControl,
			l.InitialValue, l.ResetValue, l.MaximumValue, l.IncrementRate.String())
	}
	return w.Flush()
}
