package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spaghettifunk/voxel/engine"
	"github.com/spaghettifunk/voxel/engine/config"
	"github.com/spaghettifunk/voxel/testbed"
)

const defaultConfigPath = "voxel.toml"

var (
	configPath string
	forceWrite bool

	rootCmd = &cobra.Command{
		Use:           "voxel",
		Short:         "Frame graph driven chunk streaming demo",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Open the window and stream chunks until it is closed",
		RunE:  runEngine,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect and create config files",
	}
	configInitCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default config",
		Args:  cobra.MaximumNArgs(1),
		RunE:  initConfig,
	}
	configCheckCmd = &cobra.Command{
		Use:   "check [path]",
		Short: "Validate a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  checkConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path of the TOML config file")
	configInitCmd.Flags().BoolVarP(&forceWrite, "force", "f", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configCheckCmd)
	rootCmd.AddCommand(runCmd, configCmd)
}

func pathArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return configPath
}

func runEngine(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()
	return run(ctx, &engine.ApplicationConfig{ConfigPath: configPath})
}

func run(ctx context.Context, ac *engine.ApplicationConfig) error {
	tb := testbed.NewTestGame(ac)

	e, err := engine.New(tb.Game)
	if err != nil {
		return err
	}
	if err := e.Initialize(); err != nil {
		return errors.Join(err, e.Shutdown())
	}
	runErr := e.Run(ctx)
	return errors.Join(runErr, e.Shutdown())
}

func initConfig(cmd *cobra.Command, args []string) error {
	path := pathArg(args)
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if forceWrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	defer f.Close()
	if err := config.Default().Encode(f); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}

func checkConfig(cmd *cobra.Command, args []string) error {
	path := pathArg(args)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("check config: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s ok: %dx%d, %d frames in flight\n", path, cfg.Window.Width, cfg.Window.Height, cfg.Graph.FramesInFlight)
	return nil
}
