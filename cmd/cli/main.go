package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cochaviz/ipsbuild/internal/archive"
	"github.com/cochaviz/ipsbuild/internal/configurations"
	"github.com/cochaviz/ipsbuild/internal/ips"
	"github.com/cochaviz/ipsbuild/internal/logging"
	"github.com/cochaviz/ipsbuild/internal/setup"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "auto"
)

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.NewAuto(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

type globalOptions struct {
	configPath string
}

func (o *globalOptions) load() (configurations.Config, error) {
	return configurations.Load(o.configPath)
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	var (
		logLevel  = defaultLogLevel
		logFormat = defaultLogFormat
		opts      globalOptions
	)

	root := &cobra.Command{
		Use:           "ipsbuild",
		Short:         "Build IPS packages and their dependencies in a disposable illumos zone",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", defaultLogFormat, "Log output format (auto, cli, json)")
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", setup.ConfigPath, "Path to the YAML configuration")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		if levelVar != nil {
			levelVar.Set(level)
		}
		mode, err := logging.ParseMode(logFormat)
		if err != nil {
			return err
		}
		// Subcommands hold this pointer, so the handler is swapped in place.
		*logger = *logging.New(mode, os.Stderr, levelVar)
		slog.SetDefault(logger)
		setup.SetLogger(logger.With("component", "setup"))
		return nil
	}

	root.AddCommand(
		newPlanCommand(logger, &opts),
		newManifestCommand(logger),
		newZoneCommand(logger, &opts),
		newRepositoryCommand(logger, &opts),
		newArchiveCommand(logger),
		newSetupCommand(logger, &opts),
		newVerifyCommand(logger, &opts),
	)
	return root
}

func verifySetup(ctx context.Context, cfg configurations.Config, logger *slog.Logger) error {
	logger = logger.With("action", "verify_setup")
	logger.Info("verifying host")
	if err := configurations.VerifyHost(ctx, cfg, logger); err != nil {
		logger.Error("host verification failed", "error", err)
		logger.Info("run 'ipsbuild setup' and check the tools section of the configuration")
		return err
	}
	return nil
}

func newPlanCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	var (
		memo         string
		skipFailures bool
		retryFails   bool
		skipVerify   bool
	)

	cmd := &cobra.Command{
		Use:   "plan [package...]",
		Short: "Build the packages and every missing dependency, resuming from a memo file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			seeds := make([]string, 0, len(args))
			for _, arg := range args {
				if s := strings.TrimSpace(arg); s != "" {
					seeds = append(seeds, s)
				}
			}

			cmdLogger := logger.With("command", "plan")
			if !skipVerify {
				if err := verifySetup(cmd.Context(), cfg, cmdLogger); err != nil {
					return err
				}
			}

			state, err := configurations.PlanWithLogger(cmd.Context(), cfg, configurations.PlanOptions{
				Seeds:        seeds,
				Memo:         memo,
				SkipFailures: skipFailures,
				RetryFails:   retryFails,
			}, cmdLogger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, fail := range state.Fails {
				fmt.Fprintf(out, "failed\t%s\n", fail.FMRI)
			}
			cmdLogger.Info("plan finished", "seen", len(state.Seen), "fails", len(state.Fails))
			return nil
		},
	}

	cmd.Flags().StringVarP(&memo, "memo", "m", "", "Memo file to persist and resume progress")
	cmd.Flags().BoolVarP(&skipFailures, "skip-failures", "s", false, "Record failed builds and continue")
	cmd.Flags().BoolVar(&retryFails, "retry-fails", false, "Requeue the failed packages recorded in the memo")
	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "Do not check host tools and the template zone first")

	return cmd
}

func newManifestCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Inspect IPS manifests",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <manifest>",
		Args:  cobra.ExactArgs(1),
		Short: "Parse a manifest and print the dependencies the planner would follow",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			actions, err := ips.ParseManifest(string(data))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			deps := ips.Dependencies(actions)
			for _, dep := range deps {
				edges := dep.Edges()
				if len(edges) == 0 {
					fmt.Fprintf(out, "%s\t%s\t(not followed)\n", dep.Kind, strings.Join(dep.FMRIs, " "))
					continue
				}
				for _, edge := range edges {
					marker := ""
					if edge.Optional {
						marker = "\toptional"
					}
					fmt.Fprintf(out, "%s\t%s%s\n", dep.Kind, ips.Normalize(edge.FMRI), marker)
				}
			}
			logger.Info("manifest parsed", "path", args[0], "actions", len(actions), "depends", len(deps))
			return nil
		},
	})
	return cmd
}

func newZoneCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zone",
		Short: "Inspect and clean up the build zone",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the build zone state and the steps needed to remove it",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := opts.load()
				if err != nil {
					return err
				}
				report, err := configurations.ZoneStatusWithLogger(cmd.Context(), cfg, logger.With("command", "zone.status"))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !report.Exists {
					fmt.Fprintf(out, "%s\tabsent\n", report.Name)
					return nil
				}
				steps := make([]string, 0, len(report.Teardown))
				for _, action := range report.Teardown {
					steps = append(steps, action.String())
				}
				fmt.Fprintf(out, "%s\t%s\tteardown: %s\n", report.Name, report.State, strings.Join(steps, ", "))
				return nil
			},
		},
		&cobra.Command{
			Use:   "teardown",
			Short: "Remove the build zone left by a previous build",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := opts.load()
				if err != nil {
					return err
				}
				cmdLogger := logger.With("command", "zone.teardown")
				if err := configurations.ZoneTeardownWithLogger(cmd.Context(), cfg, cmdLogger); err != nil {
					return err
				}
				cmdLogger.Info("build zone removed", "zone", cfg.Zone.Name)
				return nil
			},
		},
	)
	return cmd
}

func newRepositoryCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repository",
		Short: "Maintain the local package repository",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Rebuild the repository catalog and search index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			cmdLogger := logger.With("command", "repository.refresh")
			if err := configurations.RefreshRepositoryWithLogger(cmd.Context(), cfg, cmdLogger); err != nil {
				return err
			}
			cmdLogger.Info("repository refreshed", "path", cfg.Repository.Path)
			return nil
		},
	})
	return cmd
}

func newArchiveCommand(logger *slog.Logger) *cobra.Command {
	var (
		archiveType string
		name        string
	)

	cmd := &cobra.Command{
		Use:   "archive <output> <file>...",
		Args:  cobra.MinimumNArgs(2),
		Short: "Bundle files into a compressed archive with a metadata header",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := args[0]
			meta := archive.Metadata{Version: "1", Type: archiveType}
			if name != "" {
				meta.Extra = map[string]string{"name": name}
			}

			a, err := archive.Create(output, meta)
			if err != nil {
				return err
			}
			for _, file := range args[1:] {
				if err := a.AddFile(file, filepath.Base(file)); err != nil {
					_, finishErr := a.Finish()
					return errors.Join(err, finishErr)
				}
			}
			digest, err := a.Finish()
			if err != nil {
				return err
			}

			logger.Info("archive written", "path", output, "files", len(args)-1)
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", digest, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&archiveType, "type", "t", "os", "Archive type recorded in the metadata")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Optional name recorded in the metadata")

	return cmd
}

func newSetupCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	var clearConfig bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "setup")

			if clearConfig {
				if err := setup.ClearConfig(opts.configPath); err != nil {
					cmdLogger.Error("clear configuration failed", "error", err)
					return fmt.Errorf("clear configuration: %w", err)
				}
			} else if _, err := os.Stat(opts.configPath); err == nil {
				cmdLogger.Info("system already configured", "path", opts.configPath, "hint", "use 'ipsbuild setup --clear' to reinitialize")
				return nil
			}

			data, err := configurations.Default().Marshal()
			if err != nil {
				return err
			}
			return setup.WriteConfig(opts.configPath, data, clearConfig)
		},
	}

	cmd.Flags().BoolVarP(&clearConfig, "clear", "C", false, "Remove the existing configuration before writing the defaults")

	return cmd
}

func newVerifyCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the host tools and the template zone",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return verifySetup(cmd.Context(), cfg, logger.With("command", "verify"))
		},
	}
}
