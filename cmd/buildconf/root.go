package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Azhovan/buildconf"
	xlog "github.com/Azhovan/buildconf/internal/log"
	"github.com/Azhovan/buildconf/site"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath     string
	configRequired bool
	envPrefix      string
	noEnv          bool
	logLevel       string
	logFormat      string
}

func (o *rootOptions) logger(cmd *cobra.Command) zerolog.Logger {
	return xlog.New(xlog.Config{
		Level:  o.logLevel,
		Format: o.logFormat,
		Output: cmd.ErrOrStderr(),
	})
}

func (o *rootOptions) provider(logger zerolog.Logger) *site.Provider {
	opts := []site.ProviderOption{
		site.WithLogger(xlog.WithComponent(logger, "provider")),
	}
	if o.configPath != "" {
		opts = append(opts, site.WithConfigFile(o.configPath, o.configRequired))
	}
	if o.noEnv {
		opts = append(opts, site.WithoutEnv())
	} else {
		opts = append(opts, site.WithEnvPrefix(o.envPrefix))
	}
	return site.NewProvider(opts...)
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "buildconf",
		Short:         "Resolve and validate the static-site build configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if opts.envPrefix == "" && !opts.noEnv {
				return errors.New("--env-prefix must not be empty; use --no-env to ignore the environment")
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (yaml, json or toml)")
	flags.BoolVar(&opts.configRequired, "config-required", false, "fail when the config file is missing")
	flags.StringVar(&opts.envPrefix, "env-prefix", site.DefaultEnvPrefix, "prefix for environment overrides")
	flags.BoolVar(&opts.noEnv, "no-env", false, "ignore environment overrides")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "json", "log format (json or console)")

	root.AddCommand(
		newShowCmd(opts),
		newValidateCmd(opts),
		newExportCmd(opts),
		newSnapshotCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	var asJSON, withSources bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := opts.logger(cmd)
			cfg, err := opts.provider(logger).Loader().Load(cmd.Context())
			if err != nil {
				return err
			}

			var dumpOpts []buildconf.DumpOption
			if asJSON {
				dumpOpts = append(dumpOpts, buildconf.AsJSON())
			}
			if withSources {
				dumpOpts = append(dumpOpts, buildconf.WithSources())
			}
			return buildconf.DumpEffective(cmd.OutOrStdout(), cfg, dumpOpts...)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.Flags().BoolVar(&withSources, "sources", false, "show where each value came from")
	return cmd
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit non-zero on failure",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := opts.logger(cmd)
			if _, err := opts.provider(logger).Configuration(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the configuration in the layout the build tool reads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := opts.logger(cmd)
			cfg, err := opts.provider(logger).Configuration(cmd.Context())
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				data, err := cfg.MarshalToolConfig()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			if err := site.WriteToolConfig(out, cfg); err != nil {
				return err
			}
			logger.Info().Str("path", out).Msg("tool config written")
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	return cmd
}

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	var (
		out     string
		exclude []string
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Record the effective configuration and its provenance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := opts.logger(cmd)
			cfg, err := opts.provider(logger).Loader().Load(cmd.Context())
			if err != nil {
				return err
			}

			snap, err := buildconf.CreateSnapshot(cfg, buildconf.WithExcludeFields(exclude...))
			if err != nil {
				return err
			}
			written, err := buildconf.WriteSnapshot(snap, out)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), written)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "buildconf-{{timestamp}}.json", "snapshot path; {{timestamp}} is expanded")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "key paths to leave out")
	return cmd
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-export the tool config to stdout whenever the config file changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.configPath == "" {
				return fmt.Errorf("watch needs --config")
			}
			logger := opts.logger(cmd)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			snapshots, errs, err := opts.provider(logger).Loader().Watch(ctx)
			if err != nil {
				return err
			}
			return printSnapshots(ctx, cmd, logger, snapshots, errs)
		},
	}
}

func printSnapshots(ctx context.Context, cmd *cobra.Command, logger zerolog.Logger, snapshots <-chan buildconf.Snapshot[site.BuildConfiguration], errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			data, err := snap.Config.MarshalToolConfig()
			if err != nil {
				return err
			}
			logger.Info().Int64("version", snap.Version).Str("cause", snap.Source).Msg("configuration applied")
			if _, err := cmd.OutOrStdout().Write(data); err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("configuration reload rejected")
		}
	}
}
