package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/goliatone/go-smsintake/cmd/smsintake/internal/app"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	driver     string
	dsn        string
	logLevel   string
	debug      bool
}

func (f *rootFlags) options(stderr io.Writer) app.Options {
	return app.Options{
		ConfigPath: f.configPath,
		Driver:     f.driver,
		DSN:        f.dsn,
		LogLevel:   f.logLevel,
		LogOutput:  stderr,
		Debug:      f.debug,
	}
}

// withApp opens the wired application for the duration of fn.
func (f *rootFlags) withApp(cmd *cobra.Command, fn func(context.Context, *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	instance, err := app.Open(ctx, f.options(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer instance.Close()
	return fn(ctx, instance)
}

func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "smsintake",
		Short:         "Receive compressed SMS submissions and apply them to the tracker store",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: `  smsintake migrate --dsn "file:intake.db?cache=shared"
  smsintake seed metadata.yaml
  smsintake receive --id gw-1 --originator +15550100 --payload "$(smsintake encode submission.yaml)"`,
	}

	persistent := cmd.PersistentFlags()
	persistent.StringVar(&flags.configPath, "config", "", "YAML config file")
	persistent.StringVar(&flags.driver, "driver", app.DriverSQLite, "Database driver: sqlite3 or postgres")
	persistent.StringVar(&flags.dsn, "dsn", "", "Database connection string")
	persistent.StringVar(&flags.logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	persistent.BoolVar(&flags.debug, "debug", false, "Log SQL queries")

	cmd.AddCommand(
		newMigrateCommand(flags),
		newSeedCommand(flags),
		newEncodeCommand(),
		newReceiveCommand(flags),
		newOutcomeCommand(flags),
		newStatusCommand(flags),
		newUnparsedCommand(flags),
		newReplayCommand(flags),
		newPruneCommand(flags),
	)
	return cmd
}

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
