// Package cli implements journalctl, the maintenance tool for journal histories.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fastygo/journal/domain"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Driver     string
	DSN        string
	SchemaFile string
	Tombstone  int64
	Format     string
	Verbose    bool
}

// NewRootCommand creates the journalctl root command. Every persistent flag
// can also be set through a JOURNAL_ prefixed environment variable.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	v := viper.New()
	v.SetEnvPrefix("JOURNAL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "journalctl",
		Short:         "Inspect and repair journal histories",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			opts.Driver = v.GetString("driver")
			opts.DSN = v.GetString("dsn")
			opts.SchemaFile = v.GetString("schema-file")
			opts.Tombstone = v.GetInt64("tombstone-actor-id")
			opts.Format = v.GetString("format")
			opts.Verbose = v.GetBool("verbose")
			return opts.validate()
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("driver", DriverSQLite, "storage driver (sqlite|postgres)")
	flags.String("dsn", "./data/journal.db", "database file for sqlite or connection URL for postgres")
	flags.String("schema-file", "", "YAML file with additional journable kinds")
	flags.Int64("tombstone-actor-id", domain.DefaultTombstoneActorID, "actor id that replaces deleted actors")
	flags.String("format", "text", "output format (json|text)")
	flags.BoolP("verbose", "v", false, "debug logging")

	cmd.AddCommand(NewRecreateInitialCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewRewriteActorCommand(opts))
	cmd.AddCommand(NewChecksumCommand(opts))

	return cmd
}

func (o *RootOptions) validate() error {
	switch o.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("invalid driver %q: must be sqlite or postgres", o.Driver)
	}
	if o.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if o.Format != "text" && o.Format != "json" {
		return fmt.Errorf("invalid format %q: must be json or text", o.Format)
	}
	if o.Tombstone > 0 {
		return fmt.Errorf("tombstone actor id must not be a real actor id")
	}
	return nil
}
