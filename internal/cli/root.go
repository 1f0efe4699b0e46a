package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/preslavrachev/apistore/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Database string
	Schema   string
	Debug    bool
	Format   string // "json" | "text"

	// PageSize is the default page size of list
	PageSize int
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the apistore CLI.
// Flag defaults come from the environment (see config.LoadConfig).
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cfg := config.LoadConfig()
	opts.PageSize = cfg.PageSize

	cmd := &cobra.Command{
		Use:   "apistore",
		Short: "Resource store for JSON:API style records",
		Long: `apistore maps resource types onto database tables and runs store
operations (queries, lookups, writes and relationship changes) against them.

Resource types, tables and relationships are declared in a YAML file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "database", cfg.Database, "sqlite database path")
	cmd.PersistentFlags().StringVar(&opts.Schema, "schema", cfg.Schema, "resource definition file (YAML)")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", cfg.DebugEnabled, "log store and SQL activity")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewTypesCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewExistsCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewRelatedCommand(opts))
	cmd.AddCommand(NewRelationshipCommand(opts))
	cmd.AddCommand(NewLinkCommand(opts))

	return cmd
}

// Execute runs the command line and returns the process exit code.
// Errors are reported on stderr in text mode and on stdout in JSON mode.
func Execute(args []string, stdout, stderr io.Writer) int {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: stderr}
	if opts.Format == "json" {
		formatter.Writer = stdout
	}
	_ = formatter.Error(err)
	return GetExitCode(err)
}

// withSession opens a session for the duration of fn.
func withSession(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, s *Session, out *OutputFormatter) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	session, err := OpenSession(ctx, opts)
	if err != nil {
		return WrapExitError("failed to open store", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil && err == nil {
			err = WrapExitError("failed to close database", cerr)
		}
	}()

	return fn(ctx, session, &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()})
}
