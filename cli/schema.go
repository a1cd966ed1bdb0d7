package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/cswinter/hyperstate"
	"github.com/cswinter/hyperstate/schema"
)

// DefaultSnapshotFile is the snapshot path the schema commands use when no
// file argument is given.
const DefaultSnapshotFile = "config-schema.yaml"

var (
	redText   = color.New(color.FgRed)
	greenText = color.New(color.FgGreen)
	blueText  = color.New(color.FgBlue)
	cyanText  = color.New(color.FgCyan)
)

// SchemaCommand returns the schema evolution command tree for the config
// type T: dump-schema, check-schema, upgrade-schema and upgrade-config.
func SchemaCommand[T any](use string) *cobra.Command {
	root := &cobra.Command{
		Use:          use,
		Short:        "Inspect and evolve the persisted config schema",
		SilenceUsage: true,
	}
	root.AddCommand(
		dumpSchemaCommand[T](),
		checkSchemaCommand[T](),
		upgradeSchemaCommand[T](),
		upgradeConfigCommand[T](),
	)
	return root
}

func dumpSchemaCommand[T any]() *cobra.Command {
	return &cobra.Command{
		Use:   "dump-schema [file]",
		Short: "Write the schema of the current config type to a snapshot file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := schema.StructOf[T]()
			if err != nil {
				return err
			}
			return schema.DumpSchema(snapshotPath(args), st)
		},
	}
}

func checkSchemaCommand[T any]() *cobra.Command {
	return &cobra.Command{
		Use:   "check-schema [file]",
		Short: "Diff a schema snapshot against the current config type",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checker, err := snapshotChecker[T](snapshotPath(args))
			if err != nil {
				return err
			}
			checker.WriteReport(cmd.OutOrStdout())
			return nil
		},
	}
}

func upgradeSchemaCommand[T any]() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade-schema [file]",
		Short: "Refresh the snapshot when the schema changed compatibly",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := snapshotPath(args)
			checker, err := snapshotChecker[T](path)
			if err != nil {
				return err
			}
			if checker.Severity() >= schema.SeverityWarn {
				checker.WriteReport(cmd.OutOrStdout())
				return nil
			}
			st, err := schema.StructOf[T]()
			if err != nil {
				return err
			}
			if err := schema.DumpSchema(path, st); err != nil {
				return err
			}
			greenText.Fprintln(cmd.OutOrStdout(), "Schema updated")
			return nil
		},
	}
}

func upgradeConfigCommand[T any]() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upgrade-config [file ...]",
		Short: "Rewrite config files into the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			includeDefaults, _ := cmd.Flags().GetBool("include-defaults")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			for _, file := range args {
				if err := upgradeConfigFile[T](cmd.OutOrStdout(), file, includeDefaults, dryRun); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("include-defaults", false, "Keep fields whose value matches the declared default")
	cmd.Flags().Bool("dry-run", false, "Print a diff instead of rewriting the file")
	return cmd
}

func upgradeConfigFile[T any](w io.Writer, path string, includeDefaults, dryRun bool) error {
	cyanText.Fprintln(w, path)
	config, err := hyperstate.Load[T](path)
	if err != nil {
		return err
	}
	var opts []hyperstate.DumpOption
	if !includeDefaults {
		opts = append(opts, hyperstate.ElideDefaults())
	}
	upgraded, err := hyperstate.Dumps(config, opts...)
	if err != nil {
		return err
	}
	if !dryRun {
		return os.WriteFile(path, []byte(upgraded), 0o644)
	}

	original, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(original)),
		B:        difflib.SplitLines(upgraded),
		FromFile: path,
		ToFile:   path,
		Context:  3,
	})
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if len(lines) <= 3 {
		return nil
	}
	// Drop the two file headers and the first hunk marker, like the usual
	// compact diff view.
	for _, line := range lines[3:] {
		switch {
		case strings.HasPrefix(line, "+"):
			greenText.Fprintln(w, line)
		case strings.HasPrefix(line, "-"):
			redText.Fprintln(w, line)
		case strings.HasPrefix(line, "^"):
			blueText.Fprintln(w, line)
		default:
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

func snapshotPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return DefaultSnapshotFile
}

func snapshotChecker[T any](path string) (*schema.Checker, error) {
	old, err := schema.LoadSchema(path)
	if err != nil {
		return nil, err
	}
	target, err := versionedOf[T]()
	if err != nil {
		return nil, err
	}
	return schema.NewChecker(old, target)
}

func versionedOf[T any]() (schema.Versioned, error) {
	var probe T
	if v, ok := any(probe).(schema.Versioned); ok {
		return v, nil
	}
	if v, ok := any(&probe).(schema.Versioned); ok {
		return v, nil
	}
	return nil, fmt.Errorf("cli: %T does not declare a schema version", probe)
}
