package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cswinter/hyperstate"
	"github.com/cswinter/hyperstate/schema"
)

// Command builds a cobra command that loads a T from --config plus any
// `field.path=value` override arguments and hands it to run. Unknown fields
// are reported with the closest matching schema entries.
func Command[T any](use string, run func(config *T) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use + " [field.path=value ...]",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			configPath, _ := flags.GetString("config")
			hpsInfo, _ := flags.GetBool("hps-info")
			verbose, _ := flags.GetBool("verbose")
			out := cmd.OutOrStdout()

			if hpsInfo {
				return writeSchemaInfo[T](out, args)
			}
			if handled, err := reportInvalidOverrides[T](out, args); handled || err != nil {
				return err
			}

			config, err := loadConfig[T](configPath, args)
			if err != nil {
				writeConfigError[T](cmd.ErrOrStderr(), err, verbose)
				return err
			}
			return run(config)
		},
	}
	addConfigFlags(cmd)
	return cmd
}

// Run executes Command with the process arguments.
func Run[T any](use string, run func(config *T) error) error {
	return Command[T](use, run).Execute()
}

// StatefulCommand builds a cobra command around a StateManager: --config or
// --resume-from seed the manager, --checkpoint-dir enables checkpointing,
// and override arguments apply to the config load. Extra manager options are
// applied before the flag-derived ones.
func StatefulCommand[C, S any](use string, initial hyperstate.InitialState[C, S], run func(manager *hyperstate.StateManager[C, S]) error, opts ...hyperstate.ManagerOption) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use + " [field.path=value ...]",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			configPath, _ := flags.GetString("config")
			hpsInfo, _ := flags.GetBool("hps-info")
			verbose, _ := flags.GetBool("verbose")
			checkpointDir, _ := flags.GetString("checkpoint-dir")
			resumeFrom, _ := flags.GetString("resume-from")
			out := cmd.OutOrStdout()

			if hpsInfo {
				return writeSchemaInfo[C](out, args)
			}
			if configPath != "" && resumeFrom != "" {
				err := errors.New("cannot specify both --config and --resume-from")
				redText.Fprint(out, "error")
				fmt.Fprintf(out, ": %v\n", err)
				return err
			}
			if handled, err := reportInvalidOverrides[C](out, args); handled || err != nil {
				return err
			}

			managerOpts := append([]hyperstate.ManagerOption{}, opts...)
			if initPath := firstNonEmpty(configPath, resumeFrom); initPath != "" {
				managerOpts = append(managerOpts, hyperstate.WithInitPath(initPath))
			}
			if checkpointDir != "" {
				managerOpts = append(managerOpts, hyperstate.WithCheckpointDir(checkpointDir))
			}
			if len(args) > 0 {
				managerOpts = append(managerOpts, hyperstate.WithConfigOverrides(args...))
			}
			manager, err := hyperstate.NewStateManager[C, S](initial, managerOpts...)
			if err != nil {
				return err
			}
			if err := run(manager); err != nil {
				writeConfigError[C](cmd.ErrOrStderr(), err, verbose)
				return err
			}
			return nil
		},
	}
	addConfigFlags(cmd)
	cmd.Flags().String("checkpoint-dir", "", "Checkpoints are persisted to and restored from this directory")
	cmd.Flags().String("resume-from", "", "Resume from a checkpoint, unless the checkpoint directory already holds one")
	return cmd
}

// RunStateful executes StatefulCommand with the process arguments.
func RunStateful[C, S any](use string, initial hyperstate.InitialState[C, S], run func(manager *hyperstate.StateManager[C, S]) error, opts ...hyperstate.ManagerOption) error {
	return StatefulCommand[C, S](use, initial, run, opts...).Execute()
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to a YAML config file")
	cmd.Flags().Bool("hps-info", false, "Print information about hyperparameters and exit")
	cmd.Flags().BoolP("verbose", "v", false, "Print verbose output")
}

func loadConfig[T any](path string, overrides []string) (*T, error) {
	var opts []hyperstate.LoadOption
	if len(overrides) > 0 {
		opts = append(opts, hyperstate.WithOverrides(overrides...))
	}
	return hyperstate.Load[T](path, opts...)
}

// writeSchemaInfo lists the whole schema, or the fields matching each given
// query. Override arguments double as queries with their value part dropped.
func writeSchemaInfo[T any](w io.Writer, queries []string) error {
	st, err := schema.StructOf[T]()
	if err != nil {
		return err
	}
	if len(queries) == 0 {
		schema.PrintSchema(w, st)
		return nil
	}
	for _, query := range queries {
		query, _, _ = strings.Cut(query, "=")
		schema.Help(w, st, query)
	}
	return nil
}

// reportInvalidOverrides prints help for the first argument that is not of
// the form `field.path=value`. It reports true when it printed, in which
// case the command is done.
func reportInvalidOverrides[T any](w io.Writer, overrides []string) (bool, error) {
	for _, override := range overrides {
		if strings.Contains(override, "=") {
			continue
		}
		redText.Fprint(w, "error")
		fmt.Fprintf(w, ": invalid override %q, expected 'field.path=value'\n\n", override)
		fmt.Fprintf(w, "Info for %q:\n", override)
		st, err := schema.StructOf[T]()
		if err != nil {
			return false, err
		}
		schema.Help(w, st, override)
		return true, nil
	}
	return false, nil
}

// writeConfigError renders a config load failure, adding the closest schema
// fields for unknown override paths.
func writeConfigError[T any](w io.Writer, err error, verbose bool) {
	redText.Fprint(w, "error")
	fmt.Fprintf(w, ": %v\n", err)

	var multi *hyperstate.FieldsNotFoundError
	var single *hyperstate.FieldNotFoundError
	switch {
	case errors.As(err, &multi):
		for _, fieldErr := range multi.Errors {
			fmt.Fprintf(w, "\nField most similar to %q:\n", fieldErr.Field)
			writeFieldHelp[T](w, fieldErr.Field)
		}
	case errors.As(err, &single):
		fmt.Fprint(w, "\nMost similar fields:\n")
		writeFieldHelp[T](w, single.Field)
	}

	if verbose {
		for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
			fmt.Fprintf(w, "  caused by: %v\n", cause)
		}
	}
}

func writeFieldHelp[T any](w io.Writer, path string) {
	st, err := schema.StructOf[T]()
	if err != nil {
		return
	}
	if i := strings.LastIndex(path, "."); i >= 0 {
		path = path[i+1:]
	}
	schema.Help(w, st, path)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
