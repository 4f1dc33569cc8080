package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"loom/internal/compiler"
	"loom/internal/meta"
)

// ValidationResult holds the outcome of a validate run.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Entities []string                   `json:"entities,omitempty"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <mappings-dir>",
		Short: "Compile and validate entity mappings",
		Long: `Compile the CUE mapping definitions under a directory and cross-check
them: relation targets must resolve, owning references need join columns,
one-to-many relations need a valid mappedBy, and many-to-many link mappings
must name a link entity with both reference properties.

Exit codes:
  0 - mappings compile and validate
  1 - compile or validation errors
  2 - command error (directory missing, unreadable files)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	defs, err := loadDefinitions(dir, formatter)
	if err != nil {
		return err
	}

	result := ValidationResult{Errors: compiler.Validate(defs)}
	result.Valid = len(result.Errors) == 0
	for _, def := range defs {
		result.Entities = append(result.Entities, def.Name)
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    "E_INVALID_MAPPINGS",
				Message: fmt.Sprintf("%d validation error(s)", len(result.Errors)),
			}
		}
		if err := formatter.JSON(resp); err != nil {
			return err
		}
		if !result.Valid {
			return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(result.Errors)))
		}
		return nil
	}

	w := cmd.OutOrStdout()
	if !result.Valid {
		for _, verr := range result.Errors {
			fmt.Fprintf(w, "✗ %s\n", verr.Error())
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(result.Errors)))
	}
	fmt.Fprintf(w, "✓ %d entities valid\n", len(result.Entities))
	return nil
}

// loadDefinitions compiles every CUE mapping file under dir. A missing or
// empty directory is a command error; a file that fails to compile is a
// mapping failure reported with its source position.
func loadDefinitions(dir string, formatter *OutputFormatter) ([]*meta.Definition, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("mappings directory not found: %s", dir))
	}

	defs, err := compiler.CompileDir(dir)
	if err != nil {
		var cerr *compiler.CompileError
		if errors.As(err, &cerr) {
			return nil, &ExitError{Code: ExitFailure, Message: "compile mappings", Err: cerr}
		}
		return nil, &ExitError{Code: ExitCommandError, Message: "load mappings", Err: err}
	}
	formatter.VerboseLog("compiled %d entities from %s", len(defs), dir)
	return defs, nil
}
