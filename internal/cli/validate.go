package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/lectern/internal/sandbox"
	"github.com/roach88/lectern/internal/script"
)

// ValidationResult holds one lesson's admission outcome.
type ValidationResult struct {
	Path   string                    `json:"path"`
	Valid  bool                      `json:"valid"`
	Errors []sandbox.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <script-id|path>",
		Short: "Validate a lesson script without running it",
		Long: `Validate a lesson script against the sandbox admission rules.

Checks the script id, metadata header, syntax, and the capability
allowlist, and discovers hook registrations by running the module
scope in a throwaway sandbox. All violations are reported at once.

Silent with exit code 0 when the lesson is admissible.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, arg string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	path, loadErr := resolveLessonPath(opts.Lessons, arg)
	if loadErr != nil {
		_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
		return NewExitError(ExitCommandError, loadErr.Error())
	}

	formatter.VerboseLog("validating %s", path)
	sc, errs := script.LoadFile(path)
	if len(errs) == 0 {
		formatter.VerboseLog("lesson %s admissible, hooks: %v", sc.ID, sc.Hooks().Names())
		// Success is silent: exit 0, no output.
		return nil
	}

	return outputValidationErrors(formatter, path, errs)
}

func outputValidationErrors(f *OutputFormatter, path string, errs []sandbox.ValidationError) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		_ = enc.Encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Path: path, Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		})
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintf(f.Writer, "✗ %s failed validation\n\n", path)
	for _, e := range errs {
		if e.Line > 0 {
			fmt.Fprintf(f.Writer, "  line %d  %s: %s\n", e.Line, e.Code, e.Message)
		} else {
			fmt.Fprintf(f.Writer, "  %s: %s\n", e.Code, e.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
