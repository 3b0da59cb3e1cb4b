package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/lectern/internal/script"
)

const lessonTemplate = `-- ---
-- title: %s
-- difficulty: beginner
-- target_gestures: []
-- ---

on_start(function()
  state.set("progress", 0)
  log("info", "lesson started")
end)

on_gesture(function(g)
  local progress = state.get("progress", 0) + 1
  state.set("progress", progress)
  emit("gesture_seen", { gesture = g.gesture, progress = progress })
end)

on_complete(function()
  log("info", "lesson finished")
end)
`

// NewNewCommand creates the new command.
func NewNewCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:           "new <script-id>",
		Short:         "Scaffold a lesson script",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNew(rootOpts, args[0], force, cmd)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing lesson file")
	return cmd
}

func runNew(opts *RootOptions, arg string, force bool, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	id, err := script.NormalizeID(arg)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	if err := os.MkdirAll(opts.Lessons, 0o755); err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "create lessons directory", err)
	}

	path := filepath.Join(opts.Lessons, id+script.SourceExt)
	if _, err := os.Stat(path); err == nil && !force {
		msg := fmt.Sprintf("%s already exists (use --force to overwrite)", path)
		_ = formatter.Error(ErrCodeGeneric, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	content := fmt.Sprintf(lessonTemplate, id)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "write lesson file", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{"id": id, "path": path})
	}
	fmt.Fprintf(formatter.Writer, "Created %s\n", path)
	return nil
}
