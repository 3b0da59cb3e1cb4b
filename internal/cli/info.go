package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lectern/internal/script"
)

// LessonInfo is the inspectable surface of one admitted lesson.
type LessonInfo struct {
	ID             string   `json:"id"`
	Path           string   `json:"path"`
	Title          string   `json:"title,omitempty"`
	Description    string   `json:"description,omitempty"`
	Difficulty     string   `json:"difficulty,omitempty"`
	TargetGestures []string `json:"target_gestures,omitempty"`
	Hooks          []string `json:"hooks"`
	SHA256         string   `json:"sha256"`
	SizeBytes      int      `json:"size_bytes"`
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "info <script-id|path>",
		Short:         "Show a lesson's hooks, metadata, and digest",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runInfo(opts *RootOptions, arg string, cmd *cobra.Command) error {
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

	sc, errs := script.LoadFile(path)
	if len(errs) > 0 {
		return outputValidationErrors(formatter, path, errs)
	}

	info := LessonInfo{
		ID:             sc.ID,
		Path:           sc.Path,
		Title:          sc.Metadata.Title,
		Description:    sc.Metadata.Description,
		Difficulty:     sc.Metadata.Difficulty,
		TargetGestures: sc.Metadata.TargetGestures,
		Hooks:          sc.Hooks().Names(),
		SHA256:         sc.SHA256,
		SizeBytes:      len(sc.Source),
	}

	if formatter.Format == "json" {
		return formatter.Success(info)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Lesson:  %s\n", info.ID)
	if info.Title != "" {
		fmt.Fprintf(w, "Title:   %s\n", info.Title)
	}
	if info.Difficulty != "" {
		fmt.Fprintf(w, "Level:   %s\n", info.Difficulty)
	}
	if info.Description != "" {
		fmt.Fprintf(w, "About:   %s\n", info.Description)
	}
	if len(info.TargetGestures) > 0 {
		fmt.Fprintf(w, "Targets: %s\n", strings.Join(info.TargetGestures, ", "))
	}
	fmt.Fprintf(w, "Hooks:   %s\n", strings.Join(info.Hooks, ", "))
	fmt.Fprintf(w, "Digest:  %s\n", info.SHA256)
	fmt.Fprintf(w, "Size:    %d bytes\n", info.SizeBytes)
	return nil
}
