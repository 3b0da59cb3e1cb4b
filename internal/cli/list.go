package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// LessonListing is one row of the lesson table.
type LessonListing struct {
	ID     string   `json:"id"`
	Path   string   `json:"path"`
	Valid  bool     `json:"valid"`
	Title  string   `json:"title,omitempty"`
	Hooks  []string `json:"hooks,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List lessons in the lesson directory",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
	return cmd
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	results, loadErr := loadLessonDir(opts.Lessons)
	if loadErr != nil {
		_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
		return NewExitError(ExitCommandError, loadErr.Error())
	}

	listings := make([]LessonListing, 0, len(results))
	for _, r := range results {
		l := LessonListing{Path: r.Path, Valid: r.Valid()}
		if r.Valid() {
			l.ID = r.Script.ID
			l.Title = r.Script.Metadata.Title
			l.Hooks = r.Script.Hooks().Names()
		} else {
			base := filepath.Base(r.Path)
			l.ID = strings.TrimSuffix(base, filepath.Ext(base))
			for _, e := range r.Errors {
				l.Errors = append(l.Errors, e.Error())
			}
		}
		listings = append(listings, l)
	}

	if formatter.Format == "json" {
		return formatter.Success(listings)
	}

	tw := tabwriter.NewWriter(formatter.Writer, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVALID\tHOOKS\tTITLE")
	for _, l := range listings {
		valid := "yes"
		if !l.Valid {
			valid = fmt.Sprintf("no (%d errors)", len(l.Errors))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.ID, valid, strings.Join(l.Hooks, ","), l.Title)
	}
	return tw.Flush()
}
