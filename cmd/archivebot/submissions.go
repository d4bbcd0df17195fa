package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/archivebot/internal/config"
	"github.com/zulandar/archivebot/internal/models"
	"github.com/zulandar/archivebot/internal/submission"
	"gopkg.in/yaml.v3"
)

func newSubmissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "submissions",
		Aliases: []string{"subs"},
		Short:   "Inspect open submissions",
	}

	cmd.AddCommand(newSubmissionsListCmd())
	cmd.AddCommand(newSubmissionsCountCmd())
	cmd.AddCommand(newSubmissionsShowCmd())
	return cmd
}

func newSubmissionsListCmd() *cobra.Command {
	var (
		configPath  string
		unpublished bool
		staleAfter  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(configPath, func(store *submission.Store) error {
				var (
					recs []models.Submission
					err  error
				)
				switch {
				case staleAfter > 0:
					recs, err = store.ListStale(cmd.Context(), time.Now().Add(-staleAfter))
				case unpublished:
					recs, err = store.ListUnpublished(cmd.Context())
				default:
					recs, err = store.ListOpen(cmd.Context())
				}
				if err != nil {
					return err
				}
				printSubmissions(cmd, recs)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to archivebot config file")
	cmd.Flags().BoolVar(&unpublished, "unpublished", false, "only submissions not yet uploaded")
	cmd.Flags().DurationVar(&staleAfter, "stale", 0, "only unpublished submissions untouched for this long")
	return cmd
}

func newSubmissionsCountCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Print the number of open submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(configPath, func(store *submission.Store) error {
				n, err := store.Count(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to archivebot config file")
	return cmd
}

func newSubmissionsShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <identifier>",
		Short: "Show one submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(configPath, func(store *submission.Store) error {
				rec, err := store.Get(cmd.Context(), args[0])
				if errors.Is(err, submission.ErrNotFound) {
					return fmt.Errorf("no open submission %q", args[0])
				}
				if err != nil {
					return err
				}
				return printSubmission(cmd, rec)
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to archivebot config file")
	return cmd
}

// withStore loads config, opens the database and runs fn against the store.
func withStore(configPath string, fn func(*submission.Store) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gormDB, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)

	store, err := submission.NewStore(submission.StoreOpts{DB: gormDB})
	if err != nil {
		return err
	}
	return fn(store)
}

func printSubmissions(cmd *cobra.Command, recs []models.Submission) {
	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintln(out, "No open submissions.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTIFIER\tSLOT\tSTEP\tPUBLISHED\tTITLE\tUPDATED")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n",
			r.Identifier, slotLabel(r), r.Step, r.Published, truncate(r.Title, 40), r.UpdatedAt.Format(time.RFC3339))
	}
	w.Flush()
}

// submissionView is the YAML shape printed by "submissions show".
type submissionView struct {
	Identifier  string   `yaml:"identifier"`
	Slot        string   `yaml:"slot"`
	Step        string   `yaml:"step"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags,flow"`
	FilePath    string   `yaml:"file_path"`
	Duration    int      `yaml:"duration"`
	MimeType    string   `yaml:"mime_type"`
	FileSize    int64    `yaml:"file_size"`
	Published   bool     `yaml:"published"`
	Transcoded  bool     `yaml:"transcoded"`
	Uploaded    bool     `yaml:"uploaded"`
	Cleaned     bool     `yaml:"cleaned"`
	CreatedAt   string   `yaml:"created_at"`
	UpdatedAt   string   `yaml:"updated_at"`
}

func printSubmission(cmd *cobra.Command, r *models.Submission) error {
	view := submissionView{
		Identifier:  r.Identifier,
		Slot:        slotLabel(*r),
		Step:        string(r.Step),
		Title:       r.Title,
		Description: r.Description,
		Tags:        r.TagList(),
		FilePath:    r.FilePath,
		Duration:    r.Duration,
		MimeType:    r.MimeType,
		FileSize:    r.FileSize,
		Published:   r.Published,
		Transcoded:  r.Transcoded,
		Uploaded:    r.Uploaded,
		Cleaned:     r.Cleaned,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   r.UpdatedAt.Format(time.RFC3339),
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	return enc.Close()
}

func slotLabel(r models.Submission) string {
	if r.ThreadID == "" {
		return r.ChannelID
	}
	return r.ChannelID + ":" + r.ThreadID
}

// truncate returns s truncated to maxLen runes with "..." appended if needed.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
