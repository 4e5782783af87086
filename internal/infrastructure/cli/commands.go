package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/infrastructure/config"
	"github.com/doeshing/pcpilot/internal/infrastructure/store"
)

// Build metadata, set with -ldflags "-X".
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show pcpilot version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pcpilot version %s\n", Version)
			if Commit != "" {
				fmt.Fprintf(out, "Commit: %s\n", Commit)
			}
			if BuildDate != "" {
				fmt.Fprintf(out, "Built: %s\n", BuildDate)
			}
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			return nil
		},
	}
}

func newDoctorCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose environment setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.get(cmd)
			if err != nil {
				// Still useful without a container: report the config problem.
				fmt.Fprintln(cmd.OutOrStdout(), errColor.Sprint("[ERROR]")+" Startup - "+err.Error())
				return err
			}
			report, err := c.Doctor.Run(cmd.Context())
			renderDoctorReport(cmd.OutOrStdout(), report)
			if err != nil {
				return err
			}
			if counts, err := c.Store.QuarantineCount(cmd.Context()); err == nil && len(counts) > 0 {
				keys := make([]string, 0, len(counts))
				for k := range counts {
					keys = append(keys, fmt.Sprintf("%s=%d", k, counts[k]))
				}
				sort.Strings(keys)
				fmt.Fprintln(cmd.OutOrStdout(), warnColor.Sprint("[WARN]")+"  Store - quarantined rows: "+strings.Join(keys, ", "))
			}
			return nil
		},
	}
}

func newConfigCommand(s *session) *cobra.Command {
	loader := func() *config.FileLoader { return config.NewFileLoader(s.opts.ConfigPath) }

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect pcpilot configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.Context(), cmd.OutOrStdout(), loader())
		},
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.Context(), cmd.OutOrStdout(), loader())
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), loader().Path())
			return nil
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value (e.g. learning.learning_rate)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigGet(cmd.Context(), cmd.OutOrStdout(), loader(), args[0])
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Back up the configuration and restore the defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			l := loader()
			if backup, err := l.Backup(); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Backed up to %s\n", backup)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if _, err := l.Reset(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored defaults in %s\n", l.Path())
			return nil
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "edit",
		Short: "Open the configuration in $EDITOR",
		RunE: func(cmd *cobra.Command, args []string) error {
			l := loader()
			if _, err := l.Load(cmd.Context()); err != nil {
				return err
			}
			editor := os.Getenv("EDITOR")
			if editor == "" {
				editor = "vi"
			}
			c := exec.Command(editor, l.Path())
			c.Stdin = os.Stdin
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
			return c.Run()
		},
	})
	return configCmd
}

func runConfigShow(ctx context.Context, out io.Writer, loader *config.FileLoader) error {
	// Load first so a missing file is created from the defaults.
	if _, err := loader.Load(ctx); err != nil {
		return err
	}
	data, err := os.ReadFile(loader.Path())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "# %s\n", loader.Path())
	_, err = out.Write(data)
	return err
}

func runConfigGet(ctx context.Context, out io.Writer, loader *config.FileLoader, key string) error {
	if _, err := loader.Load(ctx); err != nil {
		return err
	}
	data, err := os.ReadFile(loader.Path())
	if err != nil {
		return err
	}
	tree := map[string]interface{}{}
	if strings.EqualFold(filepath.Ext(loader.Path()), ".toml") {
		_, err = toml.Decode(string(data), &tree)
	} else {
		err = yaml.Unmarshal(data, &tree)
	}
	if err != nil {
		return err
	}
	value, ok := traverseKey(tree, strings.Split(key, "."))
	if !ok {
		return fmt.Errorf("key %s not set in %s", key, loader.Path())
	}
	switch v := value.(type) {
	case map[string]interface{}, []interface{}, []map[string]interface{}:
		raw, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Fprint(out, string(raw))
	default:
		fmt.Fprintln(out, v)
	}
	return nil
}

func traverseKey(data interface{}, path []string) (interface{}, bool) {
	if len(path) == 0 {
		return data, true
	}
	switch node := data.(type) {
	case map[string]interface{}:
		next, ok := node[path[0]]
		if !ok {
			return nil, false
		}
		return traverseKey(next, path[1:])
	default:
		return nil, false
	}
}

func newBackendsCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List configured AI backends and their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.get(cmd)
			if err != nil {
				return err
			}
			handles := c.Orchestrator.Status()
			if len(handles) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No backends configured.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CAPABILITY\tRANK\tBACKEND\tHEALTH\tOK\tFAILED\tLAST ERROR")
			for _, h := range handles {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%d\t%s\n",
					h.Capability, h.PriorityRank+1, h.ProviderID, renderHealth(h.Health),
					h.Successes, h.Failures, h.LastError)
			}
			return w.Flush()
		},
	}
}

func newTranscribeCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <audio.wav>",
		Short: "Transcribe a recording with the speech-to-text backends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.get(cmd)
			if err != nil {
				return err
			}
			text, err := c.Commands.Transcribe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func newSpeakCommand(s *session) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "speak <text>",
		Short: "Synthesize speech with the speech-synthesis backends",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.get(cmd)
			if err != nil {
				return err
			}
			if output == "" {
				output = fmt.Sprintf("pcpilot-%s.wav", time.Now().Format("20060102-150405"))
			}
			resp, err := c.Commands.Speak(cmd.Context(), strings.Join(args, " "), output)
			if err != nil {
				return err
			}
			if len(resp.Audio) > 0 {
				if err := os.WriteFile(output, resp.Audio, domain.SecureFilePermissions); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s)\n", output, resp.Provider)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "WAV file to write (default pcpilot-<time>.wav)")
	return cmd
}

func newHistoryCommand(s *session) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the command history the learner works from",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.get(cmd)
			if err != nil {
				return err
			}
			records, err := c.Store.RecordsSince(cmd.Context(), time.Time{}, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No commands recorded yet.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tOUTCOME\tACTION\tTARGET\tCOMMAND")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.Timestamp.Local().Format("01-02 15:04"), outcomeLabel(r.Outcome),
					r.Intent.Action, r.Intent.Target.Label(), r.RawText)
			}
			return w.Flush()
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", domain.DefaultHistoryLimit, "Number of records to show")

	historyCmd.AddCommand(listCmd)
	historyCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Summarise success rates and the most used commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.get(cmd)
			if err != nil {
				return err
			}
			stats, err := c.Learner.Stats(cmd.Context())
			if err != nil {
				return err
			}
			renderStats(cmd.OutOrStdout(), stats)
			return nil
		},
	})
	historyCmd.AddCommand(&cobra.Command{
		Use:   "export <file.jsonl>",
		Short: "Export the full history as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.get(cmd)
			if err != nil {
				return err
			}
			if args[0] == "-" {
				records, _, err := c.Store.LoadRecords(cmd.Context())
				if err != nil {
					return err
				}
				return store.WriteJSONL(cmd.OutOrStdout(), records)
			}
			n, err := store.ExportJSONL(cmd.Context(), c.Store, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s\n", n, args[0])
			return nil
		},
	})

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the command history (learned patterns are kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear history without --yes")
			}
			c, err := s.get(cmd)
			if err != nil {
				return err
			}
			if err := c.Store.ClearRecords(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	historyCmd.AddCommand(clearCmd)
	return historyCmd
}

func outcomeLabel(o domain.Outcome) string {
	switch o {
	case domain.OutcomeSuccess:
		return okColor.Sprint(string(o))
	case domain.OutcomeFailure:
		return errColor.Sprint(string(o))
	default:
		return dimColor.Sprint(string(o))
	}
}

func renderStats(out io.Writer, stats domain.CommandStats) {
	fmt.Fprintf(out, "Commands:  %d (%d succeeded, %d failed)\n", stats.TotalCommands, stats.SuccessfulCommands, stats.FailedCommands)
	fmt.Fprintf(out, "Success:   %.1f%%\n", stats.SuccessRate*100)
	fmt.Fprintf(out, "Patterns:  %d (%d demoted)\n", stats.TotalPatterns, stats.DemotedPatterns)

	if len(stats.ByAction) > 0 {
		actions := make([]string, 0, len(stats.ByAction))
		for a := range stats.ByAction {
			actions = append(actions, string(a))
		}
		sort.Strings(actions)
		fmt.Fprintln(out, "\nBy action:")
		for _, a := range actions {
			st := stats.ByAction[domain.ActionKind(a)]
			fmt.Fprintf(out, "  %-12s %d (%d ok)\n", a, st.Total, st.Successful)
		}
	}
	if len(stats.MostUsed) > 0 {
		fmt.Fprintln(out, "\nMost used:")
		for _, m := range stats.MostUsed {
			fmt.Fprintf(out, "  %-30s %d\n", m.Signature, m.Count)
		}
	}
}
