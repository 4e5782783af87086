package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/doeshing/pcpilot/internal/domain"
)

func newCorrectCommand(s *session) *cobra.Command {
	var (
		action string
		target string
		reply  string
	)
	cmd := &cobra.Command{
		Use:   "correct <command text>",
		Short: "Teach what a command should have meant",
		Example: `  pcpilot correct "fire up the number cruncher" --action launch --target Calculator
  pcpilot correct "who are you" --action custom --reply "I'm pcpilot."`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := domain.ParseActionKind(action)
			if !ok {
				return fmt.Errorf("unknown action %q", action)
			}
			c, err := s.get(cmd)
			if err != nil {
				return err
			}
			tpl := domain.IntentTemplate{Action: kind}
			if target != "" {
				if entry, found := c.Catalog.Get(target); found {
					tpl.TargetName = entry.CanonicalName
				} else if matches := c.Catalog.Find(cmd.Context(), target); len(matches) > 0 && matches[0].Score >= c.Config.Resolver.MinTargetScore {
					tpl.TargetName = matches[0].Entry.CanonicalName
				} else {
					tpl.TargetQuery = target
				}
			} else if kind.NeedsTarget() {
				return fmt.Errorf("action %s needs --target", kind)
			}
			if reply != "" {
				tpl.Parameters = map[string]string{"reply": reply}
			}

			p, err := c.Learner.Correct(cmd.Context(), strings.Join(args, " "), tpl)
			if err != nil {
				return err
			}
			what := string(p.Template.Action)
			if name := p.Template.TargetName; name != "" {
				what += " " + nameColor.Sprint(name)
			} else if q := p.Template.TargetQuery; q != "" {
				what += " " + q
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Learned %q -> %s (confidence %.2f)\n", p.Signature, what, p.Confidence)
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "launch", "Action the command should perform")
	cmd.Flags().StringVar(&target, "target", "", "Target application, file or folder")
	cmd.Flags().StringVar(&reply, "reply", "", "Reply text for custom actions")
	return cmd
}

func newSuggestCommand(s *session) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "suggest [partial command]",
		Short: "Suggest commands from history and learned patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.get(cmd)
			if err != nil {
				return err
			}
			suggestions, err := c.Learner.Suggest(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			if len(suggestions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No suggestions yet.")
				return nil
			}
			for _, sg := range suggestions {
				fmt.Fprintf(cmd.OutOrStdout(), "%-32s %s %s\n", sg.Text,
					confidenceColor(sg.Confidence).Sprintf("%.2f", sg.Confidence), dimColor.Sprintf("[%s]", sg.Kind))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", domain.DefaultSuggestionLimit, "Maximum suggestions")
	return cmd
}

func newConsolidateCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Replay pending history into the pattern store and prune weak patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.get(cmd)
			if err != nil {
				return err
			}
			report, err := c.Learner.Consolidate(cmd.Context())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Replayed %d pending records (%d failed) in %s\n", report.Replayed, report.Failed, report.Duration.Round(1e6))
			for _, r := range report.Rates {
				fmt.Fprintf(out, "  %-30s %3d runs  %5.1f%% success\n", r.Signature, r.Total, r.Rate*100)
			}
			renderPrune(out, report.Prune.Demoted, report.Prune.Restored, report.Prune.Removed)
			return err
		},
	}
}

func renderPrune(out io.Writer, demoted, restored, removed []string) {
	if len(demoted)+len(restored)+len(removed) == 0 {
		fmt.Fprintln(out, "No patterns changed.")
		return
	}
	for _, line := range []struct {
		label string
		sigs  []string
	}{{"Demoted", demoted}, {"Restored", restored}, {"Removed", removed}} {
		if len(line.sigs) > 0 {
			fmt.Fprintf(out, "%s: %s\n", line.label, strings.Join(line.sigs, ", "))
		}
	}
}

func newPatternsCommand(s *session) *cobra.Command {
	patternsCmd := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect learned command patterns",
	}

	var showDemoted bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List learned patterns, most confident first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.get(cmd)
			if err != nil {
				return err
			}
			all := c.Patterns.All()
			sort.SliceStable(all, func(i, j int) bool { return all[i].Confidence > all[j].Confidence })
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNATURE\tACTION\tTARGET\tCONFIDENCE\tHITS\tOK/FAIL")
			shown := 0
			for _, p := range all {
				if p.Demoted && !showDemoted {
					continue
				}
				target := p.Template.TargetName
				if target == "" {
					target = p.Template.TargetQuery
				}
				conf := confidenceColor(p.Confidence).Sprintf("%.3f", p.Confidence)
				if p.Demoted {
					conf += dimColor.Sprint(" (demoted)")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d/%d\n", p.Signature, p.Template.Action, target, conf, p.HitCount, p.SuccessCount, p.FailureCount)
				shown++
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if shown == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No patterns learned yet.")
			}
			return nil
		},
	}
	listCmd.Flags().BoolVar(&showDemoted, "all", false, "Include demoted patterns")
	patternsCmd.AddCommand(listCmd)

	patternsCmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Demote or remove patterns whose confidence fell below the floor",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.get(cmd)
			if err != nil {
				return err
			}
			report, err := c.Patterns.Prune(cmd.Context())
			renderPrune(cmd.OutOrStdout(), report.Demoted, report.Restored, report.Removed)
			return err
		},
	})
	return patternsCmd
}

func newCatalogCommand(s *session) *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and refresh the catalog of applications, files and folders",
	}

	catalogCmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Rescan the configured roots",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.get(cmd)
			if err != nil {
				return err
			}
			report, err := c.Catalog.Refresh(cmd.Context())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scanned %d roots in %s: %d found, %d added, %d updated, %d marked stale\n",
				len(report.Roots), report.Duration.Round(1e6), report.Discovered, report.Added, report.Updated, report.MarkedStale)
			for _, skipped := range report.Skipped {
				fmt.Fprintln(out, warnColor.Sprint("skipped: ")+skipped)
			}
			var partial *domain.ScanPartialFailure
			if errors.As(err, &partial) {
				return nil
			}
			return err
		},
	})

	var kind string
	findCmd := &cobra.Command{
		Use:   "find <query>",
		Short: "Fuzzy-find catalog entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.get(cmd)
			if err != nil {
				return err
			}
			var kinds []domain.TargetKind
			if kind != "" {
				kinds = append(kinds, domain.TargetKind(kind))
			}
			matches := c.Catalog.Find(cmd.Context(), strings.Join(args, " "), kinds...)
			if len(matches) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matches.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SCORE\tNAME\tKIND\tMATCH\tPATH")
			for _, m := range matches {
				fmt.Fprintf(w, "%.2f\t%s\t%s\t%s\t%s\n", m.Score, nameColor.Sprint(m.Entry.CanonicalName), m.Entry.Kind, m.Reason, m.Entry.Path)
			}
			return w.Flush()
		},
	}
	findCmd.Flags().StringVar(&kind, "kind", "", "Restrict to application, file or folder")
	catalogCmd.AddCommand(findCmd)

	catalogCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every catalog entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.get(cmd)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tSOURCE\tALIASES\tPATH")
			for _, e := range c.Catalog.Entries() {
				name := e.CanonicalName
				if e.Stale {
					name += dimColor.Sprint(" (stale)")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, e.Kind, e.Source, strings.Join(e.Aliases, ", "), e.Path)
			}
			return w.Flush()
		},
	})

	catalogCmd.AddCommand(&cobra.Command{
		Use:   "alias <name> <alias>",
		Short: "Add an alias to a catalog entry",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.get(cmd)
			if err != nil {
				return err
			}
			entry, err := c.Catalog.AddAlias(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s aliases: %s\n", nameColor.Sprint(entry.CanonicalName), strings.Join(entry.Aliases, ", "))
			return nil
		},
	})
	return catalogCmd
}
