package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/doeshing/pcpilot/internal/application/command"
	"github.com/doeshing/pcpilot/internal/domain"
)

var (
	okColor   = color.New(color.FgGreen)
	errColor  = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow)
	dimColor  = color.New(color.Faint)
	nameColor = color.New(color.FgCyan)
)

// RenderResponse prints the outcome of one command.
func RenderResponse(out io.Writer, resp command.Response, verbose bool) {
	if verbose {
		renderIntents(out, resp.Candidates)
	}
	switch {
	case resp.Outcome.DryRun:
		fmt.Fprintln(out, warnColor.Sprint("dry run: ")+resp.Outcome.Detail)
	case resp.Executed && resp.Outcome.Success:
		if resp.Outcome.Detail != "" && resp.Chosen.Action != domain.ActionCustom {
			fmt.Fprintln(out, okColor.Sprint("✓ ")+resp.Outcome.Detail)
		}
	case resp.Executed:
		fmt.Fprintln(out, errColor.Sprint("✗ ")+resp.Outcome.Detail)
	}
	if resp.Outcome.Output != "" {
		fmt.Fprintln(out, resp.Outcome.Output)
	}
	if resp.Reply != "" {
		fmt.Fprintln(out, resp.Reply)
	}
	if resp.Text != "" && resp.Record.Source == domain.InputVoice {
		fmt.Fprintln(out, dimColor.Sprintf("heard: %q", resp.Text))
	}
}

// spokenReply picks what to say aloud for a response.
func spokenReply(resp command.Response) string {
	if resp.Reply != "" {
		return resp.Reply
	}
	if resp.Executed && resp.Outcome.Detail != "" {
		return resp.Outcome.Detail
	}
	return ""
}

func renderIntents(out io.Writer, intents []domain.Intent) {
	for i, in := range intents {
		target := describeTarget(in.Target)
		if target == "" {
			target = "-"
		}
		fmt.Fprintf(out, "%d. %-12s %s %s %s\n",
			i+1,
			in.Action,
			nameColor.Sprint(target),
			confidenceColor(in.Confidence).Sprintf("%.2f", in.Confidence),
			dimColor.Sprintf("[%s]", in.Source))
		if reply := in.Parameters["reply"]; reply != "" {
			fmt.Fprintf(out, "   %s\n", dimColor.Sprint(reply))
		}
	}
}

func confidenceColor(c float64) *color.Color {
	switch {
	case c >= domain.DefaultTrustedConfidence:
		return okColor
	case c >= 0.5:
		return warnColor
	default:
		return errColor
	}
}

func renderDoctorReport(out io.Writer, report domain.HealthReport) {
	for _, check := range report.Checks {
		var status string
		switch check.Status {
		case domain.HealthOK:
			status = okColor.Sprint("[OK]   ")
		case domain.HealthWarn:
			status = warnColor.Sprint("[WARN] ")
		default:
			status = errColor.Sprint("[ERROR]")
		}
		fmt.Fprintf(out, "%s %s - %s\n", status, check.Name, check.Details)
	}
}

func renderHealth(h domain.HealthState) string {
	label := strings.ToUpper(string(h))
	switch h {
	case domain.HealthHealthy:
		return okColor.Sprint(label)
	case domain.HealthDegraded:
		return warnColor.Sprint(label)
	default:
		return errColor.Sprint(label)
	}
}
