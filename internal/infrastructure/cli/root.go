package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/doeshing/pcpilot/internal/app"
	"github.com/doeshing/pcpilot/internal/application/command"
	"github.com/doeshing/pcpilot/internal/domain"
)

// Options holds CLI-level configuration.
type Options struct {
	Verbose    bool
	ConfigPath string
	// Build overrides container construction (tests).
	Build func(ctx context.Context, opts app.Options) (*app.Container, error)
}

// session builds the container on first use so commands like version and
// config path work without a store or a valid config.
type session struct {
	opts      Options
	dryRun    bool
	container *app.Container
}

func (s *session) get(cmd *cobra.Command) (*app.Container, error) {
	if s.container != nil {
		return s.container, nil
	}
	build := s.opts.Build
	if build == nil {
		build = app.BuildContainer
	}
	c, err := build(cmd.Context(), app.Options{
		ConfigPath: s.opts.ConfigPath,
		Verbose:    s.opts.Verbose,
		DryRun:     s.dryRun,
	})
	if err != nil {
		return nil, err
	}
	s.container = c
	return c, nil
}

func (s *session) close() error {
	if s.container == nil {
		return nil
	}
	err := s.container.Close()
	s.container = nil
	return err
}

// NewRootCmd wires the cobra root command.
func NewRootCmd(opts Options) *cobra.Command {
	root, _ := newRoot(opts)
	return root
}

func newRoot(opts Options) (*cobra.Command, *session) {
	s := &session{opts: opts}
	runCmd := newRunCommand(s)

	root := &cobra.Command{
		Use:   "pcpilot [command]",
		Short: "pcpilot - natural language control for your computer",
		Long:  "pcpilot turns typed or spoken commands into actions and learns from how they turn out.",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !cmd.Flags().Changed("audio") {
				return cmd.Help()
			}
			return runCmd.RunE(cmd, args)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return s.close()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&s.opts.ConfigPath, "config", opts.ConfigPath, "Config file (default ~/.pcpilot/config.yaml, or $PCPILOT_CONFIG)")
	root.PersistentFlags().BoolVar(&s.opts.Verbose, "debug", opts.Verbose, "Enable verbose logging")
	root.PersistentFlags().BoolVar(&s.dryRun, "dry-run", false, "Resolve and record without acting")
	root.Flags().AddFlagSet(runCmd.Flags())

	root.AddCommand(runCmd)
	root.AddCommand(newResolveCommand(s))
	root.AddCommand(newCorrectCommand(s))
	root.AddCommand(newSuggestCommand(s))
	root.AddCommand(newConsolidateCommand(s))
	root.AddCommand(newHistoryCommand(s))
	root.AddCommand(newPatternsCommand(s))
	root.AddCommand(newCatalogCommand(s))
	root.AddCommand(newBackendsCommand(s))
	root.AddCommand(newTranscribeCommand(s))
	root.AddCommand(newSpeakCommand(s))
	root.AddCommand(newDoctorCommand(s))
	root.AddCommand(newConfigCommand(s))
	root.AddCommand(newVersionCommand())
	return root, s
}

type runFlags struct {
	audio    string
	autoPick bool
	speak    bool
	timeout  time.Duration
}

func newRunCommand(s *session) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:     "run [command text]",
		Aliases: []string{"do"},
		Short:   "Interpret a command and act on it",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && f.audio == "" {
				return errors.New("give the command as text or pass --audio")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.get(cmd)
			if err != nil {
				return err
			}
			c.Start(cmd.Context())

			ctx := cmd.Context()
			if f.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, f.timeout)
				defer cancel()
			}

			prompter := NewPrompter(nil, cmd.ErrOrStderr())
			spin := NewSpinner(cmd.ErrOrStderr(), prompter.Enabled() && !s.opts.Verbose)
			if c.Config.Execution.Confirm {
				c.Commands.Disambiguator = &spinnerPrompter{Prompter: prompter, spin: spin}
			}
			req := command.Request{
				Text:     strings.Join(args, " "),
				DryRun:   s.dryRun,
				AutoPick: f.autoPick || c.Config.Execution.AutoPick,
			}

			spin.Start()
			var resp command.Response
			if f.audio != "" {
				resp, err = c.Commands.RunAudio(ctx, f.audio, req)
			} else {
				resp, err = c.Commands.Run(ctx, req)
			}
			spin.Stop()
			if err != nil {
				return err
			}
			RenderResponse(cmd.OutOrStdout(), resp, s.opts.Verbose)
			if f.speak {
				if say := spokenReply(resp); say != "" {
					if _, err := c.Commands.Speak(ctx, say, ""); err != nil {
						fmt.Fprintln(cmd.ErrOrStderr(), warnColor.Sprint("speech unavailable: "+err.Error()))
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.audio, "audio", "", "Transcribe this WAV file and run it as a voice command")
	cmd.Flags().BoolVarP(&f.autoPick, "yes", "y", false, "Take the top candidate instead of asking when targets tie")
	cmd.Flags().BoolVar(&f.speak, "speak", false, "Speak the reply through the speech-synthesis backend")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 60*time.Second, "Overall deadline for the command")
	return cmd
}

// spinnerPrompter stops the spinner before asking so the question is not overdrawn.
type spinnerPrompter struct {
	*Prompter
	spin *Spinner
}

func (p *spinnerPrompter) Choose(query string, candidates []domain.Intent) (int, error) {
	p.spin.Stop()
	return p.Prompter.Choose(query, candidates)
}

func newResolveCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [command text]",
		Short: "Show how a command would be interpreted without acting or learning",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.get(cmd)
			if err != nil {
				return err
			}
			intents, err := c.Resolver.Resolve(cmd.Context(), strings.Join(args, " "))
			var amb *domain.AmbiguousTargetError
			if err != nil && !errors.As(err, &amb) {
				return err
			}
			renderIntents(cmd.OutOrStdout(), intents)
			if amb != nil {
				fmt.Fprintln(cmd.OutOrStdout(), warnColor.Sprint(amb.Error()))
			}
			return nil
		},
	}
}

// Execute runs the root command and maps errors to the process exit code.
func Execute(ctx context.Context, opts Options) int {
	root, s := newRoot(opts)
	err := root.ExecuteContext(ctx)
	if cerr := s.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, errColor.Sprint("error:"), err)
		return 1
	}
	return 0
}
