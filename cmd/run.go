// cmd/run.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/agent"
	"github.com/xkilldash9x/atlas-cli/internal/netwatch"
	"github.com/xkilldash9x/atlas-cli/internal/observability"
)

// passwordEnv supplies the profile password without exposing it in argv.
const passwordEnv = "ATLAS_PROFILE_PASSWORD"

type runFlags struct {
	url      string
	goals    []string
	maxSteps int
	email    string
	password string
	headed   bool
	driver   string
	asJSON   bool
}

func newRunCmd() *cobra.Command {
	var f runFlags

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one browser session toward the given goals",
		Example: `  atlas run --url https://example.com/login --goal "Log in" --email me@example.com
  ATLAS_PROFILE_PASSWORD=secret atlas run --url https://example.com --goal "Open settings" --headed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if f.headed {
				cfg.SetBrowserHeadless(false)
			}
			if f.driver != "" {
				cfg.SetBrowserDriver(f.driver)
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			if f.password == "" {
				f.password = os.Getenv(passwordEnv)
			}

			req := agent.RunRequest{URL: f.url, Goals: f.goals, MaxSteps: f.maxSteps}
			if f.email != "" || f.password != "" {
				req.Profile = &schemas.Profile{Email: f.email, Password: f.password}
			}

			ctx := cmd.Context()
			logger := observability.GetLogger()
			logger.Info("Starting session.",
				zap.String("url", req.URL),
				zap.Strings("goals", req.Goals),
				zap.String("driver", cfg.Browser().Driver),
				observability.Secret("password", f.password),
			)

			comps, err := buildComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = comps.shutdown() }()

			report, err := runSession(ctx, comps.manager, req, cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if f.asJSON {
				err = writeJSON(cmd.OutOrStdout(), report)
			} else {
				err = writeTable(cmd.OutOrStdout(), report)
			}
			if err != nil {
				return err
			}
			if report.Status == schemas.StatusFailed {
				return fmt.Errorf("session %s failed", report.SessionID)
			}
			return nil
		},
	}

	flags := runCmd.Flags()
	flags.StringVarP(&f.url, "url", "u", "", "starting URL (http or https)")
	flags.StringArrayVarP(&f.goals, "goal", "g", nil, "goal in natural language (repeatable)")
	flags.IntVar(&f.maxSteps, "max-steps", 0, "step budget (default from agent.max_steps)")
	flags.StringVar(&f.email, "email", "", "profile email offered to the oracle")
	flags.StringVar(&f.password, "password", "", "profile password, substituted at fill time (or "+passwordEnv+")")
	flags.BoolVar(&f.headed, "headed", false, "show the browser window")
	flags.StringVar(&f.driver, "driver", "", "browser driver: playwright or cdp (overrides browser.driver)")
	flags.BoolVar(&f.asJSON, "json", false, "print the session report as JSON")
	_ = runCmd.MarkFlagRequired("url")
	_ = runCmd.MarkFlagRequired("goal")
	return runCmd
}

// sessionDriver is the slice of agent.Manager the CLI needs.
type sessionDriver interface {
	Start(ctx context.Context, req agent.RunRequest) (*schemas.Session, error)
	Wait(ctx context.Context, id string) (*schemas.Session, error)
	Continue(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (schemas.SessionSnapshot, error)
	Summary(id string) (netwatch.Summary, error)
}

// runSession starts a session and waits for it. When it pauses for a human,
// the operator is asked on in whether to continue or stop.
func runSession(ctx context.Context, m sessionDriver, req agent.RunRequest, in io.Reader, prompt io.Writer) (sessionReport, error) {
	s, err := m.Start(ctx, req)
	if err != nil {
		return sessionReport{}, err
	}
	id := s.ID
	answers := bufio.NewScanner(in)

	for {
		s, err = m.Wait(ctx, id)
		if err != nil {
			return sessionReport{}, err
		}
		if s.Status() != schemas.StatusWaitingHuman {
			break
		}
		if !askContinue(answers, prompt, s) {
			if err := m.Stop(ctx, id); err != nil {
				return sessionReport{}, err
			}
			break
		}
		if err := m.Continue(ctx, id); err != nil {
			if errors.Is(err, agent.ErrNotWaiting) {
				break
			}
			return sessionReport{}, err
		}
	}

	snap, err := m.Get(ctx, id)
	if err != nil {
		return sessionReport{}, err
	}
	var summary *netwatch.Summary
	if sum, err := m.Summary(id); err == nil {
		summary = &sum
	}
	return newSessionReport(snap, summary), nil
}

// askContinue prints why the session paused and reads the operator's answer.
// End of input counts as stop.
func askContinue(answers *bufio.Scanner, prompt io.Writer, s *schemas.Session) bool {
	reason := "human input requested"
	if last, ok := s.LastStep(); ok && last.Error != "" {
		reason = last.Error
	}
	fmt.Fprintf(prompt, "\nSession %s is waiting: %s\n", s.ID, reason)
	for {
		fmt.Fprint(prompt, "Resolve it in the browser, then type 'continue' or 'stop': ")
		if !answers.Scan() {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(answers.Text())) {
		case "c", "continue", "y", "yes":
			return true
		case "s", "stop", "n", "no", "q", "quit":
			return false
		}
	}
}
