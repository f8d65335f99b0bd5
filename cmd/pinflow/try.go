package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/pinflow/internal/cli"
	"github.com/Veraticus/pinflow/internal/funnel"
)

func tryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "try",
		Short: "Walk through the funnel interactively",
		Long: `Run the subscription funnel in the terminal against the configured gateway
and analytics backend. A real PIN is sent and a confirmed subscription is
a real sale.

Pass a landing URL to attribute the session to a campaign, or --suid to
resume a session that was interrupted.`,
		Example: `  pinflow try --landing-url "https://lp.example.com/?cid=C1&gclid=abc"
  pinflow try --suid 3f2b9c0d7e1a4b5c8d9e0f1a2b3c4d5e`,
		RunE: runTry,
	}

	cmd.Flags().String("landing-url", "", "landing page URL carrying cid and click ids")
	cmd.Flags().String("suid", "", "resume an existing session")
	cmd.Flags().String("lang", "", "preferred language (default: funnel.language)")

	return cmd
}

func runTry(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slog.Default()

	a, err := buildApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	landingURL, _ := cmd.Flags().GetString("landing-url")
	suid, _ := cmd.Flags().GetString("suid")
	lang, _ := cmd.Flags().GetString("lang")

	f, err := a.manager.Start(cmd.Context(), funnel.StartRequest{
		SUID:       suid,
		LandingURL: landingURL,
		UserAgent:  "pinflow/" + version,
		IP:         "127.0.0.1",
		Language:   lang,
	})
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	resume := "pinflow try --suid " + f.SUID()
	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	interrupts.SetResumeHint(resume)
	ctx := interrupts.HandleInterrupts(cmd.Context())

	err = cli.NewPrompter(os.Stdin, cmd.OutOrStdout()).Run(ctx, f)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cli.ErrQuit):
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Resume later with: "+resume))
		return nil
	case errors.Is(err, cli.ErrInputCancelled) && interrupts.WasInterrupted():
		return nil
	default:
		return err
	}
}
