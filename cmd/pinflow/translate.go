package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Veraticus/pinflow/internal/cli"
	"github.com/Veraticus/pinflow/internal/messages"
)

func translateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "translate <code>...",
		Short: "Show the subscriber message for gateway error codes",
		Long: `Look up the message a subscriber sees for a gateway error code.

Some codes read differently depending on whether they came back from
sending the PIN or from verifying it; pick one with --context.`,
		Example: `  pinflow translate 8001022 --context verify_pin --lang ar
  pinflow translate 5201004 OPERATOR_NOT_SUPPORTED`,
		Args: cobra.MinimumNArgs(1),
		RunE: runTranslate,
	}

	cmd.Flags().String("lang", "", "language or Accept-Language value (default: funnel.language)")
	cmd.Flags().String("context", "", "operation context (send_otp, verify_pin)")

	return cmd
}

func runTranslate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	translator, err := messages.NewTranslator(cfg.Funnel.Language)
	if err != nil {
		return err
	}

	lang, _ := cmd.Flags().GetString("lang")
	opContext, _ := cmd.Flags().GetString("context")
	ctx := messages.Context(opContext)
	switch ctx {
	case messages.ContextNone, messages.ContextSendOTP, messages.ContextVerifyPIN:
	default:
		return fmt.Errorf("unknown context %q (send_otp, verify_pin)", opContext)
	}

	translateCodes(cmd.OutOrStdout(), translator, args, ctx, lang)
	return nil
}

// translateCodes prints each code with its message. Codes missing from the
// catalog are flagged since they fall back to the generic message.
func translateCodes(w io.Writer, t *messages.Translator, codes []string, ctx messages.Context, lang string) {
	resolved := t.Match(lang)
	for _, code := range codes {
		label := cli.BoldStyle.Render(code)
		if !t.Known(code) {
			label += " " + cli.WarningStyle.Render("(unknown, generic message)")
		}
		_, _ = fmt.Fprintf(w, "%s [%s]\n  %s\n", label, resolved, t.Translate(code, ctx, lang))
	}
}
