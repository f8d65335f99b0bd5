package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Veraticus/pinflow/internal/cli"
	"github.com/Veraticus/pinflow/internal/common"
	"github.com/Veraticus/pinflow/internal/phone"
)

func normalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize [number...]",
		Short: "Check how mobile numbers are normalized",
		Long: `Normalize one or more mobile numbers with the rules of a country, exactly
as the funnel would before sending a PIN.

Without --country the funnel country from the config is used. Use --list
to show every supported country with an example number.`,
		Example: `  pinflow normalize 0512345678 "+966 51 234 5678"
  pinflow normalize --country 965 51234567
  pinflow normalize --list`,
		RunE: runNormalize,
	}

	cmd.Flags().String("country", "", "dialing code of the country rules to apply")
	cmd.Flags().Bool("list", false, "list supported countries")

	return cmd
}

func runNormalize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if list, _ := cmd.Flags().GetBool("list"); list {
		return listCountries(out, reg)
	}
	if len(args) == 0 {
		return common.NewUserError("give at least one number to normalize", nil)
	}

	country := cfg.Funnel.Country
	if flag, _ := cmd.Flags().GetString("country"); flag != "" {
		country = phone.CleanCountryCode(flag)
	}
	n, err := reg.Lookup(country)
	if err != nil {
		return common.NewUserError(fmt.Sprintf("no number rules for +%s (see --list)", country), err)
	}

	if failed := normalizeNumbers(out, n, args); failed > 0 {
		return common.NewUserError(fmt.Sprintf("%d of %d numbers are invalid", failed, len(args)), nil)
	}
	return nil
}

// normalizeNumbers prints one line per input and returns how many were rejected.
func normalizeNumbers(w io.Writer, n phone.Normalizer, inputs []string) int {
	failed := 0
	for _, raw := range inputs {
		msisdn, err := n.Normalize(raw)
		if err != nil {
			failed++
			_, _ = fmt.Fprintln(w, cli.FormatError(fmt.Sprintf("%q: %v", raw, err)))
			continue
		}
		_, _ = fmt.Fprintln(w, cli.FormatSuccess(fmt.Sprintf("%q → %s", raw, msisdn)))
	}
	return failed
}

func listCountries(w io.Writer, reg *phone.Registry) error {
	for _, code := range reg.Codes() {
		n, err := reg.Lookup(code)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "+%-4s %s\n", code, cli.SubtleStyle.Render("e.g. "+n.Example()))
	}
	return nil
}
