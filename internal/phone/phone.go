// Package phone converts free-form subscriber input into canonical MSISDNs.
//
// Each supported country is a Normalizer keyed by its dialing code. The set in
// use is assembled into a Registry at startup from the built-in rules and any
// rules declared in configuration.
package phone

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// Validation failure reasons. They are stable keys, safe to log and to branch on.
const (
	ReasonEmpty      = "empty"
	ReasonTooShort   = "too_short"
	ReasonTooLong    = "too_long"
	ReasonBadLeading = "bad_leading_digit"
)

// ErrUnknownCountry is returned by Registry.Lookup for unregistered dialing codes.
var ErrUnknownCountry = errors.New("unknown country")

// Normalizer turns raw user input into "<country code><national number>".
type Normalizer interface {
	CountryCode() string
	Example() string
	Normalize(raw string) (string, error)
}

// ValidationError reports input that cannot be a subscriber number for the country.
// It is distinct from a gateway rejection: no network call was made.
type ValidationError struct {
	Country string
	Input   string
	Reason  string
	Example string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid msisdn for +%s (%s): expected format %s", e.Country, e.Reason, e.Example)
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// toLatin maps Arabic-Indic (U+0660-0669) and Extended Arabic-Indic (U+06F0-06F9) digits to ASCII.
func toLatin(r rune) rune {
	switch {
	case r >= '٠' && r <= '٩':
		return '0' + (r - '٠')
	case r >= '۰' && r <= '۹':
		return '0' + (r - '۰')
	default:
		return r
	}
}

func notASCIIDigit(r rune) bool {
	return r < '0' || r > '9'
}

// NormalizeDigits remaps localized digit glyphs to Latin and drops every other character.
// It is used for both phone numbers and PIN codes.
func NormalizeDigits(s string) string {
	t := transform.Chain(
		runes.Map(toLatin),
		runes.Remove(runes.Predicate(notASCIIDigit)),
	)
	// Map and Remove never return errors.
	out, _, _ := transform.String(t, s)
	return out
}

// CleanCountryCode strips a leading "+" or "00" and surrounding space from a dialing code.
func CleanCountryCode(code string) string {
	code = strings.TrimSpace(code)
	code = strings.TrimPrefix(code, "+")
	code = strings.TrimPrefix(code, "00")
	return code
}
