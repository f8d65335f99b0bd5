package phone

import (
	"fmt"
	"strings"
)

// Rule describes a country with fixed-length national mobile numbers.
type Rule struct {
	// Code is the dialing code without "+", e.g. "966".
	Code string `mapstructure:"code" yaml:"code"`
	// Name is informational.
	Name string `mapstructure:"name" yaml:"name"`
	// Leading lists the allowed first digits of the national number. Empty allows any.
	Leading []string `mapstructure:"leading" yaml:"leading"`
	// Digits is the exact national number length.
	Digits int `mapstructure:"digits" yaml:"digits"`
	// Trunk strips one domestic "0" prefix.
	Trunk bool `mapstructure:"trunk" yaml:"trunk"`
	// PrependLeading adds the single allowed leading digit when it is the only thing missing.
	PrependLeading bool `mapstructure:"prepend_leading" yaml:"prepend_leading"`
}

// Validate checks the rule is usable.
func (r Rule) Validate() error {
	code := CleanCountryCode(r.Code)
	if code == "" || NormalizeDigits(code) != code {
		return fmt.Errorf("country rule: invalid code %q", r.Code)
	}
	if r.Digits <= 0 {
		return fmt.Errorf("country rule %s: digits must be positive", code)
	}
	for _, l := range r.Leading {
		if l == "" || NormalizeDigits(l) != l || len(l) >= r.Digits {
			return fmt.Errorf("country rule %s: invalid leading digits %q", code, l)
		}
	}
	if r.PrependLeading && len(r.Leading) != 1 {
		return fmt.Errorf("country rule %s: prepend_leading needs exactly one leading value", code)
	}
	return nil
}

// FixedLength is the Normalizer for a Rule.
type FixedLength struct {
	rule Rule
}

// NewFixedLength builds a Normalizer from a validated rule.
func NewFixedLength(rule Rule) (*FixedLength, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	rule.Code = CleanCountryCode(rule.Code)
	return &FixedLength{rule: rule}, nil
}

// CountryCode returns the dialing code.
func (f *FixedLength) CountryCode() string {
	return f.rule.Code
}

// Example returns a user-facing national format such as "5xxxxxxxx".
func (f *FixedLength) Example() string {
	prefix := ""
	if len(f.rule.Leading) > 0 {
		prefix = f.rule.Leading[0]
	}
	return prefix + strings.Repeat("x", f.rule.Digits-len(prefix))
}

// Normalize applies the country rule to raw input.
func (f *FixedLength) Normalize(raw string) (string, error) {
	digits := NormalizeDigits(raw)
	if digits == "" {
		return "", f.fail(raw, ReasonEmpty)
	}

	digits = strings.TrimPrefix(digits, "00")

	if strings.HasPrefix(digits, f.rule.Code) && len(digits) > f.rule.Digits {
		digits = digits[len(f.rule.Code):]
	}

	if f.rule.Trunk && strings.HasPrefix(digits, "0") {
		digits = digits[1:]
	}

	if f.rule.PrependLeading {
		lead := f.rule.Leading[0]
		if !strings.HasPrefix(digits, lead) && len(digits) == f.rule.Digits-len(lead) {
			digits = lead + digits
		}
	}

	switch {
	case len(digits) < f.rule.Digits:
		return "", f.fail(raw, ReasonTooShort)
	case len(digits) > f.rule.Digits:
		return "", f.fail(raw, ReasonTooLong)
	case !f.leadingAllowed(digits):
		return "", f.fail(raw, ReasonBadLeading)
	}

	return f.rule.Code + digits, nil
}

func (f *FixedLength) leadingAllowed(national string) bool {
	if len(f.rule.Leading) == 0 {
		return true
	}
	for _, l := range f.rule.Leading {
		if strings.HasPrefix(national, l) {
			return true
		}
	}
	return false
}

func (f *FixedLength) fail(raw, reason string) error {
	return &ValidationError{
		Country: f.rule.Code,
		Input:   raw,
		Reason:  reason,
		Example: f.Example(),
	}
}
