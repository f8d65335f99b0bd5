package phone

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLookup(t *testing.T, code string) Normalizer {
	t.Helper()
	reg, err := NewRegistry()
	require.NoError(t, err)
	n, err := reg.Lookup(code)
	require.NoError(t, err)
	return n
}

func TestNormalize_Saudi(t *testing.T) {
	n := mustLookup(t, "+966")

	tests := []struct {
		name       string
		input      string
		want       string
		wantReason string
	}{
		{name: "trunk prefix", input: "0549176434", want: "966549176434"},
		{name: "missing leading five", input: "49176434", want: "966549176434"},
		{name: "canonical is identity", input: "966549176434", want: "966549176434"},
		{name: "plus and spaces", input: "+966 54 917 6434", want: "966549176434"},
		{name: "international 00 prefix", input: "00966549176434", want: "966549176434"},
		{name: "country code and trunk", input: "9660549176434", want: "966549176434"},
		{name: "arabic-indic digits", input: "٠٥٤٩١٧٦٤٣٤", want: "966549176434"},
		{name: "persian digits", input: "۰۵۴۹۱۷۶۴۳۴", want: "966549176434"},
		{name: "too short", input: "123", wantReason: ReasonTooShort},
		{name: "too long", input: "5491764345555", wantReason: ReasonTooLong},
		{name: "wrong leading digit", input: "749176434", wantReason: ReasonBadLeading},
		{name: "empty", input: "abc", wantReason: ReasonEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Normalize(tt.input)
			if tt.wantReason != "" {
				var ve *ValidationError
				require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
				assert.Equal(t, tt.wantReason, ve.Reason)
				assert.Equal(t, "966", ve.Country)
				assert.Equal(t, "5xxxxxxxx", ve.Example)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Kuwait(t *testing.T) {
	n := mustLookup(t, "965")

	got, err := n.Normalize("96547918532")
	require.NoError(t, err)
	assert.Equal(t, "96547918532", got)

	got, err = n.Normalize("97918532")
	require.NoError(t, err)
	assert.Equal(t, "96597918532", got)

	// An 8-digit national number starting with 965 is not mistaken for a country code.
	got, err = n.Normalize("96512345")
	require.NoError(t, err)
	assert.Equal(t, "96596512345", got)

	_, err = n.Normalize("4791853")
	assert.True(t, IsValidationError(err))

	_, err = n.Normalize("27918532")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ReasonBadLeading, ve.Reason)
}

func TestNormalize_Idempotent(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	samples := map[string]string{
		"966": "0549176434",
		"965": "47918532",
		"971": "0501234567",
		"973": "36001234",
		"968": "91234567",
		"974": "55123456",
		"962": "0791234567",
		"964": "07701234567",
	}
	for code, raw := range samples {
		t.Run(code, func(t *testing.T) {
			n, err := reg.Lookup(code)
			require.NoError(t, err)
			first, err := n.Normalize(raw)
			require.NoError(t, err)
			second, err := n.Normalize(first)
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestNormalizeDigits(t *testing.T) {
	assert.Equal(t, "1234", NormalizeDigits(" 1-2 3.4 "))
	assert.Equal(t, "0123456789", NormalizeDigits("٠١٢٣٤٥٦٧٨٩"))
	assert.Equal(t, "0123456789", NormalizeDigits("۰۱۲۳۴۵۶۷۸۹"))
	assert.Equal(t, "", NormalizeDigits("PIN"))
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(Rule{Code: "+20", Name: "Egypt", Digits: 10, Leading: []string{"1"}, Trunk: true})
	require.NoError(t, err)

	n, err := reg.Lookup("0020")
	require.NoError(t, err)
	got, err := n.Normalize("01012345678")
	require.NoError(t, err)
	assert.Equal(t, "201012345678", got)

	_, err = reg.Lookup("999")
	assert.ErrorIs(t, err, ErrUnknownCountry)
	assert.Contains(t, reg.Codes(), "20")
	assert.Contains(t, reg.Codes(), "966")
}

func TestRule_Validate(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
	}{
		{name: "missing code", rule: Rule{Digits: 8}},
		{name: "zero digits", rule: Rule{Code: "1"}},
		{name: "non-digit leading", rule: Rule{Code: "1", Digits: 8, Leading: []string{"a"}}},
		{name: "prepend without single leading", rule: Rule{Code: "1", Digits: 8, Leading: []string{"4", "5"}, PrependLeading: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.rule)
			assert.Error(t, err)
		})
	}
}
