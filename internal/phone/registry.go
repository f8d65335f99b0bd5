package phone

import (
	"fmt"
	"sort"
	"sync"
)

// BuiltinRules are the countries supported without configuration.
var BuiltinRules = []Rule{
	{Code: "966", Name: "Saudi Arabia", Digits: 9, Leading: []string{"5"}, Trunk: true, PrependLeading: true},
	{Code: "965", Name: "Kuwait", Digits: 8, Leading: []string{"4", "5", "6", "9"}},
	{Code: "971", Name: "United Arab Emirates", Digits: 9, Leading: []string{"5"}, Trunk: true},
	{Code: "973", Name: "Bahrain", Digits: 8, Leading: []string{"3", "6"}},
	{Code: "968", Name: "Oman", Digits: 8, Leading: []string{"7", "9"}},
	{Code: "974", Name: "Qatar", Digits: 8, Leading: []string{"3", "5", "6", "7"}},
	{Code: "962", Name: "Jordan", Digits: 9, Leading: []string{"7"}, Trunk: true},
	{Code: "964", Name: "Iraq", Digits: 10, Leading: []string{"7"}, Trunk: true},
}

// Registry maps dialing codes to Normalizers.
type Registry struct {
	normalizers map[string]Normalizer
	mu          sync.RWMutex
}

// NewRegistry returns a registry holding the built-in rules overlaid with custom ones.
// A custom rule replaces the built-in rule for the same code.
func NewRegistry(custom ...Rule) (*Registry, error) {
	r := &Registry{normalizers: make(map[string]Normalizer)}
	for _, rule := range append(append([]Rule{}, BuiltinRules...), custom...) {
		n, err := NewFixedLength(rule)
		if err != nil {
			return nil, err
		}
		r.Register(n)
	}
	return r, nil
}

// Register adds or replaces a Normalizer.
func (r *Registry) Register(n Normalizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.normalizers[n.CountryCode()] = n
}

// Lookup returns the Normalizer for a dialing code ("966", "+966" and "00966" are equivalent).
func (r *Registry) Lookup(code string) (Normalizer, error) {
	code = CleanCountryCode(code)
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.normalizers[code]
	if !ok {
		return nil, fmt.Errorf("%w: +%s", ErrUnknownCountry, code)
	}
	return n, nil
}

// Codes lists the registered dialing codes in ascending order.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.normalizers))
	for code := range r.normalizers {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
