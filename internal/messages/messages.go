// Package messages translates gateway error codes and local validation failures
// into user-facing text.
package messages

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Context disambiguates codes whose meaning depends on the operation that produced them.
type Context string

// Translation contexts.
const (
	ContextNone      Context = ""
	ContextSendOTP   Context = "send_otp"
	ContextVerifyPIN Context = "verify_pin"
)

// Well-known catalog keys.
const (
	CodeUnknown              = "UNKNOWN_ERROR"
	CodeNetwork              = "NETWORK_ERROR"
	CodeRequestFailed        = "REQUEST_FAILED"
	CodeOperatorNotSupported = "OPERATOR_NOT_SUPPORTED"
	CodeInvalidMSISDN        = "INVALID_MSISDN"
	CodeInvalidPINFormat     = "INVALID_PIN_FORMAT"
	CodeSessionExpired       = "SESSION_EXPIRED"
	CodeInvalidNumberOrPIN   = "8001022"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Entry holds the text for one code, optionally overridden per context.
type Entry struct {
	Text     map[string]string             `yaml:"text"`
	Contexts map[Context]map[string]string `yaml:"contexts"`
}

// Catalog is the parsed message table.
type Catalog struct {
	Messages        map[string]Entry `yaml:"messages"`
	DefaultLanguage string           `yaml:"default_language"`
	Fallback        string           `yaml:"fallback"`
}

// ParseCatalog decodes a YAML catalog and checks every entry covers the default language.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse message catalog: %w", err)
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = "en"
	}
	if c.Fallback == "" {
		c.Fallback = CodeUnknown
	}
	if _, ok := c.Messages[c.Fallback]; !ok {
		return nil, fmt.Errorf("message catalog: fallback %q missing", c.Fallback)
	}
	for code, e := range c.Messages {
		if e.Text[c.DefaultLanguage] == "" {
			return nil, fmt.Errorf("message catalog: %s has no %s text", code, c.DefaultLanguage)
		}
	}
	return &c, nil
}

// Languages returns the base languages present in the fallback entry, default first.
func (c *Catalog) Languages() []string {
	langs := []string{c.DefaultLanguage}
	var others []string
	for lang := range c.Messages[c.Fallback].Text {
		if lang != c.DefaultLanguage {
			others = append(others, lang)
		}
	}
	sort.Strings(others)
	return append(langs, others...)
}

// Translator looks up localized messages.
type Translator struct {
	catalog   *Catalog
	matcher   language.Matcher
	languages []string
}

// NewTranslator loads the embedded catalog. defaultLang overrides the catalog's default
// when it is one of the catalog's languages.
func NewTranslator(defaultLang string) (*Translator, error) {
	c, err := ParseCatalog(embeddedCatalog)
	if err != nil {
		return nil, err
	}
	return NewTranslatorFromCatalog(c, defaultLang)
}

// NewTranslatorFromCatalog builds a Translator over an already parsed catalog.
func NewTranslatorFromCatalog(c *Catalog, defaultLang string) (*Translator, error) {
	langs := c.Languages()
	if defaultLang != "" && defaultLang != langs[0] {
		idx := -1
		for i, l := range langs {
			if l == defaultLang {
				idx = i
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("message catalog has no language %q", defaultLang)
		}
		langs[0], langs[idx] = langs[idx], langs[0]
	}

	tags := make([]language.Tag, 0, len(langs))
	for _, l := range langs {
		tag, err := language.Parse(l)
		if err != nil {
			return nil, fmt.Errorf("message catalog language %q: %w", l, err)
		}
		tags = append(tags, tag)
	}

	return &Translator{
		catalog:   c,
		matcher:   language.NewMatcher(tags),
		languages: langs,
	}, nil
}

// Default returns the language used when nothing matches.
func (t *Translator) Default() string {
	return t.languages[0]
}

// Match picks the best supported language for a BCP 47 tag or an Accept-Language value.
func (t *Translator) Match(preferred string) string {
	preferred = strings.TrimSpace(preferred)
	if preferred == "" {
		return t.Default()
	}
	tags, _, err := language.ParseAcceptLanguage(preferred)
	if err != nil || len(tags) == 0 {
		return t.Default()
	}
	_, idx, confidence := t.matcher.Match(tags...)
	if confidence == language.No {
		return t.Default()
	}
	return t.languages[idx]
}

// Known reports whether code has its own catalog entry.
func (t *Translator) Known(code string) bool {
	_, ok := t.catalog.Messages[code]
	return ok
}

// Translate returns the message for a gateway code in the given context and language.
// Unknown codes fall back to the generic error message.
func (t *Translator) Translate(code string, ctx Context, lang string) string {
	e, ok := t.catalog.Messages[code]
	if !ok {
		e = t.catalog.Messages[t.catalog.Fallback]
	}
	lang = t.Match(lang)

	if ctx != ContextNone {
		if texts, ok := e.Contexts[ctx]; ok {
			if msg := pick(texts, lang, t.Default()); msg != "" {
				return msg
			}
		}
	}
	return pick(e.Text, lang, t.Default())
}

// Message returns a local message with {name} placeholders replaced from vars.
func (t *Translator) Message(code string, lang string, vars map[string]string) string {
	msg := t.Translate(code, ContextNone, lang)
	if len(vars) == 0 {
		return msg
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}

func pick(texts map[string]string, lang, fallback string) string {
	if msg := texts[lang]; msg != "" {
		return msg
	}
	return texts[fallback]
}
