package sanitize

import (
	"golang.org/x/text/unicode/norm"
)

// Sanitizer applies an immutable, ordered set of rules to text values.
// A Sanitizer is safe for concurrent use; the zero value is the identity.
type Sanitizer struct {
	rules   []Rule
	foldNFC bool
}

// Option configures a Sanitizer.
type Option func(*Sanitizer)

// WithUnicodeNormalization folds text to NFC before the rules run, so that
// composed and decomposed forms of the same character compare equal.
func WithUnicodeNormalization(enabled bool) Option {
	return func(s *Sanitizer) {
		s.foldNFC = enabled
	}
}

// New creates a Sanitizer over a private copy of rules.
func New(rules []Rule, opts ...Option) *Sanitizer {
	s := &Sanitizer{rules: append([]Rule(nil), rules...)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Rules returns the rules in application order.
func (s *Sanitizer) Rules() []Rule {
	if s == nil {
		return nil
	}
	return append([]Rule(nil), s.rules...)
}

// Len returns the number of loaded rules.
func (s *Sanitizer) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Text rewrites s with every rule in load order.
func (s *Sanitizer) Text(text string) string {
	if s == nil {
		return text
	}
	if s.foldNFC {
		text = norm.NFC.String(text)
	}
	for _, r := range s.rules {
		text = r.Apply(text)
	}
	return text
}

// Value sanitizes v if it is a string and returns any other value unchanged.
func (s *Sanitizer) Value(v any) any {
	str, ok := v.(string)
	if !ok {
		return v
	}
	return s.Text(str)
}
