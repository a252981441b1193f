package sanitize

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// blockPattern matches one regex/replace pair on consecutive lines.
var blockPattern = regexp.MustCompile(`(?m)^regex: (.*)$\n^replace: (.*)$`)

// Escapes recognised at the start of a Python replacement template, in the
// order re.sub tries them: octal literals, numbered groups, named groups.
var (
	octalRef = regexp.MustCompile(`^\\(0[0-7]{0,2}|[0-7]{3})`)
	groupRef = regexp.MustCompile(`^\\(\d{1,2})`)
	namedRef = regexp.MustCompile(`^\\g<(\w+)>`)
)

// pythonEscapes are the character escapes re.sub expands in a replacement.
var pythonEscapes = map[byte]string{
	'\\': "\\",
	'a':  "\a",
	'b':  "\b",
	'f':  "\f",
	'n':  "\n",
	'r':  "\r",
	't':  "\t",
	'v':  "\v",
}

// Rule is a single pattern to replacement rewrite.
type Rule struct {
	Pattern     string
	Replacement string

	re   *regexp.Regexp
	repl string
}

// RuleError reports a rule whose pattern cannot be compiled.
type RuleError struct {
	Source  string // file the rule came from, empty for in-memory sources
	Pattern string
	Err     error
}

func (e *RuleError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: invalid pattern %q: %v", e.Source, e.Pattern, e.Err)
	}
	return fmt.Sprintf("invalid pattern %q: %v", e.Pattern, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// NewRule compiles a rule.
func NewRule(pattern, replacement string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, &RuleError{Pattern: pattern, Err: err}
	}
	return Rule{
		Pattern:     pattern,
		Replacement: replacement,
		re:          re,
		repl:        translateReplacement(replacement),
	}, nil
}

// Apply rewrites every match of the rule's pattern in s.
func (r Rule) Apply(s string) string {
	if r.re == nil {
		return s
	}
	return r.re.ReplaceAllString(s, r.repl)
}

// ParseRules extracts the regex/replace pairs from the contents of a rules file.
// Duplicate patterns collapse to a single rule carrying the last replacement.
func ParseRules(contents string) ([]Rule, error) {
	var rules []Rule
	if err := mergeRules(&rules, contents, ""); err != nil {
		return nil, err
	}
	return rules, nil
}

// LoadFiles reads and merges rules from the given files, in order.
// Patterns repeated across files follow the same last-write-wins rule as
// duplicates within one file.
func LoadFiles(paths ...string) ([]Rule, error) {
	var rules []Rule
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read sanitize file: %w", err)
		}
		if err := mergeRules(&rules, string(data), path); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

func mergeRules(rules *[]Rule, contents, source string) error {
	index := make(map[string]int, len(*rules))
	for i, r := range *rules {
		index[r.Pattern] = i
	}

	for _, m := range blockPattern.FindAllStringSubmatch(contents, -1) {
		rule, err := NewRule(m[1], m[2])
		if err != nil {
			var re *RuleError
			if errors.As(err, &re) {
				re.Source = source
			}
			return err
		}
		if i, ok := index[rule.Pattern]; ok {
			(*rules)[i] = rule
			continue
		}
		index[rule.Pattern] = len(*rules)
		*rules = append(*rules, rule)
	}
	return nil
}

// translateReplacement converts Python re.sub replacement syntax into the
// regexp package's expansion syntax in one left-to-right scan. Literal '$'
// is escaped; unknown escapes such as \& keep their backslash.
func translateReplacement(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '$':
			b.WriteString("$$")
			continue
		case c != '\\' || i+1 == len(s):
			b.WriteByte(c)
			continue
		}
		rest := s[i:]
		if m := octalRef.FindStringSubmatch(rest); m != nil {
			n, _ := strconv.ParseUint(m[1], 8, 32)
			b.WriteString(expandLiteral(string(rune(n))))
			i += len(m[0]) - 1
			continue
		}
		if m := groupRef.FindStringSubmatch(rest); m != nil {
			b.WriteString("${" + m[1] + "}")
			i += len(m[0]) - 1
			continue
		}
		if m := namedRef.FindStringSubmatch(rest); m != nil {
			b.WriteString("${" + m[1] + "}")
			i += len(m[0]) - 1
			continue
		}
		if lit, ok := pythonEscapes[s[i+1]]; ok {
			b.WriteString(lit)
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func expandLiteral(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}
