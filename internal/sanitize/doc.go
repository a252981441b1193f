// Package sanitize rewrites non-deterministic substrings of cell output
// (timestamps, memory addresses, temporary paths) before comparison.
//
// # Rules File Format
//
// A rules file is a sequence of two-line blocks:
//
//	regex: \d{2}:\d{2}:\d{2}
//	replace: HH:MM:SS
//	regex: 0x[0-9a-f]+
//	replace: ADDRESS
//
// Each "regex: " line must be immediately followed by its "replace: " line.
// Lines that do not form such a pair are ignored, so a file without any
// pair yields an empty rule set and a no-op sanitizer.
//
// When the same pattern is declared twice, the later replacement wins and the
// rule keeps the position of its first declaration.
//
// Replacement text may use Python-style group references (\1, \g<1>,
// \g<name>); they are translated to the regexp package's ${1} form.
//
// # Application
//
// Rules are applied in order, each rule's output feeding the next. Values
// that are not strings pass through unchanged.
package sanitize
