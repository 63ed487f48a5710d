// Package severity provides a generic ordered rule table for classifying
// metric values into severity levels.
//
// A Table is a sequence of (predicate, level) pairs evaluated first-match-wins
// with a default of OK. All domain threshold tables used across the analyzers
// live in this package so the numbers are documented in one place and never
// duplicated.
package severity

// Level is a classification outcome, ordered from least to most severe.
type Level string

const (
	OK       Level = "OK"
	Info     Level = "INFO"
	Consider Level = "CONSIDER"
	Warning  Level = "WARNING"
	High     Level = "HIGH"
	Critical Level = "CRITICAL"
)

// rank orders levels for comparisons; unknown levels sort below OK.
var rank = map[Level]int{
	OK:       1,
	Info:     2,
	Consider: 3,
	Warning:  4,
	High:     5,
	Critical: 6,
}

// Rank returns the ordinal position of the level, 0 for unknown values.
func (l Level) Rank() int { return rank[l] }

// AtLeast reports whether l is as severe as min or more.
func (l Level) AtLeast(min Level) bool { return l.Rank() >= min.Rank() }

// Max returns the most severe of the given levels, OK when none are given.
func Max(levels ...Level) Level {
	out := OK
	for _, l := range levels {
		if l.Rank() > out.Rank() {
			out = l
		}
	}
	return out
}

// Rule pairs a predicate over a metric value with the level assigned when it
// matches.
type Rule[T any] struct {
	When  func(T) bool
	Level Level
}

// Table is an ordered rule sequence. Classification walks the table in order
// and returns the level of the first matching rule.
type Table[T any] []Rule[T]

// Classify evaluates v against the table, first match wins. A value matching
// no rule classifies as OK.
func (t Table[T]) Classify(v T) Level {
	for _, r := range t {
		if r.When(v) {
			return r.Level
		}
	}
	return OK
}
