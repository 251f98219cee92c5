// Package guard screens outbound message content for flood patterns
// before it is persisted and fanned out. It catches the cheap, obvious
// abuse (character and word flooding, oversized repetition) so the router
// can reject it with a validation error instead of spamming every
// participant's devices.
package guard

import (
	"strings"
	"unicode"
)

// Result is the outcome of a content check.
type Result struct {
	Blocked bool
	Reason  string // machine-readable reason, e.g. "char_flood"
}

// check pairs a detection function with its reported reason.
type check struct {
	reason string
	match  func(string) bool
}

// checks is the ordered list applied by Check. The first match wins.
var checks = []check{
	{reason: "char_flood", match: hasCharFlood},
	{reason: "word_flood", match: hasWordFlood},
}

// Check runs every flood check against content and returns a blocking
// Result on the first match. Content that passes returns the zero Result.
func Check(content string) Result {
	for _, c := range checks {
		if c.match(content) {
			return Result{Blocked: true, Reason: c.reason}
		}
	}
	return Result{}
}

// hasCharFlood reports whether content contains 8 or more consecutive
// identical characters. Go's regexp package (RE2) does not support
// backreferences, so this is a linear scan.
func hasCharFlood(content string) bool {
	const threshold = 8

	count := 1
	prev := rune(-1)
	for _, r := range content {
		if r == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}

// hasWordFlood reports whether the same word appears 5 or more times
// consecutively (case-insensitive). Words are delimited by whitespace.
func hasWordFlood(content string) bool {
	const threshold = 5

	words := strings.FieldsFunc(content, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	if len(words) < threshold {
		return false
	}

	count := 1
	prev := ""
	for _, w := range words {
		lower := strings.ToLower(w)
		if lower == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = lower
		}
	}
	return false
}
