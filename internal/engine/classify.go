package engine

import (
	"strings"
	"unicode/utf8"
)

// shortCriticalRunes is the length at or below which a cleaned utterance is
// considered latency-critical. Short prompts are acknowledgements; the
// premium voice's connection latency is not worth the wait for them.
const shortCriticalRunes = 12

// quickCountWords are the exact words spoken during counting games. They
// must land immediately after the child's action, so they always take the
// fast path.
var quickCountWords = map[string]struct{}{
	"one": {}, "two": {}, "three": {}, "four": {}, "five": {},
	"six": {}, "seven": {}, "eight": {}, "nine": {}, "ten": {},
	"1": {}, "2": {}, "3": {}, "4": {}, "5": {},
	"6": {}, "7": {}, "8": {}, "9": {}, "10": {},
}

// ackFragments are known low-latency prompt fragments used as immediate
// feedback during activities.
var ackFragments = []string{
	"great job",
	"good job",
	"well done",
	"that's right",
	"try again",
	"you did it",
}

// IsLatencyCritical reports whether cleaned text should prefer the fastest
// backend and may preempt the queue. The input is expected to already be
// normalized.
func IsLatencyCritical(cleaned string) bool {
	if cleaned == "" {
		return false
	}

	lower := strings.ToLower(cleaned)
	if _, ok := quickCountWords[strings.Trim(lower, " !.?,")]; ok {
		return true
	}
	if utf8.RuneCountInString(cleaned) <= shortCriticalRunes {
		return true
	}
	for _, frag := range ackFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
