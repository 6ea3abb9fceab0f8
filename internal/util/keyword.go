package util

import (
	"strings"
	"unicode"
)

// Words lowercases text and collapses every run of non-letter, non-digit
// runes into a single space.
func Words(text string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

// ContainsKeyword reports whether kw occurs in text, ignoring case.
// Keywords made of letters, digits and spaces match whole words only
// ("ai" does not match "rain"); any other keyword matches as a substring.
func ContainsKeyword(text, kw string) bool {
	kw = strings.ToLower(strings.TrimSpace(kw))
	if kw == "" {
		return false
	}
	if !wordy(kw) {
		return strings.Contains(strings.ToLower(text), kw)
	}
	return strings.Contains(" "+Words(text)+" ", " "+strings.Join(strings.Fields(kw), " ")+" ")
}

// MatchFirst returns the index of the first keyword found in text, or -1.
func MatchFirst(text string, keywords []string) int {
	for i, kw := range keywords {
		if ContainsKeyword(text, kw) {
			return i
		}
	}
	return -1
}

func wordy(kw string) bool {
	for _, r := range kw {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ' ' {
			return false
		}
	}
	return true
}
