package usecase

import (
	"regexp"
	"strings"
)

// minClassifyLength is the length below which a message skips classification
// entirely; very short messages are almost always budget or confirmation
// replies in context.
const minClassifyLength = 5

// fastPathPattern matches short, unambiguous replies (bare numbers,
// "under N", yes/no/maybe) that never warrant a classification call.
var fastPathPattern = regexp.MustCompile(`(?i)^\d+$|^under\s+\d+$|^less\s+than\s+\d+$|^\$?\d+$|^yes$|^no$|^maybe$`)

// redirectMessage is the fixed reply for off-topic messages. Off-topic is a
// designed short circuit, not an error.
const redirectMessage = "I'm specifically here to help you find the perfect cannabis products! " +
	"For other questions, please contact our team directly. Now, what can I help you find today? 🌿"

// needsClassification reports whether a message is ambiguous enough to spend
// a classification call on.
func needsClassification(message string) bool {
	trimmed := strings.TrimSpace(message)
	if fastPathPattern.MatchString(trimmed) {
		return false
	}
	return len(trimmed) > minClassifyLength
}
