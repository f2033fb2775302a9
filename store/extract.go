package store

import "strings"

// rememberPhrases mark a user message as something to keep.
var rememberPhrases = []string{
	"remember",
	"save this",
	"keep in mind",
	"don't forget",
	"my name is",
	"i prefer",
	"i like",
}

// ExtractMemory turns a user message that asks to be remembered into a
// memory. It reports false for ordinary messages.
func ExtractMemory(message string) (Memory, bool) {
	text := strings.TrimSpace(message)
	lower := strings.ToLower(text)
	hit := false
	for _, p := range rememberPhrases {
		if strings.Contains(lower, p) {
			hit = true
			break
		}
	}
	if !hit {
		return Memory{}, false
	}
	category := "fact"
	switch {
	case strings.Contains(lower, "prefer"), strings.Contains(lower, "like"):
		category = "preference"
	case strings.Contains(lower, "my name is"):
		category = "personal"
	}
	return Memory{Content: text, Category: category}, true
}
