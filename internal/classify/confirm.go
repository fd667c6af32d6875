// Package classify holds small, deterministic text-classification helpers
// that sit in front of a provider call: confirmation-word detection for the
// pending-state gates and heartbeat item grouping.
package classify

import (
	"strings"
	"unicode"
)

// Confirmation is the result of matching a reply against the pending
// build-request confirmation vocabulary.
type Confirmation int

const (
	ConfirmationNone Confirmation = iota
	ConfirmationYes
	ConfirmationNo
)

// confirmWords and cancelWords cover 8 languages: English, Spanish,
// Portuguese, French, German, Italian, Dutch, Japanese.
var confirmWords = []string{
	"yes", "go", "confirm", "sí", "si", "vale", "sim", "confirmar",
	"oui", "d'accord", "ja", "einverstanden", "sì", "va bene",
	"ok", "doorgaan", "はい", "了解",
}

var cancelWords = []string{
	"no", "cancel", "nope", "não", "nao", "cancelar", "non", "annuler",
	"nein", "abbrechen", "niente", "annulla", "nee", "annuleren",
	"いいえ", "キャンセル",
}

// ClassifyConfirmation matches text (trimmed, lowercased) against both
// vocabularies. An exact whole-text match against either list wins;
// otherwise each word of the text (split on whitespace and punctuation)
// is checked against both vocabularies, so a short reply embedded in a
// longer sentence ("yes please") still resolves without matching a
// vocabulary word that merely appears as a substring of some other word
// ("no" must not match inside "know" or "not").
func ClassifyConfirmation(text string) Confirmation {
	norm := strings.ToLower(strings.TrimSpace(text))
	if norm == "" {
		return ConfirmationNone
	}

	for _, w := range confirmWords {
		if norm == w {
			return ConfirmationYes
		}
	}
	for _, w := range cancelWords {
		if norm == w {
			return ConfirmationNo
		}
	}

	words := strings.FieldsFunc(norm, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, word := range words {
		for _, w := range confirmWords {
			if word == w {
				return ConfirmationYes
			}
		}
		for _, w := range cancelWords {
			if word == w {
				return ConfirmationNo
			}
		}
	}
	return ConfirmationNone
}
