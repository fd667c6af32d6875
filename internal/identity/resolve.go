package identity

import (
	"context"

	"omega/internal/memory"
)

// CanonicalLookup finds a pre-existing sender_id on a different channel
// that plausibly identifies the same human as (channel, senderID,
// senderName) — e.g. matching a linked phone number or display name.
// Channel adapters that support cross-channel identity hints implement
// this; adapters that can't simply never register one.
type CanonicalLookup func(ctx context.Context, channel, senderID, senderName string) (canonical string, ok bool)

// LanguageDetector guesses a BCC-47-ish language code from free text, used
// only on a brand-new sender with no alias and no lookup hit.
type LanguageDetector func(text string) string

// Resolver implements new-sender handling: alias creation on a
// cross-channel identity hit, or first-contact bookkeeping on a miss.
type Resolver struct {
	store    memory.Store
	lookup   CanonicalLookup
	detector LanguageDetector
}

func NewResolver(store memory.Store, lookup CanonicalLookup, detector LanguageDetector) *Resolver {
	return &Resolver{store: store, lookup: lookup, detector: detector}
}

// Resolve returns the sender_id downstream processing should use: either
// senderID unchanged, or a canonical id resolved from an existing alias or
// a fresh cross-channel match.
func (r *Resolver) Resolve(ctx context.Context, channel, senderID, senderName, text string) (string, error) {
	if canonical, ok, err := r.store.ResolveAlias(ctx, senderID); err != nil {
		return "", err
	} else if ok {
		return canonical, nil
	}

	_, welcomedOK, err := r.store.GetFact(ctx, senderID, memory.FactWelcomed)
	if err != nil {
		return "", err
	}
	if welcomedOK {
		// Already processed once under this exact sender_id; no alias to
		// resolve and no first-contact bookkeeping to redo.
		return senderID, nil
	}

	if r.lookup != nil {
		if canonical, ok := r.lookup(ctx, channel, senderID, senderName); ok && canonical != senderID {
			if err := r.store.CreateAlias(ctx, senderID, canonical); err != nil {
				return "", err
			}
			return canonical, nil
		}
	}

	if err := r.store.SetFact(ctx, senderID, memory.FactWelcomed, "true"); err != nil {
		return "", err
	}
	if r.detector != nil {
		if lang := r.detector(text); lang != "" {
			if err := r.store.SetFact(ctx, senderID, memory.FactPreferredLanguage, lang); err != nil {
				return "", err
			}
		}
	}
	return senderID, nil
}
