// Package classifier maps a free-text reply onto a Classification using the
// pattern store. It never fails: anything it cannot interpret is unclassified.
package classifier

import (
	"time"
	"unicode/utf8"

	"outreach-policy-engine/pkg/constants"
	"outreach-policy-engine/pkg/models"
	"outreach-policy-engine/pkg/patterns"
)

// Classify interprets text received at now.
//
// Refusals are checked before deferrals, so a reply that both declines and
// proposes a later date is a refusal. Without either, lexical polarity
// decides between positive, neutral and negative. Empty or unparseable text
// is unclassified.
func Classify(text string, store *patterns.Store, now time.Time) (result models.Classification) {
	defer func() {
		if r := recover(); r != nil {
			result = unclassified(store)
		}
	}()

	if store == nil || !utf8.ValidString(text) {
		return unclassified(store)
	}

	tokens := patterns.Tokens(text)
	if len(tokens) == 0 {
		return unclassified(store)
	}

	if phrase, ok := store.MatchRefusal(tokens); ok {
		return models.Classification{
			Kind:           models.KindRefusal,
			MatchedPattern: phrase,
			PatternVersion: store.Version(),
		}
	}

	if phrase, days, ok := store.MatchDeferral(tokens); ok {
		until := now.Add(constants.DaysToDuration(days))
		return models.Classification{
			Kind:           models.KindDeferral,
			DeferralUntil:  &until,
			MatchedPattern: phrase,
			PatternVersion: store.Version(),
		}
	}

	score, phrase := store.Sentiment(tokens)
	kind := models.KindNeutral
	switch {
	case score > 0:
		kind = models.KindPositive
	case score < 0:
		kind = models.KindNegative
	}

	return models.Classification{
		Kind:           kind,
		MatchedPattern: phrase,
		PatternVersion: store.Version(),
	}
}

func unclassified(store *patterns.Store) models.Classification {
	c := models.Classification{Kind: models.KindUnclassified}
	if store != nil {
		c.PatternVersion = store.Version()
	}
	return c
}
