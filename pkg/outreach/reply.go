package outreach

import (
	"time"

	"outreach-policy-engine/pkg/models"
)

// ApplyReply folds a classified reply into state and returns the index of the
// attempt it was attached to, or -1 when no attempt was waiting for a reply.
// A refusal sets the refused flag; a deferral moves deferred_until forward
// and never earlier. It only touches the state it is given.
func ApplyReply(state *models.ContactState, text string, receivedAt time.Time, c models.Classification) int {
	index := -1
	if i, ok := state.PendingAttempt(); ok {
		index = i
		reply := text
		at := receivedAt
		classification := c
		if c.DeferralUntil != nil {
			until := *c.DeferralUntil
			classification.DeferralUntil = &until
		}

		attempt := &state.OutreachHistory[i]
		attempt.ResponseText = &reply
		attempt.ResponseReceivedAt = &at
		attempt.Classification = &classification
	}

	switch c.Kind {
	case models.KindRefusal:
		state.Refused = true
	case models.KindDeferral:
		if c.DeferralUntil != nil && (state.DeferredUntil == nil || c.DeferralUntil.After(*state.DeferredUntil)) {
			until := *c.DeferralUntil
			state.DeferredUntil = &until
		}
	}

	return index
}
