package outreach

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-policy-engine/pkg/classifier"
	"outreach-policy-engine/pkg/models"
	"outreach-policy-engine/pkg/patterns"
)

func TestApplyReply_AttachesToLatestAttempt(t *testing.T) {
	pats := patterns.Default()
	state := models.NewContactState("user_1", joined)
	state.OutreachHistory = []models.OutreachAttempt{
		{VariantID: "friendly_intro", SentAt: joined.Add(2 * day)},
		{VariantID: "question_followup", SentAt: joined.Add(10 * day)},
	}

	at := joined.Add(11 * day)
	index := ApplyReply(state, "sounds good", at, classifier.Classify("sounds good", pats, at))
	assert.Equal(t, 1, index)
	require.True(t, state.OutreachHistory[1].HasResponse())
	assert.False(t, state.OutreachHistory[0].HasResponse())
}

func TestApplyReply_SecondReplyNeverReopensOlderAttempt(t *testing.T) {
	pats := patterns.Default()
	state := models.NewContactState("user_1", joined)
	state.OutreachHistory = []models.OutreachAttempt{
		{VariantID: "friendly_intro", SentAt: joined.Add(2 * day)},
		{VariantID: "question_followup", SentAt: joined.Add(10 * day)},
	}

	first := joined.Add(11 * day)
	require.Equal(t, 1, ApplyReply(state, "sounds good", first, classifier.Classify("sounds good", pats, first)))

	second := first.Add(time.Hour)
	index := ApplyReply(state, "No, thanks", second, classifier.Classify("No, thanks", pats, second))
	assert.Equal(t, -1, index)
	assert.False(t, state.OutreachHistory[0].HasResponse(), "older attempt stays unanswered")
	assert.Equal(t, "sounds good", *state.OutreachHistory[1].ResponseText)
	assert.True(t, state.Refused, "the refusal still takes effect")
}

func TestApplyReply_NoHistory(t *testing.T) {
	state := models.NewContactState("user_1", joined)
	at := joined.Add(day)

	index := ApplyReply(state, "remind me next month", at, classifier.Classify("remind me next month", patterns.Default(), at))
	assert.Equal(t, -1, index)
	require.NotNil(t, state.DeferredUntil)
	assert.Equal(t, at.Add(30*day), *state.DeferredUntil)
}
