package classifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-policy-engine/pkg/models"
	"outreach-policy-engine/pkg/patterns"
)

var classifiedAt = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestClassify(t *testing.T) {
	store := patterns.Default()

	tests := []struct {
		name    string
		text    string
		kind    models.ClassificationKind
		pattern string
	}{
		{"plain refusal", "No thanks, not interested", models.KindRefusal, "not interested"},
		{"refusal is case insensitive", "PLEASE STOP", models.KindRefusal, "please stop"},
		{"typographic apostrophe", "Don’t contact me again", models.KindRefusal, "don't contact"},
		{"comma inside refusal", "No, thanks", models.KindRefusal, "no thanks"},
		{"comma and full stop", "No, thank you.", models.KindRefusal, "no thank you"},
		{"hyphenated refusal", "Not-interested", models.KindRefusal, "not interested"},
		{"deferral", "Busy right now, maybe next week?", models.KindDeferral, "busy right now"},
		{"hyphenated deferral", "Remind me next-month", models.KindDeferral, "remind me next month"},
		{"phrase inside a longer word", "Tomorrowland sounds good", models.KindPositive, "sounds good"},
		{"positive", "Yes, sounds good!", models.KindPositive, "sounds good"},
		{"negative", "This is spam", models.KindNegative, "spam"},
		{"neutral", "What does the program cover?", models.KindNeutral, ""},
		{"empty", "", models.KindUnclassified, ""},
		{"whitespace", "   \n\t", models.KindUnclassified, ""},
		{"punctuation only", "??!!", models.KindUnclassified, ""},
		{"invalid utf8", string([]byte{0xff, 0xfe, 0xfd}), models.KindUnclassified, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.text, store, classifiedAt)
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.pattern, c.MatchedPattern)
			assert.Equal(t, store.Version(), c.PatternVersion)
			if tt.kind != models.KindDeferral {
				assert.Nil(t, c.DeferralUntil)
			}
		})
	}
}

func TestClassify_RefusalBeatsDeferral(t *testing.T) {
	store := patterns.Default()

	for _, text := range []string{
		"Not interested. Maybe next month.",
		"remind me next month... actually no, unsubscribe",
		"Not right now and honestly not interested",
	} {
		c := Classify(text, store, classifiedAt)
		assert.Equal(t, models.KindRefusal, c.Kind, text)
		assert.Nil(t, c.DeferralUntil, text)
	}
}

func TestClassify_DeferralDateArithmetic(t *testing.T) {
	c := Classify("Sure, remind me next month", patterns.Default(), classifiedAt)

	require.Equal(t, models.KindDeferral, c.Kind)
	require.NotNil(t, c.DeferralUntil)
	assert.Equal(t, classifiedAt.Add(30*24*time.Hour), *c.DeferralUntil)
	assert.Equal(t, "remind me next month", c.MatchedPattern)
}

func TestClassify_NilStore(t *testing.T) {
	c := Classify("not interested", nil, classifiedAt)
	assert.Equal(t, models.KindUnclassified, c.Kind)
}

func TestClassify_Deterministic(t *testing.T) {
	store := patterns.Default()
	text := "Thanks! Check back later, swamped this week"

	first := Classify(text, store, classifiedAt)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Classify(text, store, classifiedAt))
	}
}
