// ABOUTME: Tests for the two-tier escalation classifier
// ABOUTME: Keyword tier must short-circuit before any model call happens

package escalate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-health/relay/internal/model"
)

type fakeCompleter struct {
	calls  int
	answer string
	err    error
}

func (f *fakeCompleter) Text(_ context.Context, _ model.Call) (string, error) {
	f.calls++
	return f.answer, f.err
}

func TestClassify_KeywordHitSkipsModelEntirely(t *testing.T) {
	completer := &fakeCompleter{answer: "0"}
	c := NewClassifier(DefaultKeywords(), completer)

	level, err := c.Classify(t.Context(), "conv-1", "req-1", "I think I'm having an ALLERGIC REACTION to the filler", true)
	require.NoError(t, err)
	assert.Equal(t, LevelEscalate, level)
	assert.Zero(t, completer.calls)
}

func TestClassify_ScansEveryLanguageList(t *testing.T) {
	completer := &fakeCompleter{answer: "0"}
	c := NewClassifier(DefaultKeywords(), completer)

	// Korean keyword inside an otherwise English message still matches
	level, err := c.Classify(t.Context(), "conv-1", "req-1", "after the procedure 출혈 hasn't stopped", true)
	require.NoError(t, err)
	assert.Equal(t, LevelEscalate, level)
	assert.Zero(t, completer.calls)
}

func TestClassify_ShallowModeNeverCallsModel(t *testing.T) {
	completer := &fakeCompleter{answer: "2"}
	c := NewClassifier(DefaultKeywords(), completer)

	level, err := c.Classify(t.Context(), "conv-1", "req-1", "what are your opening hours?", false)
	require.NoError(t, err)
	assert.Equal(t, LevelNone, level)
	assert.Zero(t, completer.calls)
}

func TestClassify_DeepModeReadsFirstRecognizedDigit(t *testing.T) {
	cases := []struct {
		answer string
		want   Level
	}{
		{"2", LevelEscalate},
		{"1", LevelMonitor},
		{"0", LevelNone},
		{"urgency: 1 (monitor)", LevelMonitor},
		{"I would rate this a 2.", LevelEscalate},
		{"unsure", LevelNone},
		{"", LevelNone},
	}
	for _, tc := range cases {
		completer := &fakeCompleter{answer: tc.answer}
		c := NewClassifier(DefaultKeywords(), completer)

		level, err := c.Classify(t.Context(), "conv-1", "req-1", "the swelling seems worse than yesterday", true)
		require.NoError(t, err)
		assert.Equal(t, tc.want, level, "answer %q", tc.answer)
		assert.Equal(t, 1, completer.calls)
	}
}

func TestClassify_ModelErrorDefaultsToNone(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("provider timeout")}
	c := NewClassifier(DefaultKeywords(), completer)

	level, err := c.Classify(t.Context(), "conv-1", "req-1", "hmm not sure about the result", true)
	assert.Error(t, err)
	assert.Equal(t, LevelNone, level)
}

func TestClassify_NilCompleterDisablesTierTwo(t *testing.T) {
	c := NewClassifier(DefaultKeywords(), nil)

	level, err := c.Classify(t.Context(), "conv-1", "req-1", "just a question about pricing", true)
	require.NoError(t, err)
	assert.Equal(t, LevelNone, level)
}
