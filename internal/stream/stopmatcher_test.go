package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopMatcherSplitAcrossChunks(t *testing.T) {
	m, err := NewStreamingRegexStopMatcher("STOP")
	require.NoError(t, err)

	update := m.Feed("hello ST")
	assert.Equal(t, "hello", update.EmitText)
	assert.False(t, update.Matched)

	update = m.Feed("OP world")
	assert.Equal(t, " ", update.EmitText)
	assert.True(t, update.Matched)
	assert.Equal(t, "STOP", update.StopText)
	assert.Equal(t, 10, update.RewindBytes)

	assert.Equal(t, "hello ", m.EmittedText())
}

func TestStopMatcherPrefersShortestAlternativeAtEarliestStart(t *testing.T) {
	m, err := NewStreamingRegexStopMatcher("ab|a")
	require.NoError(t, err)

	update := m.Feed("cabd")
	assert.Equal(t, "c", update.EmitText)
	assert.True(t, update.Matched)
	assert.Equal(t, "a", update.StopText)
	assert.Equal(t, 3, update.RewindBytes)
}

func TestStopMatcherUnboundedPatternHoldsEverything(t *testing.T) {
	m, err := NewStreamingRegexStopMatcher("a+b+")
	require.NoError(t, err)

	update := m.Feed("xyz")
	assert.Equal(t, "", update.EmitText)
	assert.False(t, update.Matched)

	update = m.Finish()
	assert.Equal(t, "xyz", update.EmitText)
	assert.False(t, update.Matched)
	assert.Equal(t, "xyz", m.EmittedText())
}

func TestStopMatcherSingleCharWidthReleasesEverything(t *testing.T) {
	m, err := NewStreamingRegexStopMatcher("X")
	require.NoError(t, err)

	update := m.Feed("abc")
	assert.Equal(t, "abc", update.EmitText)
	assert.False(t, update.Matched)
}

func TestStopMatcherFrozenAfterMatch(t *testing.T) {
	m, err := NewStreamingRegexStopMatcher("STOP")
	require.NoError(t, err)

	update := m.Feed("one STOP two")
	require.True(t, update.Matched)
	assert.Equal(t, "one ", update.EmitText)
	assert.Equal(t, 8, update.RewindBytes)

	// Later feeds and the finish call change nothing.
	update = m.Feed(" more text")
	assert.True(t, update.Matched)
	assert.Equal(t, "", update.EmitText)
	assert.Equal(t, "STOP", update.StopText)
	assert.Equal(t, 0, update.RewindBytes)

	update = m.Finish()
	assert.Equal(t, "", update.EmitText)
	assert.Equal(t, "one ", m.EmittedText())
}

func TestStopMatcherChunkingDoesNotChangeTheOutcome(t *testing.T) {
	const total = "alpha beta STOP gamma"

	partitions := [][]string{
		{total},
		{"alpha beta STOP gamma"[:1], total[1:]},
		{"alpha ", "beta S", "TO", "P gamma"},
		{"alpha beta ST", "OP gamma"},
	}

	for _, chunks := range partitions {
		m, err := NewStreamingRegexStopMatcher("STOP")
		require.NoError(t, err)

		emitted := ""
		stop := ""
		for _, chunk := range chunks {
			update := m.Feed(chunk)
			emitted += update.EmitText
			if update.Matched {
				stop = update.StopText
				break
			}
		}
		emitted += m.Finish().EmitText

		assert.Equal(t, "alpha beta ", emitted)
		assert.Equal(t, "STOP", stop)
	}
}

func TestStopMatcherNoMatchReleasesEverythingOnFinish(t *testing.T) {
	m, err := NewStreamingRegexStopMatcher("STOP")
	require.NoError(t, err)

	first := m.Feed("just some ST")
	second := m.Finish()
	assert.Equal(t, "just some ST", first.EmitText+second.EmitText)
	assert.False(t, second.Matched)
}

func TestStopMatcherRejectsInvalidPattern(t *testing.T) {
	_, err := NewStreamingRegexStopMatcher("[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid stop_regex pattern")
}
