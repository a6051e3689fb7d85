package chunk

import (
	"strings"
	"testing"
	"unicode"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestEmptyInputYieldsNoChunks(t *testing.T) {
	s := New()
	assert.Nil(t, s.Split(""))
	assert.Nil(t, s.Split("   \n\t  "))
}

func TestShortTextIsOneChunk(t *testing.T) {
	s := New()
	got := s.Split("A single short paragraph.")
	assert.Equal(t, []string{"A single short paragraph."}, got)
}

func TestParagraphBoundariesPreferred(t *testing.T) {
	s := &Splitter{TargetSize: 40, MinSize: 5}
	text := "First paragraph stays together here.\n\nSecond paragraph stays together too."
	got := s.Split(text)
	assert.Equal(t, []string{
		"First paragraph stays together here.",
		"Second paragraph stays together too.",
	}, got)
}

func TestOversizedParagraphFallsBackToSentences(t *testing.T) {
	s := &Splitter{TargetSize: 30, MinSize: 5}
	text := "One short sentence. Another short one. And then a third sentence."
	got := s.Split(text)
	assert.GreaterOrEqual(t, len(got), 2)
	for _, c := range got {
		assert.LessOrEqual(t, len(c), 30)
	}
}

func TestOversizedSentenceIsHardCut(t *testing.T) {
	s := &Splitter{TargetSize: 10, MinSize: 2}
	got := s.Split(strings.Repeat("a", 35))
	assert.Len(t, got, 4)
	assert.Equal(t, strings.Repeat("a", 10), got[0])
}

func TestCJKPunctuationSplits(t *testing.T) {
	s := &Splitter{TargetSize: 20, MinSize: 2}
	got := s.Split("这是第一句话。这是第二句话。这是第三句话。")
	assert.GreaterOrEqual(t, len(got), 2)
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func TestSplitPreservesContent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	s := &Splitter{TargetSize: 100, MinSize: 10}
	properties.Property("no characters are lost or reordered", prop.ForAll(
		func(text string) bool {
			chunks := s.Split(text)
			return stripWhitespace(strings.Join(chunks, "")) == stripWhitespace(text)
		},
		gen.AnyString(),
	))

	properties.Property("chunks are bounded", prop.ForAll(
		func(text string) bool {
			for _, c := range s.Split(text) {
				if len([]rune(c)) > 2*s.TargetSize {
					return false
				}
			}
			return true
		},
		gen.AnyString(),
	))

	properties.Property("non-blank input yields at least one chunk", prop.ForAll(
		func(text string) bool {
			if strings.TrimSpace(text) == "" {
				return true
			}
			return len(s.Split(text)) >= 1
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
