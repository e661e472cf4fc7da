package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize_MixedLanguage(t *testing.T) {
	tokens := Tokenize("我喜欢 drinking Coffee 和编程")

	assert.Contains(t, tokens, "喜欢")
	assert.Contains(t, tokens, "drinking")
	assert.Contains(t, tokens, "coffee")
	assert.Contains(t, tokens, "编程")
	// Stop-words are dropped.
	assert.NotContains(t, tokens, "和")
	assert.NotContains(t, tokens, "的")
}

func TestTokenize_DedupesPreservingOrder(t *testing.T) {
	tokens := Tokenize("coffee tea coffee tea coffee")
	assert.Equal(t, []string{"coffee", "tea"}, tokens)
}

func TestTokenize_CJKWindows(t *testing.T) {
	tokens := Tokenize("喜欢编程")
	// Runs longer than two characters also yield 2-char windows.
	assert.Contains(t, tokens, "喜欢编程")
	assert.Contains(t, tokens, "喜欢")
	assert.Contains(t, tokens, "编程")
}

func TestNormalizePronouns_ChineseAndEnglish(t *testing.T) {
	assert.Equal(t, "ta喜欢咖啡", NormalizePronouns("我喜欢咖啡"))
	assert.Equal(t, "ta的计划", NormalizePronouns("你的计划"))
	// Multi-char pronouns win over their prefixes.
	assert.Equal(t, "ta一起去", NormalizePronouns("我们一起去"))

	assert.Equal(t, "ta like coffee", NormalizePronouns("i like coffee"))
	assert.Equal(t, "tell ta more", NormalizePronouns("tell me more"))
}

func TestNormalizePronouns_WholeWordOnly(t *testing.T) {
	// "i" inside a word must not be replaced.
	assert.Equal(t, "义务 music", NormalizePronouns("义务 music"))
	assert.Equal(t, "this", NormalizePronouns("this"))
}

func TestNormalizeKeywords_OnlyChanged(t *testing.T) {
	out := NormalizeKeywords([]string{"我喜欢", "coffee"})
	assert.Equal(t, []string{"ta喜欢"}, out)
}

func TestPronounVariants(t *testing.T) {
	variants := PronounVariants("ta喜欢")
	assert.Contains(t, variants, "我喜欢")
	assert.Contains(t, variants, "你喜欢")
}
