package memory

import (
	"strings"
	"unicode"
)

// neutralPronoun replaces first/second/polite-second person pronouns so that a
// second-person query ("你喜欢什么") can recall a first-person stored fact
// ("我喜欢音乐").
const neutralPronoun = "ta"

var pronouns = []string{
	"我们", "你们", "咱们", "您", "我", "你", "俺", "咱",
	"i", "me", "my", "mine", "myself", "we", "us", "our",
	"you", "your", "yours", "yourself",
}

// Longest-first so 我们 is replaced before 我.
var cjkPronouns = []string{"我们", "你们", "咱们", "您", "我", "你", "俺", "咱"}

var chineseStopwords = map[string]struct{}{
	"的": {}, "了": {}, "着": {}, "是": {}, "在": {}, "有": {}, "和": {}, "与": {},
	"就": {}, "都": {}, "而": {}, "及": {}, "吗": {}, "呢": {}, "吧": {}, "啊": {},
	"这": {}, "那": {}, "什么": {}, "怎么": {}, "为什么": {}, "一个": {}, "没有": {},
	"不": {}, "很": {}, "也": {}, "要": {}, "会": {}, "到": {}, "说": {}, "去": {},
	"能": {}, "可以": {}, "请": {}, "帮": {}, "一下": {},
}

var englishStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "do": {}, "does": {}, "did": {}, "to": {}, "of": {},
	"in": {}, "on": {}, "at": {}, "for": {}, "with": {}, "and": {}, "or": {},
	"but": {}, "not": {}, "no": {}, "so": {}, "if": {}, "it": {}, "its": {},
	"this": {}, "that": {}, "what": {}, "how": {}, "why": {}, "can": {},
	"could": {}, "would": {}, "should": {}, "please": {},
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

// Tokenize splits a message into keywords: runs of CJK characters are emitted
// as bigram-ish chunks (whole runs plus 2-char windows for runs longer than
// two), Latin text by whitespace and punctuation. Stop-words are dropped,
// everything is lowercased, duplicates removed preserving order.
func Tokenize(text string) []string {
	var raw []string
	var latin, cjk []rune

	flushLatin := func() {
		if len(latin) > 0 {
			raw = append(raw, strings.ToLower(string(latin)))
			latin = latin[:0]
		}
	}
	flushCJK := func() {
		if len(cjk) == 0 {
			return
		}
		run := string(cjk)
		raw = append(raw, run)
		if len(cjk) > 2 {
			for i := 0; i+2 <= len(cjk); i++ {
				raw = append(raw, string(cjk[i:i+2]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flushLatin()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			latin = append(latin, r)
		default:
			flushLatin()
			flushCJK()
		}
	}
	flushLatin()
	flushCJK()

	seen := make(map[string]struct{}, len(raw))
	var out []string
	for _, tok := range raw {
		if tok == "" {
			continue
		}
		if _, stop := chineseStopwords[tok]; stop {
			continue
		}
		if _, stop := englishStopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// NormalizePronouns rewrites every person pronoun in text to the neutral token.
func NormalizePronouns(text string) string {
	lower := strings.ToLower(text)
	for _, p := range cjkPronouns {
		lower = strings.ReplaceAll(lower, p, neutralPronoun)
	}
	// Latin pronouns only as whole words.
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !isCJK(r)
	})
	for _, w := range words {
		if isLatinPronoun(w) {
			lower = replaceWholeWord(lower, w, neutralPronoun)
		}
	}
	return lower
}

// NormalizeKeywords returns the pronoun-normalized variant of each keyword,
// deduplicated; keywords untouched by normalization are dropped so the caller
// can tell whether the normalized set differs at all.
func NormalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	var out []string
	for _, kw := range keywords {
		norm := NormalizePronouns(kw)
		if norm == kw || norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

// PronounVariants expands a keyword into every concrete pronoun spelling, so
// the substring tier can match "ta喜欢" against "我喜欢" and "你喜欢" alike.
func PronounVariants(keyword string) []string {
	if !strings.Contains(keyword, neutralPronoun) {
		return nil
	}
	var out []string
	for _, p := range cjkPronouns {
		out = append(out, strings.ReplaceAll(keyword, neutralPronoun, p))
	}
	return out
}

func isLatinPronoun(w string) bool {
	for _, p := range pronouns {
		if w == p {
			return true
		}
	}
	return false
}

func replaceWholeWord(text, word, replacement string) string {
	var b strings.Builder
	fields := splitKeepDelims(text)
	for _, f := range fields {
		if f == word {
			b.WriteString(replacement)
		} else {
			b.WriteString(f)
		}
	}
	return b.String()
}

// splitKeepDelims splits into alternating word / non-word chunks.
func splitKeepDelims(text string) []string {
	var out []string
	var cur []rune
	var curWord bool
	isWord := func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}
	for _, r := range text {
		w := isWord(r)
		if len(cur) > 0 && w != curWord {
			out = append(out, string(cur))
			cur = cur[:0]
		}
		cur = append(cur, r)
		curWord = w
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}
