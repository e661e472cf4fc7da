package memory

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/kokoro/internal/store"
)

const (
	weightKeyword    = 0.40
	weightCategory   = 0.20
	weightRecency    = 0.15
	weightFrequency  = 0.10
	weightConfidence = 0.15

	topicBoostFactor = 1.3

	recencyHalfLife = 7 * 24 * time.Hour

	// How many recently-accessed rows the normalized substring tier scans.
	substringScanLimit = 500
)

// Subscores exposes each scoring component for debugging.
type Subscores struct {
	Keyword    float64 `json:"keyword_score"`
	Category   float64 `json:"category_boost"`
	Recency    float64 `json:"recency_score"`
	Frequency  float64 `json:"frequency_score"`
	Confidence float64 `json:"confidence"`
	TopicBoost float64 `json:"topic_boost"`
}

// RecallResult is one scored candidate.
type RecallResult struct {
	Entry     *store.MemoryEntry `json:"entry"`
	Score     float64            `json:"score"`
	Subscores Subscores          `json:"subscores"`
}

// Recaller runs the multi-tier retrieval over long-term memory.
type Recaller struct {
	store            *store.Store
	limit            int
	candidateCeiling int
}

func NewRecaller(s *store.Store, limit, candidateCeiling int) *Recaller {
	if limit <= 0 {
		limit = 5
	}
	if candidateCeiling <= 0 {
		candidateCeiling = 50
	}
	return &Recaller{store: s, limit: limit, candidateCeiling: candidateCeiling}
}

// Recall retrieves the top entries relevant to message. Working memory, when
// present, contributes topic tokens and the topic boost. Returned entries have
// their access counters bumped.
func (r *Recaller) Recall(message string, working *store.WorkingMemory) ([]RecallResult, error) {
	keywords := Tokenize(message)
	var topicTokens []string
	if working != nil && working.CurrentTopic != "" {
		topicTokens = Tokenize(working.CurrentTopic)
		keywords = mergeUnique(keywords, topicTokens)
	}
	if len(keywords) == 0 {
		return nil, nil
	}
	normalized := NormalizeKeywords(keywords)

	candidates := r.gatherCandidates(keywords, normalized)
	if len(candidates) == 0 {
		return nil, nil
	}

	maxAccess := 0
	for _, c := range candidates {
		if c.AccessCount > maxAccess {
			maxAccess = c.AccessCount
		}
	}

	now := time.Now().UTC()
	results := make([]RecallResult, 0, len(candidates))
	for _, c := range candidates {
		sub := Subscores{
			Keyword:    keywordScore(keywords, c),
			Category:   categoryBoost(c.Category),
			Recency:    recencyScore(now, c.LastAccessed),
			Frequency:  frequencyScore(c.AccessCount, maxAccess),
			Confidence: clamp01(c.Confidence),
			TopicBoost: topicBoost(topicTokens, c),
		}
		results = append(results, RecallResult{Entry: c, Score: FinalScore(sub), Subscores: sub})
	}

	// Descending by score, ties stable on memory id.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.ID < results[j].Entry.ID
	})

	if len(results) > r.limit {
		results = results[:r.limit]
	}

	ids := make([]string, len(results))
	for i, res := range results {
		ids[i] = res.Entry.ID
	}
	if err := r.store.TouchMemories(ids, now); err != nil {
		slog.Warn("Access tracking update failed", "error", err)
	}

	return results, nil
}

// FinalScore applies the fixed weights and the topic multiplier.
func FinalScore(s Subscores) float64 {
	base := weightKeyword*s.Keyword +
		weightCategory*s.Category +
		weightRecency*s.Recency +
		weightFrequency*s.Frequency +
		weightConfidence*s.Confidence
	return base * s.TopicBoost
}

// gatherCandidates merges the four retrieval tiers in order, stopping at the
// candidate ceiling, deduplicating by memory id.
func (r *Recaller) gatherCandidates(keywords, normalized []string) []*store.MemoryEntry {
	seen := make(map[string]struct{})
	var out []*store.MemoryEntry

	add := func(entries []*store.MemoryEntry) bool {
		for _, e := range entries {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			out = append(out, e)
			if len(out) >= r.candidateCeiling {
				return true
			}
		}
		return false
	}

	// Tier 1: FTS prefix-OR over the original keywords.
	if entries, err := r.store.SearchMemoriesFTS(prefixQuery(keywords), r.candidateCeiling); err == nil {
		if add(entries) {
			return out
		}
	}

	// Tier 2: same query over the normalized keyword set, if it differs.
	if len(normalized) > 0 {
		if entries, err := r.store.SearchMemoriesFTS(prefixQuery(normalized), r.candidateCeiling); err == nil {
			if add(entries) {
				return out
			}
		}
	}

	// Tier 3: LIKE per keyword.
	for _, kw := range keywords {
		entries, err := r.store.SearchMemoriesLike(kw, r.candidateCeiling)
		if err != nil {
			continue
		}
		if add(entries) {
			return out
		}
	}

	// Tier 4: pronoun-normalized substring over both sides, with pronoun
	// expansion of normalized keywords.
	recent, err := r.store.RecentMemories(substringScanLimit)
	if err != nil {
		return out
	}
	probes := append([]string{}, normalized...)
	for _, kw := range normalized {
		probes = append(probes, PronounVariants(kw)...)
	}
	probes = mergeUnique(probes, keywords)

	var tier4 []*store.MemoryEntry
	for _, e := range recent {
		haystack := NormalizePronouns(e.Key + " " + e.Value)
		for _, probe := range probes {
			if probe != "" && strings.Contains(haystack, NormalizePronouns(probe)) {
				tier4 = append(tier4, e)
				break
			}
		}
	}
	add(tier4)
	return out
}

// prefixQuery builds the FTS5 disjunction of prefix terms: "kw1"* OR "kw2"*.
func prefixQuery(keywords []string) string {
	var terms []string
	for _, kw := range keywords {
		kw = strings.ReplaceAll(kw, `"`, "")
		if kw == "" {
			continue
		}
		terms = append(terms, `"`+kw+`"*`)
	}
	return strings.Join(terms, " OR ")
}

// keywordScore averages the per-keyword match quality over {key,value}:
// exact word 1.0, normalized exact 1.0, substring of a word 0.7, character
// overlap >= 50% 0.3, else 0.
func keywordScore(keywords []string, e *store.MemoryEntry) float64 {
	if len(keywords) == 0 {
		return 0
	}
	words := Tokenize(e.Key + " " + e.Value)
	normWords := make([]string, len(words))
	for i, w := range words {
		normWords[i] = NormalizePronouns(w)
	}

	total := 0.0
	for _, kw := range keywords {
		normKw := NormalizePronouns(kw)
		best := 0.0
		for i, w := range words {
			var s float64
			switch {
			case kw == w:
				s = 1.0
			case normKw == normWords[i]:
				s = 1.0
			case strings.Contains(w, kw) || strings.Contains(kw, w):
				s = 0.7
			case charOverlap(kw, w) >= 0.5:
				s = 0.3
			}
			if s > best {
				best = s
			}
			if best == 1.0 {
				break
			}
		}
		total += best
	}
	return clamp01(total / float64(len(keywords)))
}

func categoryBoost(c store.MemoryCategory) float64 {
	switch c {
	case store.CategoryPreference:
		return 1.5
	case store.CategoryFact:
		return 1.2
	case store.CategoryPattern:
		return 1.0
	}
	return 1.0
}

// recencyScore decays exponentially with a 7-day half-life.
func recencyScore(now, lastAccessed time.Time) float64 {
	age := now.Sub(lastAccessed)
	if age <= 0 {
		return 1.0
	}
	return clamp01(math.Exp2(-float64(age) / float64(recencyHalfLife)))
}

// frequencyScore is log-normalized against the candidate set's maximum.
func frequencyScore(accessCount, maxAccess int) float64 {
	if maxAccess <= 1 {
		return 0.5
	}
	return clamp01(math.Log(float64(accessCount)+1) / math.Log(float64(maxAccess)+1))
}

func topicBoost(topicTokens []string, e *store.MemoryEntry) float64 {
	if len(topicTokens) == 0 {
		return 1.0
	}
	haystack := e.Key + " " + e.Value
	for _, tok := range topicTokens {
		if tok != "" && strings.Contains(haystack, tok) {
			return topicBoostFactor
		}
	}
	return 1.0
}

// charOverlap is the share of kw's characters present in w.
func charOverlap(kw, w string) float64 {
	if kw == "" || w == "" {
		return 0
	}
	wset := make(map[rune]struct{})
	for _, r := range w {
		wset[r] = struct{}{}
	}
	matched, total := 0, 0
	for _, r := range kw {
		total++
		if _, ok := wset[r]; ok {
			matched++
		}
	}
	return float64(matched) / float64(total)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func mergeUnique(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	var out []string
	for _, s := range base {
		if _, dup := seen[s]; !dup {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range extra {
		if _, dup := seen[s]; !dup {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
