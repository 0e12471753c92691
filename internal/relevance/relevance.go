// Package relevance scores memory items against a user command so the
// retrieval layer can rank them. Scoring combines lexical overlap with
// recency and usefulness bonuses; it ranks items, it never filters them.
package relevance

import (
	"math"
	"sort"
	"strings"
	"time"

	"flowscribe/internal/memory"
	"flowscribe/internal/similarity"
)

// Score caps and bonus weights. Overlap dominates; recency and usefulness
// break ties between equally relevant items.
const (
	maxScore = 100.0

	overlapWeight  = 50.0
	substringBonus = 10.0
	usefulnessMax  = 20.0
	neutralUseful  = 0.5
)

// UsefulnessSource supplies recorded usefulness for an item id in [0,1].
// Unrated items report 0.5 so the bonus stays neutral.
type UsefulnessSource interface {
	UsefulnessFor(id string) float64
}

// Scorer computes relevance scores.
type Scorer struct {
	usefulness UsefulnessSource
	now        func() time.Time // test hook
}

// NewScorer creates a Scorer. usefulness may be nil.
func NewScorer(usefulness UsefulnessSource) *Scorer {
	return &Scorer{usefulness: usefulness, now: time.Now}
}

// Score returns a relevance score in [0,100] for item against command.
// Deterministic for identical inputs and monotonic in lexical overlap.
func (s *Scorer) Score(item memory.ContextItem, command string) float64 {
	score := s.overlapScore(item.Content, command) +
		s.recencyScore(item) +
		s.usefulnessScore(item.ID)
	return math.Min(score, maxScore)
}

// overlapScore measures lexical overlap between content and command.
func (s *Scorer) overlapScore(content, command string) float64 {
	if content == "" || command == "" {
		return 0
	}

	score := similarity.Jaccard(content, command) * overlapWeight

	// Whole-command containment is a strong signal beyond word overlap.
	lc := strings.ToLower(content)
	if strings.Contains(lc, strings.ToLower(command)) {
		score += substringBonus
	}

	// Per-word hits catch partial matches Jaccard dilutes on long blobs.
	words := strings.Fields(strings.ToLower(command))
	if len(words) > 0 {
		hits := 0
		for _, word := range words {
			if strings.Contains(lc, word) {
				hits++
			}
		}
		score += float64(hits) / float64(len(words)) * substringBonus
	}

	return score
}

// recencyScore applies recency bias. Newer items score higher.
func (s *Scorer) recencyScore(item memory.ContextItem) float64 {
	ts := item.Timestamp
	if item.LastAccess > ts {
		ts = item.LastAccess
	}
	if ts == 0 {
		return 0
	}

	age := s.now().Sub(time.UnixMilli(ts))
	switch {
	case age < time.Minute:
		return 20.0
	case age < 5*time.Minute:
		return 12.0
	case age < 30*time.Minute:
		return 5.0
	default:
		return 0
	}
}

// usefulnessScore converts recorded feedback into a bonus in [0, 20].
func (s *Scorer) usefulnessScore(id string) float64 {
	useful := neutralUseful
	if s.usefulness != nil {
		useful = s.usefulness.UsefulnessFor(id)
	}
	return useful * usefulnessMax
}

// Ranked pairs an item with its computed score.
type Ranked struct {
	Item  memory.ContextItem
	Score float64
}

// Rank scores every item against command and returns the top k by
// descending score, ties broken by most-recent timestamp.
func (s *Scorer) Rank(items []memory.ContextItem, command string, k int) []Ranked {
	ranked := make([]Ranked, 0, len(items))
	for _, item := range items {
		ranked = append(ranked, Ranked{Item: item, Score: s.Score(item, command)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Item.Timestamp > ranked[j].Item.Timestamp
	})

	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}
