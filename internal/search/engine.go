package search

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/pders01/subwatch/internal/storage"
)

// Result represents a search match with relevance scoring
type Result struct {
	Channel *storage.Channel
	Video   *storage.Video
	IsVideo bool
	Score   float64
	Matches []Match
}

// Match represents where text was found
type Match struct {
	Field  string // "name", "title", "external_id"
	Text   string
	Weight float64
}

// Engine scans the store directly. It needs no index and serves as the
// fallback when the bleve index cannot be opened.
type Engine struct {
	store *storage.Store
}

func NewEngine(store *storage.Store) *Engine {
	return &Engine{store: store}
}

func (e *Engine) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []*Result{}, nil
	}

	channels, err := e.store.GetAllChannels()
	if err != nil {
		return nil, err
	}

	var results []*Result
	for _, ch := range channels {
		if result := e.searchChannel(ch, terms); result != nil {
			results = append(results, result)
		}

		videos, err := e.store.GetVideos(ch.ID)
		if err != nil {
			continue
		}
		for _, v := range videos {
			if result := e.searchVideo(ch, v, terms); result != nil {
				results = append(results, result)
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (e *Engine) searchChannel(ch *storage.Channel, terms []string) *Result {
	var matches []Match
	var totalScore float64

	if nameScore := scoreField(ch.Name, terms, 3.0); nameScore > 0 {
		matches = append(matches, Match{Field: "name", Text: ch.Name, Weight: nameScore})
		totalScore += nameScore
	}
	if idScore := scoreField(ch.ExternalID, terms, 0.5); idScore > 0 {
		matches = append(matches, Match{Field: "external_id", Text: ch.ExternalID, Weight: idScore})
		totalScore += idScore
	}

	if totalScore == 0 {
		return nil
	}
	return &Result{Channel: ch, Score: totalScore, Matches: matches}
}

func (e *Engine) searchVideo(ch *storage.Channel, v *storage.Video, terms []string) *Result {
	titleScore := scoreField(v.Title, terms, 4.0)
	if titleScore == 0 {
		return nil
	}
	score := titleScore * (1.0 + recencyBoost(v.Published, time.Now()))
	return &Result{
		Channel: ch,
		Video:   v,
		IsVideo: true,
		Score:   score,
		Matches: []Match{{Field: "title", Text: truncate(v.Title, 100), Weight: titleScore}},
	}
}

// scoreField calculates relevance score for a field
func scoreField(text string, terms []string, weight float64) float64 {
	if text == "" {
		return 0
	}

	lower := strings.ToLower(text)
	words := tokenize(text)
	if len(words) == 0 {
		return 0
	}

	var score float64
	matchedTerms := 0

	for _, term := range terms {
		// Exact phrase match (highest score)
		if strings.Contains(lower, term) {
			score += 2.0
			matchedTerms++
		}

		for _, word := range words {
			switch {
			case word == term:
				score += 1.5
				matchedTerms++
			case strings.HasPrefix(word, term) || strings.HasSuffix(word, term):
				score += 1.0
				matchedTerms++
			case strings.Contains(word, term):
				score += 0.5
				matchedTerms++
			}
		}
	}

	// Boost score if multiple terms match
	if len(terms) > 1 && matchedTerms > 1 {
		score *= 1.0 + float64(matchedTerms)/float64(len(terms))
	}

	tf := float64(matchedTerms) / float64(len(words))
	score *= 1.0 + math.Log(1.0+tf)

	return score * weight
}

// tokenize breaks text into lowercase searchable terms
func tokenize(text string) []string {
	var terms []string
	current := strings.Builder{}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			current.WriteRune(unicode.ToLower(r))
		} else if current.Len() > 0 {
			if term := current.String(); len(term) > 1 { // Skip single chars
				terms = append(terms, term)
			}
			current.Reset()
		}
	}

	if current.Len() > 1 {
		terms = append(terms, current.String())
	}

	return terms
}

// truncate limits text length with ellipsis
func truncate(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen-1]) + "…"
}

// recencyBoost gives up to 10% to videos from the last week.
func recencyBoost(published, now time.Time) float64 {
	if published.IsZero() {
		return 0
	}
	age := now.Sub(published)
	week := 7 * 24 * time.Hour
	if age < 0 || age >= week {
		return 0
	}
	return 0.1 * (1 - float64(age)/float64(week))
}
