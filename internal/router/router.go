// Package router maps free-text questions to a fact version and an
// extracted context using ordered strategies: regex patterns first, then
// fuzzy/keyword scoring.
package router

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/sells-group/finq/internal/model"
)

// DefaultThreshold is the minimum 0-100 score the scored stage accepts.
const DefaultThreshold = 60.0

// keywordScale keeps keyword-only matches below a perfect fuzzy score.
const keywordScale = 90.0

// Entry pairs an approved fact version with its recognizer.
type Entry struct {
	Version    *model.FactDefinitionVersion
	Recognizer model.IntentRecognizer
}

// Source lists recognizers for all approved versions, in a stable order.
type Source interface {
	ListRecognizers(ctx context.Context) ([]Entry, error)
}

type compiledRecognizer struct {
	version  *model.FactDefinitionVersion
	patterns []*regexp.Regexp
	keywords []string
	examples []string
}

// Router routes questions. Safe for concurrent use; Refresh swaps the
// recognizer set atomically.
type Router struct {
	src       Source
	threshold float64

	mu          sync.RWMutex
	recognizers []compiledRecognizer
}

var fold = cases.Fold()

// New builds a router and loads recognizers from the source. A threshold
// of zero selects the default.
func New(ctx context.Context, src Source, threshold float64) (*Router, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	r := &Router{src: src, threshold: threshold}
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Refresh reloads recognizers from the source, picking up newly approved
// versions.
func (r *Router) Refresh(ctx context.Context) error {
	entries, err := r.src.ListRecognizers(ctx)
	if err != nil {
		return eris.Wrap(err, "router: load recognizers")
	}

	compiled := make([]compiledRecognizer, 0, len(entries))
	for _, e := range entries {
		cr := compiledRecognizer{
			version:  e.Version,
			keywords: e.Recognizer.Keywords,
			examples: e.Recognizer.ExampleQuestions,
		}
		for _, p := range e.Recognizer.RegexPatterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				zap.L().Warn("router: invalid pattern, skipping",
					zap.String("fact", e.Version.FactID),
					zap.String("pattern", p),
					zap.Error(err),
				)
				continue
			}
			cr.patterns = append(cr.patterns, re)
		}
		compiled = append(compiled, cr)
	}

	r.mu.Lock()
	r.recognizers = compiled
	r.mu.Unlock()
	zap.L().Info("router: recognizers loaded", zap.Int("count", len(compiled)))
	return nil
}

// Route maps text to a fact version and extracted context. The pattern
// stage wins outright with named capture groups as context; the scored
// stage returns the best recognizer above the threshold with an empty
// context. A nil version means no stage matched.
func (r *Router) Route(text string) (*model.FactDefinitionVersion, map[string]any) {
	r.mu.RLock()
	recognizers := r.recognizers
	r.mu.RUnlock()

	// Pattern stage: first match anywhere in the text wins, groups
	// extracted verbatim with no type coercion.
	for _, rec := range recognizers {
		for _, re := range rec.patterns {
			match := re.FindStringSubmatch(text)
			if match == nil {
				continue
			}
			extracted := map[string]any{}
			for i, name := range re.SubexpNames() {
				if name != "" && i < len(match) && match[i] != "" {
					extracted[name] = match[i]
				}
			}
			return rec.version, extracted
		}
	}

	// Scored stage: ties break first-registered-wins via strict greater.
	var best *model.FactDefinitionVersion
	bestScore := r.threshold
	for _, rec := range recognizers {
		score := rec.score(text)
		if score > bestScore {
			bestScore = score
			best = rec.version
		}
	}
	if best != nil {
		return best, map[string]any{}
	}
	return nil, map[string]any{}
}

// score is the max of fuzzy similarity against example questions and the
// keyword overlap ratio, on a 0-100 scale.
func (rec *compiledRecognizer) score(text string) float64 {
	var score float64
	for _, example := range rec.examples {
		if s := tokenSortSimilarity(text, example) * 100; s > score {
			score = s
		}
	}
	if len(rec.keywords) > 0 {
		folded := fold.String(text)
		found := 0
		for _, kw := range rec.keywords {
			if strings.Contains(folded, fold.String(kw)) {
				found++
			}
		}
		if s := float64(found) / float64(len(rec.keywords)) * keywordScale; s > score {
			score = s
		}
	}
	return score
}

// tokenSortSimilarity compares two strings word-order-insensitively:
// tokens are case-folded, sorted, and rejoined before edit-distance
// similarity.
func tokenSortSimilarity(a, b string) float64 {
	return levenshtein.Similarity(tokenSort(a), tokenSort(b), levenshtein.NewParams())
}

func tokenSort(s string) string {
	tokens := strings.Fields(fold.String(stripPunct(s)))
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func stripPunct(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '?', '!', '.', ',', ';', ':':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
