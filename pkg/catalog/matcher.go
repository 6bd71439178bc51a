package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/priceloom/feedgate/pkg/common/models"
	"github.com/priceloom/feedgate/pkg/validation"
)

// Match methods
const (
	MethodUPC     = "upc"
	MethodTitle   = "title"
	MethodURLHash = "url_hash"
	MethodNone    = "none"
)

type MatchResult struct {
	CanonicalSkuID string
	Confidence     models.Confidence
	Method         string
}

// Matcher maps a retailer record onto a canonical product with a confidence
// grade. Automatic matching is a pluggable strategy; HeuristicMatcher is the
// default.
type Matcher interface {
	Match(ctx context.Context, record models.ParsedRecord) (MatchResult, error)
}

// HeuristicMatcher matches on UPC first, then falls back to title
// similarity against recently created canonical products. Records with no
// strong identifier at all resolve through the weak url_hash scheme; the
// circuit breaker watches how often that happens.
type HeuristicMatcher struct {
	repo      *Repository
	threshold float64
}

func NewHeuristicMatcher(repo *Repository, threshold float64) *HeuristicMatcher {
	if threshold <= 0 {
		threshold = 0.92
	}
	return &HeuristicMatcher{repo: repo, threshold: threshold}
}

func (m *HeuristicMatcher) Match(ctx context.Context, record models.ParsedRecord) (MatchResult, error) {
	upc := validation.NormalizeUPC(record.UPC)
	if upc != "" {
		canonical, err := m.repo.FindCanonicalByUPC(ctx, upc)
		if err == nil {
			return MatchResult{CanonicalSkuID: canonical.ID, Confidence: models.ConfidenceHigh, Method: MethodUPC}, nil
		}
		if !errors.Is(err, ErrSkuNotFound) {
			return MatchResult{}, err
		}
	}

	candidates, err := m.repo.RecentCanonical(ctx, 200)
	if err != nil {
		return MatchResult{}, err
	}

	target := strings.ToLower(strings.TrimSpace(record.Title))
	bestScore := 0.0
	bestID := ""
	for _, candidate := range candidates {
		score := jaroWinkler(strings.ToLower(candidate.Title), target)
		if score > bestScore {
			bestScore = score
			bestID = candidate.ID
		}
	}

	if bestID != "" && bestScore >= m.threshold {
		confidence := models.ConfidenceMedium
		if bestScore < (m.threshold+1.0)/2 {
			confidence = models.ConfidenceLow
		}
		return MatchResult{CanonicalSkuID: bestID, Confidence: confidence, Method: MethodTitle}, nil
	}

	method := MethodNone
	if upc == "" && strings.TrimSpace(record.SKU) == "" {
		method = MethodURLHash
	}
	return MatchResult{Confidence: models.ConfidenceNone, Method: method}, nil
}

func jaroWinkler(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}

	if s1 == "" || s2 == "" {
		return 0
	}

	matchDistance := max(len(s1), len(s2))/2 - 1
	if matchDistance < 0 {
		matchDistance = 0
	}

	s1Matches := make([]bool, len(s1))
	s2Matches := make([]bool, len(s2))

	matches := 0
	transpositions := 0

	for i := range s1 {
		start := max(0, i-matchDistance)
		end := min(i+matchDistance+1, len(s2))
		for j := start; j < end; j++ {
			if s2Matches[j] || s1[i] != s2[j] {
				continue
			}
			s1Matches[i] = true
			s2Matches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0
	}

	k := 0
	for i := range s1 {
		if !s1Matches[i] {
			continue
		}
		for ; !s2Matches[k]; k++ {
		}
		if s1[i] != s2[k] {
			transpositions++
		}
		k++
	}

	transpositions /= 2

	jaro := (float64(matches)/float64(len(s1)) + float64(matches)/float64(len(s2)) + float64(matches-transpositions)/float64(matches)) / 3

	prefix := 0
	for i := 0; i < min(4, min(len(s1), len(s2))); i++ {
		if s1[i] == s2[i] {
			prefix++
		} else {
			break
		}
	}

	return jaro + float64(prefix)*0.1*(1-jaro)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
