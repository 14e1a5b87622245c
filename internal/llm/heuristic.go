package llm

import (
	"context"
	"strings"
)

// HeuristicClassifier is an offline keyword-scoring fallback used when no API
// key is configured. Confidence stays low so callers gate it the same way
// they gate the real model.
type HeuristicClassifier struct{}

func NewHeuristicClassifier() *HeuristicClassifier { return &HeuristicClassifier{} }

func (h *HeuristicClassifier) Available() bool { return true }

func (h *HeuristicClassifier) ClassifyBatch(_ context.Context, req ClassifyRequest) ([]ClassifyResult, error) {
	out := make([]ClassifyResult, 0, len(req.Transactions))
	for _, tx := range req.Transactions {
		desc := strings.ToLower(tx.Description + " " + tx.Merchant)
		bestCat, bestScore := "", 0.0
		for _, cat := range req.Categories {
			if score := keywordScore(desc, cat); score > bestScore {
				bestScore, bestCat = score, cat
			}
		}
		if bestCat == "" {
			continue
		}
		out = append(out, ClassifyResult{
			TransactionID:   tx.ID,
			Category:        bestCat,
			CleanedMerchant: brandToken(tx.Description),
			Confidence:      bestScore,
		})
	}
	return out, nil
}

func keywordScore(desc, cat string) float64 {
	catLower := strings.ToLower(cat)
	if strings.Contains(desc, catLower) {
		return 0.9
	}
	switch {
	// "tfl" must match a whole token: it is a substring of "netflix"
	case strings.Contains(desc, "uber") || strings.Contains(desc, "trainline") || hasWord(desc, "tfl"):
		if strings.Contains(catLower, "transport") {
			return 0.85
		}
	case strings.Contains(desc, "tesco") || strings.Contains(desc, "aldi") || strings.Contains(desc, "lidl"):
		if strings.Contains(catLower, "grocer") || strings.Contains(catLower, "food") {
			return 0.85
		}
	case strings.Contains(desc, "amazon") || strings.Contains(desc, "ebay"):
		if strings.Contains(catLower, "shopping") {
			return 0.8
		}
	case strings.Contains(desc, "spotify") || strings.Contains(desc, "netflix"):
		if strings.Contains(catLower, "subscription") {
			return 0.8
		}
	}
	return tokenOverlap(desc, catLower)
}

func hasWord(desc, word string) bool {
	_, ok := tokens(desc)[word]
	return ok
}

// tokenOverlap is a Jaccard ratio over whitespace-ish tokens in [0,1].
func tokenOverlap(a, b string) float64 {
	aTokens := tokens(a)
	bTokens := tokens(b)
	if len(aTokens) == 0 || len(bTokens) == 0 {
		return 0
	}
	intersect := 0
	for t := range aTokens {
		if _, ok := bTokens[t]; ok {
			intersect++
		}
	}
	union := len(aTokens) + len(bTokens) - intersect
	return float64(intersect) / float64(union)
}

func tokens(s string) map[string]struct{} {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '/' || r == '*'
	})
	out := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out[p] = struct{}{}
	}
	return out
}

// brandToken guesses a merchant name from the first description token that
// looks like a brand rather than a reference code.
func brandToken(desc string) string {
	for _, part := range strings.Fields(desc) {
		letters := 0
		for _, r := range part {
			if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
				letters++
			}
		}
		if letters >= 3 && letters*2 >= len(part) {
			lower := strings.ToLower(part)
			return strings.ToUpper(lower[:1]) + lower[1:]
		}
	}
	return ""
}
