package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/jask/ledgerlens/internal/logger"
)

// MergePair is a candidate merchant deduplication, ranked by similarity.
// Target is the merchant that survives a merge.
type MergePair struct {
	SourceID   string
	TargetID   string
	SourceName string
	TargetName string
	Similarity float64
}

// MergeResult reports the outcome of one pair merge.
type MergeResult struct {
	SourceID string
	TargetID string
	Merged   bool
	Reason   string
}

// FindMergeCandidates returns active merchant pairs whose normalized names
// are at least threshold similar, most similar first. The earlier-created
// merchant of each pair is chosen as the merge target.
func (e *Engine) FindMergeCandidates(ctx context.Context, userID string, threshold float64) ([]MergePair, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("engine: merge threshold must be within [0,1], got %v", threshold)
	}
	merchants, err := e.Merchants.List(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("load merchants: %w", err)
	}

	var pairs []MergePair
	for i := 0; i < len(merchants); i++ {
		for j := i + 1; j < len(merchants); j++ {
			a, b := merchants[i], merchants[j]
			sim := nameSimilarity(a.Name, b.Name)
			if sim < threshold {
				continue
			}
			target, source := a, b
			if b.CreatedAt.Before(a.CreatedAt) {
				target, source = b, a
			}
			pairs = append(pairs, MergePair{
				SourceID:   source.ID,
				TargetID:   target.ID,
				SourceName: source.Name,
				TargetName: target.Name,
				Similarity: sim,
			})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Similarity > pairs[j].Similarity })
	return pairs, nil
}

// MergeMerchants applies each pair: transactions and the default category
// move from source to target, keyword and account sets merge, the source is
// deactivated. Merging an already-inactive source is a no-op, not an error.
func (e *Engine) MergeMerchants(ctx context.Context, pairs []MergePair) ([]MergeResult, error) {
	log := logger.FromContext(ctx)
	results := make([]MergeResult, 0, len(pairs))
	for _, pair := range pairs {
		result := MergeResult{SourceID: pair.SourceID, TargetID: pair.TargetID}
		source, err := e.Merchants.Get(ctx, pair.SourceID)
		if err != nil {
			return results, fmt.Errorf("load merchant %s: %w", pair.SourceID, err)
		}
		if source == nil || !source.Active {
			result.Reason = "source already merged"
			results = append(results, result)
			continue
		}
		target, err := e.Merchants.Get(ctx, pair.TargetID)
		if err != nil {
			return results, fmt.Errorf("load merchant %s: %w", pair.TargetID, err)
		}
		if target == nil {
			result.Reason = "target missing"
			results = append(results, result)
			continue
		}

		target.Keywords = mergeSets(target.Keywords, source.Keywords)
		target.Accounts = mergeSets(target.Accounts, source.Accounts)
		if target.DefaultCategoryID == nil && source.DefaultCategoryID != nil {
			target.DefaultCategoryID = source.DefaultCategoryID
		}
		if err := e.Merchants.Upsert(ctx, *target); err != nil {
			return results, fmt.Errorf("update merchant %s: %w", target.ID, err)
		}
		if err := e.Transactions.ReassignMerchant(ctx, source.ID, target.ID); err != nil {
			return results, fmt.Errorf("re-point transactions: %w", err)
		}
		if err := e.Merchants.Deactivate(ctx, source.ID); err != nil {
			return results, fmt.Errorf("deactivate merchant %s: %w", source.ID, err)
		}
		result.Merged = true
		results = append(results, result)
		log.Info().Str("source", source.Name).Str("target", target.Name).Msg("merchants merged")
	}
	return results, nil
}

var legalSuffixes = []string{"ltd", "limited", "plc", "inc", "llc", "gmbh", "co", "corp"}

// normalizeName lowercases, strips punctuation and drops trailing legal
// suffixes so "Tesco Stores Ltd." and "TESCO STORES" compare equal.
func normalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	fields := strings.Fields(b.String())
	for len(fields) > 1 {
		last := fields[len(fields)-1]
		isSuffix := false
		for _, s := range legalSuffixes {
			if last == s {
				isSuffix = true
				break
			}
		}
		if !isSuffix {
			break
		}
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, " ")
}

// nameSimilarity maps levenshtein distance over normalized names to [0,1].
func nameSimilarity(a, b string) float64 {
	na, nb := normalizeName(a), normalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	dist := levenshtein.ComputeDistance(na, nb)
	maxLen := len(na)
	if len(nb) > maxLen {
		maxLen = len(nb)
	}
	return 1 - float64(dist)/float64(maxLen)
}

func mergeSets(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, v := range b {
		exists := false
		for _, existing := range out {
			if strings.EqualFold(existing, v) {
				exists = true
				break
			}
		}
		if !exists {
			out = append(out, v)
		}
	}
	return out
}
