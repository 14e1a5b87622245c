package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jask/ledgerlens/internal/database/repository"
	"github.com/jask/ledgerlens/internal/logger"
	"github.com/jask/ledgerlens/internal/progress"
)

// DetectVariableSpending aggregates habitual variable-amount spending by
// category. Transactions claimed by a recurring pattern or paired as an
// internal transfer are excluded, as are credits. A category only qualifies
// when it shows enough activity inside the recent rolling window.
func (e *Engine) DetectVariableSpending(ctx context.Context, userID string) ([]repository.SpendingPattern, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With().Str("user", userID).Logger()

	txs, err := e.Transactions.List(ctx, repository.TransactionFilters{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	transfers := IdentifyInternalTransfers(txs, e.Config.TransferWindowDays)

	byCategory := map[string][]repository.Transaction{}
	for _, tx := range txs {
		if !tx.IsDebit() || tx.CategoryID == nil {
			continue
		}
		if tx.RecurringPatternID != nil || transfers[tx.ID] {
			continue
		}
		byCategory[*tx.CategoryID] = append(byCategory[*tx.CategoryID], tx)
	}

	windowStart := time.Now().UTC().AddDate(0, 0, -e.Config.SpendingWindowDays)
	var patterns []repository.SpendingPattern
	for categoryID, group := range byCategory {
		recent := 0
		for _, tx := range group {
			if !tx.Date.Before(windowStart) {
				recent++
			}
		}
		if recent < e.Config.SpendingMinTransactions {
			continue
		}
		patterns = append(patterns, e.aggregateSpending(userID, categoryID, group))
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].MonthlyAverage > patterns[j].MonthlyAverage })

	e.report(userID, progress.Payload{
		Operation: "spending",
		Processed: len(patterns),
		Total:     len(patterns),
		Message:   fmt.Sprintf("%d spending patterns", len(patterns)),
		Done:      true,
		UpdatedAt: time.Now().UTC(),
	})
	log.Info().Int("patterns", len(patterns)).Msg("variable spending detection complete")
	return patterns, nil
}

func (e *Engine) aggregateSpending(userID, categoryID string, group []repository.Transaction) repository.SpendingPattern {
	sort.Slice(group, func(i, j int) bool { return group[i].Date.Before(group[j].Date) })
	first, last := group[0].Date, group[len(group)-1].Date

	var total int64
	minAmount, maxAmount := absCents(group[0].AmountCents), absCents(group[0].AmountCents)
	merchantVisits := map[string]int{}
	for _, tx := range group {
		amt := absCents(tx.AmountCents)
		total += amt
		if amt < minAmount {
			minAmount = amt
		}
		if amt > maxAmount {
			maxAmount = amt
		}
		if name := displayName(tx); name != "" {
			merchantVisits[name]++
		}
	}

	// Short observation spans would inflate the monthly figures, so the span
	// is floored at one 30-day month.
	spanDays := last.Sub(first).Hours() / 24
	if spanDays < 30 {
		spanDays = 30
	}
	months := spanDays / 30

	p := repository.SpendingPattern{
		ID:               uuid.NewSHA1(uuid.NameSpaceOID, []byte("spend:"+userID+":"+categoryID)).String(),
		UserID:           userID,
		CategoryID:       categoryID,
		MonthlyAverage:   int64(float64(total) / months),
		VisitsPerMonth:   float64(len(group)) / months,
		AverageAmount:    total / int64(len(group)),
		MinAmount:        minAmount,
		MaxAmount:        maxAmount,
		TransactionCount: len(group),
		MerchantCount:    len(merchantVisits),
		TopMerchants:     topMerchants(merchantVisits, e.Config.SpendingTopMerchants),
		FirstDate:        &first,
		LastDate:         &last,
		Status:           repository.StatusActive,
	}
	return p
}

func topMerchants(visits map[string]int, n int) []string {
	type entry struct {
		name  string
		count int
	}
	entries := make([]entry, 0, len(visits))
	for name, count := range visits {
		entries = append(entries, entry{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.name
	}
	return out
}
