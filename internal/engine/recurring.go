package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jask/ledgerlens/internal/database/repository"
	"github.com/jask/ledgerlens/internal/logger"
	"github.com/jask/ledgerlens/internal/progress"
)

// RecurringCandidate is a detected-but-unconfirmed periodic obligation.
// Persistence happens only when a caller accepts the candidate.
type RecurringCandidate struct {
	Name             string
	AmountCents      int64
	Interval         string
	Confidence       float64
	MerchantID       *string
	CategoryID       *string
	NextExpectedDate time.Time
	TransactionIDs   []string
	Source           string
}

// intervalDays maps the closed interval set to expected gap lengths.
var intervalDays = map[string]float64{
	repository.IntervalWeekly:     7,
	repository.IntervalFourWeekly: 28,
	repository.IntervalMonthly:    30,
	repository.IntervalQuarterly:  91,
	repository.IntervalYearly:     365,
}

// DetectRecurring groups the user's transactions by counterparty identity,
// sign and amount band, and returns candidates whose gap pattern fits one of
// the known intervals. Merchants the user opted out of detection are
// excluded; merchants that produce a candidate get their recurring flag
// switched on.
func (e *Engine) DetectRecurring(ctx context.Context, userID string) ([]RecurringCandidate, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With().Str("user", userID).Logger()

	txs, err := e.Transactions.List(ctx, repository.TransactionFilters{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	merchants, err := e.Merchants.List(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("load merchants: %w", err)
	}
	merchantByID := make(map[string]repository.Merchant, len(merchants))
	for _, m := range merchants {
		merchantByID[m.ID] = m
	}

	groups := map[groupKey][]repository.Transaction{}
	for _, tx := range txs {
		if tx.AmountCents == 0 {
			continue
		}
		key, ok := identityKey(tx, merchantByID)
		if !ok {
			continue
		}
		groups[key] = append(groups[key], tx)
	}

	var candidates []RecurringCandidate
	for key, group := range groups {
		if len(group) < e.Config.MinRecurringOccurrences {
			continue
		}
		for _, cluster := range e.clusterByAmount(group) {
			if len(cluster) < e.Config.MinRecurringOccurrences {
				continue
			}
			cand := e.buildCandidate(key, cluster)
			if cand == nil {
				continue
			}
			candidates = append(candidates, *cand)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Confidence > candidates[j].Confidence })

	// Record which merchants produced a candidate.
	for _, c := range candidates {
		if c.MerchantID == nil {
			continue
		}
		if m, ok := merchantByID[*c.MerchantID]; ok && !m.RecurringCandidate {
			if err := e.Merchants.SetRecurringCandidate(ctx, *c.MerchantID, true); err != nil {
				log.Warn().Err(err).Str("merchant", *c.MerchantID).Msg("flag recurring candidate")
			}
		}
	}

	e.report(userID, progress.Payload{
		Operation: "recurring",
		Processed: len(candidates),
		Total:     len(candidates),
		Message:   fmt.Sprintf("%d recurring candidates", len(candidates)),
		Done:      true,
		UpdatedAt: time.Now().UTC(),
	})
	log.Info().Int("candidates", len(candidates)).Msg("recurring detection complete")
	return candidates, nil
}

// AcceptRecurring replaces the previously detected patterns with the given
// candidates, linking each candidate's transactions. Manual patterns are
// preserved; transactions already claimed by one stay claimed.
func (e *Engine) AcceptRecurring(ctx context.Context, userID string, candidates []RecurringCandidate) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	if err := e.Patterns.DeleteDetectedRecurring(ctx, userID); err != nil {
		return fmt.Errorf("clear detected patterns: %w", err)
	}
	if err := e.Transactions.ClearRecurringPatterns(ctx, userID); err != nil {
		return fmt.Errorf("detach transactions: %w", err)
	}
	manual, err := e.Patterns.ListRecurring(ctx, userID)
	if err != nil {
		return fmt.Errorf("load manual patterns: %w", err)
	}
	for _, p := range manual {
		if err := e.Transactions.AssignRecurringPattern(ctx, p.TransactionIDs, p.ID); err != nil {
			return fmt.Errorf("relink manual pattern %s: %w", p.ID, err)
		}
	}
	for _, c := range candidates {
		next := c.NextExpectedDate
		p := repository.RecurringPattern{
			ID:               uuid.NewString(),
			UserID:           userID,
			Name:             c.Name,
			AmountCents:      c.AmountCents,
			Interval:         c.Interval,
			Status:           repository.StatusActive,
			MerchantID:       c.MerchantID,
			CategoryID:       c.CategoryID,
			TransactionIDs:   c.TransactionIDs,
			Confidence:       c.Confidence,
			Source:           c.Source,
			NextExpectedDate: &next,
		}
		if err := e.Patterns.UpsertRecurring(ctx, p); err != nil {
			return fmt.Errorf("store pattern %q: %w", c.Name, err)
		}
		if err := e.Transactions.AssignRecurringPattern(ctx, c.TransactionIDs, p.ID); err != nil {
			return fmt.Errorf("link pattern %q: %w", c.Name, err)
		}
	}
	return nil
}

type groupKey struct {
	identity string
	source   string
	debit    bool
}

// identityKey picks the grouping identity: merchant when linked, otherwise
// the counterparty account. Transactions with neither are not groupable.
// Merchants with the opt-out set exclude their transactions entirely.
func identityKey(tx repository.Transaction, merchants map[string]repository.Merchant) (groupKey, bool) {
	if tx.MerchantID != nil {
		if m, ok := merchants[*tx.MerchantID]; ok && m.ExcludeRecurring {
			return groupKey{}, false
		}
		return groupKey{identity: *tx.MerchantID, source: repository.SourceMerchantAmount, debit: tx.IsDebit()}, true
	}
	if key := merchantKey(tx); key != "" {
		return groupKey{identity: key, source: repository.SourceMerchantAmount, debit: tx.IsDebit()}, true
	}
	if tx.CounterpartyAccount != nil && *tx.CounterpartyAccount != "" {
		return groupKey{identity: *tx.CounterpartyAccount, source: repository.SourceAccount, debit: tx.IsDebit()}, true
	}
	return groupKey{}, false
}

// clusterByAmount splits a group into bands of near-equal amounts. The band
// width is the looser of the percentage and absolute tolerances, measured
// from the cluster's first (representative) amount.
func (e *Engine) clusterByAmount(group []repository.Transaction) [][]repository.Transaction {
	sorted := append([]repository.Transaction(nil), group...)
	sort.Slice(sorted, func(i, j int) bool {
		return absCents(sorted[i].AmountCents) < absCents(sorted[j].AmountCents)
	})
	var clusters [][]repository.Transaction
	for _, tx := range sorted {
		placed := false
		for i := range clusters {
			rep := absCents(clusters[i][0].AmountCents)
			if withinTolerance(absCents(tx.AmountCents), rep, e.Config.AmountTolerancePercent, e.Config.AmountToleranceCents) {
				clusters[i] = append(clusters[i], tx)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, []repository.Transaction{tx})
		}
	}
	return clusters
}

func absCents(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func withinTolerance(amount, representative int64, pct float64, absDelta int64) bool {
	tolerance := float64(representative) * pct / 100
	if float64(absDelta) > tolerance {
		tolerance = float64(absDelta)
	}
	diff := float64(amount - representative)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

// buildCandidate classifies a cluster's gap pattern and scores it. nil means
// the cluster does not fit any known interval.
func (e *Engine) buildCandidate(key groupKey, cluster []repository.Transaction) *RecurringCandidate {
	sort.Slice(cluster, func(i, j int) bool { return cluster[i].Date.Before(cluster[j].Date) })

	gaps := make([]float64, 0, len(cluster)-1)
	for i := 1; i < len(cluster); i++ {
		gaps = append(gaps, cluster[i].Date.Sub(cluster[i-1].Date).Hours()/24)
	}
	avgGap := mean(gaps)
	interval := e.classifyInterval(avgGap)
	if interval == "" {
		return nil
	}
	expected := intervalDays[interval]

	amounts := make([]float64, len(cluster))
	var total int64
	for i, tx := range cluster {
		amounts[i] = float64(absCents(tx.AmountCents))
		total += tx.AmountCents
	}
	avgAmount := mean(amounts)
	amountConsistency := 1 - math.Min(stddev(amounts, avgAmount)/math.Max(avgAmount, 1), 1)
	intervalConsistency := 1 - math.Min(stddev(gaps, avgGap)/expected, 1)
	countWeight := math.Min(float64(len(cluster))/5, 1)
	confidence := amountConsistency*0.4 + intervalConsistency*0.4 + countWeight*0.2
	if confidence < 0.4 {
		return nil
	}

	last := cluster[len(cluster)-1]
	cand := &RecurringCandidate{
		AmountCents:      total / int64(len(cluster)),
		Interval:         interval,
		Confidence:       confidence,
		NextExpectedDate: last.Date.AddDate(0, 0, int(expected)),
		Source:           key.source,
	}
	for _, tx := range cluster {
		cand.TransactionIDs = append(cand.TransactionIDs, tx.ID)
	}
	if last.MerchantID != nil {
		cand.MerchantID = last.MerchantID
	}
	if name := displayName(last); name != "" {
		cand.Name = name
	} else {
		cand.Name = key.identity
	}
	cand.CategoryID = dominantCategory(cluster)
	return cand
}

// classifyInterval matches an average gap to the closed interval set, within
// the looser of the percentage and absolute day tolerances.
func (e *Engine) classifyInterval(avgGap float64) string {
	best, bestDiff := "", math.MaxFloat64
	for interval, days := range intervalDays {
		tolerance := days * e.Config.IntervalTolerancePct / 100
		if float64(e.Config.IntervalToleranceDays) > tolerance {
			tolerance = float64(e.Config.IntervalToleranceDays)
		}
		diff := math.Abs(avgGap - days)
		if diff <= tolerance && diff < bestDiff {
			best, bestDiff = interval, diff
		}
	}
	return best
}

func displayName(tx repository.Transaction) string {
	if tx.MerchantName != nil && *tx.MerchantName != "" {
		return *tx.MerchantName
	}
	if tx.RawMerchant != nil && *tx.RawMerchant != "" {
		return *tx.RawMerchant
	}
	return tx.RawDescription
}

func dominantCategory(cluster []repository.Transaction) *string {
	counts := map[string]int{}
	for _, tx := range cluster {
		if tx.CategoryID != nil {
			counts[*tx.CategoryID]++
		}
	}
	best, bestCount := "", 0
	for id, n := range counts {
		if n > bestCount {
			best, bestCount = id, n
		}
	}
	if best == "" {
		return nil
	}
	return &best
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sumSquares float64
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)))
}
