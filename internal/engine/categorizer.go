package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jask/ledgerlens/internal/database/repository"
	"github.com/jask/ledgerlens/internal/logger"
	"github.com/jask/ledgerlens/internal/progress"
)

// Options tunes a categorization run.
type Options struct {
	// SkipCategorized leaves transactions that already hold a real category
	// alone. Set false to force a full re-check.
	SkipCategorized bool
}

// Summary is the run-level result of a categorization pipeline. It is always
// returned, including after cancellation or degraded collaborators.
type Summary struct {
	Total           int
	Processed       int
	Resolved        int
	Iterations      int
	ByStrategy      map[string]int
	LearnedKeywords []string
	Unresolved      map[string]string
	Warnings        []string
	StoppedEarly    bool
}

const opCategorize = "categorize"

// RunCategorization assigns categories to the user's unresolved transactions
// through the strategy cascade, iterating until convergence or the iteration
// cap. Partial progress is durable: each batch's writes commit before the
// cancellation flag is checked again.
//
// Callers must not run two categorization pipelines for the same user
// concurrently.
func (e *Engine) RunCategorization(ctx context.Context, userID string, opts Options) (Summary, error) {
	if err := validateUserID(userID); err != nil {
		return Summary{}, err
	}
	log := logger.FromContext(ctx).With().Str("user", userID).Logger()

	summary := Summary{
		ByStrategy: map[string]int{},
		Unresolved: map[string]string{},
	}

	state, err := e.loadCascadeState(ctx, userID)
	if err != nil {
		return summary, err
	}

	all, err := e.Transactions.List(ctx, repository.TransactionFilters{UserID: userID})
	if err != nil {
		return summary, fmt.Errorf("load transactions: %w", err)
	}
	pending := e.selectPending(all, state, opts)
	summary.Total = len(pending)

	strategies := []strategy{
		e.keywordStrategy(state),
		e.accountStrategy(state),
		e.merchantNameStrategy(state, StrategyMerchantName),
		e.merchantNameStrategy(state, StrategyMerchantRe),
		e.classifierStrategy(ctx, state),
		e.embeddingStrategy(ctx, state),
	}

	for iter := 1; iter <= e.Config.MaxIterations && len(pending) > 0; iter++ {
		summary.Iterations = iter
		if e.cancelled(userID) {
			summary.StoppedEarly = true
			break
		}
		for _, s := range strategies {
			if s.prepare != nil {
				s.prepare(ctx, pending)
			}
		}

		resolvedThisPass := 0
		var remaining []repository.Transaction
		for start := 0; start < len(pending); start += e.Config.BatchSize {
			if e.cancelled(userID) {
				summary.StoppedEarly = true
				remaining = append(remaining, pending[start:]...)
				break
			}
			end := start + e.Config.BatchSize
			if end > len(pending) {
				end = len(pending)
			}
			batch := pending[start:end]

			var assignments []repository.CategoryAssignment
			for _, tx := range batch {
				match, by := e.attemptCascade(tx, strategies)
				if match == nil {
					summary.Unresolved[tx.ID] = "no strategy matched"
					remaining = append(remaining, tx)
					continue
				}
				a := repository.CategoryAssignment{
					TransactionID: tx.ID,
					CategoryID:    match.CategoryID,
					Confidence:    match.Confidence,
				}
				if match.MerchantName != "" {
					name := match.MerchantName
					a.MerchantName = &name
					state.nameToCategory[strings.ToLower(name)] = match.CategoryID
					e.learnKeyword(state, match.CategoryID, name)
				}
				assignments = append(assignments, a)
				summary.ByStrategy[by]++
				delete(summary.Unresolved, tx.ID)
				resolvedThisPass++
			}
			if err := e.Transactions.AssignCategories(ctx, assignments); err != nil {
				return summary, fmt.Errorf("apply batch: %w", err)
			}
			summary.Processed += len(batch)
			e.report(userID, progress.Payload{
				Operation: opCategorize,
				Processed: summary.Processed,
				Total:     summary.Total,
				Message:   fmt.Sprintf("pass %d: %d of %d", iter, summary.Processed, summary.Total),
				UpdatedAt: time.Now().UTC(),
			})
		}
		pending = remaining
		log.Debug().Int("pass", iter).Int("resolved", resolvedThisPass).Int("pending", len(pending)).Msg("categorization pass complete")
		if resolvedThisPass == 0 || summary.StoppedEarly {
			break
		}
	}

	summary.Resolved = summary.ByStrategy[StrategyKeyword] + summary.ByStrategy[StrategyAccount] +
		summary.ByStrategy[StrategyMerchantName] + summary.ByStrategy[StrategyMerchantRe] +
		summary.ByStrategy[StrategyClassifier] + summary.ByStrategy[StrategyEmbedding]
	summary.LearnedKeywords = e.persistLearnedKeywords(ctx, state)
	summary.Warnings = state.warnings

	e.report(userID, progress.Payload{
		Operation: opCategorize,
		Processed: summary.Processed,
		Total:     summary.Total,
		Message:   fmt.Sprintf("resolved %d of %d", summary.Resolved, summary.Total),
		Done:      true,
		Stopped:   summary.StoppedEarly,
		UpdatedAt: time.Now().UTC(),
	})
	return summary, nil
}

func (e *Engine) attemptCascade(tx repository.Transaction, strategies []strategy) (*Match, string) {
	for _, s := range strategies {
		if match, ok := s.attempt(tx); ok {
			return match, s.name
		}
	}
	return nil, ""
}

func (e *Engine) loadCascadeState(ctx context.Context, userID string) (*cascadeState, error) {
	cats, err := e.Categories.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	state := &cascadeState{
		categories:        cats,
		categoriesByName:  map[string]string{},
		merchantByAccount: map[string]repository.Merchant{},
		nameToCategory:    map[string]string{},
		learnedKeywords:   map[string][]string{},
	}
	for _, c := range cats {
		state.categoriesByName[strings.ToLower(c.Name)] = c.ID
		if c.IsSystem {
			state.fallbackID = c.ID
		}
	}
	merchants, err := e.Merchants.List(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("load merchants: %w", err)
	}
	for _, m := range merchants {
		for _, acct := range m.Accounts {
			state.merchantByAccount[acct] = m
		}
	}
	categorized, err := e.Transactions.List(ctx, repository.TransactionFilters{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("load resolved names: %w", err)
	}
	for _, tx := range categorized {
		if tx.CategoryID == nil || *tx.CategoryID == state.fallbackID {
			continue
		}
		if key := merchantKey(tx); key != "" {
			state.nameToCategory[key] = *tx.CategoryID
		}
	}
	return state, nil
}

// selectPending applies the skip rules: manual rows never re-enter the
// cascade, categorized rows only when a full re-check was requested.
func (e *Engine) selectPending(all []repository.Transaction, state *cascadeState, opts Options) []repository.Transaction {
	var pending []repository.Transaction
	for _, tx := range all {
		if tx.ManualCategory {
			continue
		}
		categorized := tx.CategoryID != nil && *tx.CategoryID != state.fallbackID
		if categorized && opts.SkipCategorized {
			continue
		}
		pending = append(pending, tx)
	}
	return pending
}

func (e *Engine) learnKeyword(state *cascadeState, categoryID, merchantName string) {
	if !e.Config.KeywordLearning {
		return
	}
	kw := strings.ToLower(strings.TrimSpace(merchantName))
	if len(kw) < 3 {
		return
	}
	for _, existing := range state.learnedKeywords[categoryID] {
		if existing == kw {
			return
		}
	}
	state.learnedKeywords[categoryID] = append(state.learnedKeywords[categoryID], kw)
}

func (e *Engine) persistLearnedKeywords(ctx context.Context, state *cascadeState) []string {
	var learned []string
	for catID, kws := range state.learnedKeywords {
		var cat *repository.Category
		for i := range state.categories {
			if state.categories[i].ID == catID {
				cat = &state.categories[i]
				break
			}
		}
		if cat == nil {
			continue
		}
		merged := cat.Keywords
		for _, kw := range kws {
			exists := false
			for _, existing := range merged {
				if strings.EqualFold(existing, kw) {
					exists = true
					break
				}
			}
			if !exists {
				merged = append(merged, kw)
				learned = append(learned, kw)
			}
		}
		if len(merged) > len(cat.Keywords) {
			if err := e.Categories.UpdateKeywords(ctx, catID, merged); err != nil {
				state.warnings = append(state.warnings, "persist keywords: "+err.Error())
			}
		}
	}
	return learned
}
