package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jask/ledgerlens/internal/database/repository"
	"github.com/jask/ledgerlens/internal/logger"
	"github.com/jask/ledgerlens/internal/progress"
)

// RefineRule moves transactions from one category to another when its
// predicate matches. Fields left zero do not constrain. Rules are evaluated
// in slice order and the first match wins.
type RefineRule struct {
	Name         string `json:"name"`
	FromCategory string `json:"from_category"`
	ToCategory   string `json:"to_category"`

	// TimeFrom/TimeTo bound the HH:MM extracted from the description.
	// Transactions without an extractable time never match a time-bounded
	// rule.
	TimeFrom string `json:"time_from,omitempty"`
	TimeTo   string `json:"time_to,omitempty"`

	// Amount bounds compare against the absolute amount in cents.
	MinAmountCents int64 `json:"min_amount_cents,omitempty"`
	MaxAmountCents int64 `json:"max_amount_cents,omitempty"`

	// MerchantContains matches case-insensitively against the cleaned or raw
	// merchant label.
	MerchantContains string `json:"merchant_contains,omitempty"`
}

// RefineOptions tunes a refinement pass.
type RefineOptions struct {
	// DryRun computes the change list without persisting it.
	DryRun bool
}

// Change is one would-be or applied category correction.
type Change struct {
	TransactionID string
	Rule          string
	FromCategory  string
	ToCategory    string
}

// ChangeList is the result of a refinement pass.
type ChangeList struct {
	Changes []Change
	DryRun  bool
}

const refineConfidence = 0.9

var timeOfDayRe = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)

// extractTimeOfDay scans free text for the first HH:MM occurrence and returns
// minutes since midnight.
func extractTimeOfDay(description string) (int, bool) {
	m := timeOfDayRe.FindStringSubmatch(description)
	if m == nil {
		return 0, false
	}
	var h, min int
	fmt.Sscanf(m[1], "%d", &h)
	fmt.Sscanf(m[2], "%d", &min)
	return h*60 + min, true
}

func parseClock(s string) (int, bool) {
	m := timeOfDayRe.FindStringSubmatch(s)
	if m == nil || m[0] != strings.TrimSpace(s) {
		return 0, false
	}
	var h, min int
	fmt.Sscanf(m[1], "%d", &h)
	fmt.Sscanf(m[2], "%d", &min)
	return h*60 + min, true
}

// DefaultRefineRules covers the ambiguous-merchant cases the seeded taxonomy
// produces, e.g. a supermarket selling both lunch and the weekly shop.
func DefaultRefineRules() []RefineRule {
	return []RefineRule{
		{
			Name:           "lunchtime meal deal",
			FromCategory:   "Groceries",
			ToCategory:     "Restaurants",
			TimeFrom:       "11:30",
			TimeTo:         "14:30",
			MaxAmountCents: 800,
		},
		{
			Name:           "morning coffee",
			FromCategory:   "Shopping",
			ToCategory:     "Restaurants",
			TimeFrom:       "06:30",
			TimeTo:         "10:30",
			MaxAmountCents: 600,
		},
		{
			Name:             "annual software renewal",
			FromCategory:     "Shopping",
			ToCategory:       "Subscriptions",
			MerchantContains: "renewal",
		},
	}
}

// RefineContext re-examines categorized transactions against the refinement
// rules and re-assigns where a rule matches. Manual-flagged transactions are
// never touched. With DryRun the change list is computed but not persisted.
func (e *Engine) RefineContext(ctx context.Context, userID string, opts RefineOptions) (ChangeList, error) {
	if err := validateUserID(userID); err != nil {
		return ChangeList{}, err
	}
	log := logger.FromContext(ctx).With().Str("user", userID).Logger()
	result := ChangeList{DryRun: opts.DryRun}

	cats, err := e.Categories.List(ctx)
	if err != nil {
		return result, fmt.Errorf("load categories: %w", err)
	}
	idByName := make(map[string]string, len(cats))
	nameByID := make(map[string]string, len(cats))
	for _, c := range cats {
		idByName[strings.ToLower(c.Name)] = c.ID
		nameByID[c.ID] = c.Name
	}

	txs, err := e.Transactions.List(ctx, repository.TransactionFilters{UserID: userID})
	if err != nil {
		return result, fmt.Errorf("load transactions: %w", err)
	}

	moves := map[string][]string{}
	for _, tx := range txs {
		if tx.ManualCategory || tx.CategoryID == nil {
			continue
		}
		rule := e.firstMatchingRule(tx, nameByID[*tx.CategoryID])
		if rule == nil {
			continue
		}
		toID, ok := idByName[strings.ToLower(rule.ToCategory)]
		if !ok {
			log.Warn().Str("rule", rule.Name).Str("category", rule.ToCategory).Msg("rule targets unknown category")
			continue
		}
		if toID == *tx.CategoryID {
			continue
		}
		result.Changes = append(result.Changes, Change{
			TransactionID: tx.ID,
			Rule:          rule.Name,
			FromCategory:  nameByID[*tx.CategoryID],
			ToCategory:    rule.ToCategory,
		})
		moves[toID] = append(moves[toID], tx.ID)
	}

	if !opts.DryRun {
		for toID, ids := range moves {
			if err := e.Transactions.BulkAssignCategory(ctx, ids, toID, refineConfidence); err != nil {
				return result, fmt.Errorf("apply refinement: %w", err)
			}
		}
	}

	e.report(userID, progress.Payload{
		Operation: "refine",
		Processed: len(result.Changes),
		Total:     len(result.Changes),
		Message:   fmt.Sprintf("%d refinements", len(result.Changes)),
		Done:      true,
		UpdatedAt: time.Now().UTC(),
	})
	return result, nil
}

// firstMatchingRule evaluates the rules in priority order against one
// transaction; nil means no rule applies.
func (e *Engine) firstMatchingRule(tx repository.Transaction, categoryName string) *RefineRule {
	for i := range e.Rules {
		rule := &e.Rules[i]
		if !strings.EqualFold(rule.FromCategory, categoryName) {
			continue
		}
		if ruleMatches(rule, tx) {
			return rule
		}
	}
	return nil
}

func ruleMatches(rule *RefineRule, tx repository.Transaction) bool {
	if rule.TimeFrom != "" || rule.TimeTo != "" {
		minutes, ok := extractTimeOfDay(tx.RawDescription)
		if !ok {
			return false
		}
		if from, ok := parseClock(rule.TimeFrom); ok && minutes < from {
			return false
		}
		if to, ok := parseClock(rule.TimeTo); ok && minutes > to {
			return false
		}
	}
	abs := tx.AmountCents
	if abs < 0 {
		abs = -abs
	}
	if rule.MinAmountCents > 0 && abs < rule.MinAmountCents {
		return false
	}
	if rule.MaxAmountCents > 0 && abs > rule.MaxAmountCents {
		return false
	}
	if rule.MerchantContains != "" {
		needle := strings.ToLower(rule.MerchantContains)
		hay := txText(tx)
		if !strings.Contains(hay, needle) {
			return false
		}
	}
	return true
}
