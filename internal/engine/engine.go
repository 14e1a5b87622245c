// Package engine implements the transaction intelligence core: the
// categorization cascade, context refinement, recurring and variable-spending
// detection, merchant deduplication and internal-transfer pairing. Storage and
// AI collaborators are injected as interfaces; the engine owns the algorithms,
// not the plumbing.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/jask/ledgerlens/internal/config"
	"github.com/jask/ledgerlens/internal/database/repository"
	"github.com/jask/ledgerlens/internal/llm"
	"github.com/jask/ledgerlens/internal/progress"
)

// TransactionStore is the transaction slice of the storage collaborator.
// *repository.TransactionRepo satisfies it.
type TransactionStore interface {
	List(ctx context.Context, f repository.TransactionFilters) ([]repository.Transaction, error)
	AssignCategories(ctx context.Context, assignments []repository.CategoryAssignment) error
	BulkAssignCategory(ctx context.Context, ids []string, categoryID string, confidence float64) error
	UpdateMerchantName(ctx context.Context, id string, name *string) error
	ReassignMerchant(ctx context.Context, fromMerchantID, toMerchantID string) error
	AssignRecurringPattern(ctx context.Context, ids []string, patternID string) error
	ClearRecurringPatterns(ctx context.Context, userID string) error
}

// MerchantStore is the merchant slice of the storage collaborator.
type MerchantStore interface {
	Get(ctx context.Context, id string) (*repository.Merchant, error)
	List(ctx context.Context, userID string, activeOnly bool) ([]repository.Merchant, error)
	Upsert(ctx context.Context, m repository.Merchant) error
	Deactivate(ctx context.Context, id string) error
	SetRecurringCandidate(ctx context.Context, id string, candidate bool) error
}

// CategoryStore is the category slice of the storage collaborator.
type CategoryStore interface {
	List(ctx context.Context) ([]repository.Category, error)
	UpdateKeywords(ctx context.Context, id string, keywords []string) error
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
}

// PatternStore persists accepted recurring patterns and computed spending
// patterns.
type PatternStore interface {
	UpsertRecurring(ctx context.Context, p repository.RecurringPattern) error
	ListRecurring(ctx context.Context, userID string) ([]repository.RecurringPattern, error)
	DeleteDetectedRecurring(ctx context.Context, userID string) error
	UpsertSpending(ctx context.Context, p repository.SpendingPattern) error
	ListSpending(ctx context.Context, userID string) ([]repository.SpendingPattern, error)
}

// ProgressStore receives progress snapshots and carries the cancellation flag.
type ProgressStore interface {
	SetProgress(userID string, p progress.Payload)
	IsCancelled(userID string) bool
}

// Engine wires the six analysis components to their collaborators.
//
// All operations run single-threaded and batch-oriented. Callers must not run
// two categorization pipelines for the same user concurrently; the engine
// documents that expectation but does not enforce it.
type Engine struct {
	Transactions TransactionStore
	Merchants    MerchantStore
	Categories   CategoryStore
	Patterns     PatternStore
	Progress     ProgressStore
	Classifier   llm.Classifier
	Embedder     llm.Embedder
	Config       config.EngineConfig
	Rules        []RefineRule
}

// New builds an engine with validated thresholds and default refinement
// rules. The classifier and embedder may be nil; the affected strategies are
// skipped.
func New(txs TransactionStore, merchants MerchantStore, categories CategoryStore,
	patterns PatternStore, prog ProgressStore, classifier llm.Classifier,
	embedder llm.Embedder, cfg config.EngineConfig) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Engine{
		Transactions: txs,
		Merchants:    merchants,
		Categories:   categories,
		Patterns:     patterns,
		Progress:     prog,
		Classifier:   classifier,
		Embedder:     embedder,
		Config:       cfg,
		Rules:        DefaultRefineRules(),
	}, nil
}

func validateConfig(cfg config.EngineConfig) error {
	if cfg.MaxIterations < 1 {
		return fmt.Errorf("engine: max_iterations must be >= 1, got %d", cfg.MaxIterations)
	}
	if cfg.BatchSize < 1 {
		return fmt.Errorf("engine: batch_size must be >= 1, got %d", cfg.BatchSize)
	}
	if cfg.TransferWindowDays < 0 {
		return fmt.Errorf("engine: transfer_window_days must be >= 0, got %d", cfg.TransferWindowDays)
	}
	for name, v := range map[string]float64{
		"merge_threshold":      cfg.MergeThreshold,
		"embedding_threshold":  cfg.EmbeddingThreshold,
		"llm_confidence_floor": cfg.LLMConfidenceFloor,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("engine: %s must be within [0,1], got %v", name, v)
		}
	}
	if cfg.MinRecurringOccurrences < 2 {
		return fmt.Errorf("engine: min_recurring_occurrences must be >= 2, got %d", cfg.MinRecurringOccurrences)
	}
	return nil
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("engine: empty user id")
	}
	return nil
}

func (e *Engine) cancelled(userID string) bool {
	return e.Progress != nil && e.Progress.IsCancelled(userID)
}

func (e *Engine) report(userID string, p progress.Payload) {
	if e.Progress != nil {
		e.Progress.SetProgress(userID, p)
	}
}
