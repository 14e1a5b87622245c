package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jask/ledgerlens/internal/config"
	"github.com/jask/ledgerlens/internal/database/repository"
	"github.com/jask/ledgerlens/internal/llm"
	"github.com/jask/ledgerlens/internal/progress"
)

// fakeStore is an in-memory storage collaborator covering all four store
// interfaces.
type fakeStore struct {
	txs        map[string]*repository.Transaction
	merchants  map[string]*repository.Merchant
	categories []repository.Category
	recurring  map[string]repository.RecurringPattern
	spending   map[string]repository.SpendingPattern
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		txs:       map[string]*repository.Transaction{},
		merchants: map[string]*repository.Merchant{},
		recurring: map[string]repository.RecurringPattern{},
		spending:  map[string]repository.SpendingPattern{},
	}
}

func (f *fakeStore) addTx(tx repository.Transaction) {
	copied := tx
	f.txs[tx.ID] = &copied
}

func (f *fakeStore) addMerchant(m repository.Merchant) {
	copied := m
	f.merchants[m.ID] = &copied
}

func (f *fakeStore) List(_ context.Context, filters repository.TransactionFilters) ([]repository.Transaction, error) {
	var out []repository.Transaction
	for _, tx := range f.txs {
		if filters.UserID != "" && tx.UserID != filters.UserID {
			continue
		}
		out = append(out, *tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeStore) AssignCategories(_ context.Context, assignments []repository.CategoryAssignment) error {
	for _, a := range assignments {
		tx, ok := f.txs[a.TransactionID]
		if !ok || tx.ManualCategory {
			continue
		}
		catID := a.CategoryID
		tx.CategoryID = &catID
		tx.CategoryConfidence = a.Confidence
		if a.MerchantName != nil {
			tx.MerchantName = a.MerchantName
		}
	}
	return nil
}

func (f *fakeStore) BulkAssignCategory(_ context.Context, ids []string, categoryID string, confidence float64) error {
	for _, id := range ids {
		tx, ok := f.txs[id]
		if !ok || tx.ManualCategory {
			continue
		}
		catID := categoryID
		tx.CategoryID = &catID
		tx.CategoryConfidence = confidence
	}
	return nil
}

func (f *fakeStore) UpdateMerchantName(_ context.Context, id string, name *string) error {
	if tx, ok := f.txs[id]; ok {
		tx.MerchantName = name
	}
	return nil
}

func (f *fakeStore) ReassignMerchant(_ context.Context, fromID, toID string) error {
	for _, tx := range f.txs {
		if tx.MerchantID != nil && *tx.MerchantID == fromID {
			to := toID
			tx.MerchantID = &to
		}
	}
	return nil
}

func (f *fakeStore) AssignRecurringPattern(_ context.Context, ids []string, patternID string) error {
	for _, id := range ids {
		tx, ok := f.txs[id]
		if !ok || tx.RecurringPatternID != nil {
			continue
		}
		p := patternID
		tx.RecurringPatternID = &p
	}
	return nil
}

func (f *fakeStore) ClearRecurringPatterns(_ context.Context, userID string) error {
	for _, tx := range f.txs {
		if tx.UserID == userID {
			tx.RecurringPatternID = nil
		}
	}
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*repository.Merchant, error) {
	m, ok := f.merchants[id]
	if !ok {
		return nil, nil
	}
	copied := *m
	return &copied, nil
}

func (f *fakeStore) ListMerchants(_ context.Context, userID string, activeOnly bool) ([]repository.Merchant, error) {
	var out []repository.Merchant
	for _, m := range f.merchants {
		if m.UserID != userID {
			continue
		}
		if activeOnly && !m.Active {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) Upsert(_ context.Context, m repository.Merchant) error {
	copied := m
	f.merchants[m.ID] = &copied
	return nil
}

func (f *fakeStore) Deactivate(_ context.Context, id string) error {
	if m, ok := f.merchants[id]; ok {
		m.Active = false
	}
	return nil
}

func (f *fakeStore) SetRecurringCandidate(_ context.Context, id string, candidate bool) error {
	if m, ok := f.merchants[id]; ok {
		m.RecurringCandidate = candidate
	}
	return nil
}

func (f *fakeStore) ListCategories(_ context.Context) ([]repository.Category, error) {
	return append([]repository.Category(nil), f.categories...), nil
}

func (f *fakeStore) UpdateKeywords(_ context.Context, id string, keywords []string) error {
	for i := range f.categories {
		if f.categories[i].ID == id {
			f.categories[i].Keywords = keywords
			return nil
		}
	}
	return fmt.Errorf("category %s not found", id)
}

func (f *fakeStore) UpdateEmbedding(_ context.Context, id string, embedding []float32) error {
	for i := range f.categories {
		if f.categories[i].ID == id {
			f.categories[i].Embedding = embedding
			return nil
		}
	}
	return fmt.Errorf("category %s not found", id)
}

func (f *fakeStore) UpsertRecurring(_ context.Context, p repository.RecurringPattern) error {
	f.recurring[p.ID] = p
	return nil
}

func (f *fakeStore) ListRecurring(_ context.Context, userID string) ([]repository.RecurringPattern, error) {
	var out []repository.RecurringPattern
	for _, p := range f.recurring {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteDetectedRecurring(_ context.Context, userID string) error {
	for id, p := range f.recurring {
		if p.UserID == userID && p.Source != repository.SourceManual {
			delete(f.recurring, id)
		}
	}
	return nil
}

func (f *fakeStore) UpsertSpending(_ context.Context, p repository.SpendingPattern) error {
	f.spending[p.ID] = p
	return nil
}

func (f *fakeStore) ListSpending(_ context.Context, userID string) ([]repository.SpendingPattern, error) {
	var out []repository.SpendingPattern
	for _, p := range f.spending {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

// merchantStoreAdapter exposes fakeStore's merchant methods under the
// MerchantStore interface (List collides with the transaction List).
type merchantStoreAdapter struct{ *fakeStore }

func (a merchantStoreAdapter) List(ctx context.Context, userID string, activeOnly bool) ([]repository.Merchant, error) {
	return a.ListMerchants(ctx, userID, activeOnly)
}

type categoryStoreAdapter struct{ *fakeStore }

func (a categoryStoreAdapter) List(ctx context.Context) ([]repository.Category, error) {
	return a.ListCategories(ctx)
}

// cancellingProgress flips the cancellation flag after a fixed number of
// progress reports.
type cancellingProgress struct {
	store       *progress.Store
	userID      string
	cancelAfter int
	reports     int
}

func (c *cancellingProgress) SetProgress(userID string, p progress.Payload) {
	c.store.SetProgress(userID, p)
	c.reports++
	if c.cancelAfter > 0 && c.reports >= c.cancelAfter {
		c.store.SetCancellation(c.userID, true)
	}
}

func (c *cancellingProgress) IsCancelled(userID string) bool {
	return c.store.IsCancelled(userID)
}

// scriptedClassifier returns canned results keyed by transaction id.
type scriptedClassifier struct {
	results map[string]llm.ClassifyResult
	err     error
	calls   int
}

func (s *scriptedClassifier) Available() bool { return true }

func (s *scriptedClassifier) ClassifyBatch(_ context.Context, req llm.ClassifyRequest) ([]llm.ClassifyResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var out []llm.ClassifyResult
	for _, tx := range req.Transactions {
		if r, ok := s.results[tx.ID]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// scriptedEmbedder returns canned vectors keyed by a substring of the input
// text.
type scriptedEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (s *scriptedEmbedder) Available() bool { return true }

func (s *scriptedEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	for key, vec := range s.vectors {
		if strings.Contains(text, key) {
			return vec, nil
		}
	}
	return []float32{0, 0, 1}, nil
}

func testConfig() config.EngineConfig {
	return config.EngineConfig{
		MaxIterations:           10,
		BatchSize:               100,
		TransferWindowDays:      3,
		AmountTolerancePercent:  5,
		AmountToleranceCents:    200,
		IntervalTolerancePct:    15,
		IntervalToleranceDays:   3,
		MinRecurringOccurrences: 2,
		SpendingMinTransactions: 5,
		SpendingWindowDays:      90,
		SpendingTopMerchants:    3,
		MergeThreshold:          0.82,
		EmbeddingThreshold:      0.74,
		LLMConfidenceFloor:      0.70,
		KeywordLearning:         true,
	}
}

func newTestEngine(store *fakeStore, classifier llm.Classifier, embedder llm.Embedder) *Engine {
	eng, err := New(store, merchantStoreAdapter{store}, categoryStoreAdapter{store},
		store, progress.NewStore(), classifier, embedder, testConfig())
	if err != nil {
		panic(err)
	}
	return eng
}

func day(n int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func strPtr(s string) *string { return &s }
