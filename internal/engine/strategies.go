package engine

import (
	"context"
	"math"
	"strings"

	"github.com/jask/ledgerlens/internal/database/repository"
	"github.com/jask/ledgerlens/internal/llm"
	"github.com/jask/ledgerlens/internal/logger"
)

// Strategy names used in Summary.ByStrategy counts.
const (
	StrategyKeyword      = "keyword"
	StrategyAccount      = "account"
	StrategyMerchantName = "merchant_name"
	StrategyMerchantRe   = "merchant_name_repeat"
	StrategyClassifier   = "classifier"
	StrategyEmbedding    = "embedding"
)

// Match is a single strategy's verdict for one transaction.
type Match struct {
	CategoryID   string
	Confidence   float64
	MerchantName string
}

// strategy pairs a name with an attempt function. prepare, when set, runs
// once per pass over the still-unresolved set before attempt is consulted;
// the batch-oriented collaborator strategies use it to fill their caches.
type strategy struct {
	name    string
	prepare func(ctx context.Context, pending []repository.Transaction)
	attempt func(tx repository.Transaction) (*Match, bool)
}

// cascadeState carries the mutable lookup tables shared by the strategies
// within one categorization run. Merchant-name resolutions learned mid-pass
// land here so later strategies in the same pass can use them.
type cascadeState struct {
	categories        []repository.Category
	categoriesByName  map[string]string
	fallbackID        string
	merchantByAccount map[string]repository.Merchant
	nameToCategory    map[string]string

	classifierResults map[string]llm.ClassifyResult
	classifierDown    bool
	embedderDown      bool
	embeddingsReady   bool

	learnedKeywords map[string][]string
	warnings        []string
}

func txText(tx repository.Transaction) string {
	parts := []string{tx.RawDescription}
	if tx.MerchantName != nil {
		parts = append(parts, *tx.MerchantName)
	} else if tx.RawMerchant != nil {
		parts = append(parts, *tx.RawMerchant)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func merchantKey(tx repository.Transaction) string {
	if tx.MerchantName != nil && *tx.MerchantName != "" {
		return strings.ToLower(*tx.MerchantName)
	}
	if tx.RawMerchant != nil && *tx.RawMerchant != "" {
		return strings.ToLower(*tx.RawMerchant)
	}
	return ""
}

func (e *Engine) keywordStrategy(state *cascadeState) strategy {
	return strategy{
		name: StrategyKeyword,
		attempt: func(tx repository.Transaction) (*Match, bool) {
			text := txText(tx)
			for _, cat := range state.categories {
				if cat.ID == state.fallbackID {
					continue
				}
				for _, kw := range cat.Keywords {
					kw = strings.ToLower(strings.TrimSpace(kw))
					if kw == "" {
						continue
					}
					if strings.Contains(text, kw) {
						return &Match{CategoryID: cat.ID, Confidence: 0.95}, true
					}
				}
			}
			return nil, false
		},
	}
}

func (e *Engine) accountStrategy(state *cascadeState) strategy {
	return strategy{
		name: StrategyAccount,
		attempt: func(tx repository.Transaction) (*Match, bool) {
			if tx.CounterpartyAccount == nil || *tx.CounterpartyAccount == "" {
				return nil, false
			}
			m, ok := state.merchantByAccount[*tx.CounterpartyAccount]
			if !ok || m.DefaultCategoryID == nil {
				return nil, false
			}
			return &Match{CategoryID: *m.DefaultCategoryID, Confidence: 0.9, MerchantName: m.Name}, true
		},
	}
}

func (e *Engine) merchantNameStrategy(state *cascadeState, name string) strategy {
	return strategy{
		name: name,
		attempt: func(tx repository.Transaction) (*Match, bool) {
			key := merchantKey(tx)
			if key == "" {
				return nil, false
			}
			catID, ok := state.nameToCategory[key]
			if !ok {
				return nil, false
			}
			return &Match{CategoryID: catID, Confidence: 0.85}, true
		},
	}
}

func (e *Engine) classifierStrategy(ctx context.Context, state *cascadeState) strategy {
	log := logger.FromContext(ctx)
	return strategy{
		name: StrategyClassifier,
		prepare: func(ctx context.Context, pending []repository.Transaction) {
			state.classifierResults = map[string]llm.ClassifyResult{}
			if e.Classifier == nil || !e.Classifier.Available() || state.classifierDown {
				return
			}
			batchSize := e.Config.BatchSize
			names := make([]string, 0, len(state.categories))
			for _, c := range state.categories {
				names = append(names, c.Name)
			}
			for start := 0; start < len(pending); start += batchSize {
				end := start + batchSize
				if end > len(pending) {
					end = len(pending)
				}
				req := llm.ClassifyRequest{Categories: names}
				for _, tx := range pending[start:end] {
					in := llm.TransactionInput{
						ID:          tx.ID,
						Description: tx.RawDescription,
						Amount:      tx.AmountCents,
						Date:        tx.Date.Format("2006-01-02"),
					}
					if tx.RawMerchant != nil {
						in.Merchant = *tx.RawMerchant
					}
					req.Transactions = append(req.Transactions, in)
				}
				results, err := e.Classifier.ClassifyBatch(ctx, req)
				if err != nil {
					log.Warn().Err(err).Msg("classifier batch failed, skipping strategy")
					state.classifierDown = true
					state.warnings = append(state.warnings, "classifier unavailable: "+err.Error())
					return
				}
				for _, r := range results {
					state.classifierResults[r.TransactionID] = r
				}
			}
		},
		attempt: func(tx repository.Transaction) (*Match, bool) {
			r, ok := state.classifierResults[tx.ID]
			if !ok || r.Confidence < e.Config.LLMConfidenceFloor {
				return nil, false
			}
			catID, ok := state.categoriesByName[strings.ToLower(r.Category)]
			if !ok {
				return nil, false
			}
			return &Match{CategoryID: catID, Confidence: r.Confidence, MerchantName: r.CleanedMerchant}, true
		},
	}
}

func (e *Engine) embeddingStrategy(ctx context.Context, state *cascadeState) strategy {
	log := logger.FromContext(ctx)
	return strategy{
		name: StrategyEmbedding,
		prepare: func(ctx context.Context, _ []repository.Transaction) {
			e.backfillCategoryEmbeddings(ctx, state)
		},
		attempt: func(tx repository.Transaction) (*Match, bool) {
			if e.Embedder == nil || !e.Embedder.Available() || state.embedderDown {
				return nil, false
			}
			vec, err := e.Embedder.EmbedText(ctx, txText(tx))
			if err != nil {
				log.Warn().Err(err).Str("transaction", tx.ID).Msg("embedding failed, skipping strategy")
				state.embedderDown = true
				state.warnings = append(state.warnings, "embedder unavailable: "+err.Error())
				return nil, false
			}
			bestID, bestSim := "", 0.0
			for _, cat := range state.categories {
				if len(cat.Embedding) == 0 || cat.ID == state.fallbackID {
					continue
				}
				if sim := cosineSimilarity(vec, cat.Embedding); sim > bestSim {
					bestSim, bestID = sim, cat.ID
				}
			}
			if bestID == "" || bestSim < e.Config.EmbeddingThreshold {
				return nil, false
			}
			return &Match{CategoryID: bestID, Confidence: bestSim}, true
		},
	}
}

// backfillCategoryEmbeddings embeds the name and keywords of every category
// that has no stored vector yet, persisting the results for later runs. Runs
// at most once per cascade run.
func (e *Engine) backfillCategoryEmbeddings(ctx context.Context, state *cascadeState) {
	if e.Embedder == nil || !e.Embedder.Available() || state.embedderDown || state.embeddingsReady {
		return
	}
	state.embeddingsReady = true
	log := logger.FromContext(ctx)
	for i := range state.categories {
		cat := &state.categories[i]
		if len(cat.Embedding) > 0 || cat.ID == state.fallbackID {
			continue
		}
		text := strings.ToLower(strings.Join(append([]string{cat.Name}, cat.Keywords...), " "))
		vec, err := e.Embedder.EmbedText(ctx, text)
		if err != nil {
			log.Warn().Err(err).Str("category", cat.Name).Msg("category embedding failed, skipping strategy")
			state.embedderDown = true
			state.warnings = append(state.warnings, "embedder unavailable: "+err.Error())
			return
		}
		cat.Embedding = vec
		if err := e.Categories.UpdateEmbedding(ctx, cat.ID, vec); err != nil {
			state.warnings = append(state.warnings, "persist embedding: "+err.Error())
		}
	}
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
