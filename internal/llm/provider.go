package llm

import "context"

// Classifier assigns categories to batches of transactions. The engine treats
// it as optional: an unavailable classifier is skipped, never an error.
type Classifier interface {
	ClassifyBatch(ctx context.Context, req ClassifyRequest) ([]ClassifyResult, error)
	Available() bool
}

// Embedder produces vectors for semantic similarity fallback.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Available() bool
}

type ClassifyRequest struct {
	Transactions []TransactionInput `json:"transactions"`
	Categories   []string           `json:"categories"`
}

type TransactionInput struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Merchant    string `json:"merchant,omitempty"`
	Amount      int64  `json:"amount"`
	Date        string `json:"date"`
}

// ClassifyResult carries the model's verdict for one transaction. Category is
// a name from the request's category list; CleanedMerchant is the model's
// normalized counterparty name, empty when it had nothing better than the raw
// description.
type ClassifyResult struct {
	TransactionID   string  `json:"transaction_id"`
	Category        string  `json:"category"`
	CleanedMerchant string  `json:"cleaned_merchant"`
	Confidence      float64 `json:"confidence"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
