package repository

import (
	"strings"
	"time"
)

// Recurring intervals form a closed set; anything that does not fit one of
// these bands is not reported as recurring.
const (
	IntervalWeekly     = "weekly"
	IntervalFourWeekly = "four_weekly"
	IntervalMonthly    = "monthly"
	IntervalQuarterly  = "quarterly"
	IntervalYearly     = "yearly"
)

// Recurring pattern sources.
const (
	SourceMerchantAmount = "merchant_amount"
	SourceAccount        = "account"
	SourceManual         = "manual"
)

// Pattern statuses.
const (
	StatusActive  = "active"
	StatusIgnored = "ignored"
)

// Category represents a classification taxonomy node.
type Category struct {
	ID        string
	ParentID  *string
	Name      string
	Icon      *string
	Color     *string
	SortOrder int
	IsSystem  bool
	Keywords  []string
	Embedding []float32
}

// Merchant represents a normalized counterparty identity.
//
// RecurringCandidate is a detection output: it is switched on once the
// merchant has produced a recurring candidate. ExcludeRecurring is an
// explicit user opt-out that removes the merchant's transactions from
// recurring detection entirely.
type Merchant struct {
	ID                 string
	UserID             string
	Name               string
	Keywords           []string
	Accounts           []string
	DefaultCategoryID  *string
	RecurringCandidate bool
	ExcludeRecurring   bool
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Transaction represents a transaction row. Amounts are signed integer cents;
// negative is money out.
type Transaction struct {
	ID                  string
	UserID              string
	Date                time.Time
	AmountCents         int64
	RawDescription      string
	RawMerchant         *string
	MerchantName        *string
	MerchantID          *string
	CounterpartyAccount *string
	CategoryID          *string
	CategoryConfidence  float64
	ManualCategory      bool
	RecurringPatternID  *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsDebit reports whether the transaction is money out.
func (t Transaction) IsDebit() bool { return t.AmountCents < 0 }

// RecurringPattern is a detected or user-confirmed periodic obligation.
type RecurringPattern struct {
	ID               string
	UserID           string
	Name             string
	AmountCents      int64
	Interval         string
	Status           string
	MerchantID       *string
	CategoryID       *string
	NextExpectedDate *time.Time
	TransactionIDs   []string
	Confidence       float64
	Source           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SpendingPattern is a detected habitual variable-spend cluster.
type SpendingPattern struct {
	ID               string
	UserID           string
	CategoryID       string
	MonthlyAverage   int64
	VisitsPerMonth   float64
	AverageAmount    int64
	MinAmount        int64
	MaxAmount        int64
	TransactionCount int
	MerchantCount    int
	TopMerchants     []string
	FirstDate        *time.Time
	LastDate         *time.Time
	Status           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// joinList and splitList store ordered string lists in a single TEXT column.
// Commas inside entries are not expected for keywords or account ids.
func joinList(items []string) string {
	return strings.Join(items, ",")
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
