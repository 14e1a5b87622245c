package repository

import (
	"context"
	"database/sql"
)

// PatternRepo persists detected recurring and variable-spending patterns.
type PatternRepo struct {
	db *sql.DB
}

func NewPatternRepo(db *sql.DB) *PatternRepo { return &PatternRepo{db: db} }

const recurringColumns = `id, user_id, name, amount, interval, status, merchant_id, category_id,
 next_expected_date, transaction_ids, confidence, source, created_at, updated_at`

func (r *PatternRepo) UpsertRecurring(ctx context.Context, p RecurringPattern) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO recurring_patterns(id, user_id, name, amount, interval, status, merchant_id,
	 category_id, next_expected_date, transaction_ids, confidence, source, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
	 name=excluded.name,
	 amount=excluded.amount,
	 interval=excluded.interval,
	 status=excluded.status,
	 merchant_id=excluded.merchant_id,
	 category_id=excluded.category_id,
	 next_expected_date=excluded.next_expected_date,
	 transaction_ids=excluded.transaction_ids,
	 confidence=excluded.confidence,
	 source=excluded.source,
	 updated_at=CURRENT_TIMESTAMP;
	`, p.ID, p.UserID, p.Name, p.AmountCents, p.Interval, p.Status, p.MerchantID,
		p.CategoryID, p.NextExpectedDate, joinList(p.TransactionIDs), p.Confidence, p.Source)
	return err
}

func (r *PatternRepo) ListRecurring(ctx context.Context, userID string) ([]RecurringPattern, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recurringColumns+` FROM recurring_patterns WHERE user_id = ? ORDER BY confidence DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RecurringPattern
	for rows.Next() {
		var p RecurringPattern
		var merchant, category sql.NullString
		var next sql.NullTime
		var txIDs string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.AmountCents, &p.Interval, &p.Status,
			&merchant, &category, &next, &txIDs, &p.Confidence, &p.Source, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if merchant.Valid {
			p.MerchantID = &merchant.String
		}
		if category.Valid {
			p.CategoryID = &category.String
		}
		if next.Valid {
			t := next.Time
			p.NextExpectedDate = &t
		}
		p.TransactionIDs = splitList(txIDs)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetRecurringStatus flips a pattern between active and ignored.
func (r *PatternRepo) SetRecurringStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE recurring_patterns SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	return err
}

// DeleteDetectedRecurring removes non-manual patterns before a re-detection
// pass is accepted; user-created patterns survive.
func (r *PatternRepo) DeleteDetectedRecurring(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM recurring_patterns WHERE user_id = ? AND source != ?`, userID, SourceManual)
	return err
}

func (r *PatternRepo) UpsertSpending(ctx context.Context, p SpendingPattern) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO spending_patterns(id, user_id, category_id, monthly_average, visits_per_month,
	 average_amount, min_amount, max_amount, transaction_count, merchant_count, top_merchants,
	 first_date, last_date, status, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
	 monthly_average=excluded.monthly_average,
	 visits_per_month=excluded.visits_per_month,
	 average_amount=excluded.average_amount,
	 min_amount=excluded.min_amount,
	 max_amount=excluded.max_amount,
	 transaction_count=excluded.transaction_count,
	 merchant_count=excluded.merchant_count,
	 top_merchants=excluded.top_merchants,
	 first_date=excluded.first_date,
	 last_date=excluded.last_date,
	 status=excluded.status,
	 updated_at=CURRENT_TIMESTAMP;
	`, p.ID, p.UserID, p.CategoryID, p.MonthlyAverage, p.VisitsPerMonth,
		p.AverageAmount, p.MinAmount, p.MaxAmount, p.TransactionCount, p.MerchantCount,
		joinList(p.TopMerchants), p.FirstDate, p.LastDate, p.Status)
	return err
}

func (r *PatternRepo) ListSpending(ctx context.Context, userID string) ([]SpendingPattern, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, user_id, category_id, monthly_average, visits_per_month, average_amount,
	 min_amount, max_amount, transaction_count, merchant_count, top_merchants,
	 first_date, last_date, status, created_at, updated_at
	FROM spending_patterns WHERE user_id = ? ORDER BY monthly_average ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SpendingPattern
	for rows.Next() {
		var p SpendingPattern
		var top string
		var first, last sql.NullTime
		if err := rows.Scan(&p.ID, &p.UserID, &p.CategoryID, &p.MonthlyAverage, &p.VisitsPerMonth,
			&p.AverageAmount, &p.MinAmount, &p.MaxAmount, &p.TransactionCount, &p.MerchantCount,
			&top, &first, &last, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.TopMerchants = splitList(top)
		if first.Valid {
			t := first.Time
			p.FirstDate = &t
		}
		if last.Valid {
			t := last.Time
			p.LastDate = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
