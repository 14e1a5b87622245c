package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jask/ledgerlens/internal/database"
)

// TransactionFilters defines list filters.
type TransactionFilters struct {
	UserID        string
	CategoryID    string
	MerchantID    string
	From          time.Time // zero = unbounded
	To            time.Time // zero = unbounded
	Uncategorized bool      // only rows with NULL category
}

// TransactionRepo handles transactions.
type TransactionRepo struct {
	db *sql.DB
}

func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

const transactionColumns = `id, user_id, date, amount, raw_description, raw_merchant, merchant_name,
 merchant_id, counterparty_account, category_id, category_confidence, manual_category,
 recurring_pattern_id, created_at, updated_at`

func (r *TransactionRepo) Insert(ctx context.Context, t Transaction) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO transactions(
	 id, user_id, date, amount, raw_description, raw_merchant, merchant_name,
	 merchant_id, counterparty_account, category_id, category_confidence, manual_category,
	 recurring_pattern_id, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`,
		t.ID, t.UserID, t.Date, t.AmountCents, t.RawDescription, t.RawMerchant, t.MerchantName,
		t.MerchantID, t.CounterpartyAccount, t.CategoryID, t.CategoryConfidence, t.ManualCategory,
		t.RecurringPatternID)
	return err
}

func (r *TransactionRepo) Get(ctx context.Context, id string) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepo) List(ctx context.Context, f TransactionFilters) ([]Transaction, error) {
	var where []string
	var args []interface{}

	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.CategoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.MerchantID != "" {
		where = append(where, "merchant_id = ?")
		args = append(args, f.MerchantID)
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where = append(where, "date < ?")
		args = append(args, f.To)
	}
	if f.Uncategorized {
		where = append(where, "category_id IS NULL")
	}

	query := "SELECT " + transactionColumns + " FROM transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date ASC, created_at ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// BulkAssignCategory assigns a category to every id in one transaction so a
// cancellation between batches never leaves a batch half-applied. Rows with
// manual_category set are left untouched regardless of the id set.
func (r *TransactionRepo) BulkAssignCategory(ctx context.Context, ids []string, categoryID string, confidence float64) error {
	if len(ids) == 0 {
		return nil
	}
	return database.WithTxContext(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
		UPDATE transactions SET category_id = ?, category_confidence = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND manual_category = 0`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, categoryID, confidence, id); err != nil {
				return fmt.Errorf("assign category to %s: %w", id, err)
			}
		}
		return nil
	})
}

// CategoryAssignment is one row of a batched categorization write.
type CategoryAssignment struct {
	TransactionID string
	CategoryID    string
	Confidence    float64
	MerchantName  *string
}

// AssignCategories applies a batch of categorization results atomically.
// Rows with manual_category set are left untouched regardless of the batch
// contents. MerchantName, when present, records the cleaned counterparty
// label alongside the category.
func (r *TransactionRepo) AssignCategories(ctx context.Context, assignments []CategoryAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	return database.WithTxContext(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
		UPDATE transactions SET category_id = ?, category_confidence = ?,
		 merchant_name = COALESCE(?, merchant_name), updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND manual_category = 0`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, a := range assignments {
			if _, err := stmt.ExecContext(ctx, a.CategoryID, a.Confidence, a.MerchantName, a.TransactionID); err != nil {
				return fmt.Errorf("assign category to %s: %w", a.TransactionID, err)
			}
		}
		return nil
	})
}

// UpdateMerchantName sets the cleaned merchant label.
func (r *TransactionRepo) UpdateMerchantName(ctx context.Context, id string, name *string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE transactions SET merchant_name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, name, id)
	return err
}

// ReassignMerchant re-points every transaction from one merchant to another,
// used by merchant merges.
func (r *TransactionRepo) ReassignMerchant(ctx context.Context, fromMerchantID, toMerchantID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE transactions SET merchant_id = ?, updated_at = CURRENT_TIMESTAMP WHERE merchant_id = ?`, toMerchantID, fromMerchantID)
	return err
}

// AssignRecurringPattern links a set of transactions to a pattern in one
// transaction. Rows already claimed by another pattern are left untouched:
// a transaction belongs to at most one pattern.
func (r *TransactionRepo) AssignRecurringPattern(ctx context.Context, ids []string, patternID string) error {
	if len(ids) == 0 {
		return nil
	}
	return database.WithTxContext(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
		UPDATE transactions SET recurring_pattern_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND recurring_pattern_id IS NULL`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, patternID, id); err != nil {
				return fmt.Errorf("assign pattern to %s: %w", id, err)
			}
		}
		return nil
	})
}

// ClearRecurringPatterns detaches all transactions of a user from patterns,
// typically before a fresh detection pass is accepted.
func (r *TransactionRepo) ClearRecurringPatterns(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE transactions SET recurring_pattern_id = NULL, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`, userID)
	return err
}

// CountByUser returns total and uncategorized counts for a user.
func (r *TransactionRepo) CountByUser(ctx context.Context, userID string) (total int, uncategorized int, err error) {
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE user_id = ?`, userID)
	if err = row.Scan(&total); err != nil {
		return
	}
	row = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE user_id = ? AND category_id IS NULL`, userID)
	err = row.Scan(&uncategorized)
	return
}

// scanTransaction handles nullable fields for both Row and Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var rawMerchant, merchantName, merchantID, account, category, pattern sql.NullString
	if err := row.Scan(&t.ID, &t.UserID, &t.Date, &t.AmountCents, &t.RawDescription,
		&rawMerchant, &merchantName, &merchantID, &account, &category,
		&t.CategoryConfidence, &t.ManualCategory, &pattern, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	if rawMerchant.Valid {
		t.RawMerchant = &rawMerchant.String
	}
	if merchantName.Valid {
		t.MerchantName = &merchantName.String
	}
	if merchantID.Valid {
		t.MerchantID = &merchantID.String
	}
	if account.Valid {
		t.CounterpartyAccount = &account.String
	}
	if category.Valid {
		t.CategoryID = &category.String
	}
	if pattern.Valid {
		t.RecurringPatternID = &pattern.String
	}
	return t, nil
}
