package repository

import (
	"context"
	"database/sql"
)

// MerchantRepo handles merchant identities.
type MerchantRepo struct {
	db *sql.DB
}

func NewMerchantRepo(db *sql.DB) *MerchantRepo { return &MerchantRepo{db: db} }

const merchantColumns = `id, user_id, name, keywords, accounts, default_category_id,
 recurring_candidate, exclude_recurring, active, created_at, updated_at`

func (r *MerchantRepo) Upsert(ctx context.Context, m Merchant) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO merchants(id, user_id, name, keywords, accounts, default_category_id,
	 recurring_candidate, exclude_recurring, active, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
	 name=excluded.name,
	 keywords=excluded.keywords,
	 accounts=excluded.accounts,
	 default_category_id=excluded.default_category_id,
	 recurring_candidate=excluded.recurring_candidate,
	 exclude_recurring=excluded.exclude_recurring,
	 active=excluded.active,
	 updated_at=CURRENT_TIMESTAMP;
	`, m.ID, m.UserID, m.Name, joinList(m.Keywords), joinList(m.Accounts),
		m.DefaultCategoryID, m.RecurringCandidate, m.ExcludeRecurring, m.Active)
	return err
}

func (r *MerchantRepo) Get(ctx context.Context, id string) (*Merchant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE id = ?`, id)
	m, err := scanMerchant(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// List returns a user's merchants. With activeOnly, deactivated (merged-away)
// merchants are excluded.
func (r *MerchantRepo) List(ctx context.Context, userID string, activeOnly bool) ([]Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants WHERE user_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Merchant
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Deactivate marks a merchant inactive after a merge.
func (r *MerchantRepo) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE merchants SET active = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

// SetRecurringCandidate records whether detection found the merchant
// recurring.
func (r *MerchantRepo) SetRecurringCandidate(ctx context.Context, id string, candidate bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE merchants SET recurring_candidate = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, candidate, id)
	return err
}

// SetExcludeRecurring toggles the user opt-out that keeps the merchant's
// transactions out of recurring detection.
func (r *MerchantRepo) SetExcludeRecurring(ctx context.Context, id string, exclude bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE merchants SET exclude_recurring = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, exclude, id)
	return err
}

func scanMerchant(row scanner) (Merchant, error) {
	var m Merchant
	var keywords, accounts string
	var defaultCategory sql.NullString
	if err := row.Scan(&m.ID, &m.UserID, &m.Name, &keywords, &accounts,
		&defaultCategory, &m.RecurringCandidate, &m.ExcludeRecurring, &m.Active, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Merchant{}, err
	}
	m.Keywords = splitList(keywords)
	m.Accounts = splitList(accounts)
	if defaultCategory.Valid {
		m.DefaultCategoryID = &defaultCategory.String
	}
	return m, nil
}
