package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// CategoryRepo handles categories.
type CategoryRepo struct {
	db *sql.DB
}

func NewCategoryRepo(db *sql.DB) *CategoryRepo {
	return &CategoryRepo{db: db}
}

func (r *CategoryRepo) Upsert(ctx context.Context, c Category) error {
	embedding, err := marshalEmbedding(c.Embedding)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
	INSERT INTO categories(id, parent_id, name, icon, color, sort_order, is_system, keywords, embedding)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 parent_id=excluded.parent_id,
	 name=excluded.name,
	 icon=excluded.icon,
	 color=excluded.color,
	 sort_order=excluded.sort_order,
	 is_system=excluded.is_system,
	 keywords=excluded.keywords,
	 embedding=excluded.embedding;
	`, c.ID, c.ParentID, c.Name, c.Icon, c.Color, c.SortOrder, c.IsSystem, joinList(c.Keywords), embedding)
	return err
}

func (r *CategoryRepo) List(ctx context.Context) ([]Category, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, parent_id, name, icon, color, sort_order, is_system, keywords, embedding
	FROM categories ORDER BY sort_order, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		var parent, icon, color, embedding sql.NullString
		var keywords string
		if err := rows.Scan(&c.ID, &parent, &c.Name, &icon, &color, &c.SortOrder, &c.IsSystem, &keywords, &embedding); err != nil {
			return nil, err
		}
		if parent.Valid {
			c.ParentID = &parent.String
		}
		if icon.Valid {
			c.Icon = &icon.String
		}
		if color.Valid {
			c.Color = &color.String
		}
		c.Keywords = splitList(keywords)
		if embedding.Valid && embedding.String != "" {
			if err := json.Unmarshal([]byte(embedding.String), &c.Embedding); err != nil {
				return nil, fmt.Errorf("category %s: decode embedding: %w", c.ID, err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateKeywords replaces the ordered keyword list, used by keyword learning.
func (r *CategoryRepo) UpdateKeywords(ctx context.Context, id string, keywords []string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE categories SET keywords = ? WHERE id = ?`, joinList(keywords), id)
	return err
}

// UpdateEmbedding stores the semantic vector used by the similarity fallback.
func (r *CategoryRepo) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	enc, err := marshalEmbedding(embedding)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE categories SET embedding = ? WHERE id = ?`, enc, id)
	return err
}

func marshalEmbedding(v []float32) (*string, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode embedding: %w", err)
	}
	s := string(data)
	return &s, nil
}
