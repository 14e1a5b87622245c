package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
)

// UncategorizedName is the system fallback category. Classification never
// leaves a transaction without a category; this is where leftovers land.
const UncategorizedName = "Uncategorized"

type seedCategory struct {
	path     string
	keywords []string
}

// SeedDefaults ensures a baseline taxonomy exists for new databases.
// It is idempotent and safe to run on every startup.
func SeedDefaults(ctx context.Context, db *sql.DB) error {
	catRepo := NewCategoryRepo(db)
	existing, err := catRepo.List(ctx)
	if err == nil && len(existing) > 0 {
		return nil
	}
	defaults := []seedCategory{
		{"Income", []string{"salary", "payroll", "wages", "dividend", "interest paid"}},
		{"Food > Groceries", []string{"tesco", "sainsbury", "aldi", "lidl", "waitrose", "grocery", "supermarket"}},
		{"Food > Restaurants", []string{"restaurant", "pizza", "deliveroo", "just eat", "uber eats", "cafe", "coffee"}},
		{"Transport", []string{"uber", "tfl", "trainline", "fuel", "petrol", "parking", "shell", "bp"}},
		{"Shopping", []string{"amazon", "ebay", "argos", "ikea", "zara", "asos"}},
		{"Utilities", []string{"electric", "energy", "water", "council tax", "broadband", "vodafone", "o2"}},
		{"Subscriptions", []string{"netflix", "spotify", "disney", "prime", "icloud", "youtube premium", "patreon"}},
		{"Housing", []string{"rent", "mortgage", "landlord", "letting"}},
		{"Savings", []string{"vanguard", "isa", "savings", "investment"}},
		{"Health", []string{"pharmacy", "boots", "gym", "dental", "optician", "nhs"}},
		{"Entertainment", []string{"cinema", "odeon", "steam", "playstation", "ticketmaster", "theatre"}},
	}
	for idx, def := range defaults {
		parts := strings.Split(def.path, ">")
		var parentID *string
		for i, raw := range parts {
			name := strings.TrimSpace(raw)
			id := CategoryID(name)
			cat := Category{ID: id, Name: name, ParentID: parentID, SortOrder: idx}
			if i == len(parts)-1 {
				cat.Keywords = def.keywords
			}
			if err := catRepo.Upsert(ctx, cat); err != nil {
				return err
			}
			parentID = &id
		}
	}
	fallback := Category{
		ID:        CategoryID(UncategorizedName),
		Name:      UncategorizedName,
		SortOrder: len(defaults),
		IsSystem:  true,
	}
	return catRepo.Upsert(ctx, fallback)
}

// CategoryID derives a stable id from a category name so reseeding a wiped
// database keeps references valid.
func CategoryID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("cat:"+name)).String()
}
