package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jask/ledgerlens/internal/database/repository"
)

func refineRules() []RefineRule {
	return []RefineRule{
		{
			Name:           "lunchtime meal deal",
			FromCategory:   "Groceries",
			ToCategory:     "Restaurants",
			TimeFrom:       "11:30",
			TimeTo:         "14:30",
			MaxAmountCents: 800,
		},
		{
			Name:         "any grocer",
			FromCategory: "Groceries",
			ToCategory:   "Shopping",
		},
	}
}

func refineStore() *fakeStore {
	store := newFakeStore()
	store.categories = []repository.Category{
		{ID: "cat-groceries", Name: "Groceries"},
		{ID: "cat-restaurants", Name: "Restaurants"},
		{ID: "cat-shopping", Name: "Shopping"},
		{ID: "cat-other", Name: "Uncategorized", IsSystem: true},
	}
	return store
}

func TestExtractTimeOfDay(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		minutes int
		ok      bool
	}{
		{"TESCO STORES 12:45 LONDON", 765, true},
		{"COFFEE 08:05", 485, true},
		{"EDGE 00:00 CASE", 0, true},
		{"LATE 23:59", 1439, true},
		{"NO TIME HERE", 0, false},
		{"REF 99:99 GARBAGE", 0, false},
		{"BAD 24:10 CLOCK", 0, false},
	}
	for _, tc := range cases {
		minutes, ok := extractTimeOfDay(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			require.Equal(t, tc.minutes, minutes, tc.in)
		}
	}
}

func TestRefineContextMovesLunchtimePurchase(t *testing.T) {
	t.Parallel()

	store := refineStore()
	store.addTx(repository.Transaction{
		ID: "lunch", UserID: "u1", Date: day(0), AmountCents: -450,
		RawDescription: "TESCO STORES 12:45", CategoryID: strPtr("cat-groceries"),
	})

	eng := newTestEngine(store, nil, nil)
	eng.Rules = refineRules()
	changes, err := eng.RefineContext(context.Background(), "u1", RefineOptions{})
	require.NoError(t, err)
	require.Len(t, changes.Changes, 1)
	require.Equal(t, "lunchtime meal deal", changes.Changes[0].Rule)
	require.Equal(t, "Restaurants", changes.Changes[0].ToCategory)
	require.Equal(t, "cat-restaurants", *store.txs["lunch"].CategoryID)
}

func TestRefineContextFirstMatchWins(t *testing.T) {
	t.Parallel()

	// matches both rules; the earlier one decides
	store := refineStore()
	store.addTx(repository.Transaction{
		ID: "both", UserID: "u1", Date: day(0), AmountCents: -300,
		RawDescription: "TESCO STORES 13:00", CategoryID: strPtr("cat-groceries"),
	})

	eng := newTestEngine(store, nil, nil)
	eng.Rules = refineRules()
	changes, err := eng.RefineContext(context.Background(), "u1", RefineOptions{})
	require.NoError(t, err)
	require.Len(t, changes.Changes, 1)
	require.Equal(t, "lunchtime meal deal", changes.Changes[0].Rule)
}

func TestRefineContextNoTimeNeverMatchesTimeRule(t *testing.T) {
	t.Parallel()

	store := refineStore()
	store.addTx(repository.Transaction{
		ID: "evening", UserID: "u1", Date: day(0), AmountCents: -450,
		RawDescription: "TESCO STORES", CategoryID: strPtr("cat-groceries"),
	})

	eng := newTestEngine(store, nil, nil)
	eng.Rules = refineRules()[:1]
	changes, err := eng.RefineContext(context.Background(), "u1", RefineOptions{})
	require.NoError(t, err)
	require.Empty(t, changes.Changes)
	require.Equal(t, "cat-groceries", *store.txs["evening"].CategoryID)
}

func TestRefineContextAmountBound(t *testing.T) {
	t.Parallel()

	store := refineStore()
	store.addTx(repository.Transaction{
		ID: "big-shop", UserID: "u1", Date: day(0), AmountCents: -6200,
		RawDescription: "TESCO STORES 12:10", CategoryID: strPtr("cat-groceries"),
	})

	eng := newTestEngine(store, nil, nil)
	eng.Rules = refineRules()[:1]
	changes, err := eng.RefineContext(context.Background(), "u1", RefineOptions{})
	require.NoError(t, err)
	require.Empty(t, changes.Changes)
}

func TestRefineContextMerchantContains(t *testing.T) {
	t.Parallel()

	store := refineStore()
	store.addTx(repository.Transaction{
		ID: "renewal", UserID: "u1", Date: day(0), AmountCents: -4999,
		RawDescription: "ACME LICENCE RENEWAL 2026", CategoryID: strPtr("cat-shopping"),
	})

	eng := newTestEngine(store, nil, nil)
	eng.Rules = []RefineRule{{
		Name:             "annual software renewal",
		FromCategory:     "Shopping",
		ToCategory:       "Subscriptions",
		MerchantContains: "renewal",
	}}
	// rule targets a category the store does not hold; nothing changes
	changes, err := eng.RefineContext(context.Background(), "u1", RefineOptions{})
	require.NoError(t, err)
	require.Empty(t, changes.Changes)

	store.categories = append(store.categories, repository.Category{ID: "cat-subs", Name: "Subscriptions"})
	changes, err = eng.RefineContext(context.Background(), "u1", RefineOptions{})
	require.NoError(t, err)
	require.Len(t, changes.Changes, 1)
	require.Equal(t, "cat-subs", *store.txs["renewal"].CategoryID)
}

func TestRefineContextManualSkipped(t *testing.T) {
	t.Parallel()

	store := refineStore()
	store.addTx(repository.Transaction{
		ID: "manual", UserID: "u1", Date: day(0), AmountCents: -450,
		RawDescription: "TESCO STORES 12:45", CategoryID: strPtr("cat-groceries"),
		ManualCategory: true,
	})

	eng := newTestEngine(store, nil, nil)
	eng.Rules = refineRules()
	changes, err := eng.RefineContext(context.Background(), "u1", RefineOptions{})
	require.NoError(t, err)
	require.Empty(t, changes.Changes)
	require.Equal(t, "cat-groceries", *store.txs["manual"].CategoryID)
}

func TestRefineContextDryRun(t *testing.T) {
	t.Parallel()

	store := refineStore()
	store.addTx(repository.Transaction{
		ID: "lunch", UserID: "u1", Date: day(0), AmountCents: -450,
		RawDescription: "TESCO STORES 12:45", CategoryID: strPtr("cat-groceries"),
	})

	eng := newTestEngine(store, nil, nil)
	eng.Rules = refineRules()
	changes, err := eng.RefineContext(context.Background(), "u1", RefineOptions{DryRun: true})
	require.NoError(t, err)
	require.True(t, changes.DryRun)
	require.Len(t, changes.Changes, 1)
	require.Equal(t, "cat-groceries", *store.txs["lunch"].CategoryID)
}
