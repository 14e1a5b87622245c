// Package testdata seeds a database with synthetic transactions that exercise
// every analysis path: recurring obligations on real cadences, habitual
// variable spending, internal transfer pairs and unresolvable noise.
package testdata

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/jask/ledgerlens/internal/database/repository"
)

// Repos bundles the repositories Seed writes through.
type Repos struct {
	Merchants    *repository.MerchantRepo
	Transactions *repository.TransactionRepo
}

// Seed creates sample merchants and six months of transactions for userID.
// The same seed value reproduces the same data set.
func Seed(ctx context.Context, repos Repos, userID string, seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	now := time.Now().UTC().Truncate(24 * time.Hour)
	start := now.AddDate(0, -6, 0)

	merchants := []repository.Merchant{
		{ID: uuid.NewString(), UserID: userID, Name: "Netflix", Keywords: []string{"netflix"}, Active: true},
		{ID: uuid.NewString(), UserID: userID, Name: "Spotify", Keywords: []string{"spotify"}, Active: true},
		{ID: uuid.NewString(), UserID: userID, Name: "Acme Payroll", Keywords: []string{"acme"}, Active: true},
		{ID: uuid.NewString(), UserID: userID, Name: "Corner Coffee", Keywords: []string{"coffee"}, Active: true},
		{ID: uuid.NewString(), UserID: userID, Name: "Tesco Stores", Keywords: []string{"tesco"}, Active: true},
		// near-duplicate for merge testing
		{ID: uuid.NewString(), UserID: userID, Name: "Tesco Stores Ltd", Active: true},
	}
	for _, m := range merchants {
		if err := repos.Merchants.Upsert(ctx, m); err != nil {
			return fmt.Errorf("seed merchant %s: %w", m.Name, err)
		}
	}
	netflix, spotify, payroll, coffee, tesco := merchants[0], merchants[1], merchants[2], merchants[3], merchants[4]

	insert := func(tx repository.Transaction) error {
		tx.ID = uuid.NewString()
		tx.UserID = userID
		return repos.Transactions.Insert(ctx, tx)
	}

	// Monthly subscriptions and salary, with a day or two of jitter.
	for month := 0; month < 6; month++ {
		base := start.AddDate(0, month, 0)
		jitter := func() time.Time { return base.AddDate(0, 0, rng.Intn(3)-1) }
		rows := []repository.Transaction{
			{Date: jitter(), AmountCents: -1599, RawDescription: "NETFLIX.COM 866-579-7172", RawMerchant: strptr("NETFLIX.COM"), MerchantID: &netflix.ID},
			{Date: jitter(), AmountCents: -1199, RawDescription: "SPOTIFY P2B4C8D1", RawMerchant: strptr("SPOTIFY"), MerchantID: &spotify.ID},
			{Date: jitter(), AmountCents: 285000, RawDescription: "ACME LTD SALARY", RawMerchant: strptr("ACME LTD"), MerchantID: &payroll.ID},
			{Date: jitter(), AmountCents: -95000, RawDescription: "STANDING ORDER RENT", CounterpartyAccount: strptr("GB29NWBK60161331926819")},
		}
		for _, tx := range rows {
			if err := insert(tx); err != nil {
				return err
			}
		}
	}

	// Habitual variable spending: coffee most weekdays, groceries weekly.
	for day := start; day.Before(now); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday && rng.Float64() < 0.7 {
			tx := repository.Transaction{
				Date:           day,
				AmountCents:    -int64(280 + rng.Intn(220)),
				RawDescription: fmt.Sprintf("CORNER COFFEE %02d:%02d CARD 1234", 7+rng.Intn(3), rng.Intn(60)),
				RawMerchant:    strptr("CORNER COFFEE"),
				MerchantID:     &coffee.ID,
			}
			if err := insert(tx); err != nil {
				return err
			}
		}
		if day.Weekday() == time.Saturday {
			tx := repository.Transaction{
				Date:           day,
				AmountCents:    -int64(3500 + rng.Intn(4500)),
				RawDescription: "TESCO STORES 2041",
				RawMerchant:    strptr("TESCO STORES"),
				MerchantID:     &tesco.ID,
			}
			if err := insert(tx); err != nil {
				return err
			}
		}
	}

	// Internal transfer pairs: current account to savings and back again.
	for month := 1; month < 6; month += 2 {
		day := start.AddDate(0, month, 4)
		out := repository.Transaction{Date: day, AmountCents: -50000, RawDescription: "TRANSFER TO SAVINGS"}
		in := repository.Transaction{Date: day.AddDate(0, 0, 1), AmountCents: 50000, RawDescription: "TRANSFER FROM CURRENT"}
		if err := insert(out); err != nil {
			return err
		}
		if err := insert(in); err != nil {
			return err
		}
	}

	// Noise the cascade cannot resolve without the classifier.
	for i := 0; i < 8; i++ {
		tx := repository.Transaction{
			Date:           start.AddDate(0, 0, rng.Intn(180)),
			AmountCents:    -int64(500 + rng.Intn(15000)),
			RawDescription: fmt.Sprintf("CARD PAYMENT REF %06d", rng.Intn(1000000)),
		}
		if err := insert(tx); err != nil {
			return err
		}
	}
	return nil
}

func strptr(s string) *string { return &s }
