package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanModelJSON(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare array", `[{"a":1}]`, `[{"a":1}]`},
		{"fenced", "```json\n[{\"a\":1}]\n```", `[{"a":1}]`},
		{"fenced no language", "```\n[1,2]\n```", `[1,2]`},
		{"preamble chatter", "Here are the results:\n[1,2]\nHope that helps!", `[1,2]`},
		{"whitespace", "  \n [1] \n ", `[1]`},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, cleanModelJSON(tc.in), tc.name)
	}
}

func TestHeuristicClassifierKnownBrands(t *testing.T) {
	t.Parallel()

	h := NewHeuristicClassifier()
	require.True(t, h.Available())

	categories := []string{"Groceries", "Transport", "Subscriptions", "Shopping", "Uncategorized"}
	results, err := h.ClassifyBatch(context.Background(), ClassifyRequest{
		Categories: categories,
		Transactions: []TransactionInput{
			{ID: "t1", Description: "TESCO STORES 2041"},
			{ID: "t2", Description: "UBER *TRIP HELP.UBER.COM"},
			{ID: "t3", Description: "NETFLIX.COM 866-579-7172"},
			{ID: "t4", Description: "TFL TRAVEL CH"},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	byID := map[string]ClassifyResult{}
	for _, r := range results {
		byID[r.TransactionID] = r
	}
	require.Equal(t, "Groceries", byID["t1"].Category)
	require.Equal(t, "Transport", byID["t2"].Category)
	require.Equal(t, "Subscriptions", byID["t3"].Category)
	require.Equal(t, "Transport", byID["t4"].Category)
	for _, r := range results {
		require.Greater(t, r.Confidence, 0.0)
		require.LessOrEqual(t, r.Confidence, 1.0)
	}
}

func TestHeuristicClassifierSkipsUnknown(t *testing.T) {
	t.Parallel()

	h := NewHeuristicClassifier()
	results, err := h.ClassifyBatch(context.Background(), ClassifyRequest{
		Categories:   []string{"Groceries", "Transport"},
		Transactions: []TransactionInput{{ID: "t1", Description: "ZZQX 000111"}},
	})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestBrandToken(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Tesco", brandToken("TESCO STORES 2041"))
	require.Equal(t, "Spotify", brandToken("123456 SPOTIFY UK"))
	require.Equal(t, "", brandToken("20410939 113355"))
}

func TestClamp01(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0.0, clamp01(-0.2))
	require.Equal(t, 1.0, clamp01(1.7))
	require.Equal(t, 0.45, clamp01(0.45))
}
