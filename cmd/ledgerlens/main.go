package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jask/ledgerlens/internal/config"
	"github.com/jask/ledgerlens/internal/database"
	"github.com/jask/ledgerlens/internal/database/repository"
	"github.com/jask/ledgerlens/internal/engine"
	"github.com/jask/ledgerlens/internal/llm"
	"github.com/jask/ledgerlens/internal/logger"
	"github.com/jask/ledgerlens/internal/prefs"
	"github.com/jask/ledgerlens/internal/progress"
	"github.com/jask/ledgerlens/internal/secrets"
	"github.com/jask/ledgerlens/internal/testdata"
	"github.com/jask/ledgerlens/internal/tui"
)

const usage = `ledgerlens <command> [flags]

commands:
  init        write the active config and default refinement rules to disk
  seed        generate sample merchants and transactions
  categorize  run the categorization cascade
  refine      apply context refinement rules
  recurring   detect recurring obligations
  spending    detect habitual variable spending
  transfers   identify internal transfer pairs
  merge       find and apply merchant merges
  set-key     store a provider API key
  delete-key  remove a stored provider API key
`

type app struct {
	cfg          config.Config
	transactions *repository.TransactionRepo
	merchants    *repository.MerchantRepo
	categories   *repository.CategoryRepo
	patterns     *repository.PatternRepo
	progress     *progress.Store
	engine       *engine.Engine
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]

	cfg, err := config.Load()
	if err != nil {
		fatal("config: %v", err)
	}
	log := logger.New(cfg.Log.Level)
	ctx := logger.WithContext(context.Background(), log)

	// commands that do not need the database
	switch command {
	case "init":
		if err := config.Save(cfg); err != nil {
			fatal("write config: %v", err)
		}
		if err := prefs.SaveRules(engine.DefaultRefineRules()); err != nil {
			fatal("write rules: %v", err)
		}
		return
	case "set-key":
		if len(args) != 2 {
			fatal("usage: ledgerlens set-key <provider> <key>")
		}
		if err := secrets.StoreProviderKey(args[0], args[1]); err != nil {
			fatal("store key: %v", err)
		}
		return
	case "delete-key":
		if len(args) != 1 {
			fatal("usage: ledgerlens delete-key <provider>")
		}
		if err := secrets.DeleteProviderKey(args[0]); err != nil {
			fatal("delete key: %v", err)
		}
		return
	}

	a, cleanup, err := buildApp(ctx, cfg)
	if err != nil {
		fatal("%v", err)
	}
	defer cleanup()

	if err := a.run(ctx, command, args); err != nil {
		fatal("%s: %v", command, err)
	}
}

func buildApp(ctx context.Context, cfg config.Config) (*app, func(), error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	if err := database.RunMigrations(cfg.Database.Path, "internal/database/migrations"); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := repository.SeedDefaults(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("seed defaults: %w", err)
	}

	a := &app{
		cfg:          cfg,
		transactions: repository.NewTransactionRepo(db),
		merchants:    repository.NewMerchantRepo(db),
		categories:   repository.NewCategoryRepo(db),
		patterns:     repository.NewPatternRepo(db),
		progress:     progress.NewStore(),
	}

	classifier, embedder := buildProviders(cfg)
	eng, err := engine.New(a.transactions, a.merchants, a.categories, a.patterns,
		a.progress, classifier, embedder, cfg.Engine)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	if rules, err := prefs.LoadRules(); err == nil && len(rules) > 0 {
		eng.Rules = rules
	}
	a.engine = eng
	return a, func() { db.Close() }, nil
}

func buildProviders(cfg config.Config) (llm.Classifier, llm.Embedder) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return llm.NewHeuristicClassifier(), nil
	}
	gemini := llm.NewGeminiProvider(apiKey, cfg.LLM.Model, cfg.LLM.EmbeddingModel)
	return gemini, gemini
}

func resolveAPIKey(cfg config.Config) string {
	env := strings.TrimSpace(cfg.LLM.APIKeyEnv)
	if env == "" {
		env = "GEMINI_API_KEY"
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	if k, err := secrets.FetchProviderKey(cfg.LLM.Provider); err == nil {
		return k
	}
	return strings.TrimSpace(cfg.LLM.APIKey)
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "seed":
		return a.seed(ctx, args)
	case "categorize":
		return a.categorize(ctx, args)
	case "refine":
		return a.refine(ctx, args)
	case "recurring":
		return a.recurring(ctx, args)
	case "spending":
		return a.spending(ctx, args)
	case "transfers":
		return a.transfers(ctx, args)
	case "merge":
		return a.merge(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) seed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	user := fs.String("user", "default", "user id")
	seed := fs.Int64("seed", time.Now().UnixNano(), "random seed")
	fs.Parse(args)

	return testdata.Seed(ctx, testdata.Repos{
		Merchants:    a.merchants,
		Transactions: a.transactions,
	}, *user, *seed)
}

func (a *app) categorize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("categorize", flag.ExitOnError)
	user := fs.String("user", "default", "user id")
	all := fs.Bool("all", false, "re-check already categorized transactions")
	withView := fs.Bool("tui", false, "show live progress view")
	fs.Parse(args)

	opts := engine.Options{SkipCategorized: !*all}
	if !*withView {
		summary, err := a.engine.RunCategorization(ctx, *user, opts)
		if err != nil {
			return err
		}
		printSummary(summary)
		return nil
	}

	type outcome struct {
		summary engine.Summary
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		s, err := a.engine.RunCategorization(ctx, *user, opts)
		done <- outcome{s, err}
	}()
	if err := tui.NewProgressView(a.progress, *user).Run(); err != nil {
		return err
	}
	result := <-done
	if result.err != nil {
		return result.err
	}
	printSummary(result.summary)
	return nil
}

func printSummary(s engine.Summary) {
	fmt.Printf("resolved %d of %d in %d passes\n", s.Resolved, s.Total, s.Iterations)
	for name, count := range s.ByStrategy {
		fmt.Printf("  %-22s %d\n", name, count)
	}
	if len(s.LearnedKeywords) > 0 {
		fmt.Printf("learned keywords: %s\n", strings.Join(s.LearnedKeywords, ", "))
	}
	for _, w := range s.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	if s.StoppedEarly {
		fmt.Println("stopped early")
	}
}

func (a *app) refine(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("refine", flag.ExitOnError)
	user := fs.String("user", "default", "user id")
	dryRun := fs.Bool("dry-run", false, "compute changes without applying")
	fs.Parse(args)

	changes, err := a.engine.RefineContext(ctx, *user, engine.RefineOptions{DryRun: *dryRun})
	if err != nil {
		return err
	}
	for _, c := range changes.Changes {
		fmt.Printf("%s: %s -> %s (%s)\n", c.TransactionID, c.FromCategory, c.ToCategory, c.Rule)
	}
	if changes.DryRun {
		fmt.Printf("dry run: %d changes not applied\n", len(changes.Changes))
	} else {
		fmt.Printf("%d changes applied\n", len(changes.Changes))
	}
	return nil
}

func (a *app) recurring(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("recurring", flag.ExitOnError)
	user := fs.String("user", "default", "user id")
	apply := fs.Bool("apply", false, "persist detected patterns")
	exclude := fs.String("exclude-merchant", "", "opt a merchant out of detection first")
	include := fs.String("include-merchant", "", "clear a merchant's detection opt-out first")
	fs.Parse(args)

	if *exclude != "" {
		if err := a.merchants.SetExcludeRecurring(ctx, *exclude, true); err != nil {
			return err
		}
	}
	if *include != "" {
		if err := a.merchants.SetExcludeRecurring(ctx, *include, false); err != nil {
			return err
		}
	}

	candidates, err := a.engine.DetectRecurring(ctx, *user)
	if err != nil {
		return err
	}
	for _, c := range candidates {
		fmt.Printf("%-30s %-12s %8s  conf %.2f  next %s  (%d txs, %s)\n",
			c.Name, c.Interval, formatCents(c.AmountCents), c.Confidence,
			c.NextExpectedDate.Format("2006-01-02"), len(c.TransactionIDs), c.Source)
	}
	if *apply {
		if err := a.engine.AcceptRecurring(ctx, *user, candidates); err != nil {
			return err
		}
		fmt.Printf("%d patterns stored\n", len(candidates))
	}
	return nil
}

func (a *app) spending(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("spending", flag.ExitOnError)
	user := fs.String("user", "default", "user id")
	apply := fs.Bool("apply", false, "persist computed patterns")
	fs.Parse(args)

	patterns, err := a.engine.DetectVariableSpending(ctx, *user)
	if err != nil {
		return err
	}
	names := a.categoryNames(ctx)
	for _, p := range patterns {
		fmt.Printf("%-24s %8s/month  %.1f visits/month  %d merchants  top: %s\n",
			names[p.CategoryID], formatCents(p.MonthlyAverage), p.VisitsPerMonth,
			p.MerchantCount, strings.Join(p.TopMerchants, ", "))
	}
	if *apply {
		for _, p := range patterns {
			if err := a.patterns.UpsertSpending(ctx, p); err != nil {
				return err
			}
		}
		fmt.Printf("%d patterns stored\n", len(patterns))
	}
	return nil
}

func (a *app) transfers(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("transfers", flag.ExitOnError)
	user := fs.String("user", "default", "user id")
	window := fs.Int("window", a.cfg.Engine.TransferWindowDays, "pairing window in days")
	fs.Parse(args)

	txs, err := a.transactions.List(ctx, repository.TransactionFilters{UserID: *user})
	if err != nil {
		return err
	}
	matched := engine.IdentifyInternalTransfers(txs, *window)
	for _, tx := range txs {
		if matched[tx.ID] {
			fmt.Printf("%s  %s  %8s  %s\n", tx.ID, tx.Date.Format("2006-01-02"),
				formatCents(tx.AmountCents), tx.RawDescription)
		}
	}
	fmt.Printf("%d transactions in transfer pairs\n", len(matched))
	return nil
}

func (a *app) merge(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	user := fs.String("user", "default", "user id")
	threshold := fs.Float64("threshold", a.cfg.Engine.MergeThreshold, "similarity threshold")
	apply := fs.Bool("apply", false, "apply suggested merges")
	fs.Parse(args)

	pairs, err := a.engine.FindMergeCandidates(ctx, *user, *threshold)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		fmt.Printf("%.2f  %q -> %q\n", p.Similarity, p.SourceName, p.TargetName)
	}
	if !*apply {
		return nil
	}
	results, err := a.engine.MergeMerchants(ctx, pairs)
	if err != nil {
		return err
	}
	merged := 0
	for _, r := range results {
		if r.Merged {
			merged++
		}
	}
	fmt.Printf("%d of %d pairs merged\n", merged, len(results))
	return nil
}

func (a *app) categoryNames(ctx context.Context) map[string]string {
	out := map[string]string{}
	cats, err := a.categories.List(ctx)
	if err != nil {
		return out
	}
	for _, c := range cats {
		out[c.ID] = c.Name
	}
	return out
}

func formatCents(v int64) string {
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
