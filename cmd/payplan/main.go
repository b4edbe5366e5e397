package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	flag "github.com/spf13/pflag"

	"github.com/bitfsorg/libpayplan-go/api"
	"github.com/bitfsorg/libpayplan-go/batch"
	"github.com/bitfsorg/libpayplan-go/config"
	"github.com/bitfsorg/libpayplan-go/engine"
	"github.com/bitfsorg/libpayplan-go/ledger"
	"github.com/bitfsorg/libpayplan-go/logger"
	"github.com/bitfsorg/libpayplan-go/metrics"
	"github.com/bitfsorg/libpayplan-go/mongoledger"
	"github.com/bitfsorg/libpayplan-go/payout"
	"github.com/bitfsorg/libpayplan-go/plan"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const usage = `Usage: payplan [global flags] <command> [flags]

Commands:
  serve                       run the HTTP admin API
  roi     [--day YYYY-MM-DD]  run the daily ROI batch
  rank    [--day YYYY-MM-DD]  promote ranks and pay the daily rank bonus
  binary  [--percent P]       run the binary matching batch
  global  [--override T] [--pool TIER=P ...]
                              run the global bonus distribution
  team                        recompute team investment and direct counts
  credit  --user U --amount A --type T [--remark R]
                              send a manual credit
  plan    show | init | load <file>
                              inspect or replace the compensation plan
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dataDirFlag := flag.String("datadir", "", "data directory (or set PAYPLAN_DATADIR env var)")
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fmt.Fprintln(os.Stderr, "\nGlobal flags:")
		flag.PrintDefaults()
	}
	flag.CommandLine.SetInterspersed(false)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return errors.New("missing command")
	}

	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg, err := loadConfig(*dataDirFlag)
	if err != nil {
		return err
	}
	if *verboseFlag {
		cfg.LogLevel = "debug"
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log := logger.NewWithLevel(os.Stdout, level)
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args[0] == "plan" && len(args) > 1 && args[1] == "init" {
		return planInit(cfg, args[2:])
	}

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	lock, closeLock, err := openLock(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLock()

	eng, err := engine.New(engine.Config{
		Store:   store,
		Logger:  log,
		Workers: cfg.Workers,
		Lock:    lock,
	})
	if err != nil {
		return err
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "serve":
		return serve(ctx, eng, cfg, log)
	case "roi", "rank":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		day := fs.String("day", "", "business day (YYYY-MM-DD), defaults to today in UTC")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		fn := eng.RunDailyROI
		if cmd == "rank" {
			fn = eng.RunRank
		}
		return printSummary(fn(ctx, *day))
	case "binary":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		pct := fs.String("percent", "", "match percentage, defaults to the plan's binary percent")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		p, err := parseDecimal("percent", *pct)
		if err != nil {
			return err
		}
		return printSummary(eng.RunBinary(ctx, p))
	case "global":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		override := fs.String("override", "", "distribute this total instead of new sales")
		pools := fs.StringSlice("pool", nil, "override a tier's pool percentage as TIER=PERCENT (repeatable)")
		preview := fs.Bool("preview", false, "print the distribution without paying it")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		opts, err := globalOptions(*override, *pools)
		if err != nil {
			return err
		}
		if *preview {
			pv, err := eng.PreviewGlobal(ctx, opts)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, pv)
		}
		return printSummary(eng.RunGlobalBonus(ctx, opts))
	case "team":
		return printSummary(eng.RunTeamRecalc(ctx))
	case "credit":
		return manualCredit(ctx, eng, rest)
	case "plan":
		return planCmd(ctx, eng, rest)
	}
	flag.Usage()
	return fmt.Errorf("unknown command %q", cmd)
}

// loadConfig reads the config file from the data directory, falling back to
// defaults when it does not exist, then applies environment overrides.
func loadConfig(dataDir string) (config.Config, error) {
	if dataDir == "" {
		dataDir = os.Getenv("PAYPLAN_DATADIR")
	}
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	cfg, err := config.LoadConfig(config.ConfigPath(dataDir))
	if errors.Is(err, config.ErrConfigNotFound) {
		cfg = config.DefaultConfig()
	} else if err != nil {
		return cfg, err
	}
	cfg.DataDir = dataDir
	if err := config.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (ledger.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("using in-memory ledger, nothing will be persisted")
		return ledger.NewMemStore(), func() {}, nil
	case config.StoreMongo:
		s, err := mongoledger.Open(ctx, mongoledger.Config{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDB,
			Logger:   log,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Close(closeCtx); err != nil {
				log.Warn("failed to close mongo ledger", "error", err)
			}
		}, nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := ledger.OpenBoltStore(config.BoltPath(cfg.DataDir))
	if err != nil {
		return nil, nil, err
	}
	log.Debug("opened bolt ledger", "path", config.BoltPath(cfg.DataDir))
	return s, func() {
		if err := s.Close(); err != nil {
			log.Warn("failed to close bolt ledger", "error", err)
		}
	}, nil
}

// openLock returns a Redis run lock when a Redis address is configured, so
// that batch runs are exclusive across processes. Without Redis the engine
// falls back to an in-process lock.
func openLock(ctx context.Context, cfg config.Config, log *slog.Logger) (batch.RunLock, func(), error) {
	if cfg.RedisAddr == "" {
		return nil, func() {}, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: strings.Split(cfg.RedisAddr, ","),
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	log.Info("using redis run lock", "addr", cfg.RedisAddr)
	return batch.NewRedisLock(client, batch.DefaultLockTTL), func() { _ = client.Close() }, nil
}

func serve(ctx context.Context, eng *engine.Engine, cfg config.Config, log *slog.Logger) error {
	srv := api.New(eng, log)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.ListenAddr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func manualCredit(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("credit", flag.ContinueOnError)
	user := fs.String("user", "", "member username")
	amount := fs.String("amount", "", "amount to credit")
	typ := fs.String("type", "", "income type (sponsor, generation, roi, binary, rank, global, gift)")
	remark := fs.String("remark", "", "statement remark")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *amount == "" || *typ == "" {
		return errors.New("--user, --amount and --type are required")
	}
	amt, err := parseDecimal("amount", *amount)
	if err != nil {
		return err
	}
	t, err := plan.ParseIncomeType(*typ)
	if err != nil {
		return err
	}
	res, err := eng.SendManualCredit(ctx, *user, amt, t, *remark)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, res)
}

func planCmd(ctx context.Context, eng *engine.Engine, args []string) error {
	if len(args) == 0 {
		return errors.New("plan: expected show, init or load")
	}
	switch args[0] {
	case "show":
		p, err := eng.Plan(ctx)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, p)
	case "load":
		if len(args) < 2 {
			return errors.New("plan load: missing file")
		}
		p, err := plan.LoadFile(args[1])
		if err != nil {
			return err
		}
		saved, err := eng.SavePlan(ctx, p)
		if err != nil {
			return err
		}
		fmt.Printf("plan saved (version %d)\n", saved.Version)
		return nil
	}
	return fmt.Errorf("plan: unknown subcommand %q", args[0])
}

// planInit writes the default plan to a file for editing.
func planInit(cfg config.Config, args []string) error {
	path := config.PlanPath(cfg.DataDir)
	if len(args) > 0 {
		path = args[0]
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := plan.SaveFile(path, plan.Default()); err != nil {
		return err
	}
	fmt.Printf("default plan written to %s\n", path)
	return nil
}

func globalOptions(override string, pools []string) (payout.GlobalOptions, error) {
	var opts payout.GlobalOptions
	var err error
	if opts.OverrideTotal, err = parseDecimal("override", override); err != nil {
		return opts, err
	}
	for _, kv := range pools {
		name, pct, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return opts, fmt.Errorf("invalid --pool %q, expected TIER=PERCENT", kv)
		}
		d, err := parseDecimal("pool", pct)
		if err != nil {
			return opts, err
		}
		if opts.PoolPercents == nil {
			opts.PoolPercents = make(map[string]decimal.Decimal)
		}
		opts.PoolPercents[strings.TrimSpace(name)] = d
	}
	return opts, nil
}

func parseDecimal(name, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return d, fmt.Errorf("invalid --%s %q: %w", name, s, err)
	}
	if d.IsNegative() {
		return d, fmt.Errorf("invalid --%s %q: must not be negative", name, s)
	}
	return d, nil
}

func printSummary(s *batch.Summary, err error) error {
	if s != nil {
		if perr := printJSON(os.Stdout, s); perr != nil {
			return perr
		}
	}
	return err
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
