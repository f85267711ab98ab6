// cmd/replenish/main.go
//
// replenish is the operational CLI: schema migration, one-off sales
// export loads and seeding of supplier constraints, stock snapshots and
// exogenous factors.
package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/cafeops/replenish/internal/config"
	"github.com/cafeops/replenish/internal/exogenous"
	"github.com/cafeops/replenish/internal/feedback"
	"github.com/cafeops/replenish/internal/forecast"
	"github.com/cafeops/replenish/internal/history"
	"github.com/cafeops/replenish/internal/ingest"
	"github.com/cafeops/replenish/internal/repository/postgres"
	"github.com/cafeops/replenish/internal/storage"
)

func newDBURLFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "db-url",
		Usage:    "Database connection string",
		Required: true,
		EnvVars:  []string{"DATABASE_URL"},
	}
}

func newFileFlag(usage string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "file",
		Usage:    usage,
		Required: true,
	}
}

func openDB(c *cli.Context) (*sql.DB, error) {
	db, err := sql.Open("pgx", c.String("db-url"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS consumption_records (
	item_id           TEXT NOT NULL,
	date              DATE NOT NULL,
	quantity_consumed DOUBLE PRECISION NOT NULL,
	revenue           NUMERIC(14,2) NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (item_id, date)
);

CREATE TABLE IF NOT EXISTS supplier_constraints (
	supplier_id     TEXT NOT NULL,
	item_id         TEXT NOT NULL,
	pack_size       DOUBLE PRECISION NOT NULL,
	min_order_qty   DOUBLE PRECISION NOT NULL DEFAULT 0,
	lead_time_days  INTEGER NOT NULL,
	min_order_value NUMERIC(14,2) NOT NULL DEFAULT 0,
	unit_cost       NUMERIC(14,2) NOT NULL DEFAULT 0,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (supplier_id, item_id)
);

CREATE TABLE IF NOT EXISTS stock_snapshots (
	item_id          TEXT NOT NULL,
	current_quantity DOUBLE PRECISION NOT NULL,
	as_of_timestamp  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (item_id, as_of_timestamp)
);

CREATE TABLE IF NOT EXISTS exogenous_factors (
	id                BIGSERIAL PRIMARY KEY,
	item_id           TEXT NOT NULL DEFAULT '',
	kind              TEXT NOT NULL,
	start_date        DATE NOT NULL,
	end_date          DATE NOT NULL,
	multiplier        DOUBLE PRECISION NOT NULL,
	source_confidence DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS forecast_audit (
	id             BIGSERIAL PRIMARY KEY,
	item_id        TEXT NOT NULL,
	horizon_days   INTEGER NOT NULL,
	generated_at   TIMESTAMPTZ NOT NULL,
	point_estimate DOUBLE PRECISION NOT NULL,
	lower_bound    DOUBLE PRECISION NOT NULL,
	upper_bound    DOUBLE PRECISION NOT NULL,
	daily_rate     DOUBLE PRECISION NOT NULL,
	residual_std   DOUBLE PRECISION NOT NULL,
	confidence     DOUBLE PRECISION NOT NULL,
	is_fallback    BOOLEAN NOT NULL,
	degraded_model BOOLEAN NOT NULL,
	model_kind     TEXT NOT NULL,
	model_version  BIGINT NOT NULL,
	reconciled_at  TIMESTAMPTZ,
	abs_pct_error  DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_forecast_audit_pending
	ON forecast_audit (item_id, generated_at)
	WHERE reconciled_at IS NULL;

CREATE TABLE IF NOT EXISTS item_accuracy (
	item_id       TEXT PRIMARY KEY,
	rolling_mape  DOUBLE PRECISION NOT NULL,
	sample_count  INTEGER NOT NULL,
	last_error    DOUBLE PRECISION NOT NULL,
	model_stale   BOOLEAN NOT NULL,
	reconciled_at TIMESTAMPTZ NOT NULL
);
`

func runMigrate(c *cli.Context) error {
	db, err := openDB(c)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(context.Background(), schemaDDL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Println("Schema applied")
	return nil
}

func runIngest(c *cli.Context) error {
	paths, cleanup, err := collectIngestFiles(c)
	if err != nil {
		return err
	}
	defer cleanup()
	if len(paths) == 0 {
		log.Println("No sales exports found")
		return nil
	}

	db, err := openDB(c)
	if err != nil {
		return err
	}
	defer db.Close()

	total := 0
	for _, path := range paths {
		n, err := ingestFile(db, path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		total += n
	}
	log.Printf("Ingested %d daily rows from %d file(s)\n", total, len(paths))
	return nil
}

// collectIngestFiles resolves the --file / --dir / --remote sources to
// local CSV paths. Remote objects are downloaded to a temp directory
// which the returned cleanup removes.
func collectIngestFiles(c *cli.Context) ([]string, func(), error) {
	noop := func() {}

	if c.Bool("remote") {
		cfg := config.Load()
		store, err := storage.NewMinioClient(cfg.Storage)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create storage client: %w", err)
		}
		ctx := context.Background()
		objects, err := store.ListObjects(ctx, c.String("prefix"))
		if err != nil {
			return nil, noop, err
		}
		tmpDir, err := os.MkdirTemp("", "replenish-ingest-")
		if err != nil {
			return nil, noop, err
		}
		cleanup := func() { os.RemoveAll(tmpDir) }
		paths := make([]string, 0, len(objects))
		for _, obj := range objects {
			if !strings.HasSuffix(strings.ToLower(obj.Key), ".csv") {
				continue
			}
			dest := filepath.Join(tmpDir, filepath.Base(obj.Key))
			if err := store.DownloadObject(ctx, obj.Key, dest); err != nil {
				cleanup()
				return nil, noop, err
			}
			paths = append(paths, dest)
		}
		return paths, cleanup, nil
	}

	if dir := c.String("dir"); dir != "" {
		paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
		if err != nil {
			return nil, noop, err
		}
		return paths, noop, nil
	}

	if file := c.String("file"); file != "" {
		return []string{file}, noop, nil
	}
	return nil, noop, fmt.Errorf("one of --file, --dir or --remote is required")
}

func ingestFile(db *sql.DB, path string) (int, error) {
	records, err := ingest.ParseSalesCSV(path)
	if err != nil {
		return 0, fmt.Errorf("failed to parse sales export: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO consumption_records (item_id, date, quantity_consumed, revenue, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (item_id, date)
		DO UPDATE SET
			quantity_consumed = consumption_records.quantity_consumed + EXCLUDED.quantity_consumed,
			revenue = consumption_records.revenue + EXCLUDED.revenue
	`
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, query, rec.ItemID, rec.Date, rec.QuantityConsumed, rec.Revenue); err != nil {
			return 0, fmt.Errorf("failed to insert consumption for %s: %w", rec.ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return len(records), nil
}

// runReconcile builds the same accuracy stack the server runs on its
// schedule, reading connection and engine settings from the environment
// rather than --db-url.
func runReconcile(c *cli.Context) error {
	cfg := config.Load()

	db, err := postgres.NewDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	consumptionRepo := postgres.NewConsumptionRepository(db)
	factorRepo := postgres.NewFactorRepository(db)
	auditRepo := postgres.NewForecastAuditRepository(db)

	aggregator := history.NewAggregator(consumptionRepo, cfg.Engine.MinHistoryDays)
	adjuster := exogenous.NewAdjuster(factorRepo)
	models := forecast.NewManager(aggregator, adjuster, auditRepo, forecast.Config{
		TrainingWindowDays: cfg.Engine.TrainingWindowDays,
		MinHistoryDays:     cfg.Engine.MinHistoryDays,
		MaxModelAge:        cfg.Engine.MaxModelAge,
		BoundsZ:            cfg.Engine.ServiceLevelZ,
		Trees:              cfg.Engine.EnsembleTrees,
		MaxDepth:           cfg.Engine.EnsembleMaxDepth,
	})
	reconciler := feedback.NewReconciler(auditRepo, consumptionRepo, models, feedback.Config{
		MAPEThreshold: cfg.Engine.MAPEThreshold,
		Window:        cfg.Engine.ReconcileWindow,
	})

	ctx := context.Background()
	if item := c.String("item"); item != "" {
		acc, err := reconciler.Reconcile(ctx, item)
		if err != nil {
			return fmt.Errorf("failed to reconcile %s: %w", item, err)
		}
		if acc == nil {
			log.Printf("No elapsed forecasts for %s\n", item)
			return nil
		}
		log.Printf("Reconciled %s: rolling MAPE %.3f over %d sample(s), model stale=%v\n",
			acc.ItemID, acc.RollingMAPE, acc.SampleCount, acc.ModelStale)
		return nil
	}

	if err := reconciler.ReconcileAll(ctx, c.Duration("lookback")); err != nil {
		return fmt.Errorf("reconciliation sweep failed: %w", err)
	}
	log.Println("Reconciliation sweep complete")
	return nil
}

func runSeedSuppliers(c *cli.Context) error {
	db, err := openDB(c)
	if err != nil {
		return err
	}
	defer db.Close()

	query := `
		INSERT INTO supplier_constraints (supplier_id, item_id, pack_size, min_order_qty, lead_time_days, min_order_value, unit_cost, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (supplier_id, item_id)
		DO UPDATE SET
			pack_size = EXCLUDED.pack_size,
			min_order_qty = EXCLUDED.min_order_qty,
			lead_time_days = EXCLUDED.lead_time_days,
			min_order_value = EXCLUDED.min_order_value,
			unit_cost = EXCLUDED.unit_cost,
			updated_at = NOW()
	`
	return seedFromCSV(c, db, query, []string{"supplier_id", "item_id", "pack_size", "min_order_qty", "lead_time_days", "min_order_value", "unit_cost"},
		func(get func(string) string) ([]interface{}, error) {
			packSize, err := strconv.ParseFloat(get("pack_size"), 64)
			if err != nil || packSize <= 0 {
				return nil, fmt.Errorf("invalid pack_size %q", get("pack_size"))
			}
			leadTime, err := strconv.Atoi(get("lead_time_days"))
			if err != nil {
				return nil, fmt.Errorf("invalid lead_time_days %q", get("lead_time_days"))
			}
			minQty, _ := strconv.ParseFloat(get("min_order_qty"), 64)
			return []interface{}{
				get("supplier_id"), get("item_id"), packSize, minQty, leadTime,
				zeroIfEmpty(get("min_order_value")), zeroIfEmpty(get("unit_cost")),
			}, nil
		})
}

func runSeedStock(c *cli.Context) error {
	db, err := openDB(c)
	if err != nil {
		return err
	}
	defer db.Close()

	query := `
		INSERT INTO stock_snapshots (item_id, current_quantity, as_of_timestamp)
		VALUES ($1, $2, $3)
		ON CONFLICT (item_id, as_of_timestamp) DO NOTHING
	`
	return seedFromCSV(c, db, query, []string{"item_id", "current_quantity", "as_of"},
		func(get func(string) string) ([]interface{}, error) {
			qty, err := strconv.ParseFloat(get("current_quantity"), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid current_quantity %q", get("current_quantity"))
			}
			asOf, err := time.Parse(time.RFC3339, get("as_of"))
			if err != nil {
				return nil, fmt.Errorf("invalid as_of %q", get("as_of"))
			}
			return []interface{}{get("item_id"), qty, asOf}, nil
		})
}

func runSeedFactors(c *cli.Context) error {
	db, err := openDB(c)
	if err != nil {
		return err
	}
	defer db.Close()

	query := `
		INSERT INTO exogenous_factors (item_id, kind, start_date, end_date, multiplier, source_confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	return seedFromCSV(c, db, query, []string{"item_id", "kind", "start_date", "end_date", "multiplier", "source_confidence"},
		func(get func(string) string) ([]interface{}, error) {
			start, err := time.Parse("2006-01-02", get("start_date"))
			if err != nil {
				return nil, fmt.Errorf("invalid start_date %q", get("start_date"))
			}
			end, err := time.Parse("2006-01-02", get("end_date"))
			if err != nil {
				return nil, fmt.Errorf("invalid end_date %q", get("end_date"))
			}
			mult, err := strconv.ParseFloat(get("multiplier"), 64)
			if err != nil || mult <= 0 {
				return nil, fmt.Errorf("invalid multiplier %q", get("multiplier"))
			}
			conf, err := strconv.ParseFloat(get("source_confidence"), 64)
			if err != nil || conf < 0 || conf > 1 {
				return nil, fmt.Errorf("invalid source_confidence %q", get("source_confidence"))
			}
			return []interface{}{get("item_id"), get("kind"), start, end, mult, conf}, nil
		})
}

// seedFromCSV streams a header-keyed CSV into a single upsert statement,
// one transaction for the whole file.
func seedFromCSV(c *cli.Context, db *sql.DB, query string, columns []string, parse func(get func(string) string) ([]interface{}, error)) error {
	file, err := os.Open(c.String("file"))
	if err != nil {
		return err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range columns {
		if _, ok := index[col]; !ok {
			return fmt.Errorf("missing required column %q", col)
		}
	}

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows := 0
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed reading line %d: %w", line, err)
		}
		line++

		get := func(col string) string {
			idx := index[col]
			if idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}

		args, err := parse(get)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("line %d: insert failed: %w", line, err)
		}
		rows++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	log.Printf("Seeded %d rows\n", rows)
	return nil
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("warning: could not load .env file: %v", err)
	}

	app := &cli.App{
		Name:  "replenish",
		Usage: "Operational tooling for the replenishment engine",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Create or update the database schema",
				Flags:  []cli.Flag{newDBURLFlag()},
				Action: runMigrate,
			},
			{
				Name:  "ingest",
				Usage: "Load sales export CSVs into daily consumption rows",
				Flags: []cli.Flag{
					newDBURLFlag(),
					&cli.StringFlag{Name: "file", Usage: "Sales export CSV path"},
					&cli.StringFlag{Name: "dir", Usage: "Directory of sales export CSVs"},
					&cli.BoolFlag{Name: "remote", Usage: "Pull exports from object storage"},
					&cli.StringFlag{Name: "prefix", Usage: "Object key prefix for --remote", Value: "sales_exports/"},
				},
				Action: runIngest,
			},
			{
				Name:  "reconcile",
				Usage: "Run an accuracy reconciliation pass (env-configured, like the server)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "item", Usage: "Reconcile a single item instead of sweeping"},
					&cli.DurationFlag{Name: "lookback", Usage: "How far back the sweep scans for pending forecasts", Value: 720 * time.Hour},
				},
				Action: runReconcile,
			},
			{
				Name:   "seed-suppliers",
				Usage:  "Upsert supplier constraints from CSV",
				Flags:  []cli.Flag{newDBURLFlag(), newFileFlag("Supplier constraints CSV path")},
				Action: runSeedSuppliers,
			},
			{
				Name:   "seed-stock",
				Usage:  "Load stock snapshots from CSV",
				Flags:  []cli.Flag{newDBURLFlag(), newFileFlag("Stock snapshots CSV path")},
				Action: runSeedStock,
			},
			{
				Name:   "seed-factors",
				Usage:  "Load exogenous demand factors from CSV",
				Flags:  []cli.Flag{newDBURLFlag(), newFileFlag("Exogenous factors CSV path")},
				Action: runSeedFactors,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
