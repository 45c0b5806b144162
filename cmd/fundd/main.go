package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/openfund/accounting/internal/boundary"
	"github.com/openfund/accounting/internal/changelog"
	"github.com/openfund/accounting/internal/config"
	"github.com/openfund/accounting/internal/configstore"
	"github.com/openfund/accounting/internal/database"
	"github.com/openfund/accounting/internal/domain"
	"github.com/openfund/accounting/internal/export"
	"github.com/openfund/accounting/internal/fund"
	"github.com/openfund/accounting/internal/ledger"
	"github.com/openfund/accounting/internal/lock"
	"github.com/openfund/accounting/internal/nav"
	"github.com/openfund/accounting/internal/notify"
	"github.com/openfund/accounting/internal/price"
	"github.com/openfund/accounting/internal/trade"
	"github.com/openfund/accounting/internal/transfer"
	"github.com/openfund/accounting/internal/worker"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// services bundles everything the commands need.
type services struct {
	cfg       config.Config
	pool      *pgxpool.Pool
	store     *configstore.PgStore
	funds     *fund.PgRepository
	ledger    *ledger.Service
	transfers *transfer.Service
	navs      *nav.PgRepository
	engine    *nav.Service
	monitor   *boundary.Monitor
	importer  *price.ImportService
	reports   *export.ReportService
}

func setup(ctx context.Context, cfg config.Config) (*services, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	migrationsSub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("creating migrations sub-fs: %w", err)
	}
	if err := database.RunMigrations(ctx, pool, migrationsSub); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	store := configstore.NewPgStore(pool)
	audit := changelog.NewPgRecorder(pool)
	fundRepo := fund.NewPgRepository(pool)
	navRepo := nav.NewPgRepository(pool)
	transferRepo := transfer.NewPgRepository(pool)
	tradeRepo := trade.NewPgRepository(pool)
	listingRepo := price.NewPgListingRepository(pool)

	market := price.NewHTTPMarketDataClient(cfg.MarketDataURL, cfg.MarketDataSource,
		cfg.MarketDataRetryMax, cfg.MarketDataRetryBaseDelay, cfg.MarketDataCoinIDs)
	resolver := price.NewResolver(listingRepo, navRepo, market,
		cfg.PreferredPriceSource, domain.Crypto(cfg.BTCAssetID))

	ledgerSvc := ledger.NewService(ledger.NewPgRepository(pool), transferRepo, tradeRepo, resolver)
	transferSvc := transfer.NewService(transferRepo, ledgerSvc, fundRepo, audit)

	locker := lock.New(store, cfg.LockTimeout)
	engine := nav.NewService(fundRepo, ledgerSvc, transferRepo, tradeRepo, resolver,
		navRepo, locker, database.NewPgRunner(pool), audit, cfg.LockTimeout)

	sink := notify.NewPgSink(pool)
	monitor := boundary.NewMonitor(fundRepo, ledgerSvc, store, sink, cfg.NotifyRoles)

	tracked := make([]domain.AssetRef, 0, len(cfg.MarketDataCoinIDs))
	for id := range cfg.MarketDataCoinIDs {
		tracked = append(tracked, domain.Crypto(id))
	}
	importer := price.NewImportService(listingRepo, market, tracked)

	writer, err := reportWriter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating report writer: %w", err)
	}
	reports := export.NewReportService(fundRepo, navRepo, writer)

	return &services{
		cfg:       cfg,
		pool:      pool,
		store:     store,
		funds:     fundRepo,
		ledger:    ledgerSvc,
		transfers: transferSvc,
		navs:      navRepo,
		engine:    engine,
		monitor:   monitor,
		importer:  importer,
		reports:   reports,
	}, nil
}

func (s *services) close() {
	s.pool.Close()
}

// reportWriter picks the NAV report destination: a Google Sheets spreadsheet
// when one is configured, otherwise a local xlsx file.
func reportWriter(ctx context.Context, cfg config.Config) (export.ReportWriter, error) {
	if cfg.SheetsSpreadsheetID != "" {
		return export.NewSheetsWriter(ctx, cfg.SheetsSpreadsheetID, cfg.SheetsCredentialsJSON)
	}
	return export.NewXlsxWriter(cfg.ReportPath), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fundFlag := &cli.Int64Flag{Name: "fund", Usage: "fund id", Required: true}

	app := &cli.App{
		Name:  "fundd",
		Usage: "fund accounting engine",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the accounting, boundary and price-backfill workers",
				Action: func(c *cli.Context) error {
					return serve(c.Context)
				},
			},
			{
				Name:  "close-period",
				Usage: "close one fund's booking period",
				Flags: []cli.Flag{
					fundFlag,
					&cli.StringFlag{Name: "period", Usage: "booking period (YYYYMM)", Required: true},
					&cli.BoolFlag{Name: "force", Usage: "re-close an already closed period"},
				},
				Action: withServices(func(c *cli.Context, s *services) error {
					return s.engine.CloseBookingPeriod(c.Context, c.Int64("fund"), c.String("period"), c.Bool("force"))
				}),
			},
			{
				Name:  "rollback-period",
				Usage: "roll back the most recently closed booking period",
				Flags: []cli.Flag{fundFlag},
				Action: withServices(func(c *cli.Context, s *services) error {
					return s.engine.RollbackCloseBookingPeriod(c.Context, c.Int64("fund"))
				}),
			},
			{
				Name:  "daily-nav",
				Usage: "compute today's informational NAV",
				Flags: []cli.Flag{fundFlag},
				Action: withServices(func(c *cli.Context, s *services) error {
					return s.engine.CreateDailyNav(c.Context, c.Int64("fund"), time.Now().UTC())
				}),
			},
			{
				Name:  "recalc",
				Usage: "recompute holding percentages for a period",
				Flags: []cli.Flag{
					fundFlag,
					&cli.StringFlag{Name: "period", Usage: "booking period (YYYYMM)", Required: true},
				},
				Action: withServices(func(c *cli.Context, s *services) error {
					return s.ledger.RecalcPercentages(c.Context, c.Int64("fund"), c.String("period"))
				}),
			},
			{
				Name:  "delete-transfer",
				Usage: "delete a transfer and revert its balance effects",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "id", Usage: "transfer id", Required: true},
				},
				Action: withServices(func(c *cli.Context, s *services) error {
					return s.transfers.Delete(c.Context, c.Int64("id"))
				}),
			},
			{
				Name:  "export-report",
				Usage: "write the NAV history report",
				Action: withServices(func(c *cli.Context, s *services) error {
					return s.reports.Export(c.Context)
				}),
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// withServices wires the database-backed services around a one-shot command.
func withServices(action func(c *cli.Context, s *services) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		s, err := setup(c.Context, config.Load())
		if err != nil {
			return err
		}
		defer s.close()
		return action(c, s)
	}
}

func serve(ctx context.Context) error {
	cfg := config.Load()
	s, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.close()

	accounting := worker.NewAccountingWorker(s.engine, s.funds, s.store, cfg.AccountingInterval)
	go accounting.Run(ctx)

	boundaryWorker := worker.NewBoundaryWorker(s.monitor, cfg.BoundaryInterval)
	go boundaryWorker.Run(ctx)

	backfill := worker.NewBackfillWorker(s.importer, cfg.BackfillInterval)
	go backfill.Run(ctx)

	slog.Info("fundd: workers running")
	<-ctx.Done()
	slog.Info("fundd: shutting down")
	return nil
}
