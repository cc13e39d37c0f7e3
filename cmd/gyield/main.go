// gyield is the yield-pipeline daemon: it consumes advisor signals,
// plans and executes transactions across chains, and keeps the position
// book. Secondary commands inspect the store.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tos-network/gyield/adapters"
	"github.com/tos-network/gyield/chainclients"
	"github.com/tos-network/gyield/config"
	"github.com/tos-network/gyield/dispatcher"
	"github.com/tos-network/gyield/executor"
	"github.com/tos-network/gyield/gasgate"
	"github.com/tos-network/gyield/internal/metricsflux"
	"github.com/tos-network/gyield/internal/sigapi"
	"github.com/tos-network/gyield/internal/version"
	"github.com/tos-network/gyield/keyvault"
	"github.com/tos-network/gyield/ledger"
	"github.com/tos-network/gyield/nonce"
	"github.com/tos-network/gyield/pending"
	"github.com/tos-network/gyield/planner"
	"github.com/tos-network/gyield/policy"
	"github.com/tos-network/gyield/preparer"
	"github.com/tos-network/gyield/router"
	"github.com/tos-network/gyield/simulator"
	"github.com/tos-network/gyield/store"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	datadirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "store directory (overrides config)",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "log verbosity (0=crit .. 5=trace)",
		Value: 3,
	}
)

func main() {
	app := &cli.App{
		Name:    "gyield",
		Usage:   "multi-chain yield execution pipeline",
		Version: version.String(),
		Flags:   []cli.Flag{configFlag, datadirFlag, verbosityFlag},
		Before: func(ctx *cli.Context) error {
			handler := log.NewTerminalHandlerWithLevel(os.Stderr,
				log.FromLegacyLevel(ctx.Int(verbosityFlag.Name)), false)
			log.SetDefault(log.NewLogger(handler))
			return nil
		},
		Commands: []*cli.Command{
			runCommand,
			positionsCommand,
			auditCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

var runCommand = &cli.Command{
	Name:   "run",
	Usage:  "run the pipeline daemon",
	Action: runDaemon,
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg := config.Defaults()
	if path := ctx.String(configFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if dir := ctx.String(datadirFlag.Name); dir != "" {
		cfg.DataDir = dir
	}
	return cfg, nil
}

func runDaemon(cliCtx *cli.Context) error {
	cfg, err := loadConfig(cliCtx)
	if err != nil {
		return err
	}
	logger := log.New("module", "main")
	logger.Info("Starting gyield", "version", version.String(), "datadir", cfg.DataDir)

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	// Hot keys: decrypt-and-cache from the environment. Missing keys are
	// fine; those chains run in pending-signature mode.
	secret, ok := keyvault.GetSecret(keyvault.EnvMasterSecret)
	if !ok {
		return fmt.Errorf("%s must be set", keyvault.EnvMasterSecret)
	}
	vault, err := keyvault.New(secret)
	if err != nil {
		return err
	}
	if err := vault.LoadFromEnv(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	clients := chainclients.NewRegistry()
	if err := clients.DialFromEnv(ctx); err != nil {
		return err
	}

	registry, err := buildAdapters(ctx, clients)
	if err != nil {
		return err
	}

	watcher := policy.NewWatcher(db, 0)
	gate := policy.NewGate(watcher, db)
	gas := gasgate.NewScheduler(clients, watcher)
	defer gas.Stop()
	sim := simulator.New(clients)
	routes := router.New()
	nonces := nonce.NewManager(clients)
	bridge := pending.NewBridge(db)
	prices := ledger.NewPriceCache(db)
	book := ledger.New(db, registry, prices)

	exec := executor.New(executor.Config{
		StepTimeout:     cfg.Executor.StepTimeout.Std(),
		ConfirmInterval: cfg.Executor.ConfirmInterval.Std(),
		MaxRetries:      cfg.Executor.MaxRetries,
	}, gate, watcher, gas, sim, routes, nonces, vault, bridge, clients, db, prices)

	prep := preparer.New(clients)
	plans := planner.New(registry, prep, watcher, db)
	disp := dispatcher.New(db, gate, plans, exec, gas, bridge, book, watcher)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return disp.Run(ctx) })
	g.Go(func() error { watcher.Run(ctx); return nil })
	g.Go(func() error { bridge.RunSweeper(ctx); return nil })
	g.Go(func() error { book.RunReconciler(ctx, cfg.ReconcileStd()); return nil })

	if cfg.AdvisorWS != "" {
		ingest := dispatcher.NewIngest(cfg.AdvisorWS, db)
		g.Go(func() error { return ingest.Run(ctx) })
	}
	if cfg.APIListen != "" {
		api := sigapi.New(db, bridge, os.Getenv(sigapi.EnvJWTSecret))
		srv := &http.Server{Addr: cfg.APIListen, Handler: api.Handler()}
		g.Go(func() error {
			logger.Info("Operator API listening", "addr", cfg.APIListen)
			err := srv.ListenAndServe()
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	}
	if exp := metricsflux.New(metricsflux.Config{
		URL: cfg.Influx.URL, Token: cfg.Influx.Token,
		Org: cfg.Influx.Org, Bucket: cfg.Influx.Bucket,
	}, map[string]string{"service": "gyield"}); exp != nil {
		g.Go(func() error { exp.Run(ctx, 0); return nil })
	}

	err = g.Wait()
	if err == context.Canceled {
		logger.Info("Shut down cleanly")
		return nil
	}
	return err
}

func buildAdapters(ctx context.Context, clients *chainclients.Registry) (*adapters.Registry, error) {
	registry := adapters.NewRegistry()
	for _, a := range defaultAdapters(clients) {
		if err := a.Initialize(ctx); err != nil {
			// Fail fast: a configured protocol with an unreachable node is
			// an operator error, not something to limp past.
			return nil, fmt.Errorf("adapter %s/%s: %w", a.ProtocolID(), a.Chain(), err)
		}
		registry.Register(a)
	}
	return registry, nil
}
