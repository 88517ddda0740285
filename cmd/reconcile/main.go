package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/mifflin_matcher/internal/config"
	"github.com/eddiefleurent/mifflin_matcher/internal/dashboard"
	"github.com/eddiefleurent/mifflin_matcher/internal/engine"
	"github.com/eddiefleurent/mifflin_matcher/internal/feed"
	"github.com/eddiefleurent/mifflin_matcher/internal/metrics"
	"github.com/eddiefleurent/mifflin_matcher/internal/mock"
	"github.com/eddiefleurent/mifflin_matcher/internal/models"
	"github.com/eddiefleurent/mifflin_matcher/internal/storage"
)

// Matcher wires the feed, engine, storage, and metrics together for one
// process lifetime.
type Matcher struct {
	config  *config.Config
	source  feed.Source
	storage storage.Interface
	metrics *metrics.Metrics
	logger  *log.Logger
}

func main() {
	var configPath string
	var inputPath string
	var account string
	var useMock bool
	var serve bool
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&inputPath, "input", "", "Reconcile a local JSON transaction file instead of the activity API")
	flag.StringVar(&account, "account", "", "Reconcile a single account (default: all configured accounts)")
	flag.BoolVar(&useMock, "mock", false, "Use generated sample activity instead of the activity API")
	flag.BoolVar(&serve, "serve", false, "Keep running and serve the dashboard after reconciling")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[MATCHER] ", log.LstdFlags|log.Lshortfile)
	logger.Printf("Starting transaction matcher (%s)", cfg.Environment.LogLevel)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &Matcher{
		config:  cfg,
		metrics: metrics.New(registry),
		logger:  logger,
	}

	m.storage, err = storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		logger.Fatalf("Failed to open storage: %v", err)
	}

	switch {
	case inputPath != "":
		m.source = fileSource{path: inputPath}
	case useMock:
		m.source = mock.NewMockSource("SPY")
	default:
		m.source = feed.NewCircuitBreakerSource(feed.NewClient(cfg.Feed, logger))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("Shutdown signal received, stopping...")
		cancel()
	}()

	accounts := cfg.Feed.Accounts
	if account != "" {
		accounts = []string{account}
	}
	if len(accounts) == 0 {
		logger.Fatal("No accounts configured; set feed.accounts or pass -account")
	}

	if err := m.reconcileAll(ctx, accounts); err != nil {
		logger.Fatalf("Reconciliation failed: %v", err)
	}

	if serve || cfg.Dashboard.Enabled {
		m.serveDashboard(ctx, registry)
	}
	logger.Println("Matcher stopped successfully")
}

// reconcileAll runs one reconciliation per account, sharded across
// goroutines. Accounts are independent; one failure aborts the batch.
func (m *Matcher) reconcileAll(ctx context.Context, accounts []string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, accountID := range accounts {
		accountID := accountID
		g.Go(func() error {
			return m.reconcileAccount(ctx, accountID)
		})
	}
	return g.Wait()
}

func (m *Matcher) reconcileAccount(ctx context.Context, accountID string) error {
	start := time.Now()

	txns, err := m.source.Transactions(ctx, accountID)
	if err != nil {
		m.metrics.RunErrorsTotal.Inc()
		return fmt.Errorf("fetching activity for %s: %w", accountID, err)
	}

	eng := engine.NewEngine(m.config, nil, m.logger)
	matches, err := eng.Reconcile(txns)
	if err != nil {
		m.metrics.RunErrorsTotal.Inc()
		return fmt.Errorf("reconciling %s: %w", accountID, err)
	}

	if err := m.storage.SaveRun(accountID, len(txns), matches); err != nil {
		m.metrics.RunErrorsTotal.Inc()
		return fmt.Errorf("saving run for %s: %w", accountID, err)
	}

	m.metrics.ObserveRun(matches, time.Since(start).Seconds())
	m.logger.Printf("Account %s: %d transactions -> %d matches in %s",
		accountID, len(txns), len(matches), time.Since(start).Round(time.Millisecond))
	return nil
}

func (m *Matcher) serveDashboard(ctx context.Context, registry *prometheus.Registry) {
	logrusLogger := logrus.New()
	if level, err := logrus.ParseLevel(m.config.Environment.LogLevel); err == nil {
		logrusLogger.SetLevel(level)
	}

	server := dashboard.NewServer(dashboard.Config{
		Port:      m.config.Dashboard.Port,
		AuthToken: m.config.Dashboard.AuthToken,
	}, m.storage, registry, logrusLogger)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			m.logger.Printf("Dashboard shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Printf("Dashboard server error: %v", err)
	}
}

// fileSource reads a local JSON array of transactions, for offline runs
// against exported activity. Transactions for other accounts are filtered
// out.
type fileSource struct {
	path string
}

func (f fileSource) Transactions(_ context.Context, accountID string) ([]models.Transaction, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}
	var all []models.Transaction
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}
	out := make([]models.Transaction, 0, len(all))
	for _, txn := range all {
		if txn.AccountID == accountID {
			out = append(out, txn)
		}
	}
	return out, nil
}
