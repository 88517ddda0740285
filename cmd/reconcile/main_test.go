package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/mifflin_matcher/internal/config"
	"github.com/eddiefleurent/mifflin_matcher/internal/metrics"
	"github.com/eddiefleurent/mifflin_matcher/internal/mock"
	"github.com/eddiefleurent/mifflin_matcher/internal/models"
	"github.com/eddiefleurent/mifflin_matcher/internal/storage"
)

func writeTransactions(t *testing.T, txns []models.Transaction) string {
	t.Helper()
	data, err := json.Marshal(txns)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "activity.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestFileSourceFiltersByAccount(t *testing.T) {
	path := writeTransactions(t, []models.Transaction{
		{ID: "t1", AccountID: "ACC001", InstrumentType: models.InstrumentEquity, Symbol: "SPY",
			Action: models.ActionBuyToOpen, Quantity: 100, Price: 450, ExecutedAt: "2024-03-01T14:30:00Z"},
		{ID: "t2", AccountID: "ACC002", InstrumentType: models.InstrumentEquity, Symbol: "SPY",
			Action: models.ActionBuyToOpen, Quantity: 50, Price: 450, ExecutedAt: "2024-03-01T14:31:00Z"},
	})

	txns, err := fileSource{path: path}.Transactions(context.Background(), "ACC001")
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "t1", txns[0].ID)

	txns, err = fileSource{path: path}.Transactions(context.Background(), "ACC999")
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestFileSourceErrors(t *testing.T) {
	_, err := fileSource{path: filepath.Join(t.TempDir(), "missing.json")}.Transactions(context.Background(), "ACC001")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = fileSource{path: path}.Transactions(context.Background(), "ACC001")
	assert.Error(t, err)
}

func TestReconcileAccountEndToEnd(t *testing.T) {
	store := storage.NewMockStorage()
	m := &Matcher{
		config:  config.Default(),
		source:  mock.NewMockSource("SPY"),
		storage: store,
		metrics: metrics.New(prometheus.NewRegistry()),
		logger:  log.New(os.Stderr, "", 0),
	}

	require.NoError(t, m.reconcileAccount(context.Background(), "ACC001"))

	result, err := store.LatestRun("ACC001")
	require.NoError(t, err)
	assert.Equal(t, "ACC001", result.AccountID)
	assert.NotEmpty(t, result.Matches)
	assert.Positive(t, result.TransactionCount)
}

func TestReconcileAllPropagatesFailures(t *testing.T) {
	store := storage.NewMockStorage()
	store.SetSaveError(os.ErrPermission)
	m := &Matcher{
		config:  config.Default(),
		source:  mock.NewMockSource("SPY"),
		storage: store,
		metrics: metrics.New(prometheus.NewRegistry()),
		logger:  log.New(os.Stderr, "", 0),
	}

	err := m.reconcileAll(context.Background(), []string{"ACC001", "ACC002"})
	assert.Error(t, err)
}
