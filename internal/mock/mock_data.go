// Package mock generates synthetic brokerage activity for demos and tests
// when no live activity API is available.
package mock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/eddiefleurent/mifflin_matcher/internal/feed"
	"github.com/eddiefleurent/mifflin_matcher/internal/models"
)

// MockSource implements feed.Source with generated activity: an iron
// condor, a vertical spread with a later close, a covered call backed by
// a stock purchase, and a same-day roll.
type MockSource struct {
	underlying string
	basePrice  float64
	start      time.Time
	seq        int
}

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// NewMockSource creates a generator anchored at a fixed start of day so
// repeated runs in one process stay self-consistent.
func NewMockSource(underlying string) *MockSource {
	now := time.Now().UTC()
	return &MockSource{
		underlying: underlying,
		basePrice:  450.0 + secureFloat64()*10,
		start:      time.Date(now.Year(), now.Month(), now.Day(), 14, 30, 0, 0, time.UTC).AddDate(0, 0, -14),
	}
}

// Transactions returns a full synthetic activity history for the account.
func (m *MockSource) Transactions(_ context.Context, accountID string) ([]models.Transaction, error) {
	var txns []models.Transaction
	nearExp := m.start.AddDate(0, 0, 30).Format("060102")
	farExp := m.start.AddDate(0, 0, 60).Format("060102")
	strike := float64(int(m.basePrice/5) * 5)

	// Iron condor in one order, fills a few seconds apart.
	condorOrder := m.orderID()
	at := m.start
	txns = append(txns,
		m.option(accountID, condorOrder, at, models.ActionSellToOpen, models.OptionPut, nearExp, strike-20, 1, 2.10),
		m.option(accountID, condorOrder, at.Add(2*time.Second), models.ActionBuyToOpen, models.OptionPut, nearExp, strike-30, 1, 1.05),
		m.option(accountID, condorOrder, at.Add(4*time.Second), models.ActionSellToOpen, models.OptionCall, nearExp, strike+20, 1, 1.95),
		m.option(accountID, condorOrder, at.Add(6*time.Second), models.ActionBuyToOpen, models.OptionCall, nearExp, strike+30, 1, 0.90),
	)

	// Vertical spread opened day two, closed a week later under a new order.
	at = m.start.AddDate(0, 0, 1)
	openOrder := m.orderID()
	txns = append(txns,
		m.option(accountID, openOrder, at, models.ActionSellToOpen, models.OptionPut, nearExp, strike-10, 2, 3.40),
		m.option(accountID, openOrder, at.Add(3*time.Second), models.ActionBuyToOpen, models.OptionPut, nearExp, strike-15, 2, 2.10),
	)
	closeOrder := m.orderID()
	at = at.AddDate(0, 0, 7)
	txns = append(txns,
		m.option(accountID, closeOrder, at, models.ActionBuyToClose, models.OptionPut, nearExp, strike-10, 2, 1.20),
		m.option(accountID, closeOrder, at.Add(2*time.Second), models.ActionSellToClose, models.OptionPut, nearExp, strike-15, 2, 0.60),
	)

	// Stock purchase, then a covered call the next week.
	at = m.start.AddDate(0, 0, 2)
	txns = append(txns, m.stock(accountID, m.orderID(), at, models.ActionBuyToOpen, 200, m.basePrice))
	at = at.AddDate(0, 0, 7)
	txns = append(txns,
		m.option(accountID, m.orderID(), at, models.ActionSellToOpen, models.OptionCall, nearExp, strike+15, 2, 1.25))

	// Same-day roll split across two orders an hour apart.
	at = m.start.AddDate(0, 0, 10)
	txns = append(txns,
		m.option(accountID, m.orderID(), at, models.ActionBuyToClose, models.OptionPut, nearExp, strike-5, 1, 2.80),
		m.option(accountID, m.orderID(), at.Add(time.Hour), models.ActionSellToOpen, models.OptionPut, farExp, strike-5, 1, 3.60),
	)

	return txns, nil
}

func (m *MockSource) option(accountID, orderID string, at time.Time, action models.Action,
	optType models.OptionType, expiration string, strikePrice float64, quantity int, price float64) models.Transaction {
	return models.Transaction{
		ID:             m.txnID(),
		AccountID:      accountID,
		OrderID:        orderID,
		InstrumentType: models.InstrumentEquityOption,
		Symbol: models.FormatOCCSymbol(models.OptionContract{
			Underlying: m.underlying,
			Expiration: expiration,
			Type:       optType,
			Strike:     strikePrice,
		}),
		Action:     action,
		Quantity:   quantity,
		Price:      price,
		ExecutedAt: at.Format(time.RFC3339),
	}
}

func (m *MockSource) stock(accountID, orderID string, at time.Time, action models.Action,
	quantity int, price float64) models.Transaction {
	return models.Transaction{
		ID:             m.txnID(),
		AccountID:      accountID,
		OrderID:        orderID,
		InstrumentType: models.InstrumentEquity,
		Symbol:         m.underlying,
		Action:         action,
		Quantity:       quantity,
		Price:          price,
		ExecutedAt:     at.Format(time.RFC3339),
	}
}

func (m *MockSource) txnID() string {
	m.seq++
	return fmt.Sprintf("txn-%04d", m.seq)
}

func (m *MockSource) orderID() string {
	m.seq++
	return fmt.Sprintf("ord-%04d", m.seq)
}

var _ feed.Source = (*MockSource)(nil)
