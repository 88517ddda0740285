package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/eddiefleurent/mifflin_matcher/internal/config"
	"github.com/eddiefleurent/mifflin_matcher/internal/models"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(config.Default(), nil, nil)
}

var txnSeq int

func nextID(prefix string) string {
	txnSeq++
	return fmt.Sprintf("%s-%03d", prefix, txnSeq)
}

func optTxn(orderID string, action models.Action, typ models.OptionType,
	expiration string, strike float64, qty int, at string) models.Transaction {
	return models.Transaction{
		ID:             nextID("txn"),
		AccountID:      "ACC001",
		OrderID:        orderID,
		InstrumentType: models.InstrumentEquityOption,
		Symbol: models.FormatOCCSymbol(models.OptionContract{
			Underlying: "ZTE",
			Expiration: expiration,
			Type:       typ,
			Strike:     strike,
		}),
		Action:     action,
		Quantity:   qty,
		Price:      1.50,
		ExecutedAt: at,
	}
}

func stockTxn(orderID string, action models.Action, qty int, at string) models.Transaction {
	return models.Transaction{
		ID:             nextID("txn"),
		AccountID:      "ACC001",
		OrderID:        orderID,
		InstrumentType: models.InstrumentEquity,
		Symbol:         "ZTE",
		Action:         action,
		Quantity:       qty,
		Price:          52.00,
		ExecutedAt:     at,
	}
}

func findByStrategy(t *testing.T, matches []models.Match, strategy models.StrategyType) models.Match {
	t.Helper()
	for _, m := range matches {
		if m.Strategy == strategy {
			return m
		}
	}
	t.Fatalf("no match with strategy %q in %d matches", strategy, len(matches))
	return models.Match{}
}

func TestReconcileIronCondorSingleOrder(t *testing.T) {
	e := newTestEngine(t)
	txns := []models.Transaction{
		optTxn("O1", models.ActionSellToOpen, models.OptionPut, "240419", 50, 1, "2024-03-01T14:30:00Z"),
		optTxn("O1", models.ActionBuyToOpen, models.OptionPut, "240419", 45, 1, "2024-03-01T14:30:02Z"),
		optTxn("O1", models.ActionSellToOpen, models.OptionCall, "240419", 55, 1, "2024-03-01T14:30:04Z"),
		optTxn("O1", models.ActionBuyToOpen, models.OptionCall, "240419", 60, 1, "2024-03-01T14:30:06Z"),
	}

	matches, err := e.Reconcile(txns)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	if m.Strategy != models.StrategyIronCondor {
		t.Errorf("strategy = %q, want %q", m.Strategy, models.StrategyIronCondor)
	}
	if m.Confidence != models.ConfidenceHigh {
		t.Errorf("confidence = %q, want HIGH", m.Confidence)
	}
	if !m.HasFlag(models.FlagVerified) {
		t.Errorf("expected VERIFIED flag, got %v", m.QualityFlags)
	}
	if len(m.TransactionIDs) != 4 {
		t.Errorf("expected 4 member transactions, got %d", len(m.TransactionIDs))
	}
	if m.GroupingMethod != models.GroupByOrderID {
		t.Errorf("grouping method = %q, want order_id", m.GroupingMethod)
	}
}

func TestReconcileCrossOrderCondorFusion(t *testing.T) {
	e := newTestEngine(t)
	// A bull put spread and a bear call spread placed as separate orders
	// an hour apart, same expiration: one iron condor.
	txns := []models.Transaction{
		optTxn("O1", models.ActionSellToOpen, models.OptionPut, "240419", 50, 1, "2024-03-01T14:30:00Z"),
		optTxn("O1", models.ActionBuyToOpen, models.OptionPut, "240419", 45, 1, "2024-03-01T14:30:01Z"),
		optTxn("O2", models.ActionSellToOpen, models.OptionCall, "240419", 55, 1, "2024-03-01T15:30:00Z"),
		optTxn("O2", models.ActionBuyToOpen, models.OptionCall, "240419", 60, 1, "2024-03-01T15:30:01Z"),
	}

	matches, err := e.Reconcile(txns)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 fused match, got %d", len(matches))
	}
	m := matches[0]
	if m.Strategy != models.StrategyIronCondor {
		t.Errorf("strategy = %q, want %q", m.Strategy, models.StrategyIronCondor)
	}
	if len(m.TransactionIDs) != 4 {
		t.Errorf("expected 4 members, got %d", len(m.TransactionIDs))
	}
	if !m.HasFlag(models.FlagAssumed) {
		t.Errorf("fused condor should be ASSUMED, got %v", m.QualityFlags)
	}
}

func TestReconcileVerticalWithLaterClose(t *testing.T) {
	e := newTestEngine(t)
	txns := []models.Transaction{
		optTxn("O1", models.ActionSellToOpen, models.OptionPut, "240419", 50, 2, "2024-03-01T14:30:00Z"),
		optTxn("O1", models.ActionBuyToOpen, models.OptionPut, "240419", 45, 2, "2024-03-01T14:30:01Z"),
		optTxn("O2", models.ActionBuyToClose, models.OptionPut, "240419", 50, 2, "2024-03-03T15:00:00Z"),
		optTxn("O2", models.ActionSellToClose, models.OptionPut, "240419", 45, 2, "2024-03-03T15:00:01Z"),
	}

	matches, err := e.Reconcile(txns)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected open and close merged into 1 match, got %d", len(matches))
	}
	m := matches[0]
	if m.Strategy != models.StrategyBullPutSpread {
		t.Errorf("strategy = %q, want %q", m.Strategy, models.StrategyBullPutSpread)
	}
	if m.GroupingMethod != models.GroupByCrossOrder {
		t.Errorf("grouping method = %q, want cross_order_matched", m.GroupingMethod)
	}
	if len(m.TransactionIDs) != 4 {
		t.Errorf("expected all 4 transactions in the match, got %d", len(m.TransactionIDs))
	}
	for _, leg := range m.Legs {
		if leg.ExitPrice == nil {
			t.Errorf("leg %s should carry an exit price after the close merged", leg.Contract.String())
		}
	}
}

func TestReconcilePartialCloseStillMatches(t *testing.T) {
	e := newTestEngine(t)
	// Close 1 of 2 contracts per leg: every leg matched, full score.
	txns := []models.Transaction{
		optTxn("O1", models.ActionSellToOpen, models.OptionPut, "240419", 50, 2, "2024-03-01T14:30:00Z"),
		optTxn("O1", models.ActionBuyToOpen, models.OptionPut, "240419", 45, 2, "2024-03-01T14:30:01Z"),
		optTxn("O2", models.ActionBuyToClose, models.OptionPut, "240419", 50, 1, "2024-03-02T15:00:00Z"),
		optTxn("O2", models.ActionSellToClose, models.OptionPut, "240419", 45, 1, "2024-03-02T15:00:01Z"),
	}

	matches, err := e.Reconcile(txns)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected partial close to merge, got %d matches", len(matches))
	}
	if matches[0].GroupingMethod != models.GroupByCrossOrder {
		t.Errorf("grouping method = %q, want cross_order_matched", matches[0].GroupingMethod)
	}
}

func TestReconcileCoveredCall(t *testing.T) {
	e := newTestEngine(t)
	txns := []models.Transaction{
		stockTxn("O1", models.ActionBuyToOpen, 200, "2024-03-01T14:30:00Z"),
		optTxn("O2", models.ActionSellToOpen, models.OptionCall, "240419", 55, 2, "2024-03-08T14:30:00Z"),
	}

	matches, err := e.Reconcile(txns)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected stock match plus covered call, got %d", len(matches))
	}
	cc := findByStrategy(t, matches, models.StrategyCoveredCall)
	if cc.StockContext != 200 {
		t.Errorf("stock context = %d, want 200", cc.StockContext)
	}
	findByStrategy(t, matches, models.StrategyLongStock)
}

func TestReconcileUncoveredShortCallIsNaked(t *testing.T) {
	e := newTestEngine(t)
	// Only 100 shares behind 2 short calls: not covered.
	txns := []models.Transaction{
		stockTxn("O1", models.ActionBuyToOpen, 100, "2024-03-01T14:30:00Z"),
		optTxn("O2", models.ActionSellToOpen, models.OptionCall, "240419", 55, 2, "2024-03-08T14:30:00Z"),
	}

	matches, err := e.Reconcile(txns)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	findByStrategy(t, matches, models.StrategyNakedCall)
}

func TestReconcileSameDayRollFusion(t *testing.T) {
	e := newTestEngine(t)
	// Close old put, open replacement at a later expiration an hour later,
	// separate orders.
	txns := []models.Transaction{
		optTxn("O1", models.ActionBuyToClose, models.OptionPut, "240419", 50, 1, "2024-03-01T14:30:00Z"),
		optTxn("O2", models.ActionSellToOpen, models.OptionPut, "240517", 50, 1, "2024-03-01T15:30:00Z"),
	}

	matches, err := e.Reconcile(txns)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 fused roll, got %d matches", len(matches))
	}
	m := matches[0]
	if !m.Roll {
		t.Error("fused match should be flagged as a roll")
	}
	if m.GroupingMethod != models.GroupByRollFusion {
		t.Errorf("grouping method = %q, want roll_fusion", m.GroupingMethod)
	}
	if m.Confidence != models.ConfidenceMedium {
		t.Errorf("confidence = %q, want MEDIUM", m.Confidence)
	}
	// The roll's strategy type comes from the opening side.
	if m.Strategy != models.StrategyCashSecuredPut {
		t.Errorf("strategy = %q, want %q from the opening side", m.Strategy, models.StrategyCashSecuredPut)
	}
}

func TestReconcileRollFusionWindowExpired(t *testing.T) {
	e := newTestEngine(t)
	// Nine hours apart: outside the fusion window, two separate matches.
	txns := []models.Transaction{
		optTxn("O1", models.ActionBuyToClose, models.OptionPut, "240419", 50, 1, "2024-03-01T10:30:00Z"),
		optTxn("O2", models.ActionSellToOpen, models.OptionPut, "240517", 50, 1, "2024-03-01T19:31:00Z"),
	}

	matches, err := e.Reconcile(txns)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 separate matches outside the window, got %d", len(matches))
	}
}

func TestReconcileSingleOrderRollLinksChain(t *testing.T) {
	e := newTestEngine(t)
	txns := []models.Transaction{
		optTxn("O1", models.ActionSellToOpen, models.OptionPut, "240419", 50, 1, "2024-03-01T14:30:00Z"),
		optTxn("O2", models.ActionBuyToClose, models.OptionPut, "240419", 50, 1, "2024-03-05T14:30:00Z"),
		optTxn("O2", models.ActionSellToOpen, models.OptionPut, "240517", 50, 1, "2024-03-05T14:30:01Z"),
	}

	matches, err := e.Reconcile(txns)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected opener plus roll, got %d matches", len(matches))
	}

	var roll, opener *models.Match
	for i := range matches {
		if matches[i].Roll {
			roll = &matches[i]
		} else {
			opener = &matches[i]
		}
	}
	if roll == nil || opener == nil {
		t.Fatalf("expected one roll and one opener, got %+v", matches)
	}
	if roll.Confidence != models.ConfidenceHigh {
		t.Errorf("order-id roll confidence = %q, want HIGH", roll.Confidence)
	}
	if roll.Strategy != models.StrategyCashSecuredPut {
		t.Errorf("roll strategy = %q, want %q from the opening side", roll.Strategy, models.StrategyCashSecuredPut)
	}
	if roll.Status == nil || !roll.Status.ForcedOpen {
		t.Errorf("roll with a live opening side should be forced open, got %+v", roll.Status)
	}
	if opener.RollClosure == nil {
		t.Fatal("opener should be annotated as closed by the roll")
	}
	if opener.RollClosure.ClosedByMatchID != roll.ID {
		t.Errorf("closed_by = %q, want roll id %q", opener.RollClosure.ClosedByMatchID, roll.ID)
	}
}

func TestReconcileRollClosesMultipleOpeners(t *testing.T) {
	e := newTestEngine(t)
	// One double-leg roll order retires puts opened by two separate earlier
	// orders; every predecessor it closes gets annotated.
	txns := []models.Transaction{
		optTxn("O1", models.ActionSellToOpen, models.OptionPut, "240419", 50, 1, "2024-03-01T14:30:00Z"),
		optTxn("O2", models.ActionSellToOpen, models.OptionPut, "240419", 45, 1, "2024-03-02T14:30:00Z"),
		optTxn("O3", models.ActionBuyToClose, models.OptionPut, "240419", 50, 1, "2024-03-05T14:30:00Z"),
		optTxn("O3", models.ActionBuyToClose, models.OptionPut, "240419", 45, 1, "2024-03-05T14:30:01Z"),
		optTxn("O3", models.ActionSellToOpen, models.OptionPut, "240517", 50, 1, "2024-03-05T14:30:02Z"),
		optTxn("O3", models.ActionSellToOpen, models.OptionPut, "240517", 45, 1, "2024-03-05T14:30:03Z"),
	}

	matches, err := e.Reconcile(txns)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected two openers plus the roll, got %d matches", len(matches))
	}

	var roll *models.Match
	for i := range matches {
		if matches[i].Roll {
			roll = &matches[i]
		}
	}
	if roll == nil {
		t.Fatal("expected a roll match")
	}

	annotated := 0
	for i := range matches {
		if matches[i].Roll {
			continue
		}
		if matches[i].RollClosure == nil {
			t.Errorf("opener %s should be annotated as closed by the roll", matches[i].GroupKey)
			continue
		}
		if matches[i].RollClosure.ClosedByMatchID != roll.ID {
			t.Errorf("opener %s closed_by = %q, want roll id %q",
				matches[i].GroupKey, matches[i].RollClosure.ClosedByMatchID, roll.ID)
		}
		annotated++
	}
	if annotated != 2 {
		t.Errorf("expected both openers annotated, got %d", annotated)
	}
}

func TestReconcileCoveredCallCarvedFromMixedGroup(t *testing.T) {
	e := newTestEngine(t)
	// A short call with share coverage shares its order with a short put.
	// The call is carved out alone and keeps its own time bounds rather
	// than inheriting the group's.
	txns := []models.Transaction{
		stockTxn("O1", models.ActionBuyToOpen, 200, "2024-03-01T14:30:00Z"),
		optTxn("O2", models.ActionSellToOpen, models.OptionPut, "240419", 45, 1, "2024-03-08T14:30:00Z"),
		optTxn("O2", models.ActionSellToOpen, models.OptionCall, "240419", 55, 2, "2024-03-08T14:30:05Z"),
	}

	matches, err := e.Reconcile(txns)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected stock, covered call, and short put, got %d matches", len(matches))
	}
	cc := findByStrategy(t, matches, models.StrategyCoveredCall)
	if cc.StockContext != 200 {
		t.Errorf("stock context = %d, want 200", cc.StockContext)
	}
	findByStrategy(t, matches, models.StrategyCashSecuredPut)
	findByStrategy(t, matches, models.StrategyLongStock)

	want, _ := time.Parse(time.RFC3339, "2024-03-08T14:30:05Z")
	if !cc.EarliestAt.Equal(want) {
		t.Errorf("covered call earliest = %v, want its own execution time %v", cc.EarliestAt, want)
	}
}

func TestReconcileTimingSplitsDistantLegs(t *testing.T) {
	e := newTestEngine(t)
	// No order ids; two hours between single-strike option fills exceeds
	// the session window, so the legs never form a spread.
	txns := []models.Transaction{
		optTxn("", models.ActionSellToOpen, models.OptionPut, "240419", 50, 1, "2024-03-01T14:30:00Z"),
		optTxn("", models.ActionBuyToOpen, models.OptionPut, "240419", 45, 1, "2024-03-01T16:31:00Z"),
	}

	matches, err := e.Reconcile(txns)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 separate matches, got %d", len(matches))
	}
}

func TestReconcileTimingGroupsRapidCondor(t *testing.T) {
	e := newTestEngine(t)
	// No order ids, fills seconds apart: timing grouping assembles the
	// condor at MEDIUM confidence.
	txns := []models.Transaction{
		optTxn("", models.ActionSellToOpen, models.OptionPut, "240419", 50, 1, "2024-03-01T14:30:00Z"),
		optTxn("", models.ActionBuyToOpen, models.OptionPut, "240419", 45, 1, "2024-03-01T14:30:05Z"),
		optTxn("", models.ActionSellToOpen, models.OptionCall, "240419", 55, 1, "2024-03-01T14:30:10Z"),
		optTxn("", models.ActionBuyToOpen, models.OptionCall, "240419", 60, 1, "2024-03-01T14:30:15Z"),
	}

	matches, err := e.Reconcile(txns)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	if m.Strategy != models.StrategyIronCondor {
		t.Errorf("strategy = %q, want %q", m.Strategy, models.StrategyIronCondor)
	}
	if m.Confidence != models.ConfidenceHigh {
		// Timing-grouped, not order-grouped.
		if m.Confidence != models.ConfidenceMedium {
			t.Errorf("confidence = %q, want MEDIUM", m.Confidence)
		}
	} else {
		t.Errorf("timing-grouped condor must not be HIGH")
	}
}

func TestReconcileUnparsableSymbolBecomesUnknown(t *testing.T) {
	e := newTestEngine(t)
	bad := models.Transaction{
		ID:             nextID("txn"),
		AccountID:      "ACC001",
		OrderID:        "O1",
		InstrumentType: models.InstrumentEquityOption,
		Symbol:         "GARBAGE",
		Action:         models.ActionSellToOpen,
		Quantity:       1,
		Price:          1.00,
		ExecutedAt:     "2024-03-01T14:30:00Z",
	}

	matches, err := e.Reconcile([]models.Transaction{bad})
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	if m.Strategy != models.StrategyUnknown {
		t.Errorf("strategy = %q, want Unknown", m.Strategy)
	}
	if m.Confidence != models.ConfidenceLow {
		t.Errorf("confidence = %q, want LOW", m.Confidence)
	}
	if !m.HasFlag(models.FlagManualReview) {
		t.Errorf("expected MANUAL_REVIEW, got %v", m.QualityFlags)
	}
}

func TestReconcileRejectsMissingIDs(t *testing.T) {
	e := newTestEngine(t)

	noID := optTxn("O1", models.ActionSellToOpen, models.OptionPut, "240419", 50, 1, "2024-03-01T14:30:00Z")
	noID.ID = ""
	if _, err := e.Reconcile([]models.Transaction{noID}); err == nil {
		t.Error("expected error for missing transaction id")
	}

	noAccount := optTxn("O1", models.ActionSellToOpen, models.OptionPut, "240419", 50, 1, "2024-03-01T14:30:00Z")
	noAccount.AccountID = ""
	if _, err := e.Reconcile([]models.Transaction{noAccount}); err == nil {
		t.Error("expected error for missing account id")
	}
}

func TestReconcileDeterministicAndComplete(t *testing.T) {
	e := newTestEngine(t)
	txns := []models.Transaction{
		optTxn("O1", models.ActionSellToOpen, models.OptionPut, "240419", 50, 1, "2024-03-01T14:30:00Z"),
		optTxn("O1", models.ActionBuyToOpen, models.OptionPut, "240419", 45, 1, "2024-03-01T14:30:01Z"),
		stockTxn("O2", models.ActionBuyToOpen, 100, "2024-03-02T14:30:00Z"),
		optTxn("O3", models.ActionSellToOpen, models.OptionCall, "240419", 55, 1, "2024-03-09T14:30:00Z"),
		optTxn("O4", models.ActionBuyToClose, models.OptionPut, "240419", 50, 1, "2024-03-10T14:30:00Z"),
	}

	first, err := e.Reconcile(txns)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	second, err := newTestEngine(t).Reconcile(txns)
	if err != nil {
		t.Fatalf("second Reconcile() error: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("runs disagree: %d vs %d matches", len(first), len(second))
	}
	for i := range first {
		if first[i].Strategy != second[i].Strategy {
			t.Errorf("match %d strategy differs: %q vs %q", i, first[i].Strategy, second[i].Strategy)
		}
		if len(first[i].TransactionIDs) != len(second[i].TransactionIDs) {
			t.Errorf("match %d member count differs", i)
		}
	}

	// Every input transaction appears in exactly one match.
	seen := make(map[string]int)
	for _, m := range first {
		for _, id := range m.TransactionIDs {
			seen[id]++
		}
	}
	for _, txn := range txns {
		if seen[txn.ID] != 1 {
			t.Errorf("transaction %s claimed %d times, want exactly 1", txn.ID, seen[txn.ID])
		}
	}
}

func TestReconcileOutputOrdering(t *testing.T) {
	e := newTestEngine(t)
	txns := []models.Transaction{
		optTxn("O2", models.ActionSellToOpen, models.OptionCall, "240419", 55, 1, "2024-03-05T14:30:00Z"),
		optTxn("O1", models.ActionSellToOpen, models.OptionPut, "240419", 50, 1, "2024-03-01T14:30:00Z"),
	}

	matches, err := e.Reconcile(txns)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if !matches[0].EarliestAt.Before(matches[1].EarliestAt) {
		t.Errorf("matches not ordered by earliest execution: %v then %v",
			matches[0].EarliestAt, matches[1].EarliestAt)
	}
}

func TestValidatorDowngradesAsymmetricCondor(t *testing.T) {
	e := newTestEngine(t)
	// 2-lot put side against 1-lot call side in one order.
	txns := []models.Transaction{
		optTxn("O1", models.ActionSellToOpen, models.OptionPut, "240419", 50, 2, "2024-03-01T14:30:00Z"),
		optTxn("O1", models.ActionBuyToOpen, models.OptionPut, "240419", 45, 2, "2024-03-01T14:30:01Z"),
		optTxn("O1", models.ActionSellToOpen, models.OptionCall, "240419", 55, 1, "2024-03-01T14:30:02Z"),
		optTxn("O1", models.ActionBuyToOpen, models.OptionCall, "240419", 60, 1, "2024-03-01T14:30:03Z"),
	}

	matches, err := e.Reconcile(txns)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	m := findByStrategy(t, matches, models.StrategyIronCondor)
	if m.Confidence != models.ConfidenceLow {
		t.Errorf("confidence = %q, want LOW after symmetry check", m.Confidence)
	}
	if !m.HasFlag(models.FlagManualReview) {
		t.Errorf("expected MANUAL_REVIEW, got %v", m.QualityFlags)
	}
}

func TestReconcileStraddleAndStrangle(t *testing.T) {
	e := newTestEngine(t)
	txns := []models.Transaction{
		optTxn("O1", models.ActionSellToOpen, models.OptionPut, "240419", 50, 1, "2024-03-01T14:30:00Z"),
		optTxn("O1", models.ActionSellToOpen, models.OptionCall, "240419", 50, 1, "2024-03-01T14:30:01Z"),
		optTxn("O2", models.ActionSellToOpen, models.OptionPut, "240517", 45, 1, "2024-03-04T14:30:00Z"),
		optTxn("O2", models.ActionSellToOpen, models.OptionCall, "240517", 55, 1, "2024-03-04T14:30:01Z"),
	}

	matches, err := e.Reconcile(txns)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	findByStrategy(t, matches, models.StrategyStraddle)
	findByStrategy(t, matches, models.StrategyStrangle)
}

func TestReconcileButterfly(t *testing.T) {
	e := newTestEngine(t)
	txns := []models.Transaction{
		optTxn("O1", models.ActionBuyToOpen, models.OptionCall, "240419", 45, 1, "2024-03-01T14:30:00Z"),
		optTxn("O1", models.ActionSellToOpen, models.OptionCall, "240419", 50, 2, "2024-03-01T14:30:01Z"),
		optTxn("O1", models.ActionBuyToOpen, models.OptionCall, "240419", 55, 1, "2024-03-01T14:30:02Z"),
	}

	matches, err := e.Reconcile(txns)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Strategy != models.StrategyButterfly {
		t.Errorf("strategy = %q, want Butterfly", matches[0].Strategy)
	}
}

func TestReconcileCalendarAndDiagonal(t *testing.T) {
	e := newTestEngine(t)
	calendar := []models.Transaction{
		optTxn("O1", models.ActionSellToOpen, models.OptionCall, "240419", 50, 1, "2024-03-01T14:30:00Z"),
		optTxn("O1", models.ActionBuyToOpen, models.OptionCall, "240517", 50, 1, "2024-03-01T14:30:01Z"),
	}
	matches, err := e.Reconcile(calendar)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	findByStrategy(t, matches, models.StrategyCalendarSpread)

	diagonal := []models.Transaction{
		optTxn("O2", models.ActionSellToOpen, models.OptionCall, "240419", 50, 1, "2024-03-01T14:30:00Z"),
		optTxn("O2", models.ActionBuyToOpen, models.OptionCall, "240517", 55, 1, "2024-03-01T14:30:01Z"),
	}
	matches, err = newTestEngine(t).Reconcile(diagonal)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	findByStrategy(t, matches, models.StrategyDiagonalSpread)
}

func TestReconcileSystemExpirationMatchesOpener(t *testing.T) {
	e := newTestEngine(t)
	txns := []models.Transaction{
		optTxn("O1", models.ActionSellToOpen, models.OptionPut, "240419", 50, 1, "2024-03-01T14:30:00Z"),
		optTxn("", models.ActionExpired, models.OptionPut, "240419", 50, 1, "2024-04-19T20:00:00Z"),
	}

	matches, err := e.Reconcile(txns)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected expiration merged into the opener, got %d matches", len(matches))
	}
	if matches[0].GroupingMethod != models.GroupByCrossOrder {
		t.Errorf("grouping method = %q, want cross_order_matched", matches[0].GroupingMethod)
	}
}

func TestTimingWindowSelection(t *testing.T) {
	e := newTestEngine(t)
	cfg := e.cfg

	base, _ := time.Parse(time.RFC3339, "2024-03-01T14:30:00Z")
	mk := func(typ models.OptionType, expiration string, strike float64) *logical {
		txn := optTxn("", models.ActionSellToOpen, typ, expiration, strike, 1, base.Format(time.RFC3339))
		c, err := models.ParseOCCSymbol(txn.Symbol)
		if err != nil {
			t.Fatalf("ParseOCCSymbol: %v", err)
		}
		return &logical{Transaction: txn, ids: []string{txn.ID}, times: []time.Time{base}, contract: &c}
	}
	stock := &logical{Transaction: stockTxn("", models.ActionBuyToOpen, 100, base.Format(time.RFC3339)),
		ids: []string{"s1"}, times: []time.Time{base}}

	tests := []struct {
		name     string
		existing []*logical
		incoming *logical
		want     time.Duration
	}{
		{
			name:     "different expirations force tightest window",
			existing: []*logical{mk(models.OptionPut, "240419", 50)},
			incoming: mk(models.OptionPut, "240517", 50),
			want:     cfg.SameSecondWindow.Std(),
		},
		{
			name: "three or more legs use rapid window",
			existing: []*logical{
				mk(models.OptionPut, "240419", 50),
				mk(models.OptionPut, "240419", 45),
				mk(models.OptionCall, "240419", 55),
			},
			incoming: mk(models.OptionCall, "240419", 60),
			want:     cfg.RapidExecutionWindow.Std(),
		},
		{
			name:     "multiple strikes use minute window",
			existing: []*logical{mk(models.OptionPut, "240419", 50)},
			incoming: mk(models.OptionPut, "240419", 45),
			want:     cfg.SameMinuteWindow.Std(),
		},
		{
			name:     "single strike uses session window",
			existing: []*logical{mk(models.OptionPut, "240419", 50)},
			incoming: mk(models.OptionCall, "240419", 50),
			want:     cfg.SameSessionWindow.Std(),
		},
		{
			name:     "stock and option mix uses tightest window",
			existing: []*logical{mk(models.OptionPut, "240419", 50)},
			incoming: stock,
			want:     cfg.SameSecondWindow.Std(),
		},
		{
			name:     "stock only uses day window",
			existing: []*logical{stock},
			incoming: stock,
			want:     cfg.SameDayWindow.Std(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.timingWindow(tt.existing, tt.incoming); got != tt.want {
				t.Errorf("timingWindow() = %v, want %v", got, tt.want)
			}
		})
	}
}
