package storage

import (
	"time"

	"github.com/eddiefleurent/mifflin_matcher/internal/models"
)

// MockStorage implements Interface for testing
type MockStorage struct {
	saveError     error
	loadError     error
	results       map[string]*AccountResult
	history       []RunRecord
	saveCallCount int
	loadCallCount int
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{
		results: make(map[string]*AccountResult),
	}
}

func (m *MockStorage) SaveRun(accountID string, transactionCount int, matches []models.Match) error {
	if m.saveError != nil {
		return m.saveError
	}
	now := time.Now()
	m.results[accountID] = &AccountResult{
		AccountID:        accountID,
		ReconciledAt:     now,
		TransactionCount: transactionCount,
		Matches:          append([]models.Match{}, matches...),
	}
	m.history = append(m.history, RunRecord{
		RunAt:            now,
		AccountID:        accountID,
		TransactionCount: transactionCount,
		MatchCount:       len(matches),
	})
	return nil
}

func (m *MockStorage) LatestRun(accountID string) (*AccountResult, error) {
	result, ok := m.results[accountID]
	if !ok {
		return nil, ErrNoRun
	}
	return result, nil
}

func (m *MockStorage) MatchByID(id string) (models.Match, bool) {
	for _, result := range m.results {
		for i := range result.Matches {
			if result.Matches[i].ID == id {
				return result.Matches[i], true
			}
		}
	}
	return models.Match{}, false
}

func (m *MockStorage) Accounts() []string {
	accounts := make([]string, 0, len(m.results))
	for id := range m.results {
		accounts = append(accounts, id)
	}
	return accounts
}

func (m *MockStorage) Save() error {
	m.saveCallCount++
	return m.saveError
}

func (m *MockStorage) Load() error {
	m.loadCallCount++
	return m.loadError
}

func (m *MockStorage) RunHistory() []RunRecord {
	return append([]RunRecord{}, m.history...)
}

func (m *MockStorage) GetStatistics() *Statistics {
	stats := &Statistics{
		TotalRuns:    len(m.history),
		ByStrategy:   make(map[models.StrategyType]int),
		ByConfidence: make(map[models.Confidence]int),
	}
	for _, result := range m.results {
		for i := range result.Matches {
			match := &result.Matches[i]
			stats.TotalMatches++
			stats.ByStrategy[match.Strategy]++
			stats.ByConfidence[match.Confidence]++
			if match.Roll {
				stats.RollCount++
			}
			if match.HasFlag(models.FlagManualReview) {
				stats.ManualReviewCount++
			}
		}
	}
	return stats
}

// SetSaveError makes subsequent writes fail, for error-path tests.
func (m *MockStorage) SetSaveError(err error) { m.saveError = err }

// SetLoadError makes subsequent loads fail, for error-path tests.
func (m *MockStorage) SetLoadError(err error) { m.loadError = err }

var _ Interface = (*MockStorage)(nil)
