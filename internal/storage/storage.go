package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/eddiefleurent/mifflin_matcher/internal/models"
)

// JSONStorage persists reconciliation results to a single JSON file. Each
// run for an account fully replaces that account's previous result set;
// run history accumulates.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *storageData
}

type storageData struct {
	Results     map[string]*AccountResult `json:"results"`
	History     []RunRecord               `json:"history"`
	LastUpdated time.Time                 `json:"last_updated"`
}

// AccountResult is the latest reconciliation output for one account.
type AccountResult struct {
	AccountID        string         `json:"account_id"`
	ReconciledAt     time.Time      `json:"reconciled_at"`
	TransactionCount int            `json:"transaction_count"`
	Matches          []models.Match `json:"matches"`
}

// RunRecord is one line of run history.
type RunRecord struct {
	RunAt            time.Time `json:"run_at"`
	AccountID        string    `json:"account_id"`
	TransactionCount int       `json:"transaction_count"`
	MatchCount       int       `json:"match_count"`
}

// Statistics aggregates across the latest results of every account.
type Statistics struct {
	TotalRuns         int                         `json:"total_runs"`
	TotalMatches      int                         `json:"total_matches"`
	ByStrategy        map[models.StrategyType]int `json:"by_strategy"`
	ByConfidence      map[models.Confidence]int   `json:"by_confidence"`
	RollCount         int                         `json:"roll_count"`
	ManualReviewCount int                         `json:"manual_review_count"`
	LastRunAt         time.Time                   `json:"last_run_at"`
}

// NewJSONStorage creates a JSON-backed store, loading existing data when
// the file already exists.
func NewJSONStorage(filepath string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: filepath,
		data: &storageData{
			Results: make(map[string]*AccountResult),
		},
	}

	if _, err := os.Stat(filepath); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}
	return s, nil
}

// Load reads the backing file into memory, replacing current state.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	loaded := &storageData{}
	if err := json.Unmarshal(data, loaded); err != nil {
		return err
	}
	if loaded.Results == nil {
		loaded.Results = make(map[string]*AccountResult)
	}
	s.data = loaded
	return nil
}

// Save writes the current state atomically: temp file then rename.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpFile, s.filepath)
}

// SaveRun replaces the account's result set with the given matches and
// appends a history record.
func (s *JSONStorage) SaveRun(accountID string, transactionCount int, matches []models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.data.Results[accountID] = &AccountResult{
		AccountID:        accountID,
		ReconciledAt:     now,
		TransactionCount: transactionCount,
		Matches:          append([]models.Match{}, matches...),
	}
	s.data.History = append(s.data.History, RunRecord{
		RunAt:            now,
		AccountID:        accountID,
		TransactionCount: transactionCount,
		MatchCount:       len(matches),
	})
	return s.saveLocked()
}

// LatestRun returns the most recent result set for an account.
func (s *JSONStorage) LatestRun(accountID string) (*AccountResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.data.Results[accountID]
	if !ok {
		return nil, ErrNoRun
	}
	out := *result
	out.Matches = append([]models.Match{}, result.Matches...)
	return &out, nil
}

// MatchByID scans every account's latest results for the match id.
func (s *JSONStorage) MatchByID(id string) (models.Match, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, result := range s.data.Results {
		for i := range result.Matches {
			if result.Matches[i].ID == id {
				return result.Matches[i], true
			}
		}
	}
	return models.Match{}, false
}

// Accounts lists every account with a stored result.
func (s *JSONStorage) Accounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]string, 0, len(s.data.Results))
	for id := range s.data.Results {
		accounts = append(accounts, id)
	}
	return accounts
}

// RunHistory returns every recorded run, oldest first.
func (s *JSONStorage) RunHistory() []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RunRecord{}, s.data.History...)
}

// GetStatistics aggregates over the latest results of every account.
func (s *JSONStorage) GetStatistics() *Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Statistics{
		TotalRuns:    len(s.data.History),
		ByStrategy:   make(map[models.StrategyType]int),
		ByConfidence: make(map[models.Confidence]int),
	}
	for _, record := range s.data.History {
		if record.RunAt.After(stats.LastRunAt) {
			stats.LastRunAt = record.RunAt
		}
	}
	for _, result := range s.data.Results {
		for i := range result.Matches {
			m := &result.Matches[i]
			stats.TotalMatches++
			stats.ByStrategy[m.Strategy]++
			stats.ByConfidence[m.Confidence]++
			if m.Roll {
				stats.RollCount++
			}
			if m.HasFlag(models.FlagManualReview) {
				stats.ManualReviewCount++
			}
		}
	}
	return stats
}
