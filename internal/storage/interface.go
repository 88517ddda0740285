package storage

import "github.com/eddiefleurent/mifflin_matcher/internal/models"

// Interface defines the contract for reconciliation result persistence.
//
// Implementations must be safe for concurrent use - callers can assume all
// methods are goroutine-safe and can safely call them from multiple
// goroutines.
//
// The provided JSONStorage implementation uses sync.RWMutex to serialize
// access, ensuring all Interface methods are protected for concurrent
// readers and writers.
type Interface interface {
	// Run results
	SaveRun(accountID string, transactionCount int, matches []models.Match) error
	LatestRun(accountID string) (*AccountResult, error)
	MatchByID(id string) (models.Match, bool)
	Accounts() []string

	// Data persistence
	Save() error
	Load() error

	// Historical data and analytics
	RunHistory() []RunRecord
	GetStatistics() *Statistics
}

// NewStorage creates a new storage implementation (currently JSON-based).
// In the future, this can be extended to support different storage backends.
func NewStorage(filepath string) (Interface, error) {
	return NewJSONStorage(filepath)
}

// Ensure JSONStorage implements Interface
var _ Interface = (*JSONStorage)(nil)
