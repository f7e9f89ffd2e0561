package llm

import (
	"sync"

	"dev.helix.router/internal/models"
)

// HistoryStore keeps the process-lifetime record of attempts and
// successes per provider. Entries are created on first outcome, updated
// in place and never evicted or persisted; a restart starts cold.
//
// The router reads it while scoring and writes it after every executed
// call. No other component touches it.
type HistoryStore struct {
	mu      sync.RWMutex
	entries map[string]*models.ProviderPerformance
}

// NewHistoryStore returns an empty store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{
		entries: make(map[string]*models.ProviderPerformance),
	}
}

// Record counts one attempt for the provider and recomputes its success
// rate as successful/total.
func (s *HistoryStore) Record(provider string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[provider]
	if !ok {
		entry = &models.ProviderPerformance{}
		s.entries[provider] = entry
	}
	entry.TotalRequests++
	if success {
		entry.SuccessfulRequests++
	}
	entry.SuccessRate = float64(entry.SuccessfulRequests) / float64(entry.TotalRequests)
}

// Get returns the entry for a provider. The second return is false when
// no outcome has been recorded yet.
func (s *HistoryStore) Get(provider string) (models.ProviderPerformance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[provider]
	if !ok {
		return models.ProviderPerformance{}, false
	}
	return *entry, true
}

// Snapshot copies every entry for reporting.
func (s *HistoryStore) Snapshot() map[string]models.ProviderPerformance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.ProviderPerformance, len(s.entries))
	for name, entry := range s.entries {
		out[name] = *entry
	}
	return out
}
