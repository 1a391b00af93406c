package history

import (
	"sync"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/nc-ai-qqbot-go/internal/config"
	"github.com/nc-ai-qqbot-go/internal/models"
)

// Store keeps per-group conversation turns in memory. Storage is unbounded
// per group; callers bound what they read via Recent. Idle groups expire
// wholesale after the configured expiration, and everything is lost on
// restart, which is intentional.
type Store struct {
	turns  *cache.Cache
	mu     sync.Mutex
	logger *logrus.Logger
}

// NewStore creates a history store.
func NewStore(cfg *config.MemoryConfig, logger *logrus.Logger) *Store {
	return &Store{
		turns:  cache.New(cfg.DefaultExpiration, cfg.CleanupInterval),
		logger: logger,
	}
}

// Append adds one turn to the group's ordered sequence.
func (s *Store) Append(scopeKey, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var turns []models.Turn
	if v, found := s.turns.Get(scopeKey); found {
		turns = v.([]models.Turn)
	}
	turns = append(turns, models.Turn{Role: role, Content: content})
	s.turns.SetDefault(scopeKey, turns)
}

// Recent returns the last limit turns in insertion order, fewer if the
// history is shorter. Storage is not mutated.
func (s *Store) Recent(scopeKey string, limit int) []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, found := s.turns.Get(scopeKey)
	if !found {
		return nil
	}
	turns := v.([]models.Turn)
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	out := make([]models.Turn, len(turns))
	copy(out, turns)
	return out
}

// Clear removes all turns for the group.
func (s *Store) Clear(scopeKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns.Delete(scopeKey)
	if s.logger != nil {
		s.logger.WithField("scope", scopeKey).Debug("History cleared")
	}
}
