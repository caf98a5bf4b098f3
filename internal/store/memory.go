package store

import (
	"context"
	"sync"
	"time"

	"github.com/QuincyvanDeursen/diceonline/internal/models"
	"github.com/sirupsen/logrus"
)

// MemoryStore keeps lobbies in process memory. Documents are copied on the way in and
// out, so callers never share slices with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*models.Lobby
	byCode map[string]string // code -> id of the most recent insert
	ttl    time.Duration
	now    func() time.Time
	logger logrus.FieldLogger
}

// NewMemoryStore creates an empty store. now may be nil, in which case time.Now is used.
func NewMemoryStore(ttl time.Duration, now func() time.Time, logger logrus.FieldLogger) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MemoryStore{
		byID:   make(map[string]*models.Lobby),
		byCode: make(map[string]string),
		ttl:    ttl,
		now:    now,
		logger: logger,
	}
}

func (s *MemoryStore) FindByCode(ctx context.Context, code string) (*models.Lobby, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	l, ok := s.byID[id]
	if !ok || l.ExpiredAt(s.now(), s.ttl) {
		return nil, ErrNotFound
	}
	return l.Clone(), nil
}

func (s *MemoryStore) Insert(ctx context.Context, l *models.Lobby) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[l.ID]; exists {
		return ErrDuplicateID
	}
	s.byID[l.ID] = l.Clone()
	s.byCode[l.Code] = l.ID
	return nil
}

func (s *MemoryStore) ReplaceByID(ctx context.Context, l *models.Lobby) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[l.ID]; !exists {
		return ErrNotFound
	}
	s.byID[l.ID] = l.Clone()
	s.byCode[l.Code] = l.ID
	return nil
}

func (s *MemoryStore) DeleteByID(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(id)
	return nil
}

func (s *MemoryStore) deleteLocked(id string) {
	l, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	if s.byCode[l.Code] == id {
		delete(s.byCode, l.Code)
	}
}

// Len reports how many documents are held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// EvictExpired removes every document whose updatedAt is past the TTL at now.
func (s *MemoryStore) EvictExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, l := range s.byID {
		if l.ExpiredAt(now, s.ttl) {
			s.deleteLocked(id)
			evicted++
		}
	}
	return evicted
}

// Run evicts expired documents every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictExpired(s.now()); n > 0 {
				s.logger.WithField("evicted", n).Debug("memory store: evicted expired lobbies")
			}
		}
	}
}
