package storage

import (
	"errors"
	"sort"
	"sync"
	"time"

	"parkinson-voice/pkg/models"
)

var (
	ErrRequestNotFound = errors.New("request not found")
	ErrRecordNotFound  = errors.New("record not found")
)

// StatusStore tracks requests in flight. Returned values are copies.
type StatusStore interface {
	Put(status *models.RequestStatus) error
	Get(id string) (*models.RequestStatus, error)
	Update(id string, status models.Status, errMsg string) error
	SetResult(id string, res *models.FusionResult) error
	UserRequests(userID string) ([]*models.RequestStatus, error)
	// Prune drops terminal entries last updated before cutoff.
	Prune(cutoff time.Time) int
}

type memoryStore struct {
	requests map[string]*models.RequestStatus
	mu       sync.RWMutex
}

func NewMemoryStore() StatusStore {
	return &memoryStore{
		requests: make(map[string]*models.RequestStatus),
	}
}

func clone(s *models.RequestStatus) *models.RequestStatus {
	c := *s
	if s.Result != nil {
		r := *s.Result
		r.PCAFeatures = append([]float64(nil), s.Result.PCAFeatures...)
		c.Result = &r
	}
	return &c
}

func (s *memoryStore) Put(status *models.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := clone(status)
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	s.requests[status.ID] = c
	return nil
}

func (s *memoryStore) Get(id string) (*models.RequestStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, exists := s.requests[id]
	if !exists {
		return nil, ErrRequestNotFound
	}
	return clone(status), nil
}

func (s *memoryStore) Update(id string, status models.Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.requests[id]
	if !exists {
		return ErrRequestNotFound
	}
	// Terminal states are final.
	if r.Status.Terminal() {
		return nil
	}
	r.Status = status
	r.Error = errMsg
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryStore) SetResult(id string, res *models.FusionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.requests[id]
	if !exists {
		return ErrRequestNotFound
	}
	c := *res
	r.Result = &c
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryStore) UserRequests(userID string) ([]*models.RequestStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.RequestStatus
	for _, r := range s.requests {
		if r.UserID == userID {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *memoryStore) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, r := range s.requests {
		if r.Status.Terminal() && r.UpdatedAt.Before(cutoff) {
			delete(s.requests, id)
			n++
		}
	}
	return n
}
