package kb

import (
	"context"
	"sync"

	"github.com/BaSui01/surveyflow/types"
)

// memoryPartition is the per-URL record set. It only grows within a task;
// Wipe discards the whole partition.
type memoryPartition struct {
	mu           sync.Mutex
	experiences  []types.ScoutExperience
	intelligence *types.QuestionnaireIntelligence
}

// MemoryStore is the in-process ephemeral backend.
type MemoryStore struct {
	mu         sync.Mutex
	partitions map[string]*memoryPartition
	closed     bool
}

// NewMemoryStore creates an empty in-memory ephemeral store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{partitions: make(map[string]*memoryPartition)}
}

// partition returns the record set for a URL, creating it on first use.
func (s *MemoryStore) partition(urlKey string) (*memoryPartition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	p, ok := s.partitions[urlKey]
	if !ok {
		p = &memoryPartition{}
		s.partitions[urlKey] = p
	}
	return p, nil
}

// RecordExperience implements EphemeralStore.
func (s *MemoryStore) RecordExperience(_ context.Context, urlKey string, exp types.ScoutExperience) error {
	p, err := s.partition(urlKey)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.experiences = append(p.experiences, exp.Clone())
	return nil
}

// ExperiencesFor implements EphemeralStore.
func (s *MemoryStore) ExperiencesFor(_ context.Context, urlKey string) ([]types.ScoutExperience, error) {
	p, err := s.partition(urlKey)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.ScoutExperience, 0, len(p.experiences))
	for _, e := range p.experiences {
		out = append(out, e.Clone())
	}
	return out, nil
}

// RecordIntelligence implements EphemeralStore. Latest writer wins.
func (s *MemoryStore) RecordIntelligence(_ context.Context, urlKey string, qi types.QuestionnaireIntelligence) error {
	p, err := s.partition(urlKey)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := qi
	p.intelligence = &copied
	return nil
}

// IntelligenceFor implements EphemeralStore.
func (s *MemoryStore) IntelligenceFor(_ context.Context, urlKey string) (types.QuestionnaireIntelligence, error) {
	p, err := s.partition(urlKey)
	if err != nil {
		return types.QuestionnaireIntelligence{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.intelligence == nil {
		return types.QuestionnaireIntelligence{}, ErrNotFound
	}
	return *p.intelligence, nil
}

// Wipe implements EphemeralStore. A second wipe for the same URL is a no-op.
func (s *MemoryStore) Wipe(_ context.Context, urlKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.partitions, urlKey)
	return nil
}

// Close implements EphemeralStore.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.partitions = make(map[string]*memoryPartition)
	return nil
}
