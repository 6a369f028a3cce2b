package repository

import (
	"context"
	"sort"
	"sync"

	"judgebox/internal/progress/model"
)

type memoryKey struct {
	userID    string
	problemID string
}

// MemoryProgressRepository keeps progress in process memory.
type MemoryProgressRepository struct {
	mu           sync.Mutex
	records      map[memoryKey]model.Progress
	history      map[memoryKey][]model.Attempt
	historyLimit int
}

func NewMemoryProgressRepository(historyLimit int) *MemoryProgressRepository {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &MemoryProgressRepository{
		records:      make(map[memoryKey]model.Progress),
		history:      make(map[memoryKey][]model.Attempt),
		historyLimit: historyLimit,
	}
}

func (r *MemoryProgressRepository) Get(_ context.Context, userID, problemID string) (*model.Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(userID, problemID), nil
}

func (r *MemoryProgressRepository) Update(_ context.Context, userID, problemID string, fn func(p *model.Progress) error) (*model.Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.load(userID, problemID)
	if err := fn(p); err != nil {
		return nil, err
	}
	r.records[memoryKey{userID, problemID}] = *p
	return p, nil
}

func (r *MemoryProgressRepository) AppendAttempt(_ context.Context, userID, problemID string, attempt model.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memoryKey{userID, problemID}
	list := append([]model.Attempt{attempt}, r.history[key]...)
	if len(list) > r.historyLimit {
		list = list[:r.historyLimit]
	}
	r.history[key] = list
	return nil
}

func (r *MemoryProgressRepository) ListAttempts(_ context.Context, userID, problemID string) ([]model.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Attempt(nil), r.history[memoryKey{userID, problemID}]...), nil
}

func (r *MemoryProgressRepository) ListProblems(_ context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for key := range r.records {
		if key.userID == userID {
			ids = append(ids, key.problemID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryProgressRepository) load(userID, problemID string) *model.Progress {
	if p, ok := r.records[memoryKey{userID, problemID}]; ok {
		return &p
	}
	return model.New(userID, problemID)
}
