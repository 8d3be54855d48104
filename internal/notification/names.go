package notification

import (
	"context"
	"sync"

	"github.com/firewatch/dashboard/internal/repository"
	"github.com/google/uuid"
)

// RepoNameResolver resolves location names from the location store and
// caches the hits.
type RepoNameResolver struct {
	repo  repository.LocationRepo
	mu    sync.RWMutex
	cache map[uuid.UUID]string
}

func NewRepoNameResolver(repo repository.LocationRepo) *RepoNameResolver {
	return &RepoNameResolver{repo: repo, cache: make(map[uuid.UUID]string)}
}

func (r *RepoNameResolver) LocationName(ctx context.Context, id uuid.UUID) (string, error) {
	r.mu.RLock()
	name, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return name, nil
	}

	location, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[id] = location.Name
	r.mu.Unlock()
	return location.Name, nil
}
