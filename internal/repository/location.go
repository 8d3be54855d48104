package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/firewatch/dashboard/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrLocationNotFound is returned when no location has the requested id
var ErrLocationNotFound = errors.New("location not found")

// LocationRepo reads monitored locations
type LocationRepo interface {
	Create(ctx context.Context, location *models.Location) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Location, error)
	List(ctx context.Context) ([]*models.Location, error)
}

type InMemoryLocationRepo struct {
	locations map[uuid.UUID]*models.Location
	mu        sync.RWMutex
}

func NewInMemoryLocationRepo() *InMemoryLocationRepo {
	return &InMemoryLocationRepo{locations: make(map[uuid.UUID]*models.Location)}
}

func (r *InMemoryLocationRepo) Create(ctx context.Context, location *models.Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if location.ID == uuid.Nil {
		location.ID = uuid.New()
	}
	copied := *location
	r.locations[location.ID] = &copied
	return nil
}

func (r *InMemoryLocationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	location, ok := r.locations[id]
	if !ok {
		return nil, ErrLocationNotFound
	}
	copied := *location
	return &copied, nil
}

func (r *InMemoryLocationRepo) List(ctx context.Context) ([]*models.Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*models.Location, 0, len(r.locations))
	for _, location := range r.locations {
		copied := *location
		list = append(list, &copied)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

type PostgresLocationRepo struct {
	db *gorm.DB
}

func NewPostgresLocationRepo(db *gorm.DB) *PostgresLocationRepo {
	return &PostgresLocationRepo{db: db}
}

func (r *PostgresLocationRepo) Create(ctx context.Context, location *models.Location) error {
	return r.db.WithContext(ctx).Create(location).Error
}

func (r *PostgresLocationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	var location models.Location
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&location).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLocationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &location, nil
}

func (r *PostgresLocationRepo) List(ctx context.Context) ([]*models.Location, error) {
	var locations []*models.Location
	err := r.db.WithContext(ctx).Order("name ASC").Find(&locations).Error
	return locations, err
}
