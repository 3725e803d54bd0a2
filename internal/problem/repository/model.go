package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"solveq/internal/common/cache"
	"solveq/internal/common/db"
	"solveq/internal/problem/model"
)

const (
	defaultModelTTL      = 30 * time.Minute
	defaultModelEmptyTTL = 5 * time.Minute
	modelKeyPrefix       = "model:"
)

var ErrModelNotFound = errors.New("model not found")

// ModelRepository reads solver models. Prices are read on every settlement,
// so lookups go through the cache when one is configured.
type ModelRepository interface {
	Get(ctx context.Context, modelID int64) (*model.Model, error)
	InvalidateCache(ctx context.Context, modelID int64) error
}

type SQLModelRepository struct {
	db       db.Database
	cache    cache.BasicOps
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewModelRepository creates a repository. cacheClient may be nil.
func NewModelRepository(database db.Database, cacheClient cache.BasicOps) ModelRepository {
	return NewModelRepositoryWithTTL(database, cacheClient, defaultModelTTL, defaultModelEmptyTTL)
}

func NewModelRepositoryWithTTL(database db.Database, cacheClient cache.BasicOps, ttl, emptyTTL time.Duration) ModelRepository {
	if ttl <= 0 {
		ttl = defaultModelTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultModelEmptyTTL
	}
	return &SQLModelRepository{db: database, cache: cacheClient, ttl: ttl, emptyTTL: emptyTTL}
}

func (r *SQLModelRepository) Get(ctx context.Context, modelID int64) (*model.Model, error) {
	if r.cache == nil {
		return r.getFromDB(ctx, modelID)
	}
	m, err := cache.GetWithCached[model.Model](
		ctx,
		r.cache,
		modelKey(modelID),
		r.ttl,
		r.emptyTTL,
		func(m model.Model) bool { return m.ID == 0 },
		marshalModel,
		unmarshalModel,
		func(ctx context.Context) (model.Model, error) {
			found, err := r.getFromDB(ctx, modelID)
			if err != nil {
				if errors.Is(err, ErrModelNotFound) {
					return model.Model{}, nil
				}
				return model.Model{}, err
			}
			return *found, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if m.ID == 0 {
		return nil, ErrModelNotFound
	}
	return &m, nil
}

func (r *SQLModelRepository) InvalidateCache(ctx context.Context, modelID int64) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Del(ctx, modelKey(modelID))
}

func (r *SQLModelRepository) getFromDB(ctx context.Context, modelID int64) (*model.Model, error) {
	var m model.Model
	err := r.db.QueryRow(ctx, "SELECT id, name, price FROM models WHERE id = ?", modelID).Scan(&m.ID, &m.Name, &m.Price)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrModelNotFound
		}
		return nil, err
	}
	return &m, nil
}

func modelKey(modelID int64) string {
	return modelKeyPrefix + strconv.FormatInt(modelID, 10)
}

func marshalModel(m model.Model) string {
	payload, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalModel(data string) (model.Model, error) {
	var m model.Model
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return model.Model{}, err
	}
	return m, nil
}
