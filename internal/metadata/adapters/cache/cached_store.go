package cache

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"time"

	"github.com/execledger/execledger/internal/domain/metadata"
	"github.com/execledger/execledger/internal/metadata/ports"
	"github.com/execledger/execledger/pkg/cache"
	"github.com/execledger/execledger/pkg/logger"
)

const DefaultTTL = 5 * time.Minute

// CachedStore wraps a MetadataStore with a read-through execution cache.
// Cache errors are logged and never fail the underlying call.
type CachedStore struct {
	ports.MetadataStore

	cache  cache.Cache
	keys   *cache.KeyBuilder
	ttl    time.Duration
	logger logger.Logger
}

var _ ports.MetadataStore = (*CachedStore)(nil)

func NewCachedStore(store ports.MetadataStore, c cache.Cache, ttl time.Duration, log logger.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedStore{
		MetadataStore: store,
		cache:         c,
		keys:          cache.NewKeyBuilder("execution"),
		ttl:           ttl,
		logger:        log.Named("execution-cache"),
	}
}

// GetExecutionsByID serves cached executions and loads the rest from the store
func (s *CachedStore) GetExecutionsByID(ctx context.Context, ids []int64) ([]*metadata.Execution, error) {
	found := make(map[int64]*metadata.Execution, len(ids))
	var missing []int64

	for _, id := range ids {
		var execution metadata.Execution
		err := s.cache.Get(ctx, s.key(id), &execution)
		if err == nil {
			found[id] = &execution
			continue
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("Execution cache read failed", "executionId", id, "error", err)
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		loaded, err := s.MetadataStore.GetExecutionsByID(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, execution := range loaded {
			found[execution.ID] = execution
			s.store(ctx, execution)
		}
	}

	// keep the store's id order and drop unknown ids
	executions := make([]*metadata.Execution, 0, len(found))
	seen := make(map[int64]bool, len(found))
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	for _, id := range sorted {
		if execution, ok := found[id]; ok && !seen[id] {
			executions = append(executions, execution)
			seen[id] = true
		}
	}
	return executions, nil
}

func (s *CachedStore) PutExecution(ctx context.Context, req ports.PutExecutionRequest) (*metadata.Execution, error) {
	execution, err := s.MetadataStore.PutExecution(ctx, req)
	if err != nil {
		if req.Execution != nil && req.Execution.ID != 0 {
			s.evict(ctx, req.Execution.ID)
		}
		return nil, err
	}
	s.store(ctx, execution)
	return execution, nil
}

func (s *CachedStore) PutExecutions(ctx context.Context, req ports.PutExecutionsRequest) ([]*metadata.Execution, error) {
	executions, err := s.MetadataStore.PutExecutions(ctx, req)
	if err != nil {
		for _, execution := range req.Executions {
			if execution != nil && execution.ID != 0 {
				s.evict(ctx, execution.ID)
			}
		}
		return nil, err
	}
	for _, execution := range executions {
		s.store(ctx, execution)
	}
	return executions, nil
}

func (s *CachedStore) store(ctx context.Context, execution *metadata.Execution) {
	if err := s.cache.Set(ctx, s.key(execution.ID), execution, s.ttl); err != nil {
		s.logger.Warn("Execution cache write failed", "executionId", execution.ID, "error", err)
	}
}

func (s *CachedStore) evict(ctx context.Context, id int64) {
	if err := s.cache.Delete(ctx, s.key(id)); err != nil {
		s.logger.Warn("Execution cache eviction failed", "executionId", id, "error", err)
	}
}

func (s *CachedStore) key(id int64) string {
	return s.keys.Build(strconv.FormatInt(id, 10))
}
