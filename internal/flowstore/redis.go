package flowstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

const (
	flowKeyPrefix = "repurpose:flow:"
	flowListKey   = "repurpose:flows"
)

// RedisStore implements FlowStore using Redis.
type RedisStore struct {
	client *redis.Client
	owned  bool
}

// NewRedisStore creates a new Redis-backed flow store.
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client, owned: true}, nil
}

// NewRedisStoreWithClient creates a store using an existing Redis client.
// Close does not close a shared client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) flowKey(id string) string {
	return flowKeyPrefix + id
}

func (s *RedisStore) save(ctx context.Context, flow *Flow) error {
	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("marshal flow: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.flowKey(flow.ID), data, 0)
	pipe.SAdd(ctx, flowListKey, flow.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save flow: %w", err)
	}
	return nil
}

// Create saves a new flow. SETNX on the key guards against concurrent creators.
func (s *RedisStore) Create(ctx context.Context, req *CreateFlowRequest) (*Flow, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	flow := newFlow(req)
	data, err := json.Marshal(flow)
	if err != nil {
		return nil, fmt.Errorf("marshal flow: %w", err)
	}
	created, err := s.client.SetNX(ctx, s.flowKey(flow.ID), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("create flow: %w", err)
	}
	if !created {
		return nil, ErrFlowExists
	}
	if err := s.client.SAdd(ctx, flowListKey, flow.ID).Err(); err != nil {
		return nil, fmt.Errorf("index flow: %w", err)
	}
	return flow, nil
}

// Get retrieves a flow by ID.
func (s *RedisStore) Get(ctx context.Context, id string) (*Flow, error) {
	data, err := s.client.Get(ctx, s.flowKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrFlowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flow: %w", err)
	}

	var flow Flow
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("unmarshal flow: %w", err)
	}
	return &flow, nil
}

// Update modifies an existing flow. Last writer wins.
func (s *RedisStore) Update(ctx context.Context, id string, req *UpdateFlowRequest) (*Flow, error) {
	flow, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyUpdate(flow, req); err != nil {
		return nil, err
	}
	if err := s.save(ctx, flow); err != nil {
		return nil, err
	}
	return flow, nil
}

// Delete removes a flow.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.flowKey(id))
	pipe.SRem(ctx, flowListKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	if del.Val() == 0 {
		return ErrFlowNotFound
	}
	return nil
}

// List returns all flows matching the options.
func (s *RedisStore) List(ctx context.Context, opts *ListOptions) ([]*Flow, error) {
	ids, err := s.client.SMembers(ctx, flowListKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list flow ids: %w", err)
	}

	flows := make([]*Flow, 0, len(ids))
	for _, id := range ids {
		flow, err := s.Get(ctx, id)
		if errors.Is(err, ErrFlowNotFound) {
			// Stale index entry.
			s.client.SRem(ctx, flowListKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		flows = append(flows, flow)
	}
	return page(flows, opts), nil
}

// Lookup returns the graph saved under name.
func (s *RedisStore) Lookup(ctx context.Context, name string) (types.StageGraph, error) {
	f, err := s.Get(ctx, name)
	if err != nil {
		return types.StageGraph{}, err
	}
	return f.Graph, nil
}

// Close releases the Redis connection when the store opened it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
