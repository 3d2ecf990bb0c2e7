package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// RedisStore implements Store backed by Redis.
// States are JSON strings; events use Redis Streams so subscribers on any
// instance see them.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	ttl       time.Duration
	maxEvents int64
	mu        sync.Mutex
	closed    bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (redis://host:port/db)
	URL string

	// Password for Redis authentication
	Password string

	// DB is the database number
	DB int

	// Prefix for all keys (default: "workflows")
	Prefix string

	// TTL for workflow data (default: 7 days)
	TTL time.Duration

	// EventMaxLen caps each event stream (approximate trimming)
	EventMaxLen int64

	// Connection pool settings
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		URL:          "redis://localhost:6379/0",
		Prefix:       "workflows",
		TTL:          7 * 24 * time.Hour,
		EventMaxLen:  5000,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisStore creates a new Redis-backed Store.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	opts := &redis.Options{
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Password:     cfg.Password,
		DB:           cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts.Addr = parsed.Addr
		if parsed.Password != "" && cfg.Password == "" {
			opts.Password = parsed.Password
		}
		if parsed.DB != 0 && cfg.DB == 0 {
			opts.DB = parsed.DB
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	s := NewRedisStoreFromClient(client, cfg.Prefix, cfg.TTL)
	if cfg.EventMaxLen > 0 {
		s.maxEvents = cfg.EventMaxLen
	}
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "workflows"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, maxEvents: 5000}
}

// Key helpers
func (s *RedisStore) keyState(id string) string  { return fmt.Sprintf("%s:%s:state", s.prefix, id) }
func (s *RedisStore) keyEvents(id string) string { return fmt.Sprintf("%s:%s:events", s.prefix, id) }
func (s *RedisStore) keySeq(id string) string    { return fmt.Sprintf("%s:%s:seq", s.prefix, id) }

// setTTL refreshes TTL on all keys for a workflow.
func (s *RedisStore) setTTL(ctx context.Context, id string) {
	if s.ttl <= 0 {
		return
	}
	pipe := s.client.Pipeline()
	pipe.Expire(ctx, s.keyState(id), s.ttl)
	pipe.Expire(ctx, s.keyEvents(id), s.ttl)
	pipe.Expire(ctx, s.keySeq(id), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("failed to set TTL for workflow", slog.String("workflow_id", id), slog.Any("error", err))
	}
}

func (s *RedisStore) SaveState(ctx context.Context, st *types.PipelineState) error {
	if st == nil || st.WorkflowID == "" {
		return fmt.Errorf("save state: workflow id is required")
	}
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, s.keyState(st.WorkflowID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadState(ctx context.Context, workflowID string) (*types.PipelineState, error) {
	b, err := s.client.Get(ctx, s.keyState(workflowID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	var st types.PipelineState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &st, nil
}

func (s *RedisStore) ListStates(ctx context.Context, opts *ListOptions) ([]types.Summary, error) {
	pattern := fmt.Sprintf("%s:*:state", s.prefix)
	var (
		all    []types.Summary
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan workflows: %w", err)
		}
		if len(keys) > 0 {
			vals, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("mget workflows: %w", err)
			}
			for _, v := range vals {
				raw, ok := v.(string)
				if !ok {
					continue
				}
				var st types.PipelineState
				if json.Unmarshal([]byte(raw), &st) == nil {
					all = append(all, st.Summarize())
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return filterSummaries(all, opts), nil
}

func (s *RedisStore) AppendEvent(ctx context.Context, workflowID string, input *types.EventInput) (*types.Event, error) {
	exists, err := s.client.Exists(ctx, s.keyState(workflowID)).Result()
	if err != nil {
		return nil, fmt.Errorf("check workflow exists: %w", err)
	}
	if exists == 0 {
		return nil, ErrWorkflowNotFound
	}

	seq, err := s.client.Incr(ctx, s.keySeq(workflowID)).Result()
	if err != nil {
		return nil, fmt.Errorf("incr seq: %w", err)
	}

	dataBytes, err := json.Marshal(input.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	now := time.Now().UTC()
	event := &types.Event{
		ID:         strconv.FormatInt(seq, 10),
		WorkflowID: workflowID,
		Type:       input.Type,
		Stage:      input.Stage,
		Agent:      input.Agent,
		Timestamp:  now,
		Data:       dataBytes,
	}

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.keyEvents(workflowID),
		MaxLen: s.maxEvents,
		Approx: true,
		Values: map[string]any{
			"seq":   event.ID,
			"ts":    now.Format(time.RFC3339Nano),
			"type":  string(input.Type),
			"stage": input.Stage,
			"agent": input.Agent,
			"data":  string(dataBytes),
		},
	}).Err(); err != nil {
		return nil, fmt.Errorf("xadd: %w", err)
	}

	s.setTTL(ctx, workflowID)
	return event, nil
}

func (s *RedisStore) decodeEntry(workflowID string, msg redis.XMessage) *types.Event {
	str := func(k string) string {
		v, _ := msg.Values[k].(string)
		return v
	}
	ts, _ := time.Parse(time.RFC3339Nano, str("ts"))
	return &types.Event{
		ID:         str("seq"),
		WorkflowID: workflowID,
		Type:       types.EventType(str("type")),
		Stage:      str("stage"),
		Agent:      str("agent"),
		Timestamp:  ts,
		Data:       json.RawMessage(str("data")),
	}
}

func (s *RedisStore) GetEventsSince(ctx context.Context, workflowID, lastEventID string) ([]*types.Event, error) {
	entries, err := s.client.XRange(ctx, s.keyEvents(workflowID), "-", "+").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*types.Event{}, nil
		}
		return nil, fmt.Errorf("xrange: %w", err)
	}

	var lastSeq int64
	if lastEventID != "" {
		lastSeq, _ = strconv.ParseInt(lastEventID, 10, 64)
	}

	events := make([]*types.Event, 0, len(entries))
	for _, entry := range entries {
		evt := s.decodeEntry(workflowID, entry)
		if seq, _ := strconv.ParseInt(evt.ID, 10, 64); seq <= lastSeq {
			continue
		}
		events = append(events, evt)
	}
	return events, nil
}

// Subscribe tails the workflow's stream. The reader goroutine owns the
// channel and closes it on stream_end, context cancellation or cleanup.
func (s *RedisStore) Subscribe(ctx context.Context, workflowID string) (<-chan *types.Event, func(), error) {
	exists, err := s.client.Exists(ctx, s.keyState(workflowID)).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("check workflow exists: %w", err)
	}
	if exists == 0 {
		return nil, nil, ErrWorkflowNotFound
	}

	// Pin the start position now so events appended before the reader's
	// first XREAD are not lost.
	startID := "0-0"
	last, err := s.client.XRevRangeN(ctx, s.keyEvents(workflowID), "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, fmt.Errorf("xrevrange: %w", err)
	}
	if len(last) > 0 {
		if s.decodeEntry(workflowID, last[0]).Type == types.EventTypeStreamEnd {
			ch := make(chan *types.Event)
			close(ch)
			return ch, func() {}, nil
		}
		startID = last[0].ID
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan *types.Event, 100)
	go s.streamReader(ctx, workflowID, startID, ch)
	return ch, cancel, nil
}

// streamReader reads from the Redis Stream and pushes to ch.
func (s *RedisStore) streamReader(ctx context.Context, workflowID, lastID string, ch chan *types.Event) {
	defer close(ch)

	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.keyEvents(workflowID), lastID},
			Count:   10,
			Block:   time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			// On error, wait briefly then retry
			select {
			case <-time.After(100 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				lastID = entry.ID
				event := s.decodeEntry(workflowID, entry)

				select {
				case ch <- event:
				case <-ctx.Done():
					return
				default:
					// Channel full, skip event
				}
				if event.Type == types.EventTypeStreamEnd {
					return
				}
			}
		}
	}
}

// AdapterInfo returns diagnostic information.
func (s *RedisStore) AdapterInfo(ctx context.Context) (map[string]any, error) {
	pingStart := time.Now()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return map[string]any{
			"adapter": "redis",
			"healthy": false,
			"error":   err.Error(),
		}, nil
	}
	pingLatency := time.Since(pingStart)
	poolStats := s.client.PoolStats()

	return map[string]any{
		"adapter": "redis",
		"healthy": true,
		"details": map[string]any{
			"prefix":       s.prefix,
			"ttl_hours":    s.ttl.Hours(),
			"max_events":   s.maxEvents,
			"ping_latency": pingLatency.String(),
			"pool": map[string]any{
				"hits":       poolStats.Hits,
				"misses":     poolStats.Misses,
				"timeouts":   poolStats.Timeouts,
				"total_conn": poolStats.TotalConns,
				"idle_conn":  poolStats.IdleConns,
				"stale_conn": poolStats.StaleConns,
			},
		},
	}, nil
}

// Client returns the underlying connection for stores that share it.
func (s *RedisStore) Client() *redis.Client { return s.client }

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)
