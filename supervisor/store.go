package supervisor

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/lancejames221b/playbook-engine/core"
	"github.com/lancejames221b/playbook-engine/playbook"
)

// compressionThreshold is the payload size past which a snapshot is
// gzip-compressed before being written to Redis.
const compressionThreshold = 100 * 1024

// defaultSnapshotTTL bounds how long a persisted run snapshot survives;
// long enough to diagnose a recent run, short enough not to accumulate
// forever on a busy engine.
const defaultSnapshotTTL = 24 * time.Hour

// RunSnapshot is the durable, point-in-time view of one run persisted by
// a RunStore — enough to resume visualizing or auditing a run without
// holding the live *playbook.ExecutionContext in memory.
type RunSnapshot struct {
	RunID      string                        `json:"run_id"`
	PlaybookID string                        `json:"playbook_id"`
	State      playbook.ExecutionState       `json:"state"`
	StepStates map[string]playbook.StepState `json:"step_states"`
	ErrorLog   []string                      `json:"error_log,omitempty"`
	UpdatedAt  time.Time                     `json:"updated_at"`
}

// RunStore persists run snapshots for post-hoc inspection. Implementations
// must be safe for concurrent use and must never let a write failure
// propagate back into the execution path; the Supervisor only logs store
// errors, it never fails a run because persistence failed.
type RunStore interface {
	Save(ctx context.Context, snap RunSnapshot) error
	Get(ctx context.Context, runID string) (*RunSnapshot, error)
	ListRecent(ctx context.Context, limit int) ([]RunSnapshot, error)
}

// NoOpRunStore discards every snapshot; the default when no store is
// configured.
type NoOpRunStore struct{}

func (NoOpRunStore) Save(ctx context.Context, snap RunSnapshot) error { return nil }
func (NoOpRunStore) Get(ctx context.Context, runID string) (*RunSnapshot, error) {
	return nil, fmt.Errorf("supervisor: no run store configured")
}
func (NoOpRunStore) ListRecent(ctx context.Context, limit int) ([]RunSnapshot, error) {
	return nil, nil
}

// redisClient is the subset of core.RedisClient a RedisRunStore depends on.
type redisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// RedisRunStore persists run snapshots to Redis, gzip-compressing
// payloads over compressionThreshold the same way the engine's other
// debug-store backings do.
type RedisRunStore struct {
	client    redisClient
	ttl       time.Duration
	keyPrefix string
	index     *indexList
	logger    core.Logger
}

// indexList tracks recently-saved run ids in insertion order, capped at
// a fixed size, so ListRecent has something to iterate without a Redis
// SCAN.
type indexList struct {
	ids []string
	cap int
}

func newIndexList(cap int) *indexList { return &indexList{cap: cap} }

func (l *indexList) push(id string) {
	l.ids = append([]string{id}, l.ids...)
	if len(l.ids) > l.cap {
		l.ids = l.ids[:l.cap]
	}
}

// RedisRunStoreOption configures a RedisRunStore.
type RedisRunStoreOption func(*RedisRunStore)

// WithRunStoreTTL overrides the default 24h snapshot retention.
func WithRunStoreTTL(ttl time.Duration) RedisRunStoreOption {
	return func(s *RedisRunStore) { s.ttl = ttl }
}

// WithRunStoreLogger sets the store's structured logger.
func WithRunStoreLogger(logger core.Logger) RedisRunStoreOption {
	return func(s *RedisRunStore) { s.logger = logger }
}

// NewRedisRunStore builds a RunStore backed by client (typically a
// core.RedisClient opened against core.RedisDBRuleBroadcast's sibling DB
// for execution visibility).
func NewRedisRunStore(client redisClient, opts ...RedisRunStoreOption) *RedisRunStore {
	s := &RedisRunStore{
		client:    client,
		ttl:       defaultSnapshotTTL,
		keyPrefix: "run:",
		index:     newIndexList(200),
		logger:    &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisRunStore) Save(ctx context.Context, snap RunSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("supervisor: marshal run snapshot: %w", err)
	}
	payload, compressed, err := maybeCompress(data)
	if err != nil {
		return fmt.Errorf("supervisor: compress run snapshot: %w", err)
	}
	key := s.keyPrefix + snap.RunID
	envelope := storedPayload{Compressed: compressed, Data: payload}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("supervisor: marshal envelope: %w", err)
	}
	if err := s.client.Set(ctx, key, string(encoded), s.ttl); err != nil {
		return fmt.Errorf("supervisor: write run snapshot: %w", err)
	}
	s.index.push(snap.RunID)
	return nil
}

func (s *RedisRunStore) Get(ctx context.Context, runID string) (*RunSnapshot, error) {
	raw, err := s.client.Get(ctx, s.keyPrefix+runID)
	if err != nil {
		return nil, fmt.Errorf("supervisor: read run snapshot %s: %w", runID, err)
	}
	var envelope storedPayload
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("supervisor: decode envelope: %w", err)
	}
	data, err := maybeDecompress(envelope)
	if err != nil {
		return nil, fmt.Errorf("supervisor: decompress run snapshot: %w", err)
	}
	var snap RunSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("supervisor: decode run snapshot: %w", err)
	}
	return &snap, nil
}

func (s *RedisRunStore) ListRecent(ctx context.Context, limit int) ([]RunSnapshot, error) {
	out := make([]RunSnapshot, 0, limit)
	for _, id := range s.index.ids {
		if len(out) >= limit {
			break
		}
		snap, err := s.Get(ctx, id)
		if err != nil {
			s.logger.Warn("supervisor: dropping unreadable indexed snapshot", map[string]interface{}{"run_id": id, "error": err.Error()})
			continue
		}
		out = append(out, *snap)
	}
	return out, nil
}

type storedPayload struct {
	Compressed bool   `json:"compressed"`
	Data       []byte `json:"data"`
}

func maybeCompress(data []byte) (out []byte, compressed bool, err error) {
	if len(data) < compressionThreshold {
		return data, false, nil
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, false, err
	}
	if err := gw.Close(); err != nil {
		return nil, false, err
	}
	return buf.Bytes(), true, nil
}

func maybeDecompress(p storedPayload) ([]byte, error) {
	if !p.Compressed {
		return p.Data, nil
	}
	gr, err := gzip.NewReader(bytes.NewReader(p.Data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	return io.ReadAll(gr)
}
