package threads

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/strand/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for testing and
// local runs. Logs are never trimmed: the full history is the audit record.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*models.Thread
	logs    map[string][]*models.Message
}

// NewMemoryStore creates a new in-memory thread store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: map[string]*models.Thread{},
		logs:    map[string][]*models.Message{},
	}
}

func (m *MemoryStore) CreateThread(ctx context.Context, thread *models.Thread) error {
	if thread == nil {
		return errors.New("thread is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := cloneThread(thread)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if _, ok := m.threads[clone.ID]; ok {
		return errors.New("thread already exists")
	}
	now := time.Now().UTC()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = clone.CreatedAt
	// Reflect generated fields back to caller.
	thread.ID = clone.ID
	thread.CreatedAt = clone.CreatedAt
	thread.UpdatedAt = clone.UpdatedAt
	m.threads[clone.ID] = clone
	return nil
}

func (m *MemoryStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	thread, ok := m.threads[id]
	if !ok {
		return nil, ErrThreadNotFound
	}
	return cloneThread(thread), nil
}

func (m *MemoryStore) ListThreads(ctx context.Context, opts ListOptions) ([]*models.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Thread, 0, len(m.threads))
	for _, thread := range m.threads {
		out = append(out, cloneThread(thread))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start > len(out) {
		return []*models.Thread{}, nil
	}
	end := len(out)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return out[start:end], nil
}

func (m *MemoryStore) Append(ctx context.Context, threadID string, msg *models.Message) (int64, error) {
	if threadID == "" {
		return 0, errors.New("thread id is required")
	}
	if msg == nil {
		return 0, errors.New("message is required")
	}
	if msg.Kind == "" {
		return 0, errors.New("message kind is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	thread, ok := m.threads[threadID]
	if !ok {
		// First append creates the thread.
		thread = &models.Thread{ID: threadID, CreatedAt: now, UpdatedAt: now}
		m.threads[threadID] = thread
	}

	clone := msg.Clone()
	clone.ThreadID = threadID
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.Seq = int64(len(m.logs[threadID])) + 1
	m.logs[threadID] = append(m.logs[threadID], clone)
	thread.UpdatedAt = now

	// Reflect assigned fields back to caller.
	msg.ID = clone.ID
	msg.ThreadID = threadID
	msg.Seq = clone.Seq
	msg.CreatedAt = clone.CreatedAt
	return clone.Seq, nil
}

func (m *MemoryStore) Read(ctx context.Context, threadID string, since int64) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.threads[threadID]; !ok {
		return nil, ErrThreadNotFound
	}
	if since <= 0 {
		since = 1
	}
	log := m.logs[threadID]
	out := make([]*models.Message, 0, len(log))
	for _, msg := range log {
		if msg.Seq >= since {
			out = append(out, msg.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func cloneThread(thread *models.Thread) *models.Thread {
	if thread == nil {
		return nil
	}
	clone := *thread
	if thread.Metadata != nil {
		clone.Metadata = make(map[string]any, len(thread.Metadata))
		for k, v := range thread.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
